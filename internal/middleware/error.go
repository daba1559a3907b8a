package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

// ErrorHandler logs the errors handlers attached to the context. Responses
// are written by the handlers themselves.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		for _, e := range c.Errors {
			level := zerolog.DebugLevel
			code, ok := apperrors.CodeOf(e.Err)
			if !ok || code == apperrors.ErrInternal || code == apperrors.ErrExternalService {
				level = zerolog.ErrorLevel
			}

			log.WithLevel(level).
				Err(e.Err).
				Str("code", code.String()).
				Str("request_id", c.GetString(ContextRequestID)).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Msg("Request error")
		}
	}
}
