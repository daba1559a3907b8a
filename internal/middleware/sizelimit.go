package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nolabru/psiconnect/internal/handler"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

const defaultMaxBodySize = 1 << 20

// BodyLimit refuses requests whose declared body exceeds maxBytes and caps
// reads of the rest.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodySize
	}
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			_ = c.Error(apperrors.BadRequest("request body too large", nil))
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge,
				handler.NewErrorResponse(apperrors.ErrBadRequest, "request body too large"))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
