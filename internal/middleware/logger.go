package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nolabru/psiconnect/internal/handler"
)

// Logger returns a middleware that logs HTTP requests. Bodies are never
// logged since they carry personal data.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		l := zerolog.Ctx(c.Request.Context())
		if l.GetLevel() == zerolog.Disabled {
			l = &log.Logger
		}
		var evt *zerolog.Event
		switch {
		case statusCode >= 500:
			evt = l.Error()
		case statusCode >= 400:
			evt = l.Warn()
		default:
			evt = l.Info()
		}

		if p, ok := handler.CurrentPrincipal(c); ok {
			evt = evt.Str("actor_id", p.ActorID.String()).Str("actor_kind", string(p.Kind))
		}
		evt.Str("method", c.Request.Method).
			Str("path", path).
			Str("route", c.FullPath()).
			Str("client_ip", c.ClientIP()).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("user_agent", c.Request.UserAgent()).
			Msg("Request processed")
	}
}
