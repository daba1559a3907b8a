package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nolabru/psiconnect/internal/handler"
	"github.com/nolabru/psiconnect/pkg/auth"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

type AuthMiddleware struct {
	verifier auth.TokenVerifier
}

func NewAuthMiddleware(verifier auth.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Authenticate verifies the bearer token and stores the principal in the
// request context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			handler.AbortWithError(c, apperrors.Unauthorized(nil))
			return
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			handler.AbortWithError(c, apperrors.Unauthorized(nil))
			return
		}

		p, err := m.verifier.Verify(token)
		if err != nil {
			handler.AbortWithError(c, err)
			return
		}

		handler.SetPrincipal(c, p)
		c.Next()
	}
}
