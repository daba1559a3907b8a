package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nolabru/psiconnect/internal/model"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

func TestIssueAndVerify(t *testing.T) {
	svc := NewJWTService("secret", "idp")
	p := model.Principal{ActorID: uuid.New(), Kind: model.ActorKindCompany, Email: "hr@acme.test"}

	token, err := svc.Issue(p, time.Hour)
	require.NoError(t, err)

	got, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestVerifyRejects(t *testing.T) {
	svc := NewJWTService("secret", "idp")
	p := model.Principal{ActorID: uuid.New(), Kind: model.ActorKindPatient}

	expired, err := svc.Issue(p, -time.Minute)
	require.NoError(t, err)

	otherKey, err := NewJWTService("other", "idp").Issue(p, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewJWTService("secret", "elsewhere").Issue(p, time.Hour)
	require.NoError(t, err)

	system, err := svc.Issue(model.Principal{ActorID: uuid.New(), Kind: model.ActorKindSystem}, time.Hour)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Kind:             model.ActorKindAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"system kind":  system,
		"alg none":     unsigned,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Verify(token)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrUnauthorized))
		})
	}
}
