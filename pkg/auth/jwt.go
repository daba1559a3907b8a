// Package auth verifies bearer tokens issued by the identity provider and
// turns them into principals.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nolabru/psiconnect/internal/model"
	apperrors "github.com/nolabru/psiconnect/pkg/errors"
)

// Claims carried by access tokens. The subject is the actor id.
type Claims struct {
	Kind  model.ActorKind `json:"kind"`
	Email string          `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type TokenVerifier interface {
	Verify(token string) (model.Principal, error)
}

type JWTService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

var _ TokenVerifier = (*JWTService)(nil)

func NewJWTService(secret, issuer string) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// Issue signs a token for p. The identity provider owns token issuance in
// production; this is used by tooling and tests.
func (s *JWTService) Issue(p model.Principal, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Kind:  p.Kind,
		Email: p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ActorID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify validates signature, expiry and issuer and returns the principal the
// token speaks for.
func (s *JWTService) Verify(tokenString string) (model.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return model.Principal{}, apperrors.Unauthorized(err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return model.Principal{}, apperrors.Unauthorized(fmt.Errorf("invalid subject: %w", err))
	}
	switch claims.Kind {
	case model.ActorKindPsychologist, model.ActorKindCompany, model.ActorKindPatient, model.ActorKindAdmin:
	default:
		return model.Principal{}, apperrors.Unauthorized(errors.New("unsupported actor kind"))
	}

	return model.Principal{ActorID: id, Kind: claims.Kind, Email: claims.Email}, nil
}
