package user

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tradiehub/internal/participant"
)

const Issuer = "tradiehub"

// TokenService verifies participant tokens signed with the shared secret.
// IssueToken exists for local tooling (the CLI and the load test); the
// marketplace's own login flow mints production tokens.
type TokenService struct {
	jwtSecret []byte
	now       func() time.Time
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{jwtSecret: []byte(secret), now: time.Now}
}

func (s *TokenService) IssueToken(p participant.Participant, ttl time.Duration) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Kind: p.Kind,
		ID:   p.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   p.Key(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(s.jwtSecret)
}

func (s *TokenService) ValidateToken(tokenString string) (participant.Participant, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return participant.Participant{}, err
	}
	if !token.Valid {
		return participant.Participant{}, errors.New("invalid token")
	}

	p := claims.Participant()
	if err := p.Validate(); err != nil {
		return participant.Participant{}, fmt.Errorf("token subject: %w", err)
	}
	return p, nil
}
