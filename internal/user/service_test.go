package user

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradiehub/internal/participant"
)

func TestTokenService_RoundTrip(t *testing.T) {
	s := NewTokenService("secret")

	token, err := s.IssueToken(participant.NewTradie(5), time.Hour)
	require.NoError(t, err)

	p, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, participant.NewTradie(5), p)
}

func TestTokenService_RejectsWrongSecret(t *testing.T) {
	token, err := NewTokenService("one").IssueToken(participant.NewHomeowner(1), time.Hour)
	require.NoError(t, err)

	_, err = NewTokenService("two").ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenService_RejectsExpired(t *testing.T) {
	s := NewTokenService("secret")
	issued := time.Now().Add(-2 * time.Hour)
	s.now = func() time.Time { return issued }
	token, err := s.IssueToken(participant.NewHomeowner(1), time.Hour)
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestTokenService_RejectsInvalidParticipant(t *testing.T) {
	s := NewTokenService("secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Kind:             "admin",
		ID:               1,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer},
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = s.ValidateToken(signed)
	assert.Error(t, err)

	_, err = s.IssueToken(participant.Participant{Kind: participant.Tradie}, time.Hour)
	assert.Error(t, err)
}
