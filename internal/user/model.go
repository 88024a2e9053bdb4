package user

import (
	"github.com/golang-jwt/jwt/v5"

	"tradiehub/internal/participant"
)

// Claims is the JWT payload carried by homeowner and tradie tokens.
type Claims struct {
	Kind participant.Kind `json:"kind"`
	ID   int64            `json:"id"`
	jwt.RegisteredClaims
}

func (c *Claims) Participant() participant.Participant {
	return participant.Participant{Kind: c.Kind, ID: c.ID}
}
