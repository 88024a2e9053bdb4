package myMiddleware

import (
	"context"
	"net/http"
	"strings"

	"tradiehub/internal/participant"
)

type contextKey string

const ParticipantKey contextKey = "participant"

// TokenValidator turns a bearer token into the participant it was issued to.
// Issuing tokens happens elsewhere; this side only verifies them.
type TokenValidator interface {
	ValidateToken(tokenString string) (participant.Participant, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				tokenString = parts[1]
			}
		}

		// Browsers cannot set headers on a websocket handshake.
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		p, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithParticipant(r.Context(), p)))
	})
}

func WithParticipant(ctx context.Context, p participant.Participant) context.Context {
	return context.WithValue(ctx, ParticipantKey, p)
}

// ParticipantFrom returns the authenticated participant of the request.
func ParticipantFrom(ctx context.Context) (participant.Participant, bool) {
	p, ok := ctx.Value(ParticipantKey).(participant.Participant)
	return p, ok
}
