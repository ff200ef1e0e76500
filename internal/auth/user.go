package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/wolfeidau/forumapi/internal/models"
)

// User is the authenticated identity handed to resource controllers.
type User struct {
	Sciper  string      `json:"sciper"`
	Name    string      `json:"name"`
	Email   string      `json:"email,omitempty"`
	Role    models.Role `json:"role"`
	IsAdmin bool        `json:"isAdmin"`
}

type contextKey int

const (
	userContextKey contextKey = iota
)

// WithUser returns a copy of ctx carrying the user.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext extracts the authenticated user from the request context.
// Returns nil if the request is anonymous.
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userContextKey).(*User)
	return user
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}

	return strings.TrimSpace(token)
}
