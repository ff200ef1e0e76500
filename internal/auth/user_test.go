package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/forumapi/internal/models"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{name: "no header", header: "", expected: ""},
		{name: "bearer", header: "Bearer abc.def.ghi", expected: "abc.def.ghi"},
		{name: "lowercase scheme", header: "bearer abc.def.ghi", expected: "abc.def.ghi"},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz", expected: ""},
		{name: "scheme only", header: "Bearer", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			require.Equal(t, tt.expected, BearerToken(req))
		})
	}
}

func TestUserContext(t *testing.T) {
	ctx := context.Background()
	require.Nil(t, UserFromContext(ctx))

	user := &User{Sciper: "100001", Role: models.RoleStudent}
	ctx = WithUser(ctx, user)
	require.Equal(t, user, UserFromContext(ctx))
}
