// Package idp talks to the external identity providers that complete a forum login.
package idp

import (
	"context"
	"errors"
	"net/http"
)

// ErrIdentityProvider wraps every failure while talking to the identity provider.
// It is shown to the user as "login failed, try again".
var ErrIdentityProvider = errors.New("identity provider error")

// Claims are the user attributes asserted by the identity provider.
type Claims struct {
	UniqueID    string // sciper
	DisplayName string
	Email       string

	// ProviderKey is the legacy Tequila request key, empty for OIDC.
	ProviderKey string
}

// Provider is one generation of the identity provider protocol.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// IsCallback reports whether the request is the browser returning from the provider.
	IsCallback(r *http.Request) bool

	// BeginLogin prepares the provider round trip and returns the URL to redirect the browser to.
	BeginLogin(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, error)

	// CompleteLogin verifies the callback and returns the asserted user attributes.
	CompleteLogin(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Claims, error)

	// LogoutURL returns where to send the browser to end the provider session,
	// or an empty string when the provider has no logout endpoint.
	LogoutURL(returnURL string) string
}

func setCookie(w http.ResponseWriter, name, value string, maxAge int, sameSite http.SameSite) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: sameSite,
		MaxAge:   maxAge,
	})
}

func clearCookie(w http.ResponseWriter, name string, sameSite http.SameSite) {
	setCookie(w, name, "", -1, sameSite)
}
