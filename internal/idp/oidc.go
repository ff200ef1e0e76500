package idp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// StateCookieName holds the state and nonce of a pending OIDC login.
const StateCookieName = "oidc_state"

const stateCookieMaxAge = 600 // 10 minutes

// OIDCConfig configures the OpenID Connect provider.
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string   // the /auth/login URL of this API
	Scopes       []string // openid is always requested

	// SciperClaim names the claim carrying the user id. Default: uniqueid, falling back to sub.
	SciperClaim string

	// RequiredTenant rejects tokens whose tid claim differs, when set.
	RequiredTenant string

	// EndSessionURL overrides the end_session_endpoint from discovery.
	EndSessionURL string

	HTTPClient *http.Client
}

// Validate checks the configuration.
func (c *OIDCConfig) Validate() error {
	if c.IssuerURL == "" || c.ClientID == "" || c.RedirectURL == "" {
		return errors.New("issuer URL, client ID and redirect URL are required")
	}
	return nil
}

// OIDC implements Provider with the authorization code flow.
type OIDC struct {
	config         *oauth2.Config
	verifier       *oidc.IDTokenVerifier
	httpClient     *http.Client
	sciperClaim    string
	requiredTenant string
	endSessionURL  string
}

// NewOIDC discovers the provider endpoints from the issuer.
func NewOIDC(ctx context.Context, cfg OIDCConfig) (*OIDC, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: discovery failed: %v", ErrIdentityProvider, err)
	}

	if cfg.EndSessionURL == "" {
		var meta struct {
			EndSessionEndpoint string `json:"end_session_endpoint"`
		}
		if err := provider.Claims(&meta); err == nil {
			cfg.EndSessionURL = meta.EndSessionEndpoint
		}
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	return NewOIDCWithVerifier(cfg, provider.Endpoint(), verifier), nil
}

// NewOIDCWithVerifier builds the provider from known endpoints without discovery.
func NewOIDCWithVerifier(cfg OIDCConfig, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier) *OIDC {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	scopes := []string{oidc.ScopeOpenID}
	for _, s := range cfg.Scopes {
		if s != oidc.ScopeOpenID {
			scopes = append(scopes, s)
		}
	}

	sciperClaim := cfg.SciperClaim
	if sciperClaim == "" {
		sciperClaim = "uniqueid"
	}

	return &OIDC{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		verifier:       verifier,
		httpClient:     httpClient,
		sciperClaim:    sciperClaim,
		requiredTenant: cfg.RequiredTenant,
		endSessionURL:  cfg.EndSessionURL,
	}
}

func (o *OIDC) Name() string { return "oidc" }

// IsCallback matches the provider redirect carrying either a code or an error.
func (o *OIDC) IsCallback(r *http.Request) bool {
	q := r.URL.Query()
	return q.Get("state") != "" && (q.Get("code") != "" || q.Get("error") != "")
}

// BeginLogin stores a fresh state and nonce and returns the authorization URL.
func (o *OIDC) BeginLogin(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, error) {
	state := rand.Text()
	nonce := rand.Text()

	setCookie(w, StateCookieName, state+"."+nonce, stateCookieMaxAge, http.SameSiteLaxMode)

	log.Debug().Msg("Initiating OIDC authorization code flow")

	return o.config.AuthCodeURL(state, oidc.Nonce(nonce)), nil
}

// CompleteLogin checks state, exchanges the code and verifies the ID token.
func (o *OIDC) CompleteLogin(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Claims, error) {
	q := r.URL.Query()

	cookie, err := r.Cookie(StateCookieName)
	if err != nil {
		return nil, fmt.Errorf("%w: missing state cookie", ErrIdentityProvider)
	}

	// the state is single use
	clearCookie(w, StateCookieName, http.SameSiteLaxMode)

	state, nonce, ok := strings.Cut(cookie.Value, ".")
	if !ok || subtle.ConstantTimeCompare([]byte(state), []byte(q.Get("state"))) != 1 {
		return nil, fmt.Errorf("%w: state mismatch", ErrIdentityProvider)
	}

	if e := q.Get("error"); e != "" {
		return nil, fmt.Errorf("%w: provider returned %s: %s", ErrIdentityProvider, e, q.Get("error_description"))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)

	token, err := o.config.Exchange(ctx, q.Get("code"))
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange failed: %v", ErrIdentityProvider, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: token response has no id_token", ErrIdentityProvider)
	}

	idToken, err := o.verifier.Verify(oidc.ClientContext(ctx, o.httpClient), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: id token verification failed: %v", ErrIdentityProvider, err)
	}

	if subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(nonce)) != 1 {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrIdentityProvider)
	}

	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("%w: failed to decode id token claims: %v", ErrIdentityProvider, err)
	}

	return o.mapClaims(idToken.Subject, raw)
}

func (o *OIDC) mapClaims(subject string, raw map[string]any) (*Claims, error) {
	if o.requiredTenant != "" && stringClaim(raw, "tid") != o.requiredTenant {
		return nil, fmt.Errorf("%w: user does not belong to the required tenant", ErrIdentityProvider)
	}

	claims := &Claims{
		UniqueID:    stringClaim(raw, o.sciperClaim),
		DisplayName: stringClaim(raw, "name"),
		Email:       stringClaim(raw, "email"),
	}

	if claims.UniqueID == "" {
		claims.UniqueID = subject
	}
	if claims.UniqueID == "" {
		return nil, fmt.Errorf("%w: id token has no user id", ErrIdentityProvider)
	}

	if claims.DisplayName == "" {
		claims.DisplayName = strings.TrimSpace(stringClaim(raw, "given_name") + " " + stringClaim(raw, "family_name"))
	}

	return claims, nil
}

// LogoutURL returns the end session endpoint with the post logout redirect.
func (o *OIDC) LogoutURL(returnURL string) string {
	if o.endSessionURL == "" {
		return ""
	}

	u, err := url.Parse(o.endSessionURL)
	if err != nil {
		return ""
	}

	q := u.Query()
	q.Set("client_id", o.config.ClientID)
	if returnURL != "" {
		q.Set("post_logout_redirect_uri", returnURL)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func stringClaim(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		// numeric scipers
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
