// Package login drives the forum login flow and verifies bearer tokens on
// every request.
package login

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/forumapi/internal/auth"
	"github.com/wolfeidau/forumapi/internal/directory"
	httpmiddleware "github.com/wolfeidau/forumapi/internal/http"
	"github.com/wolfeidau/forumapi/internal/idp"
	"github.com/wolfeidau/forumapi/internal/models"
	"github.com/wolfeidau/forumapi/internal/store"
	"github.com/wolfeidau/forumapi/internal/telemetry"
)

// SweepProbability is the inverse chance that a validation also deletes expired sessions.
const SweepProbability = 100

// DefaultSessionLifetime bounds a login, refreshes never extend it.
const DefaultSessionLifetime = 7 * 24 * time.Hour

var (
	ErrMissingToken   = errors.New("missing token")
	ErrSessionExpired = errors.New("session expired")
	ErrRefresh        = errors.New("token refresh failed")
)

// ValidationOutcome is the result of checking a token against its session.
type ValidationOutcome int

const (
	Valid ValidationOutcome = iota
	SignatureInvalid
	TokenExpired
	SessionExpired
)

func (o ValidationOutcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case SignatureInvalid:
		return "signature_invalid"
	case TokenExpired:
		return "token_expired"
	case SessionExpired:
		return "session_expired"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// StatusCode is the HTTP status reported for the outcome.
func (o ValidationOutcome) StatusCode() int {
	switch o {
	case Valid:
		return http.StatusOK
	case SignatureInvalid:
		return http.StatusUnauthorized
	default:
		return http.StatusForbidden
	}
}

// Config wires the collaborators of an Authenticator.
type Config struct {
	Provider  idp.Provider
	Sessions  store.SessionStore
	Directory *directory.Directory
	Tokens    *auth.TokenCodec

	SessionLifetime time.Duration

	// StoreTimeout bounds the session and directory calls of a login callback,
	// which runs without the request timeout middleware.
	StoreTimeout time.Duration

	// AllowedOrigins lists the absolute origins a login may return to.
	// Relative return paths are always accepted.
	AllowedOrigins []string
}

// Authenticator runs login, validation, refresh and logout.
type Authenticator struct {
	provider        idp.Provider
	sessions        store.SessionStore
	directory       *directory.Directory
	tokens          *auth.TokenCodec
	sessionLifetime time.Duration
	storeTimeout    time.Duration
	allowedOrigins  map[string]struct{}

	now     func() time.Time
	sweep   func() bool
	metrics *telemetry.Metrics
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock overrides the time source used for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// WithSweepDecider overrides the random draw that triggers a sweep.
func WithSweepDecider(fn func() bool) Option {
	return func(a *Authenticator) {
		a.sweep = fn
	}
}

// New validates the configuration and returns an Authenticator.
func New(cfg Config, opts ...Option) (*Authenticator, error) {
	if cfg.Provider == nil || cfg.Sessions == nil || cfg.Directory == nil || cfg.Tokens == nil {
		return nil, errors.New("provider, sessions, directory and tokens are required")
	}

	lifetime := cfg.SessionLifetime
	if lifetime == 0 {
		lifetime = DefaultSessionLifetime
	}
	if lifetime < 0 {
		return nil, fmt.Errorf("session lifetime must be greater than 0")
	}

	storeTimeout := cfg.StoreTimeout
	if storeTimeout == 0 {
		storeTimeout = httpmiddleware.DefaultRequestTimeout
	}
	if storeTimeout < 0 {
		return nil, fmt.Errorf("store timeout must be greater than 0")
	}

	origins := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		origins[normalizeOrigin(origin)] = struct{}{}
	}

	a := &Authenticator{
		provider:        cfg.Provider,
		sessions:        cfg.Sessions,
		directory:       cfg.Directory,
		tokens:          cfg.Tokens,
		sessionLifetime: lifetime,
		storeTimeout:    storeTimeout,
		allowedOrigins:  origins,
		now:             time.Now,
		sweep:           func() bool { return rand.IntN(SweepProbability) == 0 },
		metrics:         telemetry.GetMetrics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// CompleteLogin finishes a provider callback, opens a session and mints the first token.
// Failures talking to the provider wrap idp.ErrIdentityProvider.
func (a *Authenticator) CompleteLogin(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, error) {
	started := time.Now()
	claims, err := a.provider.CompleteLogin(ctx, w, r)
	a.metrics.IdPRequestLatency.Record(ctx, float64(time.Since(started).Milliseconds()))
	a.metrics.RecordLogin(ctx, a.provider.Name(), err)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()

	sessionID := auth.NewSessionID()

	now := a.now()
	session := &models.Session{
		SessionID:      sessionID,
		UserID:         claims.UniqueID,
		DisplayName:    claims.DisplayName,
		Email:          claims.Email,
		ProviderKey:    claims.ProviderKey,
		CreatedAt:      now,
		ExpiresAt:      now.Add(a.sessionLifetime),
		LastActivityAt: now,
		UserAgent:      r.UserAgent(),
		IPAddress:      httpmiddleware.ClientIPFromContext(r.Context()),
	}
	if err := a.sessions.Create(ctx, session); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	user, err := a.directory.GetUserDetails(ctx, claims.UniqueID, claims.DisplayName, claims.Email, true)
	if err != nil {
		return "", err
	}

	token, err := a.tokens.Mint(sessionID, user)
	if err != nil {
		return "", err
	}

	log.Info().
		Str("session_id", sessionID).
		Str("sciper", user.Sciper).
		Str("provider", a.provider.Name()).
		Msg("User logged in")

	return token, nil
}

// Validate checks a token strictly and confirms its session is still open.
// The returned error is only set for store failures.
func (a *Authenticator) Validate(ctx context.Context, token string) (ValidationOutcome, *auth.Claims, error) {
	a.maybeSweep(ctx)

	claims, err := a.tokens.Decode(token, false)
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		a.metrics.RecordValidation(ctx, TokenExpired.String())
		return TokenExpired, nil, nil
	case err != nil:
		a.metrics.RecordValidation(ctx, SignatureInvalid.String())
		return SignatureInvalid, nil, nil
	}

	ok, err := a.sessions.IsValid(ctx, claims.SessionID)
	if err != nil {
		return SignatureInvalid, nil, fmt.Errorf("failed to check session: %w", err)
	}
	if !ok {
		a.metrics.RecordValidation(ctx, SessionExpired.String())
		return SessionExpired, nil, nil
	}

	a.metrics.RecordValidation(ctx, Valid.String())
	return Valid, claims, nil
}

// Refresh mints a new token for a still open session. The presented token may
// be expired but its signature must verify. Role and admin flag are read from
// the directory, not from the presented token. The session expiry is not extended.
func (a *Authenticator) Refresh(ctx context.Context, token string) (string, error) {
	newToken, err := a.refresh(ctx, token)
	if err != nil {
		a.metrics.RefreshFailures.Add(ctx, 1)
		return "", err
	}
	a.metrics.RefreshesTotal.Add(ctx, 1)
	return newToken, nil
}

func (a *Authenticator) refresh(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: %w", ErrRefresh, ErrMissingToken)
	}

	claims, err := a.tokens.Decode(token, true)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefresh, err)
	}

	ok, err := a.sessions.IsValid(ctx, claims.SessionID)
	if err != nil {
		return "", fmt.Errorf("failed to check session: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("%w: %w", ErrRefresh, ErrSessionExpired)
	}

	user, err := a.directory.GetUserDetails(ctx, claims.Sciper, claims.Name, "", true)
	if err != nil {
		return "", err
	}

	if err := a.sessions.Touch(ctx, claims.SessionID); err != nil {
		return "", fmt.Errorf("failed to touch session: %w", err)
	}

	log.Debug().Str("session_id", claims.SessionID).Str("sciper", user.Sciper).Msg("Refreshed token")

	return a.tokens.Mint(claims.SessionID, user)
}

// UserFromToken resolves the user behind a token.
//
// With enforce, a missing or invalid token is an error and an unknown user is
// provisioned. Without enforce, any token failure yields a nil user and nil
// error so the caller can serve the request anonymously.
func (a *Authenticator) UserFromToken(ctx context.Context, token string, enforce bool) (*auth.User, error) {
	user, err := a.userFromToken(ctx, token, enforce)
	if err == nil || enforce {
		return user, err
	}

	if !isTokenError(err) {
		log.Warn().Err(err).Msg("Serving request anonymously")
	}
	return nil, nil
}

func (a *Authenticator) userFromToken(ctx context.Context, token string, enforce bool) (*auth.User, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims, err := a.tokens.Decode(token, false)
	if err != nil {
		return nil, err
	}

	ok, err := a.sessions.IsValid(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to check session: %w", err)
	}
	if !ok {
		return nil, ErrSessionExpired
	}

	return a.directory.GetUserDetails(ctx, claims.Sciper, claims.Name, "", enforce)
}

// UserFromRequest is UserFromToken with the bearer token of the request.
func (a *Authenticator) UserFromRequest(r *http.Request, enforce bool) (*auth.User, error) {
	return a.UserFromToken(r.Context(), auth.BearerToken(r), enforce)
}

// Logout deletes the session behind the token. It never fails: undecodable
// tokens are ignored and store errors are only logged.
func (a *Authenticator) Logout(ctx context.Context, token string) {
	a.metrics.LogoutsTotal.Add(ctx, 1)

	if token == "" {
		return
	}

	claims, err := a.tokens.Decode(token, true)
	if err != nil {
		log.Debug().Err(err).Msg("Logout with undecodable token")
		return
	}

	if err := a.sessions.Delete(ctx, claims.SessionID); err != nil {
		log.Error().Err(err).Str("session_id", claims.SessionID).Msg("Failed to delete session on logout")
		return
	}

	log.Info().Str("session_id", claims.SessionID).Str("sciper", claims.Sciper).Msg("User logged out")
}

// Sweep deletes every expired session.
func (a *Authenticator) Sweep(ctx context.Context) (int, error) {
	deleted, err := a.sessions.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	a.metrics.RecordSweep(ctx, deleted)
	return deleted, nil
}

func (a *Authenticator) maybeSweep(ctx context.Context) {
	if !a.sweep() {
		return
	}

	deleted, err := a.Sweep(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Expired session sweep failed")
		return
	}
	if deleted > 0 {
		log.Debug().Int("deleted", deleted).Msg("Swept expired sessions")
	}
}

func isTokenError(err error) bool {
	return errors.Is(err, ErrMissingToken) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, auth.ErrMalformedToken) ||
		errors.Is(err, auth.ErrInvalidSignature) ||
		errors.Is(err, auth.ErrTokenExpired)
}

// StatusForError maps an authentication error to its HTTP status.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, idp.ErrIdentityProvider),
		errors.Is(err, ErrRefresh),
		errors.Is(err, ErrMissingToken),
		errors.Is(err, auth.ErrMalformedToken),
		errors.Is(err, auth.ErrInvalidSignature),
		errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrSessionExpired),
		errors.Is(err, store.ErrSessionExpired),
		errors.Is(err, store.ErrSessionNotFound),
		errors.Is(err, auth.ErrAuthorizationDenied):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
