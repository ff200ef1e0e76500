package login

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/forumapi/internal/auth"
	"github.com/wolfeidau/forumapi/internal/directory"
	httpmiddleware "github.com/wolfeidau/forumapi/internal/http"
	"github.com/wolfeidau/forumapi/internal/idp"
	"github.com/wolfeidau/forumapi/internal/models"
	"github.com/wolfeidau/forumapi/internal/store"
	"github.com/wolfeidau/forumapi/internal/store/memory"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeProvider struct {
	claims    *idp.Claims
	err       error
	beginErr  error
	logoutURL string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) IsCallback(r *http.Request) bool {
	return r.URL.Query().Has("code")
}

func (f *fakeProvider) BeginLogin(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, error) {
	if f.beginErr != nil {
		return "", f.beginErr
	}
	return "https://idp.example.org/authorize?state=xyz", nil
}

func (f *fakeProvider) CompleteLogin(ctx context.Context, w http.ResponseWriter, r *http.Request) (*idp.Claims, error) {
	if f.err != nil {
		return nil, f.err
	}
	claims := *f.claims
	return &claims, nil
}

func (f *fakeProvider) LogoutURL(returnURL string) string {
	if f.logoutURL == "" {
		return ""
	}
	return f.logoutURL + "?return=" + url.QueryEscape(returnURL)
}

type harness struct {
	auth     *Authenticator
	sessions *memory.SessionStore
	dir      *directory.Directory
	tokens   *auth.TokenCodec
	provider *fakeProvider
	now      time.Time
	sweep    bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }

	h.sessions = memory.NewSessionStore(memory.WithClock(clock))
	h.dir = directory.New(memory.NewUserStore())
	h.provider = &fakeProvider{claims: &idp.Claims{
		UniqueID:    "100001",
		DisplayName: "Ada Lovelace",
		Email:       "ada@example.org",
	}}

	var err error
	h.tokens, err = auth.NewTokenCodec(testSecret, time.Hour, auth.WithClock(clock))
	require.NoError(t, err)

	h.auth, err = New(Config{
		Provider:        h.provider,
		Sessions:        h.sessions,
		Directory:       h.dir,
		Tokens:          h.tokens,
		SessionLifetime: DefaultSessionLifetime,
		AllowedOrigins:  []string{"https://forum.example.org"},
	}, WithClock(clock), WithSweepDecider(func() bool { return h.sweep }))
	require.NoError(t, err)

	return h
}

// login runs the provider callback and returns the token from the redirect.
func (h *harness) login(t *testing.T) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/auth/login?code=abc&state=xyz", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	req.Header.Set("User-Agent", "forum-test")
	rec := httptest.NewRecorder()

	httpmiddleware.ClientIPMiddleware()(http.HandlerFunc(h.auth.LoginHandler)).ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	token := loc.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

func bearer(method, target, token string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body httpmiddleware.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	h := newHarness(t)
	_, err = New(Config{
		Provider:        h.provider,
		Sessions:        h.sessions,
		Directory:       h.dir,
		Tokens:          h.tokens,
		SessionLifetime: -time.Second,
	})
	require.Error(t, err)

	_, err = New(Config{
		Provider:     h.provider,
		Sessions:     h.sessions,
		Directory:    h.dir,
		Tokens:       h.tokens,
		StoreTimeout: -time.Second,
	})
	require.Error(t, err)
}

func TestLoginHandler_RedirectsToProvider(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.auth.LoginHandler(rec, httptest.NewRequest(http.MethodGet, "/auth/login?redirect=/questions/42", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://idp.example.org/authorize?state=xyz", rec.Header().Get("Location"))

	cookie := findCookie(rec, RedirectCookieName)
	require.NotNil(t, cookie)
	require.Equal(t, "/questions/42", cookie.Value)
	require.True(t, cookie.HttpOnly)
	require.True(t, cookie.Secure)
	require.Equal(t, redirectCookieMaxAge, cookie.MaxAge)
	require.Equal(t, 0, h.sessions.Len())
}

func TestLoginHandler_BeginFailureLeavesNoCookie(t *testing.T) {
	h := newHarness(t)
	h.provider.beginErr = fmt.Errorf("%w: key request refused", idp.ErrIdentityProvider)

	rec := httptest.NewRecorder()
	h.auth.LoginHandler(rec, httptest.NewRequest(http.MethodGet, "/auth/login?redirect=/questions/42", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Nil(t, findCookie(rec, RedirectCookieName))
}

// blockingSessionStore never completes a Create before its context ends.
type blockingSessionStore struct {
	*memory.SessionStore
}

func (s *blockingSessionStore) Create(ctx context.Context, session *models.Session) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCompleteLogin_StoreTimeout(t *testing.T) {
	h := newHarness(t)

	a, err := New(Config{
		Provider:     h.provider,
		Sessions:     &blockingSessionStore{SessionStore: h.sessions},
		Directory:    h.dir,
		Tokens:       h.tokens,
		StoreTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth/login?code=abc&state=xyz", nil)

	token, err := a.CompleteLogin(context.Background(), httptest.NewRecorder(), req)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, token)

	rec := httptest.NewRecorder()
	a.LoginHandler(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, 0, h.sessions.Len())
}

func TestLoginHandler_Callback(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/login?code=abc&state=xyz", nil)
	req.AddCookie(&http.Cookie{Name: RedirectCookieName, Value: "/questions/42?tab=answers"})
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	req.Header.Set("User-Agent", "forum-test")
	rec := httptest.NewRecorder()

	httpmiddleware.ClientIPMiddleware()(http.HandlerFunc(h.auth.LoginHandler)).ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/questions/42", loc.Path)
	require.Equal(t, "answers", loc.Query().Get("tab"))

	claims, err := h.tokens.Decode(loc.Query().Get("token"), false)
	require.NoError(t, err)
	require.Equal(t, "100001", claims.Sciper)
	require.Equal(t, "Ada Lovelace", claims.Name)
	require.Equal(t, models.RoleStudent, claims.Role)
	require.False(t, claims.IsAdmin)
	require.Equal(t, h.now.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())

	session, err := h.sessions.Get(context.Background(), claims.SessionID)
	require.NoError(t, err)
	require.Equal(t, "100001", session.UserID)
	require.Equal(t, "ada@example.org", session.Email)
	require.Equal(t, "203.0.113.7", session.IPAddress)
	require.Equal(t, "forum-test", session.UserAgent)
	require.Equal(t, h.now.Add(DefaultSessionLifetime), session.ExpiresAt)

	user, err := h.dir.Lookup(context.Background(), "100001")
	require.NoError(t, err)
	require.Equal(t, models.RoleStudent, user.Role)

	cookie := findCookie(rec, RedirectCookieName)
	require.NotNil(t, cookie)
	require.Negative(t, cookie.MaxAge)
}

func TestLoginHandler_ProviderFailure(t *testing.T) {
	h := newHarness(t)
	h.provider.err = fmt.Errorf("%w: state mismatch", idp.ErrIdentityProvider)

	rec := httptest.NewRecorder()
	h.auth.LoginHandler(rec, httptest.NewRequest(http.MethodGet, "/auth/login?code=abc&state=xyz", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "login failed, try again", decodeError(t, rec))
	require.Equal(t, 0, h.sessions.Len())
}

func TestSafeReturnURL(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		raw  string
		want string
	}{
		{"", "/"},
		{"/questions/1", "/questions/1"},
		{"/questions?sort=new", "/questions?sort=new"},
		{"questions", "/"},
		{"//evil.example.com/x", "/"},
		{"/\\evil.example.com", "/"},
		{"https://forum.example.org/questions", "https://forum.example.org/questions"},
		{"https://FORUM.example.org/", "https://FORUM.example.org/"},
		{"https://evil.example.com/", "/"},
		{"http://forum.example.org/", "/"},
		{"javascript:alert(1)", "/"},
		{"%zz", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			require.Equal(t, tt.want, h.auth.safeReturnURL(tt.raw))
		})
	}
}

func TestScenarioA_AnonymousRequest(t *testing.T) {
	h := newHarness(t)

	user, err := h.auth.UserFromRequest(httptest.NewRequest(http.MethodGet, "/questions", nil), false)
	require.NoError(t, err)
	require.Nil(t, user)

	_, err = h.auth.UserFromRequest(httptest.NewRequest(http.MethodGet, "/questions", nil), true)
	require.ErrorIs(t, err, ErrMissingToken)
	require.Equal(t, http.StatusUnauthorized, StatusForError(err))
}

func TestUserFromToken_NonEnforceDegrades(t *testing.T) {
	h := newHarness(t)
	token := h.login(t)
	ctx := context.Background()

	for name, tok := range map[string]string{
		"garbage":  "not-a-token",
		"tampered": token[:len(token)-4] + "AAAA",
	} {
		t.Run(name, func(t *testing.T) {
			user, err := h.auth.UserFromToken(ctx, tok, false)
			require.NoError(t, err)
			require.Nil(t, user)

			_, err = h.auth.UserFromToken(ctx, tok, true)
			require.Error(t, err)
			require.Equal(t, http.StatusUnauthorized, StatusForError(err))
		})
	}

	user, err := h.auth.UserFromToken(ctx, token, false)
	require.NoError(t, err)
	require.Equal(t, "100001", user.Sciper)
}

func TestScenarioB_SessionDeletedElsewhere(t *testing.T) {
	h := newHarness(t)
	token := h.login(t)

	rec := httptest.NewRecorder()
	h.auth.ValidateHandler(rec, bearer(http.MethodPost, "/auth/validate", token))
	require.Equal(t, http.StatusOK, rec.Code)

	var body ValidateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, ValidateResponse{Sciper: "100001", Name: "Ada Lovelace", Role: "student"}, body)

	claims, err := h.tokens.Decode(token, false)
	require.NoError(t, err)
	require.NoError(t, h.sessions.Delete(context.Background(), claims.SessionID))

	rec = httptest.NewRecorder()
	h.auth.ValidateHandler(rec, bearer(http.MethodPost, "/auth/validate", token))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "session expired", decodeError(t, rec))

	_, err = h.auth.UserFromToken(context.Background(), token, true)
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, http.StatusForbidden, StatusForError(err))
}

func TestValidate_Outcomes(t *testing.T) {
	h := newHarness(t)
	token := h.login(t)
	ctx := context.Background()

	other, err := auth.NewTokenCodec([]byte("another-secret-another-secret-xx"), time.Hour)
	require.NoError(t, err)
	claims, err := h.tokens.Decode(token, false)
	require.NoError(t, err)
	forged, err := other.Encode(claims)
	require.NoError(t, err)

	outcome, _, err := h.auth.Validate(ctx, forged)
	require.NoError(t, err)
	require.Equal(t, SignatureInvalid, outcome)

	outcome, _, err = h.auth.Validate(ctx, "a.b")
	require.NoError(t, err)
	require.Equal(t, SignatureInvalid, outcome)

	rec := httptest.NewRecorder()
	h.auth.ValidateHandler(rec, bearer(http.MethodPost, "/auth/validate", ""))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	h.now = h.now.Add(time.Hour)

	outcome, _, err = h.auth.Validate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, TokenExpired, outcome)

	rec = httptest.NewRecorder()
	h.auth.ValidateHandler(rec, bearer(http.MethodPost, "/auth/validate", token))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "token expired", decodeError(t, rec))
}

func TestValidationOutcome(t *testing.T) {
	tests := []struct {
		outcome ValidationOutcome
		name    string
		status  int
	}{
		{Valid, "valid", http.StatusOK},
		{SignatureInvalid, "signature_invalid", http.StatusUnauthorized},
		{TokenExpired, "token_expired", http.StatusForbidden},
		{SessionExpired, "session_expired", http.StatusForbidden},
	}

	for _, tt := range tests {
		require.Equal(t, tt.name, tt.outcome.String())
		require.Equal(t, tt.status, tt.outcome.StatusCode())
	}
}

func TestScenarioC_RefreshPicksUpRoleChange(t *testing.T) {
	h := newHarness(t)
	token := h.login(t)
	ctx := context.Background()

	user, err := h.auth.UserFromToken(ctx, token, true)
	require.NoError(t, err)
	err = auth.Authorize(user, auth.ActionLockQuestion, "")
	require.ErrorIs(t, err, auth.ErrAuthorizationDenied)
	require.Equal(t, http.StatusForbidden, StatusForError(err))

	require.NoError(t, h.dir.SetRole(ctx, "100001", models.RoleTeacher))

	h.now = h.now.Add(time.Minute)
	rec := httptest.NewRecorder()
	h.auth.RefreshHandler(rec, bearer(http.MethodPost, "/auth/refresh", token))
	require.Equal(t, http.StatusOK, rec.Code)

	var body RefreshResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEqual(t, token, body.Token)

	claims, err := h.tokens.Decode(body.Token, false)
	require.NoError(t, err)
	require.Equal(t, models.RoleTeacher, claims.Role)

	user, err = h.auth.UserFromToken(ctx, body.Token, true)
	require.NoError(t, err)
	require.NoError(t, auth.Authorize(user, auth.ActionLockQuestion, ""))
}

func TestScenarioD_RefreshTamperedToken(t *testing.T) {
	h := newHarness(t)
	token := h.login(t)
	ctx := context.Background()

	claims, err := h.tokens.Decode(token, false)
	require.NoError(t, err)
	before, err := h.sessions.Get(ctx, claims.SessionID)
	require.NoError(t, err)

	other, err := auth.NewTokenCodec([]byte("another-secret-another-secret-xx"), time.Hour)
	require.NoError(t, err)
	claims.Role = models.RoleTeacher
	forged, err := other.Encode(claims)
	require.NoError(t, err)

	h.now = h.now.Add(time.Minute)

	_, err = h.auth.Refresh(ctx, forged)
	require.ErrorIs(t, err, ErrRefresh)
	require.ErrorIs(t, err, auth.ErrInvalidSignature)

	rec := httptest.NewRecorder()
	h.auth.RefreshHandler(rec, bearer(http.MethodPost, "/auth/refresh", forged))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	after, err := h.sessions.Get(ctx, claims.SessionID)
	require.NoError(t, err)
	require.Equal(t, before.LastActivityAt, after.LastActivityAt)
}

func TestRefresh_ExpiryBoundary(t *testing.T) {
	h := newHarness(t)
	token := h.login(t)
	ctx := context.Background()

	claims, err := h.tokens.Decode(token, false)
	require.NoError(t, err)
	created, err := h.sessions.Get(ctx, claims.SessionID)
	require.NoError(t, err)

	// exp = now - 1
	h.now = claims.ExpiresAt.Add(time.Second)

	outcome, _, err := h.auth.Validate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, TokenExpired, outcome)

	refreshed, err := h.auth.Refresh(ctx, token)
	require.NoError(t, err)

	outcome, _, err = h.auth.Validate(ctx, refreshed)
	require.NoError(t, err)
	require.Equal(t, Valid, outcome)

	session, err := h.sessions.Get(ctx, claims.SessionID)
	require.NoError(t, err)
	require.Equal(t, h.now, session.LastActivityAt)
	require.Equal(t, created.ExpiresAt, session.ExpiresAt)

	require.NoError(t, h.sessions.Delete(ctx, claims.SessionID))

	_, err = h.auth.Refresh(ctx, token)
	require.ErrorIs(t, err, ErrRefresh)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestRefresh_SessionLifetimeIsAbsolute(t *testing.T) {
	h := newHarness(t)
	token := h.login(t)
	ctx := context.Background()

	h.now = h.now.Add(DefaultSessionLifetime)

	_, err := h.auth.Refresh(ctx, token)
	require.ErrorIs(t, err, ErrRefresh)

	_, err = h.auth.Refresh(ctx, "")
	require.ErrorIs(t, err, ErrRefresh)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestLogout_Idempotent(t *testing.T) {
	h := newHarness(t)
	token := h.login(t)

	for range 2 {
		rec := httptest.NewRecorder()
		h.auth.LogoutHandler(rec, httptest.NewRequest(http.MethodGet, "/auth/logout?token="+token, nil))
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "/", rec.Header().Get("Location"))
	}
	require.Equal(t, 0, h.sessions.Len())

	rec := httptest.NewRecorder()
	h.auth.LogoutHandler(rec, httptest.NewRequest(http.MethodGet, "/auth/logout?token=garbage", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	rec = httptest.NewRecorder()
	h.auth.LogoutHandler(rec, httptest.NewRequest(http.MethodGet, "/auth/logout", nil))
	require.Equal(t, http.StatusFound, rec.Code)
}

func TestLogout_ExpiredTokenAndProviderLogout(t *testing.T) {
	h := newHarness(t)
	h.provider.logoutURL = "https://idp.example.org/logout"
	token := h.login(t)

	h.now = h.now.Add(2 * time.Hour)

	req := httptest.NewRequest(http.MethodGet, "https://forum.example.org/auth/logout?redirect=/questions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.auth.LogoutHandler(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t,
		"https://idp.example.org/logout?return="+url.QueryEscape("https://forum.example.org/questions"),
		rec.Header().Get("Location"))
	require.Equal(t, 0, h.sessions.Len())
}

func TestValidate_OpportunisticSweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stale := &models.Session{
		SessionID: strings.Repeat("ab", 32),
		UserID:    "100002",
		CreatedAt: h.now.Add(-2 * time.Hour),
		ExpiresAt: h.now.Add(-time.Hour),
	}
	require.NoError(t, h.sessions.Create(ctx, stale))
	token := h.login(t)
	require.Equal(t, 2, h.sessions.Len())

	outcome, _, err := h.auth.Validate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, Valid, outcome)
	require.Equal(t, 2, h.sessions.Len())

	h.sweep = true
	outcome, _, err = h.auth.Validate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, Valid, outcome)
	require.Equal(t, 1, h.sessions.Len())
}

func TestSweep(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	deleted, err := h.auth.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, deleted)

	h.now = h.now.Add(DefaultSessionLifetime)

	deleted, err = h.auth.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: boom", idp.ErrIdentityProvider), http.StatusUnauthorized},
		{ErrMissingToken, http.StatusUnauthorized},
		{auth.ErrMalformedToken, http.StatusUnauthorized},
		{auth.ErrInvalidSignature, http.StatusUnauthorized},
		{auth.ErrTokenExpired, http.StatusUnauthorized},
		{fmt.Errorf("%w: %w", ErrRefresh, ErrSessionExpired), http.StatusUnauthorized},
		{ErrSessionExpired, http.StatusForbidden},
		{store.ErrSessionNotFound, http.StatusForbidden},
		{auth.ErrAuthorizationDenied, http.StatusForbidden},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			require.Equal(t, tt.want, StatusForError(tt.err))
		})
	}
}
