package idp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// KeyCookieName holds the Tequila request key between createrequest and fetchattributes.
const KeyCookieName = "teqkey"

const keyCookieMaxAge = 600 // 10 minutes

// maxResponseSize caps Tequila response bodies.
const maxResponseSize = 64 << 10

// wantedAttributes are requested on every login.
var wantedAttributes = []string{"displayname", "email", "uniqueid"}

// TequilaConfig configures the legacy Tequila ticket protocol.
type TequilaConfig struct {
	// ServerURL is the Tequila CGI root, for example https://tequila.example.org/cgi-bin/tequila.
	ServerURL string

	// ReturnURL is the /auth/login URL of this API, sent as urlaccess.
	ReturnURL string

	// Service is the application name shown on the login page.
	Service string

	// Require is a Tequila filter restricting who may log in, for example "group=forum-users".
	Require string

	// Language of the login page: english or francais.
	Language string

	HTTPClient *http.Client
}

// Validate checks the configuration.
func (c *TequilaConfig) Validate() error {
	if c.ServerURL == "" || c.ReturnURL == "" {
		return errors.New("tequila server URL and return URL are required")
	}
	if _, err := url.Parse(c.ServerURL); err != nil {
		return fmt.Errorf("invalid tequila server URL: %w", err)
	}
	return nil
}

// Tequila implements Provider for the legacy ticket protocol.
type Tequila struct {
	cfg        TequilaConfig
	serverURL  string
	httpClient *http.Client
}

// NewTequila creates a Tequila provider.
func NewTequila(cfg TequilaConfig) (*Tequila, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Tequila{
		cfg:        cfg,
		serverURL:  strings.TrimSuffix(cfg.ServerURL, "/"),
		httpClient: httpClient,
	}, nil
}

func (t *Tequila) Name() string { return "tequila" }

// IsCallback matches the browser returning with an auth_check.
func (t *Tequila) IsCallback(r *http.Request) bool {
	return r.URL.Query().Get("auth_check") != ""
}

// BeginLogin creates a Tequila request and returns the login page URL.
func (t *Tequila) BeginLogin(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, error) {
	fields := [][2]string{
		{"urlaccess", t.cfg.ReturnURL},
		{"request", strings.Join(wantedAttributes, "+")},
	}
	if t.cfg.Service != "" {
		fields = append(fields, [2]string{"service", t.cfg.Service})
	}
	if t.cfg.Require != "" {
		fields = append(fields, [2]string{"require", t.cfg.Require})
	}
	if t.cfg.Language != "" {
		fields = append(fields, [2]string{"language", t.cfg.Language})
	}
	fields = append(fields,
		[2]string{"dontappendkey", "1"},
		[2]string{"mode_auth_check", "1"},
	)

	body, err := t.ask(ctx, "createrequest", fields)
	if err != nil {
		return "", err
	}

	key, ok := strings.CutPrefix(strings.TrimSpace(body), "key=")
	if !ok || key == "" {
		return "", fmt.Errorf("%w: createrequest returned no key", ErrIdentityProvider)
	}

	setCookie(w, KeyCookieName, key, keyCookieMaxAge, http.SameSiteNoneMode)

	log.Debug().Msg("Created Tequila request")

	return t.serverURL + "/requestauth?requestkey=" + url.QueryEscape(key), nil
}

// CompleteLogin fetches the attributes for the stored request key.
func (t *Tequila) CompleteLogin(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Claims, error) {
	cookie, err := r.Cookie(KeyCookieName)
	if err != nil || cookie.Value == "" {
		return nil, fmt.Errorf("%w: missing request key cookie", ErrIdentityProvider)
	}

	// the request key is a one-time ticket
	clearCookie(w, KeyCookieName, http.SameSiteNoneMode)

	authCheck := r.URL.Query().Get("auth_check")
	if authCheck == "" {
		return nil, fmt.Errorf("%w: missing auth_check", ErrIdentityProvider)
	}

	body, err := t.ask(ctx, "fetchattributes", [][2]string{
		{"key", cookie.Value},
		{"auth_check", authCheck},
	})
	if err != nil {
		return nil, err
	}

	attrs := parseAttributes(body)

	claims := &Claims{
		UniqueID:    attrs["uniqueid"],
		DisplayName: attrs["displayname"],
		Email:       attrs["email"],
		ProviderKey: cookie.Value,
	}
	if claims.UniqueID == "" {
		return nil, fmt.Errorf("%w: fetchattributes returned no uniqueid", ErrIdentityProvider)
	}

	return claims, nil
}

// LogoutURL returns the Tequila logout page.
func (t *Tequila) LogoutURL(returnURL string) string {
	u := t.serverURL + "/logout"
	if returnURL != "" {
		u += "?urlaccess=" + url.QueryEscape(returnURL)
	}
	return u
}

// ask POSTs newline separated key=value fields to a Tequila endpoint.
func (t *Tequila) ask(ctx context.Context, endpoint string, fields [][2]string) (string, error) {
	var sb strings.Builder
	for _, f := range fields {
		sb.WriteString(f[0])
		sb.WriteByte('=')
		sb.WriteString(f[1])
		sb.WriteByte('\n')
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.serverURL+"/"+endpoint, strings.NewReader(sb.String()))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrIdentityProvider, endpoint, err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrIdentityProvider, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s returned HTTP %d", ErrIdentityProvider, endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrIdentityProvider, endpoint, err)
	}

	return string(body), nil
}

// parseAttributes reads key=value lines, skipping blank and malformed ones.
func parseAttributes(body string) map[string]string {
	attrs := make(map[string]string)

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		attrs[key] = value
	}

	return attrs
}
