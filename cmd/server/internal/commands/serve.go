package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/forumapi/internal/admin"
	"github.com/wolfeidau/forumapi/internal/auth"
	"github.com/wolfeidau/forumapi/internal/client"
	"github.com/wolfeidau/forumapi/internal/directory"
	httpmiddleware "github.com/wolfeidau/forumapi/internal/http"
	"github.com/wolfeidau/forumapi/internal/idp"
	"github.com/wolfeidau/forumapi/internal/logger"
	"github.com/wolfeidau/forumapi/internal/login"
	"github.com/wolfeidau/forumapi/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type ServeCmd struct {
	// Server configuration
	Listen    string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"FORUM_LISTEN"`
	Cert      string `help:"path to TLS cert file, plain HTTP when empty" default:"" env:"FORUM_TLS_CERT"`
	Key       string `help:"path to TLS key file" default:"" env:"FORUM_TLS_KEY"`
	PublicURL string `help:"public base URL of this API, used for the login callback" default:"http://localhost:8080" env:"FORUM_PUBLIC_URL"`

	// CORS and return URL configuration
	CORSOrigins []string `help:"front-end origins allowed to call the API and to receive logins" default:"http://localhost:3000" env:"FORUM_CORS_ORIGINS"`

	// Token and session configuration
	TokenSecret     string        `help:"HMAC secret signing bearer tokens (at least 32 bytes)" env:"FORUM_TOKEN_SECRET"`
	TokenLifetime   time.Duration `help:"bearer token lifetime" default:"1h" env:"FORUM_TOKEN_LIFETIME"`
	SessionLifetime time.Duration `help:"absolute session lifetime" default:"168h" env:"FORUM_SESSION_LIFETIME"`
	RequestTimeout  time.Duration `help:"deadline for store work of one request" default:"5s" env:"FORUM_REQUEST_TIMEOUT"`

	// Identity provider configuration
	Provider    string        `help:"identity provider (oidc or tequila)" default:"oidc" env:"FORUM_PROVIDER" enum:"oidc,tequila"`
	IdPTimeout  time.Duration `help:"timeout of identity provider calls" default:"10s" env:"FORUM_IDP_TIMEOUT"`
	IdPCacheDir string        `help:"directory caching OIDC discovery and keys, memory when empty" default:"" env:"FORUM_IDP_CACHE_DIR"`
	OIDC        OIDCFlags     `embed:"" prefix:"oidc-"`
	Tequila     TequilaFlags  `embed:"" prefix:"tequila-"`

	// Users
	SeedFile string `help:"YAML file of users whose role and admin flag are applied at startup" type:"existingfile" env:"FORUM_SEED_FILE"`

	// Telemetry
	Tracing          bool    `help:"enable OpenTelemetry export" default:"false" env:"FORUM_TRACING"`
	TraceSampleRatio float64 `help:"fraction of traces recorded" default:"1" env:"FORUM_TRACE_SAMPLE_RATIO"`

	Storage StorageFlags `embed:""`
}

type OIDCFlags struct {
	IssuerURL      string   `help:"OIDC issuer URL" env:"FORUM_OIDC_ISSUER_URL"`
	ClientID       string   `help:"OIDC client ID" env:"FORUM_OIDC_CLIENT_ID"`
	ClientSecret   string   `help:"OIDC client secret" env:"FORUM_OIDC_CLIENT_SECRET"`
	Scopes         []string `help:"scopes requested in addition to openid" default:"profile,email" env:"FORUM_OIDC_SCOPES"`
	SciperClaim    string   `help:"claim carrying the sciper" default:"uniqueid" env:"FORUM_OIDC_SCIPER_CLAIM"`
	RequiredTenant string   `help:"required value of the tid claim" default:"" env:"FORUM_OIDC_REQUIRED_TENANT"`
	EndSessionURL  string   `help:"override of the end_session_endpoint" default:"" env:"FORUM_OIDC_END_SESSION_URL"`
}

func (o *OIDCFlags) Validate() error {
	if o.IssuerURL == "" {
		return errors.New("OIDC issuer URL is required (--oidc-issuer-url or FORUM_OIDC_ISSUER_URL)")
	}
	if o.ClientID == "" {
		return errors.New("OIDC client ID is required (--oidc-client-id or FORUM_OIDC_CLIENT_ID)")
	}
	return nil
}

type TequilaFlags struct {
	ServerURL string `help:"Tequila CGI root URL" default:"https://tequila.epfl.ch/cgi-bin/tequila" env:"FORUM_TEQUILA_SERVER_URL"`
	Service   string `help:"service name shown on the login page" default:"Forum" env:"FORUM_TEQUILA_SERVICE"`
	Require   string `help:"Tequila filter restricting who may log in" default:"" env:"FORUM_TEQUILA_REQUIRE"`
	Language  string `help:"login page language" default:"english" env:"FORUM_TEQUILA_LANGUAGE" enum:"english,francais"`
}

func (c *ServeCmd) Validate() error {
	if len(c.TokenSecret) < auth.MinSecretLength {
		return fmt.Errorf("token secret must be at least %d bytes (--token-secret or FORUM_TOKEN_SECRET)", auth.MinSecretLength)
	}
	if c.TokenLifetime <= 0 || c.SessionLifetime <= 0 {
		return errors.New("token and session lifetimes must be greater than 0")
	}
	if c.TokenLifetime > c.SessionLifetime {
		return errors.New("token lifetime must not exceed the session lifetime")
	}
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS certificate and key must be given together (--cert and --key)")
	}
	return nil
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := globals.setupLogger()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "forum-api",
			Version:     globals.Version,
			SampleRatio: c.TraceSampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	stores, err := c.Storage.open(ctx, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	dir := directory.New(stores.users)
	if c.SeedFile != "" {
		seed, err := directory.LoadSeedFile(c.SeedFile)
		if err != nil {
			return err
		}
		if _, err := dir.Seed(ctx, seed); err != nil {
			return err
		}
	}

	tokens, err := auth.NewTokenCodec([]byte(c.TokenSecret), c.TokenLifetime)
	if err != nil {
		return fmt.Errorf("failed to create token codec: %w", err)
	}

	provider, err := c.newProvider(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize %s provider: %w", c.Provider, err)
	}
	log.Info().Str("provider", provider.Name()).Msg("Identity provider initialized")

	authenticator, err := login.New(login.Config{
		Provider:        provider,
		Sessions:        stores.sessions,
		Directory:       dir,
		Tokens:          tokens,
		SessionLifetime: c.SessionLifetime,
		StoreTimeout:    c.RequestTimeout,
		AllowedOrigins:  c.CORSOrigins,
	})
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}

	adminHandler, err := admin.New(dir, stores.sessions, c.CORSOrigins...)
	if err != nil {
		return fmt.Errorf("failed to create admin handler: %w", err)
	}

	handler := newRouter(routerConfig{
		Logger:         log,
		Authenticator:  authenticator,
		Admin:          adminHandler,
		CORSOrigins:    c.CORSOrigins,
		RequestTimeout: c.RequestTimeout,
	})
	if c.Tracing {
		handler = otelhttp.NewHandler(handler, "forum-api")
	}

	return c.listen(ctx, log, configureHTTPServer(c.Listen, handler))
}

func (c *ServeCmd) newProvider(ctx context.Context) (idp.Provider, error) {
	callbackURL := strings.TrimSuffix(c.PublicURL, "/") + "/auth/login"

	switch c.Provider {
	case "tequila":
		return idp.NewTequila(idp.TequilaConfig{
			ServerURL:  c.Tequila.ServerURL,
			ReturnURL:  callbackURL,
			Service:    c.Tequila.Service,
			Require:    c.Tequila.Require,
			Language:   c.Tequila.Language,
			HTTPClient: client.NewHTTPClient(client.Config{Timeout: c.IdPTimeout}),
		})
	default:
		if err := c.OIDC.Validate(); err != nil {
			return nil, err
		}
		// ctx must outlive startup, the key set refreshes with it
		return idp.NewOIDC(ctx, idp.OIDCConfig{
			IssuerURL:      c.OIDC.IssuerURL,
			ClientID:       c.OIDC.ClientID,
			ClientSecret:   c.OIDC.ClientSecret,
			RedirectURL:    callbackURL,
			Scopes:         c.OIDC.Scopes,
			SciperClaim:    c.OIDC.SciperClaim,
			RequiredTenant: c.OIDC.RequiredTenant,
			EndSessionURL:  c.OIDC.EndSessionURL,
			HTTPClient: client.NewCachingHTTPClient(client.Config{
				Timeout:  c.IdPTimeout,
				CacheDir: c.IdPCacheDir,
			}),
		})
	}
}

// listen serves until ctx is cancelled, then drains in-flight requests.
func (c *ServeCmd) listen(ctx context.Context, log zerolog.Logger, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("tls", c.Cert != "").Msg("Starting HTTP server")
		if c.Cert != "" {
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

type routerConfig struct {
	Logger         zerolog.Logger
	Authenticator  *login.Authenticator
	Admin          *admin.Handler
	CORSOrigins    []string
	RequestTimeout time.Duration
}

func newRouter(cfg routerConfig) http.Handler {
	a := cfg.Authenticator
	timeout := httpmiddleware.TimeoutMiddleware(cfg.RequestTimeout)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health)

	// login talks to the provider and carries its own HTTP client timeout
	mux.HandleFunc("GET /auth/login", a.LoginHandler)
	mux.Handle("GET /auth/logout", timeout(http.HandlerFunc(a.LogoutHandler)))
	mux.Handle("POST /auth/validate", timeout(http.HandlerFunc(a.ValidateHandler)))
	mux.Handle("POST /auth/refresh", timeout(http.HandlerFunc(a.RefreshHandler)))

	mux.Handle("/admin/", httpmiddleware.Chain(cfg.Admin.Routes(), timeout, a.RequireAdmin))

	return httpmiddleware.Chain(mux,
		logger.Requests(cfg.Logger),
		httpmiddleware.ClientIPMiddleware(),
		httpmiddleware.CORS(cfg.CORSOrigins),
		httpmiddleware.Compress(),
	)
}

func health(w http.ResponseWriter, r *http.Request) {
	httpmiddleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
