package login

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/forumapi/internal/auth"
	httpmiddleware "github.com/wolfeidau/forumapi/internal/http"
	"github.com/wolfeidau/forumapi/internal/idp"
)

// RedirectCookieName holds the return URL across the provider round trip.
const RedirectCookieName = "redirect_after_auth"

const redirectCookieMaxAge = 600

const loginFailedMessage = "login failed, try again"

// ValidateResponse is the body of a successful validation.
type ValidateResponse struct {
	Sciper  string `json:"sciper"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	IsAdmin bool   `json:"isAdmin"`
}

// RefreshResponse carries a freshly minted token.
type RefreshResponse struct {
	Token string `json:"token"`
}

// LoginHandler serves GET /auth/login. Without provider callback parameters it
// redirects to the provider, otherwise it completes the login and redirects to
// the return URL with the token appended.
func (a *Authenticator) LoginHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !a.provider.IsCallback(r) {
		redirectURL, err := a.provider.BeginLogin(ctx, w, r)
		if err != nil {
			httpmiddleware.WriteError(w, r, http.StatusUnauthorized, loginFailedMessage, err)
			return
		}

		returnURL := a.safeReturnURL(r.URL.Query().Get("redirect"))
		setRedirectCookie(w, returnURL, redirectCookieMaxAge)

		log.Debug().Str("provider", a.provider.Name()).Msg("Redirecting to identity provider")
		http.Redirect(w, r, redirectURL, http.StatusFound)
		return
	}

	token, err := a.CompleteLogin(ctx, w, r)
	if err != nil {
		if errors.Is(err, idp.ErrIdentityProvider) {
			log.Warn().Err(err).Str("provider", a.provider.Name()).Msg("Login callback rejected")
			httpmiddleware.WriteError(w, r, http.StatusUnauthorized, loginFailedMessage, err)
			return
		}
		httpmiddleware.WriteError(w, r, http.StatusInternalServerError, "failed to complete login", err)
		return
	}

	returnURL := "/"
	if cookie, err := r.Cookie(RedirectCookieName); err == nil {
		returnURL = a.safeReturnURL(cookie.Value)
	}
	setRedirectCookie(w, "", -1)

	http.Redirect(w, r, appendToken(returnURL, token), http.StatusFound)
}

// ValidateHandler serves POST /auth/validate.
func (a *Authenticator) ValidateHandler(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r)
	if token == "" {
		httpmiddleware.WriteError(w, r, http.StatusUnauthorized, "missing token", nil)
		return
	}

	outcome, claims, err := a.Validate(r.Context(), token)
	if err != nil {
		httpmiddleware.WriteError(w, r, http.StatusInternalServerError, "failed to validate token", err)
		return
	}

	if outcome != Valid {
		httpmiddleware.WriteError(w, r, outcome.StatusCode(), strings.ReplaceAll(outcome.String(), "_", " "), nil)
		return
	}

	httpmiddleware.WriteJSON(w, http.StatusOK, ValidateResponse{
		Sciper:  claims.Sciper,
		Name:    claims.Name,
		Role:    string(claims.Role),
		IsAdmin: claims.IsAdmin,
	})
}

// RefreshHandler serves POST /auth/refresh.
func (a *Authenticator) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	token, err := a.Refresh(r.Context(), auth.BearerToken(r))
	if err != nil {
		if errors.Is(err, ErrRefresh) {
			httpmiddleware.WriteError(w, r, http.StatusUnauthorized, "refresh failed, log in again", err)
			return
		}
		httpmiddleware.WriteError(w, r, http.StatusInternalServerError, "failed to refresh token", err)
		return
	}

	httpmiddleware.WriteJSON(w, http.StatusOK, RefreshResponse{Token: token})
}

// LogoutHandler serves GET /auth/logout. It always redirects.
func (a *Authenticator) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.BearerToken(r)
	}

	a.Logout(r.Context(), token)
	setRedirectCookie(w, "", -1)

	target := a.safeReturnURL(r.URL.Query().Get("redirect"))
	if logoutURL := a.provider.LogoutURL(a.absoluteURL(r, target)); logoutURL != "" {
		target = logoutURL
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// safeReturnURL accepts relative paths and absolute URLs of an allowed origin.
// Everything else collapses to "/".
func (a *Authenticator) safeReturnURL(raw string) string {
	if raw == "" {
		return "/"
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "/"
	}

	if !u.IsAbs() && u.Host == "" {
		// reject scheme relative and backslash tricks browsers normalise to a host
		if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
			return "/"
		}
		return raw
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "/"
	}
	if _, ok := a.allowedOrigins[normalizeOrigin(u.Scheme+"://"+u.Host)]; !ok {
		log.Warn().Str("host", u.Host).Msg("Rejected return URL outside allowed origins")
		return "/"
	}
	return raw
}

// absoluteURL turns a relative return path into a URL on the request host, as
// provider logout endpoints need an absolute target.
func (a *Authenticator) absoluteURL(r *http.Request, target string) string {
	if u, err := url.Parse(target); err == nil && u.IsAbs() {
		return target
	}

	scheme := "https"
	if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") == "http" {
		scheme = "http"
	}
	return scheme + "://" + r.Host + target
}

func normalizeOrigin(origin string) string {
	return strings.TrimSuffix(strings.ToLower(origin), "/")
}

func appendToken(returnURL, token string) string {
	u, err := url.Parse(returnURL)
	if err != nil {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func setRedirectCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     RedirectCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}
