package login

import (
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/forumapi/internal/auth"
	httpmiddleware "github.com/wolfeidau/forumapi/internal/http"
)

// RequireUser rejects requests without a valid bearer token and stores the
// resolved user in the request context.
func (a *Authenticator) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.UserFromRequest(r, true)
		if err != nil {
			a.writeAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

// OptionalUser stores the user in the request context when the bearer token is
// valid and serves the request anonymously otherwise.
func (a *Authenticator) OptionalUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := a.UserFromRequest(r, false)
		if user != nil {
			r = r.WithContext(auth.WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin accepts the token from the Authorization header or the token
// query parameter and checks the admin flag against the directory.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		user, err := a.UserFromToken(r.Context(), token, true)
		if err != nil {
			a.writeAuthError(w, r, err)
			return
		}

		isAdmin, err := a.directory.IsAdmin(r.Context(), user.Sciper)
		if err != nil {
			httpmiddleware.WriteError(w, r, http.StatusInternalServerError, "failed to verify admin", err)
			return
		}
		if !isAdmin {
			log.Warn().Str("sciper", user.Sciper).Str("path", r.URL.Path).Msg("Admin access denied")
			httpmiddleware.WriteError(w, r, http.StatusForbidden, auth.ErrAuthorizationDenied.Error(), nil)
			return
		}

		user.IsAdmin = true
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

func (a *Authenticator) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusForError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	httpmiddleware.WriteError(w, r, status, msg, err)
}
