// Package admin serves operator endpoints for managing forum users.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"filippo.io/csrf"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/forumapi/internal/auth"
	"github.com/wolfeidau/forumapi/internal/directory"
	httpmiddleware "github.com/wolfeidau/forumapi/internal/http"
	"github.com/wolfeidau/forumapi/internal/models"
	"github.com/wolfeidau/forumapi/internal/store"
)

const maxBodyBytes = 4 * 1024

// UserResponse is the admin view of a directory record.
type UserResponse struct {
	Sciper    string    `json:"sciper"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type setRoleRequest struct {
	Sciper string `json:"sciper"`
	Role   string `json:"role"`
}

type setAdminRequest struct {
	Sciper  string `json:"sciper"`
	IsAdmin bool   `json:"isAdmin"`
}

type revokeRequest struct {
	Sciper string `json:"sciper"`
}

// RevokeResponse reports how many sessions were closed.
type RevokeResponse struct {
	Revoked int `json:"revoked"`
}

// Handler serves /admin/users routes. Callers must put it behind an admin check.
type Handler struct {
	directory *directory.Directory
	sessions  store.SessionStore
	csrf      *csrf.Protection
}

// New creates the admin handler. Trusted origins may post cross origin.
func New(dir *directory.Directory, sessions store.SessionStore, trustedOrigins ...string) (*Handler, error) {
	protection := csrf.New()
	for _, origin := range trustedOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			return nil, fmt.Errorf("invalid trusted origin %q: %w", origin, err)
		}
	}

	return &Handler{
		directory: dir,
		sessions:  sessions,
		csrf:      protection,
	}, nil
}

// Routes returns the CSRF protected admin mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/users/role", h.setRole)
	mux.HandleFunc("POST /admin/users/admin", h.setAdmin)
	mux.HandleFunc("POST /admin/users/revoke", h.revoke)
	mux.HandleFunc("GET /admin/users/{sciper}", h.getUser)
	return h.csrf.Handler(mux)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	sciper := r.PathValue("sciper")
	if err := directory.ValidateSciper(sciper); err != nil {
		httpmiddleware.WriteError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	h.writeUser(w, r, sciper)
}

func (h *Handler) setRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if !decode(w, r, &req) {
		return
	}
	if err := directory.ValidateSciper(req.Sciper); err != nil {
		httpmiddleware.WriteError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		httpmiddleware.WriteError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if err := h.directory.SetRole(r.Context(), req.Sciper, role); err != nil {
		writeStoreError(w, r, err)
		return
	}

	log.Info().
		Str("sciper", req.Sciper).
		Str("role", string(role)).
		Str("by", actor(r)).
		Msg("Admin changed role")

	h.writeUser(w, r, req.Sciper)
}

func (h *Handler) setAdmin(w http.ResponseWriter, r *http.Request) {
	var req setAdminRequest
	if !decode(w, r, &req) {
		return
	}
	if err := directory.ValidateSciper(req.Sciper); err != nil {
		httpmiddleware.WriteError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if err := h.directory.SetAdmin(r.Context(), req.Sciper, req.IsAdmin); err != nil {
		writeStoreError(w, r, err)
		return
	}

	log.Info().
		Str("sciper", req.Sciper).
		Bool("is_admin", req.IsAdmin).
		Str("by", actor(r)).
		Msg("Admin changed admin flag")

	h.writeUser(w, r, req.Sciper)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := directory.ValidateSciper(req.Sciper); err != nil {
		httpmiddleware.WriteError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	revoked, err := h.sessions.DeleteByUser(r.Context(), req.Sciper)
	if err != nil {
		httpmiddleware.WriteError(w, r, http.StatusInternalServerError, "failed to revoke sessions", err)
		return
	}

	log.Info().
		Str("sciper", req.Sciper).
		Int("revoked", revoked).
		Str("by", actor(r)).
		Msg("Admin revoked sessions")

	httpmiddleware.WriteJSON(w, http.StatusOK, RevokeResponse{Revoked: revoked})
}

func (h *Handler) writeUser(w http.ResponseWriter, r *http.Request, sciper string) {
	user, err := h.directory.Lookup(r.Context(), sciper)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	httpmiddleware.WriteJSON(w, http.StatusOK, UserResponse{
		Sciper:    user.Sciper,
		Name:      user.Name,
		Email:     user.Email,
		Role:      string(user.Role),
		IsAdmin:   user.IsAdmin,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		httpmiddleware.WriteError(w, r, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrUserNotFound) {
		httpmiddleware.WriteError(w, r, http.StatusNotFound, "user not found", nil)
		return
	}
	httpmiddleware.WriteError(w, r, http.StatusInternalServerError, "failed to update user", err)
}

func actor(r *http.Request) string {
	if user := auth.UserFromContext(r.Context()); user != nil {
		return user.Sciper
	}
	return ""
}
