package http

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrorResponse is the JSON body of every failed API call.
type ErrorResponse struct {
	Error   string `json:"error"`
	ErrorID string `json:"errorId,omitempty"`
}

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to encode response")
	}
}

// WriteError writes a client facing error. Server errors are assigned an
// error id which is returned to the caller and logged alongside err.
func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}

	if status >= http.StatusInternalServerError {
		resp.ErrorID = uuid.NewString()
		zerolog.Ctx(r.Context()).Error().
			Err(err).
			Str("error_id", resp.ErrorID).
			Int("status", status).
			Msg(msg)
	} else if err != nil {
		zerolog.Ctx(r.Context()).Debug().
			Err(err).
			Int("status", status).
			Msg(msg)
	}

	WriteJSON(w, status, resp)
}
