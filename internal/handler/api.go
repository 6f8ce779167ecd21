package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/job-tracker-web/internal/apperror"
	"github.com/sakif/job-tracker-web/internal/auth"
	"github.com/sakif/job-tracker-web/internal/params"
	"github.com/sakif/job-tracker-web/internal/session"
)

// APIHandler serves the JSON routes: the signed-in user and two
// diagnostics endpoints for debugging sign-in problems.
type APIHandler struct {
	store  *session.Store
	logger *slog.Logger
}

func NewAPIHandler(store *session.Store, logger *slog.Logger) *APIHandler {
	return &APIHandler{store: store, logger: logger}
}

// HandleMe returns the cookie user. Mounted behind auth.RequireSession.
//
// HTTP: GET /api/me
func (h *APIHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	rec, ok := auth.RecordFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}
	writeJSON(w, http.StatusOK, cookieUser(rec))
}

// SessionResponse describes the auth cookie as the server sees it.
type SessionResponse struct {
	Authenticated bool       `json:"authenticated"`
	UserID        string     `json:"user_id,omitempty"`
	Email         string     `json:"email,omitempty"`
	Provider      string     `json:"provider,omitempty"`
	Expires       *time.Time `json:"expires,omitempty"`
}

// HandleSession reports whether the browser holds a usable auth cookie.
//
// HTTP: GET /api/session
func (h *APIHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	rec := h.store.Get(h.store.Port(w, r))

	resp := SessionResponse{Authenticated: rec != nil && rec.UserID != "" && rec.Email != ""}
	if rec != nil {
		resp.UserID = rec.UserID
		resp.Email = rec.Email
		resp.Provider = string(rec.Provider)
		expires := rec.Expires
		resp.Expires = &expires
	}
	writeJSON(w, http.StatusOK, resp)
}

// ParamsResponse is the parameter extraction of one URL.
type ParamsResponse struct {
	URL            string      `json:"url"`
	Merged         *params.Bag `json:"merged"`
	Query          *params.Bag `json:"query"`
	Hash           *params.Bag `json:"hash"`
	HasOAuthParams bool        `json:"has_oauth_params"`
}

// HandleOAuthParams shows how a callback URL would be read.
//
// HTTP: GET /api/oauth/params?url=<callback URL>
func (h *APIHandler) HandleOAuthParams(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeError(w, apperror.ValidationFailed("url", "url is required"))
		return
	}

	res, err := params.Extract(raw)
	if err != nil {
		writeError(w, apperror.ValidationFailed("url", "url could not be parsed"))
		return
	}

	writeJSON(w, http.StatusOK, ParamsResponse{
		URL:            raw,
		Merged:         res.Merged,
		Query:          res.Query,
		Hash:           res.Hash,
		HasOAuthParams: res.HasOAuthParams(),
	})
}

// HandleHealth is a liveness check.
//
// HTTP: GET /healthz
func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
