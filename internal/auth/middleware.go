package auth

import (
	"context"
	"net/http"

	"github.com/sakif/job-tracker-web/internal/model"
	"github.com/sakif/job-tracker-web/internal/session"
)

// contextKey is unexported so only this package can set or read its values.
type contextKey string

const recordKey contextKey = "authRecord"

// RequireSession rejects API requests without a valid auth cookie with 401.
// The record is stored in the request context for handlers.
func RequireSession(store *session.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec, ok := authenticated(store, w, r)
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithRecord(r.Context(), rec)))
		})
	}
}

// RequireSessionPage is RequireSession for pages: anonymous visitors are
// sent back to the login page instead of getting a 401.
func RequireSessionPage(store *session.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec, ok := authenticated(store, w, r)
			if !ok {
				http.Redirect(w, r, "/", http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithRecord(r.Context(), rec)))
		})
	}
}

// WithRecord returns a copy of ctx carrying rec.
func WithRecord(ctx context.Context, rec *model.AuthRecord) context.Context {
	return context.WithValue(ctx, recordKey, rec)
}

// RecordFromContext returns the auth record stored by the middleware.
func RecordFromContext(ctx context.Context) (*model.AuthRecord, bool) {
	rec, ok := ctx.Value(recordKey).(*model.AuthRecord)
	return rec, ok && rec != nil
}

// authenticated reads the cookie through the store. An expired or malformed
// cookie is cleared as a side effect of Get.
func authenticated(store *session.Store, w http.ResponseWriter, r *http.Request) (*model.AuthRecord, bool) {
	rec := store.Get(store.Port(w, r))
	if rec == nil || rec.UserID == "" || rec.Email == "" {
		return nil, false
	}
	return rec, true
}
