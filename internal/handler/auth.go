package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/job-tracker-web/internal/apperror"
	"github.com/sakif/job-tracker-web/internal/auth"
	"github.com/sakif/job-tracker-web/internal/model"
	"github.com/sakif/job-tracker-web/internal/service"
	"github.com/sakif/job-tracker-web/internal/session"
)

const (
	// NonceCookie binds an OAuth state token to the browser that started
	// the login.
	NonceCookie = "job_tracker_oauth_nonce"

	// DeviceCookie identifies the browser for the cached-token fallback.
	DeviceCookie = "job_tracker_device"

	deviceTTL = 365 * 24 * time.Hour
)

// LoginStarter builds the provider's consent URL for a nonce.
type LoginStarter interface {
	AuthURL(nonce string) (string, error)
}

// AuthHandler serves the app shell and every sign-in route.
//
//   - HandleHome           → GET  /
//   - HandleGoogleLogin    → GET  /auth/google/login
//   - HandleCallbackPage   → GET  /auth/callback
//   - HandleCallback       → POST /auth/callback
//   - HandleSimpleAuthPage → GET  /simple-auth
//   - HandleSimpleLogin    → POST /auth/simple
//   - HandleTestLogin      → POST /auth/test
//   - HandleLogout         → POST /auth/logout
//   - HandleAccount        → GET  /dashboard, /complete-profile
type AuthHandler struct {
	login     LoginStarter
	callbacks *service.CallbackService
	boot      *service.BootstrapService
	store     *session.Store
	pages     *Pages
	secure    bool
	logger    *slog.Logger
}

func NewAuthHandler(
	login LoginStarter,
	callbacks *service.CallbackService,
	boot *service.BootstrapService,
	store *session.Store,
	pages *Pages,
	secure bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		login:     login,
		callbacks: callbacks,
		boot:      boot,
		store:     store,
		pages:     pages,
		secure:    secure,
		logger:    logger,
	}
}

// HandleHome is the app shell. It forwards stray provider redirects to the
// callback, sends signed-in users on to where they belong, and shows the
// login page to everyone else.
func (h *AuthHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	res := h.boot.Bootstrap(r.Context(), r.URL.RequestURI(), h.store.Port(w, r))

	switch res.State {
	case service.RedirectCallback:
		http.Redirect(w, r, res.Redirect, http.StatusFound)
	case service.SignedIn:
		http.Redirect(w, r, string(res.Destination), http.StatusSeeOther)
	case service.BootstrapFailed:
		h.pages.renderFailure(w, r.URL.RequestURI(), res.Failure)
	default:
		h.pages.render(w, http.StatusOK, "login", loginData{
			Title:     "Sign in",
			TestLogin: h.boot.TestLoginEnabled(),
		})
	}
}

// HandleGoogleLogin starts the OAuth flow. The nonce cookie lives as long
// as the state token it is bound to.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	nonce := xid.New().String()

	target, err := h.login.AuthURL(nonce)
	if err != nil {
		h.logger.Error("building provider login URL", slog.String("error", err.Error()))
		h.pages.renderFailure(w, "/", service.FailureFor(apperror.Provider("Failed to start authentication", err)))
		return
	}

	h.ensureDevice(w, r)
	http.SetCookie(w, &http.Cookie{
		Name:     NonceCookie,
		Value:    nonce,
		Path:     "/",
		MaxAge:   int(auth.StateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// HandleCallbackPage serves the page the provider redirects to. The page
// posts its own location back, because the fragment never reaches the
// server on its own.
func (h *AuthHandler) HandleCallbackPage(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, http.StatusOK, "callback", callbackData{
		Title: "Signing in",
		URL:   r.URL.RequestURI(),
	})
}

// HandleCallback reconciles the posted callback URL into a signed-in user.
//
// A client that disconnects mid-way gets nothing: no cookie, no page.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	raw := r.PostForm.Get("url")
	if raw == "" {
		raw = r.URL.RequestURI()
	}

	out := h.callbacks.Reconcile(r.Context(), service.CallbackInput{
		URL:      raw,
		Nonce:    cookieValue(r, NonceCookie),
		DeviceID: h.ensureDevice(w, r),
	}, h.store.Port(w, r))

	switch {
	case out.Discarded:
		h.logger.Info("client left before sign-in finished", slog.String("remote", r.RemoteAddr))
		return
	case out.Failure != nil:
		h.pages.renderFailure(w, sameOriginPath(raw), out.Failure)
		return
	}

	h.expireCookie(w, NonceCookie)
	http.Redirect(w, r, string(out.Destination), http.StatusSeeOther)
}

// HandleSimpleAuthPage shows the simple login form. Signed-in users go back
// to the app shell instead.
func (h *AuthHandler) HandleSimpleAuthPage(w http.ResponseWriter, r *http.Request) {
	if h.store.IsAuthenticated(h.store.Port(w, r)) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.pages.render(w, http.StatusOK, "simple_auth", simpleAuthData{Title: "Simple Login"})
}

// HandleSimpleLogin writes a provider-less record and goes back to the app
// shell, which then runs the profile check.
func (h *AuthHandler) HandleSimpleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	email := r.PostForm.Get("email")
	fullName := r.PostForm.Get("full_name")

	if _, err := h.boot.SimpleLogin(h.store.Port(w, r), email, fullName); err != nil {
		status, _ := errorStatus(err)
		msg := "Failed to login. Please try again."
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			msg = appErr.Message
		}
		h.pages.render(w, status, "simple_auth", simpleAuthData{
			Title:    "Simple Login",
			Error:    msg,
			Email:    email,
			FullName: fullName,
		})
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleTestLogin is 404 unless test login is enabled.
func (h *AuthHandler) HandleTestLogin(w http.ResponseWriter, r *http.Request) {
	_, dest, err := h.boot.TestLogin(r.Context(), h.store.Port(w, r))
	if errors.Is(err, apperror.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Warn("test login failed", slog.String("error", err.Error()))
		h.pages.renderFailure(w, "/", service.FailureFor(err))
		return
	}
	http.Redirect(w, r, string(dest), http.StatusSeeOther)
}

// HandleLogout clears the auth cookie and the device's cached provider user.
// POST only: a GET could be triggered by a prefetch.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.boot.Logout(r.Context(), h.store.Port(w, r), cookieValue(r, DeviceCookie))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleAccount renders a signed-in placeholder page titled title. Must be
// mounted behind auth.RequireSessionPage.
func (h *AuthHandler) HandleAccount(title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := auth.RecordFromContext(r.Context())
		if !ok {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		h.pages.render(w, http.StatusOK, "account", accountData{
			Title: title,
			User:  cookieUser(rec),
		})
	}
}

// ensureDevice returns the device id, issuing one if the browser has none.
func (h *AuthHandler) ensureDevice(w http.ResponseWriter, r *http.Request) string {
	if id := cookieValue(r, DeviceCookie); id != "" {
		return id
	}
	id := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(deviceTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func (h *AuthHandler) expireCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func cookieUser(rec *model.AuthRecord) *model.CookieUser {
	return &model.CookieUser{
		ID:         rec.UserID,
		Email:      rec.Email,
		FullName:   rec.FullName,
		AuthUserID: rec.AuthUserID,
	}
}

// sameOriginPath strips scheme and host from raw so it can be linked to
// without leaving the site. The fragment is kept.
func sameOriginPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return service.CallbackPath
	}
	// A leading "//" would be read as a host.
	out := "/" + strings.TrimLeft(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		out += "#" + u.EscapedFragment()
	}
	return out
}
