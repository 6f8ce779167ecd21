package handler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/job-tracker-web/internal/apperror"
	"github.com/sakif/job-tracker-web/internal/auth"
	"github.com/sakif/job-tracker-web/internal/handler"
	"github.com/sakif/job-tracker-web/internal/model"
	"github.com/sakif/job-tracker-web/internal/resolver"
	"github.com/sakif/job-tracker-web/internal/service"
	"github.com/sakif/job-tracker-web/internal/session"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

type fakeLogin struct {
	url      string
	err      error
	gotNonce string
}

func (f *fakeLogin) AuthURL(nonce string) (string, error) {
	f.gotNonce = nonce
	return f.url, f.err
}

type fakeResolver struct {
	result resolver.Result
	got    resolver.Request
}

func (f *fakeResolver) Resolve(ctx context.Context, req resolver.Request) resolver.Result {
	f.got = req
	if err := ctx.Err(); err != nil {
		return resolver.Result{Outcome: resolver.Failed, Source: resolver.SourceLiveSession, Err: err}
	}
	return f.result
}

type fakeGate struct {
	status *model.ProfileStatus
	err    error
	calls  int
}

func (f *fakeGate) CheckProfile(ctx context.Context, authUserID, email string) (*model.ProfileStatus, error) {
	f.calls++
	return f.status, f.err
}

type testApp struct {
	login *fakeLogin
	res   *fakeResolver
	gate  *fakeGate
	store *session.Store
	auth  *handler.AuthHandler
	api   *handler.APIHandler
}

func newTestApp(t *testing.T, testLogin bool) *testApp {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pages, err := handler.NewPages(logger)
	require.NoError(t, err)

	app := &testApp{
		login: &fakeLogin{url: "https://accounts.example.com/o/oauth2/auth?client_id=x"},
		res:   &fakeResolver{},
		gate:  &fakeGate{status: &model.ProfileStatus{IsNewUser: true}},
		store: session.NewStore(logger),
	}
	callbacks := service.NewCallbackService(app.res, app.store, app.gate, nil, logger)
	boot := service.NewBootstrapService(app.store, app.gate, nil, testLogin, logger)

	app.auth = handler.NewAuthHandler(app.login, callbacks, boot, app.store, pages, false, logger)
	app.api = handler.NewAPIHandler(app.store, logger)
	return app
}

// authCookie returns a valid auth cookie for rec.
func (a *testApp) authCookie(t *testing.T, rec model.AuthRecord) *http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	_, err := a.store.Set(a.store.Port(w, httptest.NewRequest(http.MethodGet, "/", nil)), rec)
	require.NoError(t, err)
	return findCookie(t, w, session.CookieName)
}

func findCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func postForm(target string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

var grace = &model.Identity{ID: "g-1", Email: "grace@example.com", FullName: "Grace Hopper", Provider: model.ProviderGoogle}

// =========================================================================
// HOME
// =========================================================================

func TestHome_Anonymous(t *testing.T) {
	app := newTestApp(t, false)

	w := httptest.NewRecorder()
	app.auth.HandleHome(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `href="/auth/google/login"`)
	assert.Contains(t, w.Body.String(), `href="/simple-auth"`)
	assert.NotContains(t, w.Body.String(), `/auth/test`)
}

func TestHome_ShowsTestLoginWhenEnabled(t *testing.T) {
	app := newTestApp(t, true)

	w := httptest.NewRecorder()
	app.auth.HandleHome(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Contains(t, w.Body.String(), `action="/auth/test"`)
}

func TestHome_ForwardsProviderRedirect(t *testing.T) {
	app := newTestApp(t, false)

	w := httptest.NewRecorder()
	app.auth.HandleHome(w, httptest.NewRequest(http.MethodGet, "/?code=abc&state=xyz", nil))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/auth/callback?code=abc&state=xyz", w.Header().Get("Location"))
}

func TestHome_SignedInGoesToDestination(t *testing.T) {
	app := newTestApp(t, false)
	app.gate.status = &model.ProfileStatus{ProfileComplete: true}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(app.authCookie(t, grace.Record()))
	w := httptest.NewRecorder()
	app.auth.HandleHome(w, r)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))
}

func TestHome_GateDownShowsRetry(t *testing.T) {
	app := newTestApp(t, false)
	app.gate.err = apperror.BackendUnavailable(errors.New("refused"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(app.authCookie(t, grace.Record()))
	w := httptest.NewRecorder()
	app.auth.HandleHome(w, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "Cannot connect to server")
	assert.Contains(t, w.Body.String(), ">Retry</a>")
}

// =========================================================================
// GOOGLE LOGIN
// =========================================================================

func TestGoogleLogin_SetsNonceAndRedirects(t *testing.T) {
	app := newTestApp(t, false)

	w := httptest.NewRecorder()
	app.auth.HandleGoogleLogin(w, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))

	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, app.login.url, w.Header().Get("Location"))

	nonce := findCookie(t, w, handler.NonceCookie)
	require.NotNil(t, nonce)
	assert.Equal(t, app.login.gotNonce, nonce.Value)
	assert.True(t, nonce.HttpOnly)
	assert.Equal(t, int(auth.StateTTL.Seconds()), nonce.MaxAge)

	assert.NotNil(t, findCookie(t, w, handler.DeviceCookie))
}

func TestGoogleLogin_KeepsExistingDevice(t *testing.T) {
	app := newTestApp(t, false)

	r := httptest.NewRequest(http.MethodGet, "/auth/google/login", nil)
	r.AddCookie(&http.Cookie{Name: handler.DeviceCookie, Value: "dev-7"})
	w := httptest.NewRecorder()
	app.auth.HandleGoogleLogin(w, r)

	assert.Nil(t, findCookie(t, w, handler.DeviceCookie))
}

func TestGoogleLogin_ProviderMisconfigured(t *testing.T) {
	app := newTestApp(t, false)
	app.login.err = errors.New("empty nonce")

	w := httptest.NewRecorder()
	app.auth.HandleGoogleLogin(w, httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Failed to start authentication")
	assert.Nil(t, findCookie(t, w, handler.NonceCookie))
}

// =========================================================================
// CALLBACK
// =========================================================================

func TestCallbackPage_PostsLocationBack(t *testing.T) {
	app := newTestApp(t, false)

	w := httptest.NewRecorder()
	app.auth.HandleCallbackPage(w, httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc", nil))

	body := w.Body.String()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, body, `action="/auth/callback"`)
	assert.Contains(t, body, `value="/auth/callback?code=abc"`)
	assert.Contains(t, body, "window.location.href")
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestCallback_Success(t *testing.T) {
	app := newTestApp(t, false)
	app.res.result = resolver.Result{Outcome: resolver.Resolved, Source: resolver.SourceLiveSession, Identity: grace}

	r := postForm("/auth/callback", url.Values{"url": {"http://localhost:3000/auth/callback?code=c&state=s#token_type=Bearer"}})
	r.AddCookie(&http.Cookie{Name: handler.NonceCookie, Value: "nonce-1"})
	r.AddCookie(&http.Cookie{Name: handler.DeviceCookie, Value: "dev-1"})
	w := httptest.NewRecorder()
	app.auth.HandleCallback(w, r)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/complete-profile", w.Header().Get("Location"))

	assert.Equal(t, "nonce-1", app.res.got.Nonce)
	assert.Equal(t, "dev-1", app.res.got.DeviceID)
	assert.Equal(t, "Bearer", app.res.got.Params.Hash.Get("token_type"))

	authC := findCookie(t, w, session.CookieName)
	require.NotNil(t, authC)
	assert.NotEmpty(t, authC.Value)

	nonce := findCookie(t, w, handler.NonceCookie)
	require.NotNil(t, nonce)
	assert.Equal(t, -1, nonce.MaxAge)
}

func TestCallback_NoSessionOffersRecovery(t *testing.T) {
	app := newTestApp(t, false)
	app.res.result = resolver.Result{Outcome: resolver.Failed, Source: resolver.SourceExhausted, Err: apperror.NoSession()}

	w := httptest.NewRecorder()
	app.auth.HandleCallback(w, postForm("/auth/callback", url.Values{"url": {"http://localhost:3000/auth/callback"}}))

	body := w.Body.String()
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, body, "No session created. Please try again.")
	assert.Contains(t, body, `<a href="/">Try Again</a>`)
	assert.Contains(t, body, `<a href="/simple-auth">Use Simple Login</a>`)
	assert.Nil(t, findCookie(t, w, session.CookieName))
	assert.Zero(t, app.gate.calls)
}

func TestCallback_BackendDownRetriesSameURL(t *testing.T) {
	app := newTestApp(t, false)
	app.res.result = resolver.Result{Outcome: resolver.Resolved, Source: resolver.SourceLiveSession, Identity: grace}
	app.gate.err = apperror.BackendUnavailable(errors.New("dial tcp: refused"))

	w := httptest.NewRecorder()
	app.auth.HandleCallback(w, postForm("/auth/callback", url.Values{"url": {"https://evil.example//auth/callback?code=c"}}))

	body := w.Body.String()
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, body, `<a href="/auth/callback?code=c">Retry</a>`)
	assert.NotContains(t, body, "evil.example")
	assert.NotContains(t, body, "dial tcp")
	assert.Empty(t, w.Header().Get("Location"))
}

func TestCallback_ClientGoneWritesNothing(t *testing.T) {
	app := newTestApp(t, false)
	app.res.result = resolver.Result{Outcome: resolver.Resolved, Source: resolver.SourceLiveSession, Identity: grace}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := postForm("/auth/callback", url.Values{"url": {"http://localhost:3000/auth/callback?code=c"}}).WithContext(ctx)
	w := httptest.NewRecorder()
	app.auth.HandleCallback(w, r)

	assert.Empty(t, w.Body.String())
	assert.Nil(t, findCookie(t, w, session.CookieName))
	assert.Zero(t, app.gate.calls)
}

// =========================================================================
// SIMPLE / TEST LOGIN, LOGOUT
// =========================================================================

func TestSimpleAuthPage(t *testing.T) {
	app := newTestApp(t, false)

	w := httptest.NewRecorder()
	app.auth.HandleSimpleAuthPage(w, httptest.NewRequest(http.MethodGet, "/simple-auth", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `action="/auth/simple"`)

	r := httptest.NewRequest(http.MethodGet, "/simple-auth", nil)
	r.AddCookie(app.authCookie(t, grace.Record()))
	w = httptest.NewRecorder()
	app.auth.HandleSimpleAuthPage(w, r)
	assert.Equal(t, http.StatusSeeOther, w.Code)
}

func TestSimpleLogin_Success(t *testing.T) {
	app := newTestApp(t, false)

	w := httptest.NewRecorder()
	app.auth.HandleSimpleLogin(w, postForm("/auth/simple", url.Values{
		"email":     {"grace@example.com"},
		"full_name": {"Grace Hopper"},
	}))

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	assert.NotNil(t, findCookie(t, w, session.CookieName))
}

func TestSimpleLogin_MissingFields(t *testing.T) {
	app := newTestApp(t, false)

	w := httptest.NewRecorder()
	app.auth.HandleSimpleLogin(w, postForm("/auth/simple", url.Values{"email": {"grace@example.com"}}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Please fill in all fields")
	assert.Contains(t, w.Body.String(), `value="grace@example.com"`)
	assert.Nil(t, findCookie(t, w, session.CookieName))
}

func TestTestLogin(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		app := newTestApp(t, false)
		w := httptest.NewRecorder()
		app.auth.HandleTestLogin(w, httptest.NewRequest(http.MethodPost, "/auth/test", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		app := newTestApp(t, true)
		w := httptest.NewRecorder()
		app.auth.HandleTestLogin(w, httptest.NewRequest(http.MethodPost, "/auth/test", nil))
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/complete-profile", w.Header().Get("Location"))
		assert.NotNil(t, findCookie(t, w, session.CookieName))
	})

	t.Run("backend error", func(t *testing.T) {
		app := newTestApp(t, true)
		app.gate.err = apperror.Backend(errors.New("500"))
		w := httptest.NewRecorder()
		app.auth.HandleTestLogin(w, httptest.NewRequest(http.MethodPost, "/auth/test", nil))
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Contains(t, w.Body.String(), "An error occurred while checking your profile")
	})
}

func TestLogout(t *testing.T) {
	app := newTestApp(t, false)

	r := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	r.AddCookie(app.authCookie(t, grace.Record()))
	w := httptest.NewRecorder()
	app.auth.HandleLogout(w, r)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	c := findCookie(t, w, session.CookieName)
	require.NotNil(t, c)
	assert.Equal(t, -1, c.MaxAge)
}

func TestAccountPage(t *testing.T) {
	app := newTestApp(t, false)
	h := auth.RequireSessionPage(app.store)(app.auth.HandleAccount("Dashboard"))

	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	r.AddCookie(app.authCookie(t, grace.Record()))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Grace Hopper")
	assert.Contains(t, w.Body.String(), `action="/auth/logout"`)
}
