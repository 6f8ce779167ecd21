package session

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/job-tracker-web/internal/apperror"
	"github.com/sakif/job-tracker-web/internal/model"
)

// clock is a settable time source for expiry tests.
type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestStore(t *testing.T, opts ...Option) (*Store, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(logger, append([]Option{WithClock(c.now)}, opts...)...), c
}

func testRecord() model.AuthRecord {
	return model.AuthRecord{
		UserID:     "108234",
		Email:      "ada@example.com",
		FullName:   "Ada Lovelace",
		AuthUserID: "108234",
		Provider:   model.ProviderGoogle,
	}
}

// =========================================================================
// SET / GET
// =========================================================================

func TestSetThenGet(t *testing.T) {
	store, c := newTestStore(t)
	port := &MemoryPort{}

	saved, err := store.Set(port, testRecord())
	require.NoError(t, err)
	assert.True(t, saved.Expires.Equal(c.t.Add(DefaultTTL)), "expires = %v", saved.Expires)
	assert.Equal(t, 1, port.Writes)
	assert.True(t, port.Expires.Equal(saved.Expires))

	got := store.Get(port)
	require.NotNil(t, got)

	want := testRecord()
	want.Expires = saved.Expires
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, want.Email, got.Email)
	assert.Equal(t, want.FullName, got.FullName)
	assert.Equal(t, want.AuthUserID, got.AuthUserID)
	assert.Equal(t, want.Provider, got.Provider)
	assert.True(t, want.Expires.Equal(got.Expires))
}

func TestSetOverwritesPreviousRecord(t *testing.T) {
	store, _ := newTestStore(t)
	port := &MemoryPort{}

	_, err := store.Set(port, testRecord())
	require.NoError(t, err)

	second := testRecord()
	second.UserID = "simple_abc"
	second.Provider = model.ProviderSimple
	_, err = store.Set(port, second)
	require.NoError(t, err)

	got := store.Get(port)
	require.NotNil(t, got)
	assert.Equal(t, "simple_abc", got.UserID)
	assert.Equal(t, model.ProviderSimple, got.Provider)
}

func TestWireFormatIsURLEncodedJSON(t *testing.T) {
	store, _ := newTestStore(t)
	port := &MemoryPort{}

	_, err := store.Set(port, testRecord())
	require.NoError(t, err)

	decoded, err := url.QueryUnescape(port.Value)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(decoded, "{"))
	assert.Contains(t, decoded, `"user_id":"108234"`)
	assert.Contains(t, decoded, `"auth_user_id":"108234"`)
	assert.Contains(t, decoded, `"provider":"google"`)
	assert.Contains(t, decoded, `"expires":"2026-03-31T12:00:00Z"`)
	assert.NotContains(t, decoded, `"sig"`)
}

func TestGet_Absent(t *testing.T) {
	store, _ := newTestStore(t)
	port := &MemoryPort{}

	assert.Nil(t, store.Get(port))
	assert.Equal(t, 0, port.Clears, "absent cookie needs no clearing")
}

// =========================================================================
// EXPIRY
// =========================================================================

func TestGet_ExpiredIsClearedAndStaysGone(t *testing.T) {
	store, c := newTestStore(t)
	port := &MemoryPort{}

	_, err := store.Set(port, testRecord())
	require.NoError(t, err)

	c.t = c.t.Add(DefaultTTL + time.Second)

	assert.Nil(t, store.Get(port))
	assert.Equal(t, 1, port.Clears)

	assert.Nil(t, store.Get(port), "second read after clear-on-read")
}

func TestGet_ExactlyAtExpiryIsExpired(t *testing.T) {
	store, c := newTestStore(t)
	port := &MemoryPort{}

	saved, err := store.Set(port, testRecord())
	require.NoError(t, err)

	c.t = saved.Expires
	assert.Nil(t, store.Get(port))
}

func TestGet_MissingExpiresIsRejected(t *testing.T) {
	store, _ := newTestStore(t)
	port := &MemoryPort{
		Present: true,
		Value:   url.QueryEscape(`{"user_id":"1","email":"a@b.com","auth_user_id":"1","provider":"google"}`),
	}

	assert.Nil(t, store.Get(port))
	assert.Equal(t, 1, port.Clears)
}

// =========================================================================
// MALFORMED / TAMPERED
// =========================================================================

func TestGet_MalformedIsCleared(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not json", url.QueryEscape("hello")},
		{"bad escape", "%zz"},
		{"truncated json", url.QueryEscape(`{"user_id":"1"`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newTestStore(t)
			port := &MemoryPort{Present: true, Value: tt.value}

			assert.Nil(t, store.Get(port))
			assert.Equal(t, 1, port.Clears)
			assert.False(t, port.Present)
		})
	}
}

func TestSignedRecordRoundTrip(t *testing.T) {
	store, _ := newTestStore(t, WithSigningKey([]byte("0123456789abcdef0123456789abcdef")))
	port := &MemoryPort{}

	_, err := store.Set(port, testRecord())
	require.NoError(t, err)

	decoded, _ := url.QueryUnescape(port.Value)
	assert.Contains(t, decoded, `"sig":"`)

	got := store.Get(port)
	require.NotNil(t, got)
	assert.Equal(t, "108234", got.UserID)
}

func TestSignedRecordTamperingIsRejected(t *testing.T) {
	store, _ := newTestStore(t, WithSigningKey([]byte("0123456789abcdef0123456789abcdef")))
	port := &MemoryPort{}

	_, err := store.Set(port, testRecord())
	require.NoError(t, err)

	decoded, _ := url.QueryUnescape(port.Value)
	port.Value = url.QueryEscape(strings.Replace(decoded, "ada@example.com", "eve@example.com", 1))

	assert.Nil(t, store.Get(port))
	assert.Equal(t, 1, port.Clears)
}

func TestSignedStoreRejectsUnsignedRecord(t *testing.T) {
	unsigned, _ := newTestStore(t)
	signed, _ := newTestStore(t, WithSigningKey([]byte("0123456789abcdef0123456789abcdef")))
	port := &MemoryPort{}

	_, err := unsigned.Set(port, testRecord())
	require.NoError(t, err)

	assert.Nil(t, signed.Get(port))
}

// =========================================================================
// PERSISTENCE FAILURES
// =========================================================================

func TestSet_PortErrorIsPersistenceError(t *testing.T) {
	store, _ := newTestStore(t)
	port := &MemoryPort{WriteErr: errors.New("quota exceeded")}

	_, err := store.Set(port, testRecord())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrPersistence)
	assert.Equal(t, "Failed to save authentication data", err.Error())
}

type panickyPort struct{ MemoryPort }

func (p *panickyPort) Write(string, time.Time) error { panic("storage exploded") }

func TestSet_PanicIsRecovered(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Set(&panickyPort{}, testRecord())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrPersistence)
}

// =========================================================================
// IsAuthenticated / User
// =========================================================================

func TestIsAuthenticated(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.AuthRecord)
		want   bool
	}{
		{"complete record", func(*model.AuthRecord) {}, true},
		{"missing user id", func(r *model.AuthRecord) { r.UserID = "" }, false},
		{"missing email", func(r *model.AuthRecord) { r.Email = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newTestStore(t)
			port := &MemoryPort{}
			rec := testRecord()
			tt.mutate(&rec)
			_, err := store.Set(port, rec)
			require.NoError(t, err)

			assert.Equal(t, tt.want, store.IsAuthenticated(port))
		})
	}

	t.Run("no cookie", func(t *testing.T) {
		store, _ := newTestStore(t)
		assert.False(t, store.IsAuthenticated(&MemoryPort{}))
	})
}

func TestUser(t *testing.T) {
	store, _ := newTestStore(t)
	port := &MemoryPort{}

	assert.Nil(t, store.User(port))

	_, err := store.Set(port, testRecord())
	require.NoError(t, err)

	assert.Equal(t, &model.CookieUser{
		ID:         "108234",
		Email:      "ada@example.com",
		FullName:   "Ada Lovelace",
		AuthUserID: "108234",
	}, store.User(port))
}

// =========================================================================
// HTTP PORT
// =========================================================================

func TestHTTPPort_SetWritesCookieAttributes(t *testing.T) {
	store, _ := newTestStore(t, WithSecure(true))
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	saved, err := store.Set(store.Port(rr, req), testRecord())
	require.NoError(t, err)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, CookieName, c.Name)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, saved.Expires.Unix(), c.Expires.Unix())
}

func TestHTTPPort_RoundTripThroughBrowser(t *testing.T) {
	store, _ := newTestStore(t)

	rr := httptest.NewRecorder()
	_, err := store.Set(store.Port(rr, httptest.NewRequest(http.MethodGet, "/", nil)), testRecord())
	require.NoError(t, err)

	// Next request carries the cookie back.
	next := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	for _, c := range rr.Result().Cookies() {
		next.AddCookie(c)
	}

	got := store.Get(store.Port(httptest.NewRecorder(), next))
	require.NotNil(t, got)
	assert.Equal(t, "ada@example.com", got.Email)
}

func TestHTTPPort_ReadSeesWriteInSameRequest(t *testing.T) {
	store, _ := newTestStore(t)
	rr := httptest.NewRecorder()
	port := store.Port(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	_, err := store.Set(port, testRecord())
	require.NoError(t, err)
	assert.True(t, store.IsAuthenticated(port))

	store.Clear(port)
	assert.False(t, store.IsAuthenticated(port))
}

func TestHTTPPort_ClearExpiresCookie(t *testing.T) {
	store, _ := newTestStore(t)
	rr := httptest.NewRecorder()

	store.Clear(store.Port(rr, httptest.NewRequest(http.MethodGet, "/", nil)))

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, "", cookies[0].Value)
	assert.Equal(t, -1, cookies[0].MaxAge)
}
