package session

import (
	"net/http"
	"time"
)

// HTTPPort adapts a request/response pair to a Port.
//
// A value written during the request is remembered, so a Read later in the
// same request sees it rather than the stale request cookie.
type HTTPPort struct {
	w      http.ResponseWriter
	r      *http.Request
	name   string
	secure bool

	pending *string
}

// Port returns an HTTPPort for the store's cookie.
func (s *Store) Port(w http.ResponseWriter, r *http.Request) *HTTPPort {
	return &HTTPPort{w: w, r: r, name: s.name, secure: s.secure}
}

func (p *HTTPPort) Read() (string, bool) {
	if p.pending != nil {
		return *p.pending, *p.pending != ""
	}
	c, err := p.r.Cookie(p.name)
	if err != nil {
		return "", false
	}
	return c.Value, true
}

func (p *HTTPPort) Write(value string, expires time.Time) error {
	http.SetCookie(p.w, &http.Cookie{
		Name:     p.name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   p.secure,
		SameSite: http.SameSiteLaxMode,
	})
	p.pending = &value
	return nil
}

func (p *HTTPPort) Clear() error {
	http.SetCookie(p.w, &http.Cookie{
		Name:     p.name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   p.secure,
		SameSite: http.SameSiteLaxMode,
	})
	empty := ""
	p.pending = &empty
	return nil
}

// MemoryPort is an in-memory Port. It counts writes and clears so tests can
// assert on how the store was used.
type MemoryPort struct {
	Value   string
	Expires time.Time
	Present bool

	Writes int
	Clears int

	// WriteErr, when set, is returned by Write.
	WriteErr error
}

func (m *MemoryPort) Read() (string, bool) {
	return m.Value, m.Present
}

func (m *MemoryPort) Write(value string, expires time.Time) error {
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Writes++
	m.Value = value
	m.Expires = expires
	m.Present = true
	return nil
}

func (m *MemoryPort) Clear() error {
	m.Clears++
	m.Value = ""
	m.Expires = time.Time{}
	m.Present = false
	return nil
}
