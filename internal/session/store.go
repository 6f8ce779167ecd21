// Package session persists the one authentication record a browser holds.
//
// The record lives in a single cookie whose value is URL-encoded JSON. Expiry
// is enforced lazily: Get checks the record's own expires field and clears
// the cookie when it has passed. Nothing runs in the background.
//
// The store never touches http types directly. It talks to a Port, so the
// same logic runs against a real request/response pair or an in-memory fake.
package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/job-tracker-web/internal/apperror"
	"github.com/sakif/job-tracker-web/internal/model"
)

const (
	// CookieName is the fixed key the auth record is stored under.
	CookieName = "job_tracker_auth"

	// DefaultTTL is how long a record stays valid after it is written.
	DefaultTTL = 30 * 24 * time.Hour
)

// Port is the storage a Store reads and writes. Implementations hold at most
// one value; Write replaces it.
type Port interface {
	Read() (string, bool)
	Write(value string, expires time.Time) error
	Clear() error
}

var errBadSignature = errors.New("session: signature mismatch")

// Store reads and writes AuthRecords through a Port.
type Store struct {
	name   string
	ttl    time.Duration
	key    []byte
	secure bool
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithSigningKey makes the store sign every record it writes and reject
// records whose signature does not verify.
func WithSigningKey(key []byte) Option {
	return func(s *Store) { s.key = key }
}

// WithSecure marks cookies written through HTTP ports as Secure.
func WithSecure(secure bool) Option {
	return func(s *Store) { s.secure = secure }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock overrides time.Now. Tests use it to move past expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		name:   CookieName,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// wireRecord is the JSON written to the cookie. Sig is empty when the store
// has no signing key.
type wireRecord struct {
	model.AuthRecord
	Sig string `json:"sig,omitempty"`
}

// Set stamps rec with a fresh expiry, writes it, and returns what was
// written. Any failure, including a panic inside the port, comes back as an
// apperror.ErrPersistence.
func (s *Store) Set(p Port, rec model.AuthRecord) (saved model.AuthRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperror.Persistence("Failed to save authentication data",
				fmt.Errorf("session: panic writing cookie: %v", r))
		}
	}()

	rec.Expires = s.now().UTC().Add(s.ttl).Truncate(time.Millisecond)

	value, err := s.encode(rec)
	if err != nil {
		return model.AuthRecord{}, apperror.Persistence("Failed to save authentication data", err)
	}

	if err := p.Write(value, rec.Expires); err != nil {
		return model.AuthRecord{}, apperror.Persistence("Failed to save authentication data",
			fmt.Errorf("session: writing cookie: %w", err))
	}

	s.logger.Debug("auth cookie set",
		slog.String("userID", rec.UserID),
		slog.String("provider", string(rec.Provider)),
		slog.Time("expires", rec.Expires),
	)
	return rec, nil
}

// Get returns the stored record, or nil if there is none, it cannot be
// decoded, or it has expired. The last two also clear the cookie.
func (s *Store) Get(p Port) *model.AuthRecord {
	raw, ok := p.Read()
	if !ok || raw == "" {
		return nil
	}

	rec, err := s.decode(raw)
	if err != nil {
		s.logger.Warn("discarding unreadable auth cookie", slog.String("error", err.Error()))
		s.Clear(p)
		return nil
	}

	if !rec.Expires.After(s.now()) {
		s.logger.Info("auth cookie expired",
			slog.String("userID", rec.UserID),
			slog.Time("expires", rec.Expires),
		)
		s.Clear(p)
		return nil
	}

	return rec
}

// Clear removes the cookie. Failures are logged, not returned: a cookie we
// cannot clear is still one Get will refuse.
func (s *Store) Clear(p Port) {
	if err := p.Clear(); err != nil {
		s.logger.Error("clearing auth cookie", slog.String("error", err.Error()))
	}
}

// IsAuthenticated reports whether a valid record with a user id and email
// is present.
func (s *Store) IsAuthenticated(p Port) bool {
	rec := s.Get(p)
	return rec != nil && rec.UserID != "" && rec.Email != ""
}

// User returns the display projection of the stored record, or nil.
func (s *Store) User(p Port) *model.CookieUser {
	rec := s.Get(p)
	if rec == nil {
		return nil
	}
	return &model.CookieUser{
		ID:         rec.UserID,
		Email:      rec.Email,
		FullName:   rec.FullName,
		AuthUserID: rec.AuthUserID,
	}
}

func (s *Store) encode(rec model.AuthRecord) (string, error) {
	w := wireRecord{AuthRecord: rec}
	if s.key != nil {
		sig, err := s.sign(rec)
		if err != nil {
			return "", err
		}
		w.Sig = sig
	}

	b, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("session: encoding record: %w", err)
	}
	return url.QueryEscape(string(b)), nil
}

func (s *Store) decode(raw string) (*model.AuthRecord, error) {
	unescaped, err := url.QueryUnescape(raw)
	if err != nil {
		return nil, fmt.Errorf("session: unescaping cookie: %w", err)
	}

	var w wireRecord
	if err := json.Unmarshal([]byte(unescaped), &w); err != nil {
		return nil, fmt.Errorf("session: decoding record: %w", err)
	}

	if s.key != nil {
		if err := s.verify(w.AuthRecord, w.Sig); err != nil {
			return nil, err
		}
	}

	rec := w.AuthRecord
	return &rec, nil
}

// sign computes an HS256 signature over the record's JSON.
func (s *Store) sign(rec model.AuthRecord) (string, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("session: encoding record for signature: %w", err)
	}
	sig, err := jwt.SigningMethodHS256.Sign(string(payload), s.key)
	if err != nil {
		return "", fmt.Errorf("session: signing record: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

func (s *Store) verify(rec model.AuthRecord, sig string) error {
	if sig == "" {
		return errBadSignature
	}
	decoded, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return errBadSignature
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encoding record for signature: %w", err)
	}
	if err := jwt.SigningMethodHS256.Verify(string(payload), decoded, s.key); err != nil {
		return errBadSignature
	}
	return nil
}
