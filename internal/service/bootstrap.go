package service

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/job-tracker-web/internal/apperror"
	"github.com/sakif/job-tracker-web/internal/model"
	"github.com/sakif/job-tracker-web/internal/params"
	"github.com/sakif/job-tracker-web/internal/profile"
	"github.com/sakif/job-tracker-web/internal/session"
)

// CallbackPath is where provider redirects are reconciled.
const CallbackPath = "/auth/callback"

// BootstrapState is what the app shell should do for a visit.
type BootstrapState int

const (
	// Anonymous: show the login page.
	Anonymous BootstrapState = iota
	// RedirectCallback: the provider landed on the wrong page; forward the
	// parameters to the callback.
	RedirectCallback
	// SignedIn: Destination says where the user belongs.
	SignedIn
	// BootstrapFailed: Failure says why.
	BootstrapFailed
)

// BootstrapResult is the app shell's decision for one visit.
type BootstrapResult struct {
	State       BootstrapState
	Redirect    string
	Record      *model.AuthRecord
	Status      *model.ProfileStatus
	Destination profile.Destination
	Failure     *Failure
}

// BootstrapService runs the app-shell check and the non-OAuth logins.
type BootstrapService struct {
	store     *session.Store
	gate      ProfileGate
	tokens    TokenStore
	testLogin bool
	logger    *slog.Logger
}

// NewBootstrapService wires a BootstrapService. testLogin enables TestLogin.
func NewBootstrapService(store *session.Store, gate ProfileGate, tokens TokenStore, testLogin bool, logger *slog.Logger) *BootstrapService {
	return &BootstrapService{
		store:     store,
		gate:      gate,
		tokens:    tokens,
		testLogin: testLogin,
		logger:    logger,
	}
}

// Bootstrap decides what a visit to the app shell at rawURL should show.
//
// Providers sometimes redirect to the site root instead of the callback. If
// rawURL carries OAuth parameters and is not the callback, the visitor is
// forwarded there with the query intact.
func (s *BootstrapService) Bootstrap(ctx context.Context, rawURL string, port session.Port) BootstrapResult {
	if target, ok := callbackRedirect(rawURL); ok {
		s.logger.Info("OAuth parameters outside callback; forwarding", slog.String("to", target))
		return BootstrapResult{State: RedirectCallback, Redirect: target}
	}

	rec := s.store.Get(port)
	if rec == nil {
		return BootstrapResult{State: Anonymous}
	}

	if rec.Email == "" {
		s.logger.Warn("auth cookie has no email", slog.String("userID", rec.UserID))
		return BootstrapResult{
			State:   BootstrapFailed,
			Record:  rec,
			Failure: FailureFor(apperror.Unauthorized("No user email found. Please log in again.")),
		}
	}

	authUserID := rec.AuthUserID
	if authUserID == "" {
		authUserID = rec.UserID
	}

	status, err := s.gate.CheckProfile(ctx, authUserID, rec.Email)
	if err != nil {
		return BootstrapResult{State: BootstrapFailed, Record: rec, Failure: FailureFor(err)}
	}

	return BootstrapResult{
		State:       SignedIn,
		Record:      rec,
		Status:      status,
		Destination: profile.Route(status),
	}
}

func callbackRedirect(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == CallbackPath {
		return "", false
	}
	extracted, err := params.Extract(rawURL)
	if err != nil || !extracted.HasOAuthParams() {
		return "", false
	}
	if u.RawQuery == "" {
		return CallbackPath, true
	}
	return CallbackPath + "?" + u.RawQuery, true
}

// SimpleLogin signs in with a name and email only, no provider involved.
func (s *BootstrapService) SimpleLogin(port session.Port, email, fullName string) (*model.AuthRecord, error) {
	email = strings.TrimSpace(email)
	fullName = strings.TrimSpace(fullName)

	if email == "" || fullName == "" {
		return nil, apperror.ValidationFailed("email", "Please fill in all fields")
	}
	if !strings.Contains(email, "@") {
		return nil, apperror.ValidationFailed("email", "Please enter a valid email address")
	}

	id := "simple_" + xid.New().String()
	rec, err := s.store.Set(port, model.AuthRecord{
		UserID:     id,
		Email:      email,
		FullName:   fullName,
		AuthUserID: id,
		Provider:   model.ProviderSimple,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("simple login", slog.String("userID", rec.UserID))
	return &rec, nil
}

// TestLogin signs in a throwaway user and asks the Profile Gate where it
// belongs. The gate is queried by id only.
func (s *BootstrapService) TestLogin(ctx context.Context, port session.Port) (*model.AuthRecord, profile.Destination, error) {
	if !s.testLogin {
		return nil, "", apperror.NotFound("login method", "test")
	}

	id := "test-user-" + xid.New().String()
	status, err := s.gate.CheckProfile(ctx, id, "")
	if err != nil {
		return nil, "", err
	}

	rec, err := s.store.Set(port, model.AuthRecord{
		UserID:     id,
		Email:      id + "@test.invalid",
		FullName:   "Test User",
		AuthUserID: id,
		Provider:   model.ProviderTest,
	})
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("test login", slog.String("userID", rec.UserID))
	return &rec, profile.Route(status), nil
}

// TestLoginEnabled reports whether TestLogin is available.
func (s *BootstrapService) TestLoginEnabled() bool {
	return s.testLogin
}

// Logout clears the auth cookie and forgets every cached provider user for
// this device, so the fallback path cannot sign the user straight back in.
// The cookie's provider does not matter: a simple login may sit on top of an
// earlier Google sign-in on the same device.
func (s *BootstrapService) Logout(ctx context.Context, port session.Port, deviceID string) {
	rec := s.store.Get(port)
	s.store.Clear(port)

	if s.tokens != nil && deviceID != "" {
		if err := s.tokens.DeleteDevice(ctx, deviceID); err != nil {
			s.logger.Warn("forgetting cached token",
				slog.String("deviceID", deviceID),
				slog.String("error", err.Error()),
			)
		}
	}

	attrs := []any{}
	if rec != nil {
		attrs = append(attrs, slog.String("userID", rec.UserID))
	}
	s.logger.Info("logout", attrs...)
}
