// Package service orchestrates sign-in: callback reconciliation, the app
// shell's bootstrap check, and the non-OAuth login paths.
//
//	Handler (HTTP) → CallbackService → Resolver → Provider / TokenCache
//	                                 ↘ session.Store (cookie)
//	                                 ↘ ProfileGate (backend)
//
// Services never return raw errors to handlers for the callback flow. Every
// failure is turned into a Failure carrying the message to show and the
// recovery actions to offer, so the page always has something to render.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/sakif/job-tracker-web/internal/model"
	"github.com/sakif/job-tracker-web/internal/params"
	"github.com/sakif/job-tracker-web/internal/profile"
	"github.com/sakif/job-tracker-web/internal/resolver"
	"github.com/sakif/job-tracker-web/internal/session"
)

// IdentityResolver turns a callback request into one identity or one failure.
type IdentityResolver interface {
	Resolve(ctx context.Context, req resolver.Request) resolver.Result
}

// ProfileGate is the backend's profile check.
type ProfileGate interface {
	CheckProfile(ctx context.Context, authUserID, email string) (*model.ProfileStatus, error)
}

// TokenStore is write access to the per-device provider token cache.
type TokenStore interface {
	Save(ctx context.Context, deviceID string, provider model.Provider, blob []byte, ttl time.Duration) error
	DeleteDevice(ctx context.Context, deviceID string) error
}

// CallbackInput is one landing on the OAuth callback.
type CallbackInput struct {
	// URL is the full callback URL as the browser saw it, fragment included.
	URL string
	// Nonce is the login-state cookie set when the flow began.
	Nonce string
	// DeviceID is the long-lived device cookie.
	DeviceID string
}

// Outcome is the result of reconciling one callback.
//
// Exactly one of these holds:
//   - Discarded: the request went away; nothing was written, nothing to render.
//   - Failure != nil: show the message and actions. Destination is empty.
//   - Destination != "": navigate there.
type Outcome struct {
	Destination profile.Destination
	Identity    *model.Identity
	Record      *model.AuthRecord
	Status      *model.ProfileStatus
	Source      resolver.Source
	Failure     *Failure
	Discarded   bool
}

// CallbackService reconciles OAuth callbacks.
type CallbackService struct {
	resolver IdentityResolver
	store    *session.Store
	gate     ProfileGate
	tokens   TokenStore
	tokenTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewCallbackService wires a CallbackService. tokens may be nil, which
// disables caching identities for the fallback path.
func NewCallbackService(
	res IdentityResolver,
	store *session.Store,
	gate ProfileGate,
	tokens TokenStore,
	logger *slog.Logger,
) *CallbackService {
	return &CallbackService{
		resolver: res,
		store:    store,
		gate:     gate,
		tokens:   tokens,
		tokenTTL: session.DefaultTTL,
		now:      time.Now,
		logger:   logger,
	}
}

// Reconcile runs the callback sequence:
//
//  1. extract parameters from the URL (query and fragment)
//  2. resolve one identity
//  3. persist it to the auth cookie, once
//  4. cache the provider user for this device (best effort)
//  5. ask the Profile Gate, once
//  6. pick the destination
//
// A canceled ctx at any suspension point discards the whole callback. A
// resolution failure leaves any existing cookie alone.
func (s *CallbackService) Reconcile(ctx context.Context, in CallbackInput, port session.Port) Outcome {
	extracted, err := params.Extract(in.URL)
	if err != nil {
		s.logger.Warn("callback URL could not be parsed; resolving without parameters",
			slog.String("error", err.Error()))
		extracted = params.Empty()
	}

	s.logger.Info("processing OAuth callback",
		slog.Int("query_params", extracted.Query.Len()),
		slog.Int("hash_params", extracted.Hash.Len()),
		slog.Bool("has_oauth_params", extracted.HasOAuthParams()),
	)

	res := s.resolver.Resolve(ctx, resolver.Request{
		Params:   extracted,
		Nonce:    in.Nonce,
		DeviceID: in.DeviceID,
	})
	if discarded(ctx, res.Err) {
		s.logger.Info("callback abandoned during resolution", slog.String("source", string(res.Source)))
		return Outcome{Discarded: true}
	}
	if res.Outcome != resolver.Resolved {
		return Outcome{Source: res.Source, Failure: s.fail(res.Err)}
	}

	rec, err := s.store.Set(port, res.Identity.Record())
	if err != nil {
		return Outcome{Identity: res.Identity, Source: res.Source, Failure: s.fail(err)}
	}

	if res.Source != resolver.SourceCachedToken {
		s.cacheIdentity(ctx, in.DeviceID, *res.Identity)
	}

	status, err := s.gate.CheckProfile(ctx, rec.AuthUserID, rec.Email)
	if discarded(ctx, err) {
		s.logger.Info("callback abandoned during profile check", slog.String("userID", rec.UserID))
		return Outcome{Discarded: true}
	}
	if err != nil {
		return Outcome{Identity: res.Identity, Record: &rec, Source: res.Source, Failure: s.fail(err)}
	}

	dest := profile.Route(status)
	s.logger.Info("callback reconciled",
		slog.String("userID", rec.UserID),
		slog.String("source", string(res.Source)),
		slog.String("destination", string(dest)),
	)
	return Outcome{
		Destination: dest,
		Identity:    res.Identity,
		Record:      &rec,
		Status:      status,
		Source:      res.Source,
	}
}

// cacheIdentity stores the provider user so a later callback on this device
// can recover it when the provider has nothing to offer.
func (s *CallbackService) cacheIdentity(ctx context.Context, deviceID string, id model.Identity) {
	if s.tokens == nil || deviceID == "" {
		return
	}

	blob, err := json.Marshal(resolver.NewTokenBlob(id, s.now()))
	if err != nil {
		s.logger.Warn("encoding token blob", slog.String("error", err.Error()))
		return
	}
	if err := s.tokens.Save(ctx, deviceID, id.Provider, blob, s.tokenTTL); err != nil {
		s.logger.Warn("caching provider token",
			slog.String("deviceID", deviceID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *CallbackService) fail(err error) *Failure {
	f := FailureFor(err)
	attrs := []any{slog.String("kind", string(f.Kind))}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.Warn("callback failed", attrs...)
	return f
}

// discarded reports whether the caller went away. err is checked too,
// because a context error may surface before ctx.Err is observed here.
func discarded(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}
