// Package resolver turns an OAuth callback into exactly one identity or one
// failure.
//
// Resolution is a fixed sequence of attempts. Each attempt returns a Result:
// Resolved stops with an identity, Failed stops with an error, NotFound moves
// on to the next attempt. The order is:
//
//  1. error parameter on the callback (always checked first)
//  2. live provider session
//  3. direct current-user lookup
//  4. cached provider token for this device (best effort)
//
// If all four come back NotFound the result is a NoSession failure.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/sakif/job-tracker-web/internal/apperror"
	"github.com/sakif/job-tracker-web/internal/model"
	"github.com/sakif/job-tracker-web/internal/params"
)

// Outcome is the tag of a Result.
type Outcome int

const (
	NotFound Outcome = iota
	Resolved
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return "not_found"
	}
}

// Source names the attempt that produced a Result.
type Source string

const (
	SourceErrorParam  Source = "error_param"
	SourceLiveSession Source = "live_session"
	SourceDirectUser  Source = "direct_user"
	SourceCachedToken Source = "cached_token"
	SourceExhausted   Source = "exhausted"
)

// Result is what one attempt, and the resolver as a whole, returns.
// Identity is set only when Outcome is Resolved; Err only when Failed.
type Result struct {
	Outcome  Outcome
	Source   Source
	Identity *model.Identity
	Err      error
}

func resolved(src Source, id *model.Identity) Result {
	return Result{Outcome: Resolved, Source: src, Identity: id}
}

func notFound(src Source) Result {
	return Result{Outcome: NotFound, Source: src}
}

func failed(src Source, err error) Result {
	return Result{Outcome: Failed, Source: src, Err: err}
}

// Request is everything an attempt may look at.
type Request struct {
	Params *params.Result

	// Nonce is the value of the login-state cookie, matched against the
	// nonce inside the OAuth state parameter.
	Nonce string

	// DeviceID identifies the browser for the cached-token fallback.
	DeviceID string
}

// Provider is the identity provider as seen by the resolver.
//
// Both lookups return (nil, nil) for "nobody there". An error means the
// provider itself failed and resolution stops.
type Provider interface {
	Name() model.Provider
	Session(ctx context.Context, req Request) (*model.Identity, error)
	CurrentUser(ctx context.Context, req Request) (*model.Identity, error)
}

// TokenCache is read access to provider token blobs persisted per device.
type TokenCache interface {
	Load(ctx context.Context, deviceID string, provider model.Provider) ([]byte, error)
}

// Resolver runs the attempts in order.
type Resolver struct {
	provider Provider
	cache    TokenCache
	settle   time.Duration
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSettleDelay sets how long to wait before asking the provider for its
// session a second time. Some providers populate their session shortly
// after the redirect lands; a first "no session" is not trusted until this
// grace period has passed. Zero disables the second ask.
func WithSettleDelay(d time.Duration) Option {
	return func(r *Resolver) { r.settle = d }
}

// WithTokenCache enables the cached-token fallback.
func WithTokenCache(c TokenCache) Option {
	return func(r *Resolver) { r.cache = c }
}

func New(provider Provider, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		provider: provider,
		settle:   time.Second,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type attempt struct {
	source Source
	run    func(context.Context, Request) Result
}

// Resolve runs the attempts and returns the first Resolved or Failed result.
func (r *Resolver) Resolve(ctx context.Context, req Request) Result {
	attempts := []attempt{
		{SourceErrorParam, r.errorParam},
		{SourceLiveSession, r.liveSession},
		{SourceDirectUser, r.directUser},
		{SourceCachedToken, r.cachedToken},
	}

	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return failed(a.source, err)
		}

		res := a.run(ctx, req)
		if res.Outcome == NotFound {
			r.logger.Debug("resolver: nothing found", slog.String("source", string(a.source)))
			continue
		}

		attrs := []any{
			slog.String("source", string(res.Source)),
			slog.String("outcome", res.Outcome.String()),
		}
		if res.Err != nil {
			attrs = append(attrs, slog.String("error", errorDetail(res.Err)))
		}
		r.logger.Info("resolver: finished", attrs...)
		return res
	}

	return failed(SourceExhausted, apperror.NoSession())
}

func (r *Resolver) errorParam(_ context.Context, req Request) Result {
	code := req.Params.Merged.Get(params.KeyError)
	if code == "" {
		return notFound(SourceErrorParam)
	}

	msg := req.Params.Merged.Get(params.KeyErrorDescription)
	if msg == "" {
		msg = code
	}
	return failed(SourceErrorParam, apperror.Provider("Authentication failed: "+msg, nil))
}

func (r *Resolver) liveSession(ctx context.Context, req Request) Result {
	id, err := r.provider.Session(ctx, req)
	if err != nil {
		return failed(SourceLiveSession, providerFailure(ctx, err))
	}
	if id != nil {
		return resolved(SourceLiveSession, id)
	}
	if r.settle <= 0 {
		return notFound(SourceLiveSession)
	}

	timer := time.NewTimer(r.settle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return failed(SourceLiveSession, ctx.Err())
	case <-timer.C:
	}

	id, err = r.provider.Session(ctx, req)
	if err != nil {
		return failed(SourceLiveSession, providerFailure(ctx, err))
	}
	if id != nil {
		return resolved(SourceLiveSession, id)
	}
	return notFound(SourceLiveSession)
}

func (r *Resolver) directUser(ctx context.Context, req Request) Result {
	id, err := r.provider.CurrentUser(ctx, req)
	if err != nil {
		return failed(SourceDirectUser, providerFailure(ctx, err))
	}
	if id == nil {
		return notFound(SourceDirectUser)
	}
	return resolved(SourceDirectUser, id)
}

// cachedToken never fails: a broken or missing cache is the same as an
// empty one.
func (r *Resolver) cachedToken(ctx context.Context, req Request) Result {
	if r.cache == nil || req.DeviceID == "" {
		return notFound(SourceCachedToken)
	}

	blob, err := r.cache.Load(ctx, req.DeviceID, r.provider.Name())
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			r.logger.Warn("resolver: token cache lookup failed",
				slog.String("deviceID", req.DeviceID),
				slog.String("error", err.Error()),
			)
		}
		return notFound(SourceCachedToken)
	}

	var tb TokenBlob
	if err := json.Unmarshal(blob, &tb); err != nil {
		r.logger.Warn("resolver: cached token blob is not JSON", slog.String("deviceID", req.DeviceID))
		return notFound(SourceCachedToken)
	}
	if tb.User == nil || tb.User.ID == "" || tb.User.Email == "" {
		return notFound(SourceCachedToken)
	}

	id := tb.User.Identity(r.provider.Name())
	return resolved(SourceCachedToken, &id)
}

// providerFailure keeps context errors recognisable so the caller can tell
// "the client went away" from "the provider broke".
func providerFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return apperror.Provider("Failed to complete authentication", err)
}

func errorDetail(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Cause != nil {
		return appErr.Message + ": " + appErr.Cause.Error()
	}
	return err.Error()
}
