// Package profile is the client for the backend's Profile Gate: the one
// call that decides whether a signed-in user goes to the dashboard or to
// profile completion.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/job-tracker-web/internal/apperror"
	"github.com/sakif/job-tracker-web/internal/model"
)

// DefaultTimeout bounds a single Profile Gate call.
const DefaultTimeout = 10 * time.Second

const checkProfilePath = "/auth/check-profile"

// Destination is where a signed-in user is sent next.
type Destination string

const (
	CompleteProfile Destination = "/complete-profile"
	Dashboard       Destination = "/dashboard"
)

// Route maps a Profile Gate answer to a destination. New users and users
// with an incomplete profile both go to profile completion.
func Route(status *model.ProfileStatus) Destination {
	if status.IsNewUser || !status.ProfileComplete {
		return CompleteProfile
	}
	return Dashboard
}

// Client calls the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client. The client is copied, never
// modified; its own Timeout is kept unless WithTimeout is given or it is zero.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout overrides DefaultTimeout, in any order with WithHTTPClient.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	hc := http.Client{}
	if c.httpClient != nil {
		hc = *c.httpClient
	}
	switch {
	case c.timeout > 0:
		hc.Timeout = c.timeout
	case hc.Timeout == 0:
		hc.Timeout = DefaultTimeout
	}
	c.httpClient = &hc
	return c
}

// CheckProfile asks the backend about authUserID. email is sent when known.
//
// A request that never gets an HTTP answer (refused, DNS, timeout) is
// BackendUnavailable. An answer that is not 2xx JSON is Backend.
func (c *Client) CheckProfile(ctx context.Context, authUserID, email string) (*model.ProfileStatus, error) {
	q := url.Values{}
	q.Set("auth_user_id", authUserID)
	if email != "" {
		q.Set("email", email)
	}
	endpoint := c.baseURL + checkProfilePath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperror.Backend(fmt.Errorf("profile: building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("profile gate unreachable",
			slog.String("auth_user_id", authUserID),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return nil, apperror.BackendUnavailable(fmt.Errorf("profile: calling %s: %w", checkProfilePath, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("profile gate returned error status",
			slog.String("auth_user_id", authUserID),
			slog.Int("status", resp.StatusCode),
		)
		return nil, apperror.Backend(fmt.Errorf("profile: %s returned status %d", checkProfilePath, resp.StatusCode))
	}

	var status model.ProfileStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, apperror.Backend(fmt.Errorf("profile: decoding response: %w", err))
	}

	c.logger.Debug("profile gate answered",
		slog.String("auth_user_id", authUserID),
		slog.Bool("is_new_user", status.IsNewUser),
		slog.Bool("profile_complete", status.ProfileComplete),
	)
	return &status, nil
}
