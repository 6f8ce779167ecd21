// Package redis implements repository.TokenCache on Redis, for deployments
// running more than one instance behind a load balancer.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sakif/job-tracker-web/internal/apperror"
	"github.com/sakif/job-tracker-web/internal/model"
	"github.com/sakif/job-tracker-web/internal/repository"
)

var _ repository.TokenCache = (*TokenCache)(nil)

const keyPrefix = "jobtracker:token:"

// TokenCache keeps blobs under "jobtracker:token:<provider>:<device>" with a
// Redis TTL, so expiry needs no sweeping.
type TokenCache struct {
	client *goredis.Client
}

// New connects to addr and pings it.
func New(ctx context.Context, addr, password string, db int) (*TokenCache, error) {
	return connect(ctx, &goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewFromURL connects using a redis:// or rediss:// URL (Render/Heroku
// style). Every parsed option is kept, including the ACL username and TLS.
func NewFromURL(ctx context.Context, rawURL string) (*TokenCache, error) {
	opts, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return connect(ctx, opts)
}

func parseURL(rawURL string) (*goredis.Options, error) {
	opts, err := goredis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parsing url: %w", err)
	}
	return opts, nil
}

func connect(ctx context.Context, opts *goredis.Options) (*TokenCache, error) {
	client := goredis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: connecting to %s: %w", opts.Addr, err)
	}

	return &TokenCache{client: client}, nil
}

func key(deviceID string, provider model.Provider) string {
	return keyPrefix + string(provider) + ":" + deviceID
}

func (c *TokenCache) Save(ctx context.Context, deviceID string, provider model.Provider, blob []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key(deviceID, provider), blob, ttl).Err(); err != nil {
		return fmt.Errorf("redis: saving token for device %s: %w", deviceID, err)
	}
	return nil
}

func (c *TokenCache) Load(ctx context.Context, deviceID string, provider model.Provider) ([]byte, error) {
	blob, err := c.client.Get(ctx, key(deviceID, provider)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, apperror.NotFound("token", deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: loading token for device %s: %w", deviceID, err)
	}
	return blob, nil
}

func (c *TokenCache) Delete(ctx context.Context, deviceID string, provider model.Provider) error {
	if err := c.client.Del(ctx, key(deviceID, provider)).Err(); err != nil {
		return fmt.Errorf("redis: deleting token for device %s: %w", deviceID, err)
	}
	return nil
}

// DeleteDevice removes the key of every known provider for deviceID in one
// DEL. Keys are never pattern-matched, since deviceID comes from a cookie.
func (c *TokenCache) DeleteDevice(ctx context.Context, deviceID string) error {
	providers := model.AllProviders()
	keys := make([]string, 0, len(providers))
	for _, p := range providers {
		keys = append(keys, key(deviceID, p))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: deleting tokens for device %s: %w", deviceID, err)
	}
	return nil
}

func (c *TokenCache) Close() error {
	return c.client.Close()
}
