package repository

import (
	"context"
	"time"

	"github.com/sakif/job-tracker-web/internal/model"
)

// TokenCache stores one provider token blob per (device, provider).
//
// Load returns an apperror.ErrNotFound error when nothing is stored or the
// stored blob has passed its TTL.
type TokenCache interface {
	Save(ctx context.Context, deviceID string, provider model.Provider, blob []byte, ttl time.Duration) error
	Load(ctx context.Context, deviceID string, provider model.Provider) ([]byte, error)
	Delete(ctx context.Context, deviceID string, provider model.Provider) error
	// DeleteDevice removes the blobs of every provider for deviceID.
	DeleteDevice(ctx context.Context, deviceID string) error
	Close() error
}
