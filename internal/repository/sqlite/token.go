package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/job-tracker-web/internal/apperror"
	"github.com/sakif/job-tracker-web/internal/model"
	"github.com/sakif/job-tracker-web/internal/repository"
)

// compile-time check that *DB implements repository.TokenCache
var _ repository.TokenCache = (*DB)(nil)

// Save stores blob for (deviceID, provider), replacing any previous row.
func (db *DB) Save(ctx context.Context, deviceID string, provider model.Provider, blob []byte, ttl time.Duration) error {
	now := db.now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO provider_tokens (device_id, provider, blob, expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (device_id, provider) DO UPDATE SET
		   blob = excluded.blob,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		deviceID,
		string(provider),
		blob,
		now.Add(ttl).UnixMilli(),
		now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving token for device %s: %w", deviceID, err)
	}
	return nil
}

// Load returns the blob for (deviceID, provider). Expired rows are deleted
// on the way out and reported as not found.
func (db *DB) Load(ctx context.Context, deviceID string, provider model.Provider) ([]byte, error) {
	var (
		blob      []byte
		expiresAt int64
	)

	err := db.conn.QueryRowContext(ctx,
		`SELECT blob, expires_at FROM provider_tokens WHERE device_id = ? AND provider = ?`,
		deviceID, string(provider),
	).Scan(&blob, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("token", deviceID)
		}
		return nil, fmt.Errorf("sqlite: loading token for device %s: %w", deviceID, err)
	}

	if expiresAt <= db.now().UnixMilli() {
		if err := db.Delete(ctx, deviceID, provider); err != nil {
			return nil, err
		}
		return nil, apperror.NotFound("token", deviceID)
	}

	return blob, nil
}

// Delete removes the row for (deviceID, provider). Deleting a missing row
// is not an error.
func (db *DB) Delete(ctx context.Context, deviceID string, provider model.Provider) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM provider_tokens WHERE device_id = ? AND provider = ?`,
		deviceID, string(provider),
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting token for device %s: %w", deviceID, err)
	}
	return nil
}

// DeleteDevice removes every provider's row for deviceID.
func (db *DB) DeleteDevice(ctx context.Context, deviceID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM provider_tokens WHERE device_id = ?`, deviceID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting tokens for device %s: %w", deviceID, err)
	}
	return nil
}

// PurgeExpired deletes every expired row and reports how many went.
func (db *DB) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM provider_tokens WHERE expires_at <= ?`, db.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purging expired tokens: %w", err)
	}
	return res.RowsAffected()
}
