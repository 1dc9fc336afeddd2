package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/devicesync/internal/domain"
)

const connectionColumns = `id, user_id, provider, provider_user_id, access_token, token_secret, is_active, connected_at, last_sync_at`

// ConnectionRepo implements domain.ConnectionStore.
type ConnectionRepo struct {
	db       *DB
	provider string
}

// NewConnectionRepo constructs a ConnectionRepo for the device provider.
func NewConnectionRepo(db *DB) *ConnectionRepo {
	return &ConnectionRepo{db: db, provider: domain.ProviderDevice}
}

func scanConnection(row pgx.Row) (*domain.Connection, error) {
	var conn domain.Connection
	if err := row.Scan(&conn.ID, &conn.UserID, &conn.Provider, &conn.ProviderUserID, &conn.AccessToken, &conn.TokenSecret, &conn.IsActive, &conn.ConnectedAt, &conn.LastSyncAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

// GetActiveConnection returns the user's active connection or nil.
func (r *ConnectionRepo) GetActiveConnection(ctx context.Context, userID string) (*domain.Connection, error) {
	const query = `SELECT ` + connectionColumns + ` FROM device_connections
        WHERE user_id=$1 AND provider=$2 AND is_active`
	return scanConnection(r.db.Pool.QueryRow(ctx, query, userID, r.provider))
}

// FindActiveByToken resolves a webhook access token to its active connection or nil.
func (r *ConnectionRepo) FindActiveByToken(ctx context.Context, accessToken string) (*domain.Connection, error) {
	const query = `SELECT ` + connectionColumns + ` FROM device_connections
        WHERE access_token=$1 AND provider=$2 AND is_active
        ORDER BY connected_at DESC LIMIT 1`
	return scanConnection(r.db.Pool.QueryRow(ctx, query, accessToken, r.provider))
}

// DeactivateConnection marks the user's active connection inactive.
func (r *ConnectionRepo) DeactivateConnection(ctx context.Context, userID string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE device_connections SET is_active=false WHERE user_id=$1 AND provider=$2 AND is_active`, userID, r.provider)
	return err
}

// UpdateLastSync stamps the user's active connection.
func (r *ConnectionRepo) UpdateLastSync(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE device_connections SET last_sync_at=$3 WHERE user_id=$1 AND provider=$2 AND is_active`, userID, r.provider, at)
	return err
}

// SetProviderUserID records the provider's user id on the active connection.
func (r *ConnectionRepo) SetProviderUserID(ctx context.Context, userID, providerUserID string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE device_connections SET provider_user_id=$3 WHERE user_id=$1 AND provider=$2 AND is_active`, userID, r.provider, providerUserID)
	return err
}

// PurgeConnection deletes the user's connections and mirrored activities. Logs created
// from those activities are kept.
func (r *ConnectionRepo) PurgeConnection(ctx context.Context, userID string) error {
	return inTx(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM device_activities WHERE user_id=$1`, userID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM device_connections WHERE user_id=$1 AND provider=$2`, userID, r.provider)
		return err
	})
}

// UpsertConnection stores conn as the user's only active connection.
func (r *ConnectionRepo) UpsertConnection(ctx context.Context, conn domain.Connection) (*domain.Connection, error) {
	var stored *domain.Connection
	err := inTx(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE device_connections SET is_active=false WHERE user_id=$1 AND provider=$2 AND is_active`, conn.UserID, r.provider); err != nil {
			return err
		}

		const insert = `INSERT INTO device_connections (user_id, provider, provider_user_id, access_token, token_secret, is_active)
            VALUES ($1,$2,$3,$4,$5,true)
            RETURNING ` + connectionColumns

		var err error
		stored, err = scanConnection(tx.QueryRow(ctx, insert, conn.UserID, r.provider, conn.ProviderUserID, conn.AccessToken, conn.TokenSecret))
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}
