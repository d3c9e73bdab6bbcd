package device

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medhealth/telemetry/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type deviceRepoPG struct{ pool *pgxpool.Pool }

func NewDeviceRepoPG(pool *pgxpool.Pool) DeviceRepository {
	return &deviceRepoPG{pool: pool}
}

func (r *deviceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const deviceCols = `id, device_id, device_name, secret_hash, is_active,
	created_at, last_seen_at, metadata`

func (r *deviceRepoPG) scanDevice(row pgx.Row) (*Device, error) {
	var d Device
	err := row.Scan(&d.ID, &d.DeviceID, &d.DeviceName, &d.SecretHash,
		&d.IsActive, &d.CreatedAt, &d.LastSeenAt, &d.Metadata)
	return &d, err
}

func (r *deviceRepoPG) GetActiveByDeviceID(ctx context.Context, deviceID string) (*Device, error) {
	d, err := r.scanDevice(r.conn(ctx).QueryRow(ctx,
		`SELECT `+deviceCols+` FROM devices WHERE device_id = $1 AND is_active = true`, deviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownDevice
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *deviceRepoPG) TouchLastSeen(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE devices SET last_seen_at = NOW() WHERE id = $1`, id)
	return err
}
