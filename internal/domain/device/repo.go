package device

import (
	"context"

	"github.com/google/uuid"
)

// DeviceRepository defines persistence operations for registered devices.
type DeviceRepository interface {
	// GetActiveByDeviceID looks up an active device by its external
	// identifier. Returns ErrUnknownDevice when no active row matches.
	GetActiveByDeviceID(ctx context.Context, deviceID string) (*Device, error)
	// TouchLastSeen stamps last_seen_at after a successful ingestion.
	TouchLastSeen(ctx context.Context, id uuid.UUID) error
}
