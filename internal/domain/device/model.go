package device

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Device maps to the devices table. DeviceID is the external identifier a
// sensor unit presents in the X-Device-Id header; ID is the internal key
// sensor_readings rows reference.
type Device struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	DeviceID   string          `db:"device_id" json:"device_id"`
	DeviceName string          `db:"device_name" json:"device_name"`
	SecretHash string          `db:"secret_hash" json:"-"`
	IsActive   bool            `db:"is_active" json:"is_active"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	LastSeenAt *time.Time      `db:"last_seen_at" json:"last_seen_at,omitempty"`
	Metadata   json.RawMessage `db:"metadata" json:"metadata"`
}
