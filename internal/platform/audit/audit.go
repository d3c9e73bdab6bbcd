// Package audit records the compliance trail: every API request, auth
// event, and PHI data access, written to the structured log and mirrored
// into the audit_logs table when a pool is configured.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Event types emitted on the trail.
const (
	EventAPIRequest = "API_REQUEST"
	EventAuth       = "AUTH_EVENT"
	EventDataAccess = "DATA_ACCESS"
)

// Entry is one audit record. Identifiers only; never put vitals values or
// other PHI in here.
type Entry struct {
	EventType    string
	UserID       *uuid.UUID
	DeviceID     *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   string
	IPAddress    string
	UserAgent    string
	Success      bool
	ErrorMessage string
	Metadata     map[string]any
}

// Recorder writes audit entries. The log line is the source of truth; the
// database row is best effort and a failed insert never fails the request.
type Recorder struct {
	log  zerolog.Logger
	pool *pgxpool.Pool
}

// NewRecorder creates a Recorder. pool may be nil, in which case entries
// only go to the log.
func NewRecorder(log zerolog.Logger, pool *pgxpool.Pool) *Recorder {
	return &Recorder{
		log:  log.With().Str("component", "audit").Logger(),
		pool: pool,
	}
}

// Record emits the entry to the log and persists it.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	evt := r.log.Info().
		Str("event_type", entry.EventType).
		Str("action", entry.Action).
		Bool("success", entry.Success)
	if entry.UserID != nil {
		evt = evt.Str("user_id", entry.UserID.String())
	}
	if entry.DeviceID != nil {
		evt = evt.Str("device_id", entry.DeviceID.String())
	}
	if entry.ResourceType != "" {
		evt = evt.Str("resource_type", entry.ResourceType)
	}
	if entry.ResourceID != "" {
		evt = evt.Str("resource_id", entry.ResourceID)
	}
	if entry.IPAddress != "" {
		evt = evt.Str("ip", entry.IPAddress)
	}
	if entry.ErrorMessage != "" {
		evt = evt.Str("error", entry.ErrorMessage)
	}
	if len(entry.Metadata) > 0 {
		evt = evt.Interface("metadata", entry.Metadata)
	}
	evt.Msg("AUDIT_EVENT")

	if r.pool == nil {
		return
	}

	var metadata []byte
	if len(entry.Metadata) > 0 {
		metadata, _ = json.Marshal(entry.Metadata)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_logs (
			event_type, user_id, device_id, action, resource_type, resource_id,
			ip_address, user_agent, success, error_message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.EventType, entry.UserID, entry.DeviceID, entry.Action,
		nullIfEmpty(entry.ResourceType), nullIfEmpty(entry.ResourceID),
		nullIfEmpty(entry.IPAddress), nullIfEmpty(entry.UserAgent),
		entry.Success, nullIfEmpty(entry.ErrorMessage), metadata)
	if err != nil {
		r.log.Warn().Err(err).Str("event_type", entry.EventType).Msg("audit row insert failed")
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// OpenLog opens (creating parent directories as needed) the append-only
// audit log file named by path.
func OpenLog(path string) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
}
