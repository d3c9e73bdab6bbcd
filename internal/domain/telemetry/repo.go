package telemetry

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNoReadings is returned by LatestReading when the store is empty.
var ErrNoReadings = errors.New("no readings")

// ReadingRepository persists sensor readings and their derived artifacts.
type ReadingRepository interface {
	// InsertReading stores one reading for the device with internal id
	// deviceID and returns the stored row.
	InsertReading(ctx context.Context, deviceID uuid.UUID, in *VitalsIngest) (*SensorReading, error)

	// LatestReading returns the most recent reading by reading_timestamp.
	LatestReading(ctx context.Context) (*SensorReading, error)

	// RecentReadings returns up to limit readings, newest first.
	RecentReadings(ctx context.Context, limit int) ([]*SensorReading, error)

	// InsertAnalysis stores the analyzer outcome for a reading.
	InsertAnalysis(ctx context.Context, readingID int64, a *Analysis) error

	// InsertObservation stores the projected FHIR bundle for a reading.
	InsertObservation(ctx context.Context, readingID int64, resource []byte) error
}
