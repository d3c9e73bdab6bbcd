package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Alert severity levels, ordered critical > high > medium > low. "none"
// means no rule raised a severity; it is persisted as-is and never alerts.
// No rule currently raises "medium"; the level is kept for the alert
// vocabulary.
const (
	AlertLevelNone     = "none"
	AlertLevelLow      = "low"
	AlertLevelMedium   = "medium"
	AlertLevelHigh     = "high"
	AlertLevelCritical = "critical"
)

// SensorReading maps to the sensor_readings table. Vital columns are
// nullable; a reading ingested over the device endpoint always carries all
// three.
type SensorReading struct {
	ID               int64           `db:"id" json:"id"`
	DeviceID         uuid.UUID       `db:"device_id" json:"device_id"`
	HeartRate        *int            `db:"heart_rate" json:"heart_rate,omitempty"`
	SpO2             *int            `db:"spo2" json:"spo2,omitempty"`
	Temperature      *float32        `db:"temperature" json:"temperature,omitempty"`
	ReadingTimestamp time.Time       `db:"reading_timestamp" json:"reading_timestamp"`
	ReceivedAt       time.Time       `db:"received_at" json:"received_at"`
	QualityScore     *float32        `db:"quality_score" json:"quality_score,omitempty"`
	Metadata         json.RawMessage `db:"metadata" json:"metadata"`
}

// VitalsIngest is the signed body a device posts. Field names follow the
// device firmware's camelCase wire format.
type VitalsIngest struct {
	HeartRate   int     `json:"heartRate"`
	SpO2        int     `json:"spo2"`
	Temperature float32 `json:"temperature"`
	Timestamp   int64   `json:"timestamp"`
}

func (v *VitalsIngest) Validate() error {
	if v.HeartRate < 0 || v.HeartRate > 300 {
		return fmt.Errorf("heartRate must be between 0 and 300")
	}
	if v.SpO2 < 0 || v.SpO2 > 100 {
		return fmt.Errorf("spo2 must be between 0 and 100")
	}
	if v.Temperature < 25.0 || v.Temperature > 45.0 {
		return fmt.Errorf("temperature must be between 25.0 and 45.0")
	}
	return nil
}

// LatestVitals is the dashboard snapshot: cached on ingest, served by the
// latest and recent endpoints, and pushed on the vitals stream.
type LatestVitals struct {
	HeartRate    int      `json:"heartRate"`
	SpO2         int      `json:"spo2"`
	Temperature  float32  `json:"temperature"`
	Timestamp    int64    `json:"timestamp"`
	QualityScore *float32 `json:"quality_score"`
	MlAlert      *string  `json:"ml_alert"`
}

// AnalysisDetails is the structured payload stored in the
// analysis_details column and attached to alerts.
type AnalysisDetails struct {
	Anomalies  []string `json:"anomalies"`
	HRZScore   float64  `json:"hr_zscore"`
	SpO2ZScore float64  `json:"spo2_zscore"`
}

// Analysis is the outcome of scoring one reading.
type Analysis struct {
	AnomalyDetected bool
	AnomalyScore    float64
	Classification  string
	AlertLevel      string
	QualityScore    float64
	Details         AnalysisDetails
}

// MlAlert is pushed to stream subscribers when a reading crosses the
// alert threshold.
type MlAlert struct {
	Level   string          `json:"level"`
	Message string          `json:"message"`
	Details AnalysisDetails `json:"details"`
}
