package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medhealth/telemetry/internal/platform/db"
	"github.com/medhealth/telemetry/internal/platform/metrics"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type readingRepoPG struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

func NewReadingRepoPG(pool *pgxpool.Pool, m *metrics.Metrics) ReadingRepository {
	return &readingRepoPG{pool: pool, metrics: m}
}

func (r *readingRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *readingRepoPG) observe(queryType string) func() {
	start := time.Now()
	return func() {
		r.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
	}
}

const readingCols = `id, device_id, heart_rate, spo2, temperature,
	reading_timestamp, received_at, quality_score, metadata`

func (r *readingRepoPG) scanReading(row pgx.Row) (*SensorReading, error) {
	var sr SensorReading
	err := row.Scan(&sr.ID, &sr.DeviceID, &sr.HeartRate, &sr.SpO2, &sr.Temperature,
		&sr.ReadingTimestamp, &sr.ReceivedAt, &sr.QualityScore, &sr.Metadata)
	return &sr, err
}

func (r *readingRepoPG) InsertReading(ctx context.Context, deviceID uuid.UUID, in *VitalsIngest) (*SensorReading, error) {
	defer r.observe("insert_reading")()
	return r.scanReading(r.conn(ctx).QueryRow(ctx,
		`INSERT INTO sensor_readings (device_id, heart_rate, spo2, temperature, reading_timestamp)
		 VALUES ($1, $2, $3, $4, to_timestamp($5))
		 RETURNING `+readingCols,
		deviceID, in.HeartRate, in.SpO2, in.Temperature, in.Timestamp))
}

func (r *readingRepoPG) LatestReading(ctx context.Context) (*SensorReading, error) {
	defer r.observe("latest_reading")()
	sr, err := r.scanReading(r.conn(ctx).QueryRow(ctx,
		`SELECT `+readingCols+` FROM sensor_readings ORDER BY reading_timestamp DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoReadings
	}
	if err != nil {
		return nil, err
	}
	return sr, nil
}

func (r *readingRepoPG) RecentReadings(ctx context.Context, limit int) ([]*SensorReading, error) {
	defer r.observe("recent_readings")()
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+readingCols+` FROM sensor_readings ORDER BY reading_timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := make([]*SensorReading, 0, limit)
	for rows.Next() {
		sr, err := r.scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, sr)
	}
	return readings, rows.Err()
}

func (r *readingRepoPG) InsertAnalysis(ctx context.Context, readingID int64, a *Analysis) error {
	defer r.observe("insert_analysis")()
	details, err := json.Marshal(a.Details)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx,
		`INSERT INTO ml_analysis (sensor_reading_id, anomaly_detected, anomaly_score,
			classification, alert_level, analysis_details)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		readingID, a.AnomalyDetected, a.AnomalyScore, a.Classification, a.AlertLevel, details)
	return err
}

func (r *readingRepoPG) InsertObservation(ctx context.Context, readingID int64, resource []byte) error {
	defer r.observe("insert_observation")()
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO fhir_observations (sensor_reading_id, resource) VALUES ($1, $2)`,
		readingID, resource)
	return err
}
