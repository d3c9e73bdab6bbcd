package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/medhealth/telemetry/internal/domain/device"
	"github.com/medhealth/telemetry/internal/platform/cache"
	"github.com/medhealth/telemetry/internal/platform/metrics"
	"github.com/medhealth/telemetry/internal/platform/stream"
	"github.com/medhealth/telemetry/pkg/fhirmodels"
)

// ErrInvalidPayload marks a device body that parsed or validated badly.
var ErrInvalidPayload = errors.New("invalid payload")

// Service runs the ingest pipeline and the vitals read paths.
type Service struct {
	readings  ReadingRepository
	devices   device.DeviceRepository
	verifier  *device.Verifier
	analyzer  *Analyzer
	projector *Projector
	cache     *cache.Client
	stream    *stream.Broadcaster
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

func NewService(readings ReadingRepository, devices device.DeviceRepository,
	verifier *device.Verifier, analyzer *Analyzer, projector *Projector,
	cacheClient *cache.Client, broadcaster *stream.Broadcaster,
	m *metrics.Metrics, log zerolog.Logger) *Service {
	return &Service{
		readings:  readings,
		devices:   devices,
		verifier:  verifier,
		analyzer:  analyzer,
		projector: projector,
		cache:     cacheClient,
		stream:    broadcaster,
		metrics:   m,
		log:       log,
	}
}

// Ingest validates a device submission, verifies its signature, stores the
// reading, then runs the derived pipeline: analysis, FHIR projection, cache
// update, stream fan-out. The reading insert is the only fatal step after
// verification; every derived write degrades to a warning so a cache or
// analysis hiccup never drops accepted vitals.
func (s *Service) Ingest(ctx context.Context, deviceID, timestamp, signature string, body []byte) (*SensorReading, error) {
	var in VitalsIngest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	dev, err := s.verifier.Verify(ctx, deviceID, timestamp, signature, body)
	if err != nil {
		return nil, err
	}

	reading, err := s.readings.InsertReading(ctx, dev.ID, &in)
	if err != nil {
		return nil, fmt.Errorf("insert reading: %w", err)
	}

	start := time.Now()
	analysis := s.analyzer.Analyze(reading)
	s.metrics.MLAnalysisDuration.Observe(time.Since(start).Seconds())
	if analysis.AnomalyDetected {
		s.metrics.MLAnomaliesDetected.WithLabelValues(analysis.AlertLevel).Inc()
	}

	if err := s.readings.InsertAnalysis(ctx, reading.ID, analysis); err != nil {
		s.log.Warn().Err(err).Int64("reading_id", reading.ID).Msg("persist analysis failed")
	}

	bundle := s.projector.ObservationBundle(reading, nil)
	if raw, err := json.Marshal(bundle); err == nil {
		if err := s.readings.InsertObservation(ctx, reading.ID, raw); err != nil {
			s.log.Warn().Err(err).Int64("reading_id", reading.ID).Msg("persist observation bundle failed")
		}
	}

	alert := s.analyzer.GenerateAlert(analysis)

	quality := float32(analysis.QualityScore)
	vitals := &LatestVitals{
		HeartRate:    in.HeartRate,
		SpO2:         in.SpO2,
		Temperature:  in.Temperature,
		Timestamp:    in.Timestamp,
		QualityScore: &quality,
	}
	if alert != nil {
		level := alert.Level
		vitals.MlAlert = &level
	}

	if payload, err := json.Marshal(vitals); err == nil {
		if err := s.cache.SetLatest(ctx, payload); err != nil {
			s.log.Warn().Err(err).Msg("cache latest vitals failed")
		}
		if err := s.cache.PushRecent(ctx, payload); err != nil {
			s.log.Warn().Err(err).Msg("cache recent reading failed")
		}
	}

	s.publishVitals(vitals)
	if alert != nil {
		s.publishAlert(alert)
	}

	s.metrics.DeviceReadingsTotal.WithLabelValues(dev.DeviceID).Inc()
	s.metrics.VitalsHeartRate.Set(float64(in.HeartRate))
	s.metrics.VitalsSpO2.Set(float64(in.SpO2))

	if err := s.devices.TouchLastSeen(ctx, dev.ID); err != nil {
		s.log.Debug().Err(err).Str("device_id", dev.DeviceID).Msg("touch last_seen failed")
	}

	return reading, nil
}

// Latest returns the current vitals snapshot: cache first, newest stored
// reading on a miss, an all-zero snapshot when nothing has been ingested.
// It never fails; a broken cache or store degrades to the zero snapshot.
func (s *Service) Latest(ctx context.Context) *LatestVitals {
	payload, err := s.cache.GetLatest(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("cache read failed")
	}
	if err == nil && payload != nil {
		var v LatestVitals
		if err := json.Unmarshal(payload, &v); err == nil {
			s.metrics.CacheHits.Inc()
			return &v
		}
	}
	s.metrics.CacheMisses.Inc()

	reading, err := s.readings.LatestReading(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoReadings) {
			s.log.Warn().Err(err).Msg("latest reading lookup failed")
		}
		return &LatestVitals{}
	}
	return snapshotFromReading(reading)
}

// Recent returns up to limit cached snapshots, newest first. The list is
// cache-only; a cold or unreachable cache yields an empty list.
func (s *Service) Recent(ctx context.Context, limit int) []*LatestVitals {
	payloads, err := s.cache.GetRecent(ctx, limit)
	if err != nil {
		s.log.Warn().Err(err).Msg("cache recent read failed")
		return []*LatestVitals{}
	}
	out := make([]*LatestVitals, 0, len(payloads))
	for _, p := range payloads {
		var v LatestVitals
		if err := json.Unmarshal(p, &v); err == nil {
			out = append(out, &v)
		}
	}
	return out
}

// Export projects the newest limit readings into one flat FHIR bundle.
func (s *Service) Export(ctx context.Context, limit int) (*fhirmodels.Bundle, error) {
	readings, err := s.readings.RecentReadings(ctx, limit)
	if err != nil {
		return nil, err
	}
	return s.projector.ExportBundle(readings), nil
}

func (s *Service) publishVitals(v *LatestVitals) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.stream.Publish(stream.Event{Type: stream.EventVitals, Data: data})
}

func (s *Service) publishAlert(a *MlAlert) {
	data, err := json.Marshal(a)
	if err != nil {
		return
	}
	s.stream.Publish(stream.Event{Type: stream.EventAlert, Data: data})
}

func snapshotFromReading(r *SensorReading) *LatestVitals {
	return &LatestVitals{
		HeartRate:    intOrZero(r.HeartRate),
		SpO2:         intOrZero(r.SpO2),
		Temperature:  float32OrZero(r.Temperature),
		Timestamp:    r.ReadingTimestamp.Unix(),
		QualityScore: r.QualityScore,
	}
}
