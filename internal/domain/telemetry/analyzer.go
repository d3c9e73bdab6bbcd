package telemetry

import (
	"math"

	"github.com/medhealth/telemetry/internal/config"
)

// Population baselines for the statistical z-score checks.
const (
	popMeanHeartRate = 70.0
	popStdHeartRate  = 12.0
	popMeanSpO2      = 97.0
	popStdSpO2       = 2.0
)

var alertMessages = map[string]string{
	AlertLevelCritical: "Critical vital signs detected! Immediate attention required.",
	AlertLevelHigh:     "Abnormal vital signs detected. Medical review recommended.",
	AlertLevelMedium:   "Unusual vital signs pattern detected.",
	AlertLevelLow:      "Minor data quality issues detected.",
}

// Analyzer scores readings against fixed clinical rules plus population
// z-scores. It is stateless and safe for concurrent use.
type Analyzer struct {
	cfg config.MLConfig
}

func NewAnalyzer(cfg config.MLConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Analyze runs the rule set over one reading. Each triggered rule adds its
// weight to a raw score and may raise the alert level; the final anomaly
// score is the raw score halved and capped at 1.0. A zero vital means the
// sensor did not report it, so the guarded range rules skip it; the
// z-score checks run on the raw value either way.
func (a *Analyzer) Analyze(r *SensorReading) *Analysis {
	hr := intOrZero(r.HeartRate)
	spo2 := intOrZero(r.SpO2)
	temp := float32OrZero(r.Temperature)

	var (
		raw       float64
		anomalies []string
	)
	level := AlertLevelNone

	// Critical thresholds.
	if hr > 0 {
		if hr < a.cfg.CriticalHRLow {
			anomalies = append(anomalies, "Bradycardia detected (low heart rate)")
			raw += 0.8
			level = AlertLevelCritical
		} else if hr > a.cfg.CriticalHRHigh {
			anomalies = append(anomalies, "Tachycardia detected (high heart rate)")
			raw += 0.8
			level = AlertLevelCritical
		}
	}

	if spo2 > 0 && spo2 < a.cfg.CriticalSpO2Low {
		anomalies = append(anomalies, "Hypoxemia detected (low SpO2)")
		raw += 0.9
		level = AlertLevelCritical
	}

	// Temperature anomalies.
	if temp > 0 {
		if temp > 38.0 {
			anomalies = append(anomalies, "Fever detected")
			raw += 0.6
			if level == AlertLevelNone {
				level = AlertLevelHigh
			}
		} else if temp < 35.5 {
			anomalies = append(anomalies, "Hypothermia risk")
			raw += 0.7
			if level == AlertLevelNone {
				level = AlertLevelHigh
			}
		}
	}

	// Signal quality.
	quality := signalQuality(hr, spo2, temp)
	if quality < 0.5 {
		anomalies = append(anomalies, "Poor signal quality detected")
		if level == AlertLevelNone {
			level = AlertLevelLow
		}
	}

	// Statistical checks against population baselines.
	hrZ := zscore(float64(hr), popMeanHeartRate, popStdHeartRate)
	spo2Z := zscore(float64(spo2), popMeanSpO2, popStdSpO2)
	if math.Abs(hrZ) > 3 {
		anomalies = append(anomalies, "Statistical HR anomaly")
		raw += 0.5
	}
	if math.Abs(spo2Z) > 3 {
		anomalies = append(anomalies, "Statistical SpO2 anomaly")
		raw += 0.5
	}

	classification := "critical"
	switch {
	case raw == 0:
		classification = "normal"
	case raw < 0.5:
		classification = "warning"
	}

	return &Analysis{
		AnomalyDetected: len(anomalies) > 0,
		AnomalyScore:    math.Min(1.0, raw/2.0),
		Classification:  classification,
		AlertLevel:      level,
		QualityScore:    quality,
		Details: AnalysisDetails{
			Anomalies:  anomalies,
			HRZScore:   hrZ,
			SpO2ZScore: spo2Z,
		},
	}
}

// GenerateAlert turns an analysis into a subscriber alert, or nil when
// alerting is disabled, the score is below threshold, or no severity was
// raised.
func (a *Analyzer) GenerateAlert(res *Analysis) *MlAlert {
	if !a.cfg.EnableAlerts || !res.AnomalyDetected {
		return nil
	}
	if res.AnomalyScore < a.cfg.AnomalyThreshold {
		return nil
	}
	message, ok := alertMessages[res.AlertLevel]
	if !ok {
		return nil
	}
	return &MlAlert{
		Level:   res.AlertLevel,
		Message: message,
		Details: res.Details,
	}
}

// signalQuality estimates sensor health from missing and out-of-range
// values, on a 0..1 scale.
func signalQuality(hr, spo2 int, temp float32) float64 {
	quality := 1.0

	// No signal.
	if hr == 0 {
		quality -= 0.4
	}
	if spo2 == 0 {
		quality -= 0.4
	}
	if temp == 0 {
		quality -= 0.2
	}

	// Unrealistic values.
	if hr > 250 || spo2 > 100 || temp > 43.0 || temp < 30.0 {
		quality -= 0.3
	}

	return math.Max(quality, 0.0)
}

func zscore(value, mean, stdDev float64) float64 {
	if stdDev == 0 {
		return 0
	}
	return (value - mean) / stdDev
}

func intOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func float32OrZero(p *float32) float32 {
	if p == nil {
		return 0
	}
	return *p
}
