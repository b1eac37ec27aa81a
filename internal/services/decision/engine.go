package decision

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
)

var (
	ErrManualMode    = errors.New("decision: device is in manual mode")
	ErrNoSnapshot    = errors.New("decision: no snapshot for device")
	ErrStaleSnapshot = errors.New("decision: snapshot is stale")
)

// recommendationNS scopes the deterministic recommendation ids.
var recommendationNS = uuid.MustParse("5b1d1f6e-3f0c-4a3e-9a57-2c5e6f1d8b40")

// Base penalties per condition. Channel deviations come on top.
var basePenalty = map[entities.Condition]float64{
	entities.ConditionWaterCritical:    70,
	entities.ConditionIrrigationNeeded: 50,
	entities.ConditionHeatStress:       35,
	entities.ConditionRainActive:       20,
	entities.ConditionOptimal:          0,
}

const (
	humidityLow   = 40
	humidityHigh  = 80
	waterlogged   = 85
	coldThreshold = 5
)

type Input struct {
	DeviceID   string
	Mode       entities.Mode
	Snapshot   *entities.Snapshot
	ReceivedAt time.Time
	Now        time.Time
}

// Engine is stateless: the output depends only on Input.
type Engine struct {
	cfg config.DecisionConfig
	t   config.Thresholds
}

func NewEngine(cfg config.DecisionConfig, t config.Thresholds) *Engine {
	if cfg.WaterFull <= 0 {
		cfg.WaterFull = 1000
	}
	if cfg.MinutesPerPercent <= 0 {
		cfg.MinutesPerPercent = 1
	}
	return &Engine{cfg: cfg, t: t}
}

func (e *Engine) MaxSnapshotAge() time.Duration { return e.cfg.MaxSnapshotAge }

// Evaluate declines with ErrManualMode, ErrNoSnapshot or ErrStaleSnapshot
// instead of guessing.
func (e *Engine) Evaluate(in Input) (entities.Recommendation, error) {
	if in.Mode != entities.ModeAutomatic {
		return entities.Recommendation{}, ErrManualMode
	}
	if in.Snapshot == nil {
		return entities.Recommendation{}, ErrNoSnapshot
	}
	if age := in.Now.Sub(in.ReceivedAt); e.cfg.MaxSnapshotAge > 0 && age > e.cfg.MaxSnapshotAge {
		return entities.Recommendation{}, fmt.Errorf("%w: received %s ago, limit %s",
			ErrStaleSnapshot, age.Truncate(time.Second), e.cfg.MaxSnapshotAge)
	}

	s := *in.Snapshot
	action, minutes, rationale := e.advise(s)
	rec := entities.Recommendation{
		DeviceID:        in.DeviceID,
		Action:          action,
		DurationMinutes: minutes,
		Score:           e.Score(s),
		Rationale:       rationale,
		Status:          s.Status(),
		SnapshotTime:    s.Timestamp,
	}
	rec.ID = recommendationID(rec, s)
	return rec, nil
}

// Score is 100 for a plot with nothing to do and falls with status severity
// and with how far each channel sits from its comfortable range.
func (e *Engine) Score(s entities.Snapshot) float64 {
	score := 100 - basePenalty[s.Condition] - e.deviation(s)
	return math.Round(clamp(score, 0, 100)*10) / 10
}

func (e *Engine) deviation(s entities.Snapshot) float64 {
	var d float64

	target := e.cfg.TargetMoisture
	switch {
	case target > 0 && s.SoilMoisture < target:
		d += (target - s.SoilMoisture) / target * 10
	case s.SoilMoisture > waterlogged:
		d += (s.SoilMoisture - waterlogged) / (100 - waterlogged) * 5
	}

	if half := e.cfg.WaterFull / 2; s.WaterLevel < half {
		d += (half - s.WaterLevel) / half * 10
	}

	switch {
	case s.Temperature > e.t.HeatThreshold:
		d += math.Min(10, (s.Temperature-e.t.HeatThreshold)*2)
	case s.Temperature < coldThreshold:
		d += math.Min(10, coldThreshold-s.Temperature)
	}

	switch {
	case s.Humidity < humidityLow:
		d += math.Min(5, (humidityLow-s.Humidity)/4)
	case s.Humidity > humidityHigh:
		d += math.Min(5, (s.Humidity-humidityHigh)/4)
	}
	return d
}

// advise follows the classifier's priority: the snapshot's condition names
// the dominant driver.
func (e *Engine) advise(s entities.Snapshot) (entities.Action, int, string) {
	switch s.Condition {
	case entities.ConditionWaterCritical:
		return entities.ActionRefillReservoir, 0, fmt.Sprintf(
			"water level %.0f L is below the critical threshold of %.0f L; refill the reservoir before irrigating",
			s.WaterLevel, e.t.WaterCritical)

	case entities.ConditionIrrigationNeeded:
		if s.PumpRunning {
			return entities.ActionMonitor, 0, fmt.Sprintf(
				"soil moisture %.1f%% is below the irrigation threshold of %.0f%%; pump already running, monitor until it recovers",
				s.SoilMoisture, e.t.IrrigationThreshold)
		}
		minutes := e.irrigationMinutes(s.SoilMoisture)
		return entities.ActionIrrigate, minutes, fmt.Sprintf(
			"soil moisture %.1f%% is below the irrigation threshold of %.0f%%; irrigate for %d min toward %.0f%%",
			s.SoilMoisture, e.t.IrrigationThreshold, minutes, e.cfg.TargetMoisture)

	case entities.ConditionRainActive:
		return entities.ActionPauseIrrigation, e.cfg.RainPauseMinutes, fmt.Sprintf(
			"rain detected; pause irrigation for %d min and let the reservoir collect runoff",
			e.cfg.RainPauseMinutes)

	case entities.ConditionHeatStress:
		return entities.ActionCoolingCycle, e.cfg.CoolingMinutes, fmt.Sprintf(
			"temperature %.1f°C exceeds the heat threshold of %.0f°C; run a %d min cooling cycle",
			s.Temperature, e.t.HeatThreshold, e.cfg.CoolingMinutes)
	}
	return entities.ActionMonitor, 0, fmt.Sprintf(
		"all readings within thresholds (soil %.1f%%, water %.0f L, %.1f°C); keep monitoring",
		s.SoilMoisture, s.WaterLevel, s.Temperature)
}

func (e *Engine) irrigationMinutes(soil float64) int {
	m := int(math.Ceil((e.cfg.TargetMoisture - soil) * e.cfg.MinutesPerPercent))
	if m < 1 {
		m = 1
	}
	if e.cfg.MaxIrrigationMinutes > 0 && m > e.cfg.MaxIrrigationMinutes {
		m = e.cfg.MaxIrrigationMinutes
	}
	return m
}

func recommendationID(r entities.Recommendation, s entities.Snapshot) string {
	key := fmt.Sprintf("%s|%s|%d|%s|%.3f|%.3f|%.3f|%.3f|%t|%t",
		r.DeviceID, r.Action, r.DurationMinutes, s.Timestamp.UTC().Format(time.RFC3339Nano),
		s.Temperature, s.Humidity, s.SoilMoisture, s.WaterLevel, s.RainDetected, s.PumpRunning)
	return uuid.NewSHA1(recommendationNS, []byte(key)).String()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
