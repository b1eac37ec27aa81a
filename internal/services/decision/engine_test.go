package decision

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
)

var now = time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)

func newEngine() *Engine {
	return NewEngine(config.DefaultCollector().Decision, config.DefaultThresholds())
}

func snapshot(cond entities.Condition, mut func(*entities.Readings)) *entities.Snapshot {
	r := entities.Readings{Temperature: 24, Humidity: 55, SoilMoisture: 50, WaterLevel: 600}
	if mut != nil {
		mut(&r)
	}
	s := entities.NewSnapshot(r, cond, true, now.Add(-time.Second))
	return &s
}

func input(s *entities.Snapshot) Input {
	return Input{DeviceID: "plot-1", Mode: entities.ModeAutomatic, Snapshot: s, ReceivedAt: now, Now: now}
}

func TestEvaluate_EndToEndScenario(t *testing.T) {
	s := snapshot(entities.ConditionIrrigationNeeded, func(r *entities.Readings) {
		r.Temperature, r.Humidity, r.SoilMoisture, r.WaterLevel = 30, 60, 15, 500
	})

	rec, err := newEngine().Evaluate(input(s))
	require.NoError(t, err)

	assert.Equal(t, entities.ActionIrrigate, rec.Action)
	assert.Equal(t, 30, rec.DurationMinutes)
	assert.Equal(t, "irrigation_needed", rec.Status)
	assert.Contains(t, rec.Rationale, "soil moisture 15.0%")
	assert.InDelta(t, 43.3, rec.Score, 1e-9)
	assert.True(t, rec.Score >= 0 && rec.Score <= 100)
	assert.NotEmpty(t, rec.ID)
}

func TestEvaluate_Idempotent(t *testing.T) {
	e := newEngine()
	s := snapshot(entities.ConditionHeatStress, func(r *entities.Readings) { r.Temperature = 38 })

	a, err := e.Evaluate(input(s))
	require.NoError(t, err)
	in := input(s)
	in.Now = now.Add(5 * time.Second)
	b, err := e.Evaluate(in)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestEvaluate_DifferentSnapshotDifferentID(t *testing.T) {
	e := newEngine()
	a, _ := e.Evaluate(input(snapshot(entities.ConditionOptimal, nil)))
	b, _ := e.Evaluate(input(snapshot(entities.ConditionOptimal, func(r *entities.Readings) { r.Humidity = 56 })))
	assert.NotEqual(t, a.ID, b.ID)
}

func TestEvaluate_Declines(t *testing.T) {
	e := newEngine()

	in := input(snapshot(entities.ConditionOptimal, nil))
	in.Mode = entities.ModeManual
	_, err := e.Evaluate(in)
	assert.ErrorIs(t, err, ErrManualMode)

	_, err = e.Evaluate(input(nil))
	assert.ErrorIs(t, err, ErrNoSnapshot)

	in = input(snapshot(entities.ConditionOptimal, nil))
	in.ReceivedAt = now.Add(-31 * time.Second)
	_, err = e.Evaluate(in)
	assert.ErrorIs(t, err, ErrStaleSnapshot)

	in.ReceivedAt = now.Add(-30 * time.Second)
	_, err = e.Evaluate(in)
	assert.NoError(t, err, "exactly at the limit is still fresh")
}

func TestEvaluate_RationaleFollowsPriority(t *testing.T) {
	e := newEngine()
	cases := []struct {
		cond   entities.Condition
		mut    func(*entities.Readings)
		action entities.Action
		cites  string
	}{
		{entities.ConditionWaterCritical, func(r *entities.Readings) {
			r.WaterLevel, r.SoilMoisture, r.Temperature, r.RainDetected = 50, 5, 40, true
		}, entities.ActionRefillReservoir, "water level 50 L"},
		{entities.ConditionIrrigationNeeded, func(r *entities.Readings) {
			r.SoilMoisture, r.Temperature, r.RainDetected = 20, 40, true
		}, entities.ActionIrrigate, "soil moisture 20.0%"},
		{entities.ConditionRainActive, func(r *entities.Readings) {
			r.RainDetected, r.Temperature = true, 40
		}, entities.ActionPauseIrrigation, "rain detected"},
		{entities.ConditionHeatStress, func(r *entities.Readings) { r.Temperature = 37.25 }, entities.ActionCoolingCycle, "temperature 37.2°C"},
		{entities.ConditionOptimal, nil, entities.ActionMonitor, "all readings within thresholds"},
	}
	for _, tc := range cases {
		t.Run(tc.cond.String(), func(t *testing.T) {
			rec, err := e.Evaluate(input(snapshot(tc.cond, tc.mut)))
			require.NoError(t, err)
			assert.Equal(t, tc.action, rec.Action)
			assert.True(t, strings.HasPrefix(rec.Rationale, tc.cites), rec.Rationale)
		})
	}
}

func TestEvaluate_Durations(t *testing.T) {
	e := newEngine()

	rec, _ := e.Evaluate(input(snapshot(entities.ConditionIrrigationNeeded, func(r *entities.Readings) { r.SoilMoisture = 29.5 })))
	assert.Equal(t, 16, rec.DurationMinutes, "ceil(45-29.5)")

	rec, _ = e.Evaluate(input(snapshot(entities.ConditionIrrigationNeeded, func(r *entities.Readings) { r.SoilMoisture = 0 })))
	assert.Equal(t, 30, rec.DurationMinutes, "capped")

	rec, _ = e.Evaluate(input(snapshot(entities.ConditionRainActive, func(r *entities.Readings) { r.RainDetected = true })))
	assert.Equal(t, 30, rec.DurationMinutes)

	rec, _ = e.Evaluate(input(snapshot(entities.ConditionIrrigationNeeded, func(r *entities.Readings) {
		r.SoilMoisture, r.PumpRunning = 12, true
	})))
	assert.Equal(t, entities.ActionMonitor, rec.Action)
	assert.Zero(t, rec.DurationMinutes)
}

func TestScore_Bounds(t *testing.T) {
	e := newEngine()

	assert.Equal(t, 100.0, e.Score(*snapshot(entities.ConditionOptimal, nil)))

	worst := snapshot(entities.ConditionWaterCritical, func(r *entities.Readings) {
		r.WaterLevel, r.SoilMoisture, r.Temperature, r.Humidity = 0, 0, 80, 0
	})
	assert.Equal(t, 0.0, e.Score(*worst))

	// a more severe status never scores higher with the same readings
	for _, a := range entities.Conditions {
		for _, b := range entities.Conditions {
			if a.Severity() > b.Severity() {
				assert.Less(t, e.Score(*snapshot(a, nil)), e.Score(*snapshot(b, nil)), "%s vs %s", a, b)
			}
		}
	}
}
