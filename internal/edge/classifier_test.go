package edge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
)

func optimalReadings() entities.Readings {
	return entities.Readings{Temperature: 24, Humidity: 55, SoilMoisture: 50, WaterLevel: 600}
}

func TestClassify_Priority(t *testing.T) {
	c := NewClassifier(config.DefaultThresholds())

	cases := []struct {
		name string
		mut  func(*entities.Readings)
		want entities.Condition
	}{
		{"optimal", func(*entities.Readings) {}, entities.ConditionOptimal},
		{"water beats soil", func(r *entities.Readings) { r.WaterLevel, r.SoilMoisture = 50, 5 }, entities.ConditionWaterCritical},
		{"water beats everything", func(r *entities.Readings) {
			r.WaterLevel, r.SoilMoisture, r.RainDetected, r.Temperature = 10, 5, true, 45
		}, entities.ConditionWaterCritical},
		{"soil beats rain", func(r *entities.Readings) { r.SoilMoisture, r.RainDetected = 10, true }, entities.ConditionIrrigationNeeded},
		{"rain beats heat", func(r *entities.Readings) { r.RainDetected, r.Temperature = true, 40 }, entities.ConditionRainActive},
		{"heat alone", func(r *entities.Readings) { r.Temperature = 36 }, entities.ConditionHeatStress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := optimalReadings()
			tc.mut(&r)
			assert.Equal(t, tc.want, c.Classify(r))
		})
	}
}

func TestClassify_ExactThresholdsDoNotMatch(t *testing.T) {
	th := config.DefaultThresholds()
	c := NewClassifier(th)

	r := optimalReadings()
	r.WaterLevel = th.WaterCritical
	assert.Equal(t, entities.ConditionOptimal, c.Classify(r))
	r.WaterLevel = th.WaterCritical - 0.1
	assert.Equal(t, entities.ConditionWaterCritical, c.Classify(r))

	r = optimalReadings()
	r.SoilMoisture = th.IrrigationThreshold
	assert.Equal(t, entities.ConditionOptimal, c.Classify(r))
	r.SoilMoisture = th.IrrigationThreshold - 0.1
	assert.Equal(t, entities.ConditionIrrigationNeeded, c.Classify(r))

	r = optimalReadings()
	r.Temperature = th.HeatThreshold
	assert.Equal(t, entities.ConditionOptimal, c.Classify(r))
	r.Temperature = th.HeatThreshold + 0.1
	assert.Equal(t, entities.ConditionHeatStress, c.Classify(r))
}

func TestClassify_EndToEndScenario(t *testing.T) {
	c := NewClassifier(config.DefaultThresholds())
	cond := c.Classify(entities.Readings{Temperature: 30, Humidity: 60, SoilMoisture: 15, WaterLevel: 500})

	assert.Equal(t, "irrigation_needed", cond.Status())
	assert.Equal(t, "smart_irrigation", cond.EcoMode())
}

func TestClassify_EveryConditionReachable(t *testing.T) {
	c := NewClassifier(config.DefaultThresholds())
	seen := map[entities.Condition]bool{}
	for _, w := range []float64{100, 600} {
		for _, s := range []float64{10, 50} {
			for _, rain := range []bool{false, true} {
				for _, temp := range []float64{20, 40} {
					seen[c.Classify(entities.Readings{WaterLevel: w, SoilMoisture: s, RainDetected: rain, Temperature: temp})] = true
				}
			}
		}
	}
	assert.Len(t, seen, len(entities.Conditions))
}
