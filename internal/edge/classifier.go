package edge

import (
	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
)

type rule struct {
	cond  entities.Condition
	match func(r entities.Readings, t config.Thresholds) bool
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{entities.ConditionWaterCritical, func(r entities.Readings, t config.Thresholds) bool {
		return r.WaterLevel < t.WaterCritical
	}},
	{entities.ConditionIrrigationNeeded, func(r entities.Readings, t config.Thresholds) bool {
		return r.SoilMoisture < t.IrrigationThreshold
	}},
	{entities.ConditionRainActive, func(r entities.Readings, _ config.Thresholds) bool {
		return r.RainDetected
	}},
	{entities.ConditionHeatStress, func(r entities.Readings, t config.Thresholds) bool {
		return r.Temperature > t.HeatThreshold
	}},
}

// Classifier maps a reading set to exactly one condition.
type Classifier struct {
	t config.Thresholds
}

func NewClassifier(t config.Thresholds) *Classifier {
	return &Classifier{t: t}
}

func (c *Classifier) Classify(r entities.Readings) entities.Condition {
	for _, rl := range rules {
		if rl.match(r, c.t) {
			return rl.cond
		}
	}
	return entities.ConditionOptimal
}

func (c *Classifier) Thresholds() config.Thresholds { return c.t }
