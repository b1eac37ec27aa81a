package entities

import (
	"encoding/json"
	"fmt"
)

// Condition is the outcome of one classification pass. Status and eco-mode
// are both derived from it, so they always travel as a pair.
type Condition uint8

const (
	ConditionOptimal Condition = iota
	ConditionHeatStress
	ConditionRainActive
	ConditionIrrigationNeeded
	ConditionWaterCritical
)

// Conditions lists every case, most urgent first.
var Conditions = []Condition{
	ConditionWaterCritical,
	ConditionIrrigationNeeded,
	ConditionRainActive,
	ConditionHeatStress,
	ConditionOptimal,
}

type conditionInfo struct {
	status   string
	ecoMode  string
	severity int
}

var conditionTable = map[Condition]conditionInfo{
	ConditionWaterCritical:    {"water_critical", "conservation_mode", 4},
	ConditionIrrigationNeeded: {"irrigation_needed", "smart_irrigation", 3},
	ConditionRainActive:       {"rain_active", "rain_harvesting", 1},
	ConditionHeatStress:       {"heat_stress", "cooling_required", 2},
	ConditionOptimal:          {"optimal", "sustainable_monitoring", 0},
}

func (c Condition) Status() string  { return conditionTable[c].status }
func (c Condition) EcoMode() string { return conditionTable[c].ecoMode }

// Severity grows with urgency; optimal is 0.
func (c Condition) Severity() int { return conditionTable[c].severity }

func (c Condition) Valid() bool {
	_, ok := conditionTable[c]
	return ok
}

func (c Condition) String() string {
	if !c.Valid() {
		return fmt.Sprintf("condition(%d)", uint8(c))
	}
	return c.Status()
}

// ParseCondition resolves a status/eco-mode pair received on the wire.
// A pair that no single classification pass could have produced is rejected.
func ParseCondition(status, ecoMode string) (Condition, error) {
	for _, c := range Conditions {
		info := conditionTable[c]
		if info.status != status {
			continue
		}
		if info.ecoMode != ecoMode {
			return 0, fmt.Errorf("status %q pairs with eco_mode %q, got %q", status, info.ecoMode, ecoMode)
		}
		return c, nil
	}
	return 0, fmt.Errorf("unknown status %q", status)
}

func (c Condition) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid condition %d", uint8(c))
	}
	return json.Marshal(struct {
		Status  string `json:"status"`
		EcoMode string `json:"eco_mode"`
	}{c.Status(), c.EcoMode()})
}

func (c *Condition) UnmarshalJSON(b []byte) error {
	var raw struct {
		Status  string `json:"status"`
		EcoMode string `json:"eco_mode"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseCondition(raw.Status, raw.EcoMode)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
