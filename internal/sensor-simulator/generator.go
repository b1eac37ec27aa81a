package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// ====== Tunables ======
const (
	// gainPerMin: +0.6% per minuto con la pompa accesa (in [0..1]).
	gainPerMin = 0.006

	// defaultSeed: umidità del suolo iniziale.
	defaultSeed = 0.42

	pumpLitresPerMin = 4.0
	rainLitresPerMin = 1.5
	rainStartPerMin  = 0.002
	reservoirStart   = 800.0
)

// PlotState is the simulated truth the sensors observe.
type PlotState struct {
	Moisture    float64 // [0..1]
	Temperature float64 // °C
	Humidity    float64 // %RH
	Water       float64 // litres
	Raining     bool
	PumpOn      bool
}

// DataGenerator evolves the plot state with simulated minutes. Speed maps one
// real second to Speed/60 simulated minutes.
type DataGenerator struct {
	mu          sync.Mutex
	rnd         *rand.Rand
	last        time.Time
	seeded      bool
	speed       float64
	decayPerMin float64
	reservoir   float64
	rainChance  float64 // per simulated minute
	rainLeft    float64 // simulated minutes
	state       PlotState
}

// NewDataGenerator: decayPerMin è il tasso di asciugatura con pompa spenta.
func NewDataGenerator(decayPerMin, speed float64, seed int64) *DataGenerator {
	if speed <= 0 {
		speed = 1
	}
	return &DataGenerator{
		rnd:         rand.New(rand.NewSource(seed)),
		speed:       speed,
		decayPerMin: math.Max(0, decayPerMin),
		reservoir:   1000,
		rainChance:  rainStartPerMin,
		state: PlotState{
			Moisture: defaultSeed,
			Water:    reservoirStart,
		},
	}
}

// Advance moves the simulation to now and returns the new state.
func (g *DataGenerator) Advance(now time.Time) PlotState {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.seeded {
		g.last = now
		g.seeded = true
	}
	dtMin := now.Sub(g.last).Minutes() * g.speed
	if dtMin < 0 {
		dtMin = 0
	}
	g.last = now

	s := &g.state
	switch {
	case s.PumpOn && s.Water > 0:
		s.Moisture = clamp01(s.Moisture + gainPerMin*dtMin)
		s.Water = math.Max(0, s.Water-pumpLitresPerMin*dtMin)
	case s.Raining:
		s.Moisture = clamp01(s.Moisture + gainPerMin/2*dtMin)
	default:
		s.Moisture = clamp01(s.Moisture - g.decayPerMin*dtMin)
	}

	if s.Raining {
		s.Water = math.Min(g.reservoir, s.Water+rainLitresPerMin*dtMin)
		g.rainLeft -= dtMin
		if g.rainLeft <= 0 {
			s.Raining = false
		}
	} else if g.rainChance > 0 && g.rnd.Float64() < 1-math.Pow(1-g.rainChance, dtMin) {
		s.Raining = true
		g.rainLeft = 20 + g.rnd.Float64()*40
	}

	// diurnal curve, peak at 15:00
	hour := float64(now.Hour()) + float64(now.Minute())/60
	s.Temperature = 23 + 9*math.Sin(2*math.Pi*(hour-9)/24) + g.rnd.NormFloat64()*0.3
	s.Humidity = clamp(68-(s.Temperature-23)*2.2+g.rnd.NormFloat64(), 5, 100)
	if s.Raining {
		s.Humidity = clamp(s.Humidity+20, 0, 100)
	}
	return *s
}

// State returns the current state without advancing time.
func (g *DataGenerator) State() PlotState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *DataGenerator) SetPump(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.PumpOn = on
}

// SetRainChance sets the probability that rain starts in a simulated minute.
func (g *DataGenerator) SetRainChance(p float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rainChance = clamp01(p)
}

// Refill tops up the reservoir.
func (g *DataGenerator) Refill() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.Water = g.reservoir
}

// Override forces part of the state, for scripted scenarios.
func (g *DataGenerator) Override(f func(*PlotState)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f(&g.state)
}

// chance draws a uniform number for glitch injection.
func (g *DataGenerator) chance() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Float64()
}

func (g *DataGenerator) noise(sigma float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.NormFloat64() * sigma
}

// ===== Helpers =====

func clamp01(x float64) float64 { return clamp(x, 0, 1) }

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
