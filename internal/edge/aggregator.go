package edge

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/logger"
	"github.com/LeonardoBeccarini/agrosmart/internal/metrics"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
)

// analogChannels must each produce one valid read before a reading set is usable.
var analogChannels = []Channel{ChannelTemperature, ChannelHumidity, ChannelSoil, ChannelWater}

// Aggregator turns N raw reads per channel into one calibrated reading set.
// It keeps the rain debouncer between cycles; everything else comes from prev.
type Aggregator struct {
	src     SampleSource
	cfg     config.SamplingConfig
	clock   Clock
	log     *zap.Logger
	metrics *metrics.Edge
	rain    debouncer
	seen    map[Channel]bool
}

func NewAggregator(src SampleSource, cfg config.SamplingConfig, clock Clock, log *zap.Logger, m *metrics.Edge) *Aggregator {
	if cfg.Samples < 1 {
		cfg.Samples = 1
	}
	if cfg.RainDebounce < 1 {
		cfg.RainDebounce = 1
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Aggregator{
		src:     src,
		cfg:     cfg,
		clock:   clock,
		log:     logger.OrNop(log),
		metrics: m,
		rain:    debouncer{need: cfg.RainDebounce},
		seen:    make(map[Channel]bool, len(analogChannels)),
	}
}

// Primed reports whether every analog channel has produced a valid read.
// Until then a holdover would carry zero values, not measurements.
func (a *Aggregator) Primed() bool {
	for _, ch := range analogChannels {
		if !a.seen[ch] {
			return false
		}
	}
	return true
}

// Aggregate samples every channel once. A channel with no surviving read keeps
// its value from prev.
func (a *Aggregator) Aggregate(ctx context.Context, prev entities.Readings) entities.Readings {
	out := prev

	if v, ok := a.mean(ctx, ChannelTemperature, a.cfg.TempMin, a.cfg.TempMax); ok {
		out.Temperature = v
	}
	if v, ok := a.mean(ctx, ChannelHumidity, a.cfg.HumidityMin, a.cfg.HumidityMax); ok {
		out.Humidity = v
	}
	if raw, ok := a.mean(ctx, ChannelSoil, 0, a.cfg.AdcMax); ok {
		out.SoilMoisture = clamp(a.cfg.Soil.Map(raw), 0, 100)
	}
	if raw, ok := a.mean(ctx, ChannelWater, 0, a.cfg.AdcMax); ok {
		out.WaterLevel = clamp(a.cfg.Water.Map(raw), 0, a.cfg.WaterMax)
	}

	out.RainDetected = a.sampleRain(ctx)

	if on, err := a.src.ReadDigital(ctx, ChannelPump); err == nil {
		out.PumpRunning = on
	} else {
		a.discard(ChannelPump, zap.Error(err))
	}
	return out
}

// mean averages the reads that fall inside [lo, hi].
func (a *Aggregator) mean(ctx context.Context, ch Channel, lo, hi float64) (float64, bool) {
	var sum float64
	var n int
	for i := 0; i < a.cfg.Samples; i++ {
		if i > 0 && a.clock.Sleep(ctx, a.cfg.SampleDelay) != nil {
			break
		}
		v, err := a.src.ReadAnalog(ctx, ch)
		switch {
		case err != nil:
			a.discard(ch, zap.Error(err))
			continue
		case math.IsNaN(v) || math.IsInf(v, 0) || v < lo || v > hi:
			a.discard(ch, zap.Float64("value", v))
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		a.log.Warn("aggregator: no valid samples, holding previous value", zap.String("channel", string(ch)))
		return 0, false
	}
	a.seen[ch] = true
	return sum / float64(n), true
}

func (a *Aggregator) sampleRain(ctx context.Context) bool {
	for i := 0; i < a.cfg.Samples; i++ {
		if i > 0 && a.clock.Sleep(ctx, a.cfg.SampleDelay) != nil {
			break
		}
		wet, err := a.src.ReadDigital(ctx, ChannelRain)
		if err != nil {
			a.discard(ChannelRain, zap.Error(err))
			continue
		}
		a.rain.feed(wet)
	}
	return a.rain.state
}

func (a *Aggregator) discard(ch Channel, f zap.Field) {
	a.log.Debug("aggregator: sample discarded", zap.String("channel", string(ch)), f)
	if a.metrics != nil {
		a.metrics.DiscardedReads.WithLabelValues(string(ch)).Inc()
	}
}

// debouncer flips state after need consecutive reads disagree with it.
type debouncer struct {
	state  bool
	streak int
	need   int
}

func (d *debouncer) feed(v bool) bool {
	if v == d.state {
		d.streak = 0
		return d.state
	}
	d.streak++
	if d.streak >= d.need {
		d.state = v
		d.streak = 0
	}
	return d.state
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
