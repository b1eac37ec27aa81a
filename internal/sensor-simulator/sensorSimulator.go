package sensor_simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/edge"
	"github.com/LeonardoBeccarini/agrosmart/internal/logger"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/messages"
	"github.com/LeonardoBeccarini/agrosmart/pkg/dedup"
)

var (
	ErrGlitch   = errors.New("simulator: bus glitch")
	ErrLinkDown = errors.New("simulator: link down")
)

// SensorSimulator exposes a DataGenerator as raw sensor channels. Soil and
// water are returned as ADC counts through the inverse of the configured
// calibration, so the edge aggregator sees what real probes would give it.
type SensorSimulator struct {
	mu         sync.Mutex
	deviceID   string
	gen        *DataGenerator
	sampling   config.SamplingConfig
	glitchRate float64
	now        func() time.Time
	timer      *time.Timer // single timer
	deduper    *dedup.Deduper
	log        *zap.Logger
}

var _ edge.SampleSource = (*SensorSimulator)(nil)

func NewSensorSimulator(deviceID string, gen *DataGenerator, sampling config.SamplingConfig, glitchRate float64, log *zap.Logger) *SensorSimulator {
	return &SensorSimulator{
		deviceID:   deviceID,
		gen:        gen,
		sampling:   sampling,
		glitchRate: math.Max(0, glitchRate),
		now:        time.Now,
		deduper:    dedup.New(2*time.Minute, 10000),
		log:        logger.OrNop(log),
	}
}

func (s *SensorSimulator) ReadAnalog(_ context.Context, ch edge.Channel) (float64, error) {
	st := s.gen.Advance(s.now())
	if g := s.gen.chance(); g < s.glitchRate/2 {
		return 0, ErrGlitch
	} else if g < s.glitchRate {
		return implausible(ch, s.sampling.AdcMax), nil
	}

	switch ch {
	case edge.ChannelTemperature:
		return st.Temperature + s.gen.noise(0.2), nil
	case edge.ChannelHumidity:
		return clamp(st.Humidity+s.gen.noise(0.5), 0, 100), nil
	case edge.ChannelSoil:
		raw := inverse(s.sampling.Soil).Map(st.Moisture*100) + s.gen.noise(12)
		return clamp(math.Round(raw), 0, s.sampling.AdcMax), nil
	case edge.ChannelWater:
		raw := inverse(s.sampling.Water).Map(st.Water) + s.gen.noise(8)
		return clamp(math.Round(raw), 0, s.sampling.AdcMax), nil
	}
	return 0, fmt.Errorf("%w: %s", edge.ErrUnsupportedChannel, ch)
}

func (s *SensorSimulator) ReadDigital(_ context.Context, ch edge.Channel) (bool, error) {
	st := s.gen.Advance(s.now())
	switch ch {
	case edge.ChannelRain:
		if s.gen.chance() < s.glitchRate {
			return !st.Raining, nil
		}
		return st.Raining, nil
	case edge.ChannelPump:
		return st.PumpOn, nil
	}
	return false, fmt.Errorf("%w: %s", edge.ErrUnsupportedChannel, ch)
}

// HandleRecommendation plays the operator: it follows recommendations
// published by the collector for this device.
func (s *SensorSimulator) HandleRecommendation(_ string, msg mqtt.Message) error {
	// Dedup a payload: redelivery QoS1 ha lo stesso payload → stesso hash
	if s.deduper != nil && !s.deduper.ShouldProcess(dedup.Key(msg.Payload())) {
		return nil
	}

	var evt messages.RecommendationEvent
	if err := json.Unmarshal(msg.Payload(), &evt); err != nil {
		return fmt.Errorf("invalid RecommendationEvent: %w", err)
	}
	if evt.DeviceID != s.deviceID {
		return nil
	}
	s.apply(evt)
	return nil
}

func (s *SensorSimulator) apply(evt messages.RecommendationEvent) {
	switch entities.Action(evt.Action) {
	case entities.ActionIrrigate:
		s.applyTimedPump(true, s.realDuration(evt.DurationMinutes))
	case entities.ActionPauseIrrigation:
		s.applyTimedPump(false, 0)
	case entities.ActionRefillReservoir:
		s.gen.Refill()
		s.log.Info("simulator: reservoir refilled", zap.String("device_id", s.deviceID))
	}
}

// realDuration converts simulated minutes to wall time.
func (s *SensorSimulator) realDuration(minutes int) time.Duration {
	return time.Duration(float64(minutes) * float64(time.Minute) / s.gen.speed)
}

func (s *SensorSimulator) applyTimedPump(on bool, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen.SetPump(on)
	s.log.Info("simulator: pump", zap.String("device_id", s.deviceID), zap.Bool("on", on), zap.Duration("for", d))

	if on && d > 0 {
		s.timer = time.AfterFunc(d, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.gen.SetPump(false)
			s.timer = nil
		})
	}
}

// Stop cancels a pending pump revert.
func (s *SensorSimulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// SimLink is an uplink that can be taken down for a while.
type SimLink struct {
	mu        sync.Mutex
	now       func() time.Time
	downUntil time.Time
}

var _ edge.Link = (*SimLink)(nil)

func NewSimLink() *SimLink { return &SimLink{now: time.Now} }

// Outage makes checks and reconnects fail for d.
func (l *SimLink) Outage(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.downUntil = l.now().Add(d)
}

func (l *SimLink) Check(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.now().Before(l.downUntil) {
		return ErrLinkDown
	}
	return nil
}

func (l *SimLink) Reconnect(ctx context.Context) error { return l.Check(ctx) }

func inverse(c config.Calibration) config.Calibration {
	return config.Calibration{RawA: c.OutA, OutA: c.RawA, RawB: c.OutB, OutB: c.RawB}
}

func implausible(ch edge.Channel, adcMax float64) float64 {
	switch ch {
	case edge.ChannelTemperature:
		return 255
	case edge.ChannelHumidity:
		return -1
	}
	if adcMax <= 0 {
		return math.NaN()
	}
	return adcMax * 4
}
