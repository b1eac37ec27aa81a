package collector

import (
	"context"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/metrics"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/messages"
	"github.com/LeonardoBeccarini/agrosmart/internal/services/decision"
)

var base = time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	events []messages.RecommendationEvent
	err    error
}

func (s *recordingSink) Record(_ context.Context, evt messages.RecommendationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.err
}

func (s *recordingSink) Events() []messages.RecommendationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]messages.RecommendationEvent(nil), s.events...)
}

type fakeWriter struct {
	mu     sync.Mutex
	calls  int
	points []*write.Point
	err    error
}

func (w *fakeWriter) WritePoint(_ context.Context, p ...*write.Point) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return w.err
	}
	w.points = append(w.points, p...)
	return nil
}

func (w *fakeWriter) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	bodies [][]byte
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.bodies = append(p.bodies, payload)
	return nil
}

type fakeConn bool

func (c fakeConn) IsConnectionOpen() bool { return bool(c) }

type fixture struct {
	clock *testClock
	sink  *recordingSink
	reg   *prometheus.Registry
	m     *metrics.Collector
	store *Store
	svc   *Service
}

func newFixture() *fixture {
	f := &fixture{
		clock: &testClock{t: base},
		sink:  &recordingSink{},
		reg:   prometheus.NewRegistry(),
		store: NewStore(entities.ModeAutomatic),
	}
	f.m = metrics.NewCollector(f.reg)
	cfg := config.DefaultCollector()
	f.svc = NewService(f.store, decision.NewEngine(cfg.Decision, cfg.Thresholds),
		WithEventSink(f.sink), WithMetrics(f.m), WithClock(f.clock.Now))
	return f
}

func snap(cond entities.Condition, mut func(*entities.Readings)) entities.Snapshot {
	r := entities.Readings{Temperature: 24, Humidity: 55, SoilMoisture: 50, WaterLevel: 600}
	if mut != nil {
		mut(&r)
	}
	return entities.NewSnapshot(r, cond, true, base)
}

func dryPlot() entities.Snapshot {
	return snap(entities.ConditionIrrigationNeeded, func(r *entities.Readings) {
		r.Temperature, r.Humidity, r.SoilMoisture, r.WaterLevel = 30, 60, 15, 500
	})
}

// payload builds a valid telemetry body for the given snapshot.
func payload(deviceID string, s entities.Snapshot) messages.TelemetryPayload {
	return messages.NewTelemetryPayload(s, messages.DeviceMeta{
		DeviceID:       deviceID,
		DeviceIP:       "10.0.0.7",
		SystemVersion:  "8.3",
		SignalStrength: -61,
		Uptime:         90 * time.Second,
	})
}
