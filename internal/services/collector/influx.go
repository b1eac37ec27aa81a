package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/logger"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/messages"
)

// PointWriter is the part of api.WriteAPIBlocking the sink uses.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink stores recommendation events as points of the "recommendation"
// measurement. Writes go through a circuit breaker so a dead database costs
// nothing once the breaker is open. It remembers the last write error for
// the health handlers.
type InfluxSink struct {
	w       PointWriter
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	lastErr time.Time
}

func NewInfluxSink(w PointWriter, cfg config.InfluxConfig, log *zap.Logger) *InfluxSink {
	log = logger.OrNop(log)
	fails := cfg.BreakerFailures
	if fails == 0 {
		fails = 3
	}
	s := &InfluxSink{
		w:       w,
		timeout: cfg.WriteTimeout,
		now:     time.Now,
		lastErr: time.Now().Add(-24 * time.Hour), // "lontano nel tempo"
	}
	s.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "influx",
		Timeout: cfg.BreakerOpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= fails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("collector: breaker state", zap.String("breaker", name),
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return s
}

func (s *InfluxSink) Record(ctx context.Context, evt messages.RecommendationEvent) error {
	p := EventPoint(evt)
	_, err := s.cb.Execute(func() (interface{}, error) {
		wctx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			wctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		return nil, s.w.WritePoint(wctx, p)
	})
	if err != nil {
		s.mu.Lock()
		s.lastErr = s.now()
		s.mu.Unlock()
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

// LastErrorAge tells how long ago the last write failed.
func (s *InfluxSink) LastErrorAge() time.Duration {
	s.mu.RLock()
	t := s.lastErr
	s.mu.RUnlock()
	return s.now().Sub(t)
}

func (s *InfluxSink) BreakerState() string { return s.cb.State().String() }

// EventPoint maps an event to its point; device, action and status are tags.
func EventPoint(evt messages.RecommendationEvent) *write.Point {
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return influxdb2.NewPoint("recommendation",
		map[string]string{
			"device_id": evt.DeviceID,
			"action":    evt.Action,
			"status":    evt.Status,
		},
		map[string]interface{}{
			"id":               evt.ID,
			"score":            evt.Score,
			"duration_minutes": int64(evt.DurationMinutes),
			"rationale":        evt.Rationale,
			"snapshot_unix":    evt.SnapshotTime.Unix(),
		},
		ts)
}
