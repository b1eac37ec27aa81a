package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/agrosmart/internal/logger"
	"github.com/LeonardoBeccarini/agrosmart/internal/metrics"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/messages"
	"github.com/LeonardoBeccarini/agrosmart/internal/services/decision"
)

// Decline reasons stored in ModeState.Declined.
const (
	DeclinedManual = "manual_mode"
	DeclinedNone   = "no_snapshot"
	DeclinedStale  = "stale_snapshot"
)

// Service ties the store to the decision engine. Every write to a device
// re-evaluates it under the device lock; recommendation events leave only
// after the lock is released.
type Service struct {
	store   *Store
	engine  *decision.Engine
	sink    EventSink
	metrics *metrics.Collector
	now     func() time.Time
	log     *zap.Logger
}

type Option func(*Service)

func WithEventSink(sink EventSink) Option { return func(s *Service) { s.sink = sink } }

func WithMetrics(m *metrics.Collector) Option { return func(s *Service) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = logger.OrNop(l) } }

func NewService(store *Store, engine *decision.Engine, opts ...Option) *Service {
	s := &Service{store: store, engine: engine, now: time.Now, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Store() *Store { return s.store }

// Ingest replaces the device's latest snapshot and re-evaluates it.
func (s *Service) Ingest(ctx context.Context, deviceID string, snap entities.Snapshot, source string) (entities.ModeState, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return entities.ModeState{}, fmt.Errorf("%w: empty device id", messages.ErrInvalidSnapshot)
	}
	now := s.now()

	var evt *messages.RecommendationEvent
	st := s.store.Upsert(deviceID, func(st *entities.ModeState) {
		snap := snap
		st.Snapshot = &snap
		st.ReceivedAt = now
		st.Updates++
		evt = s.evaluate(st, now)
	})

	if s.metrics != nil {
		s.metrics.Ingested.WithLabelValues(source).Inc()
	}
	s.log.Debug("collector: snapshot ingested",
		zap.String("device_id", deviceID),
		zap.String("source", source),
		zap.String("status", snap.Status()),
		zap.Int64("updates", st.Updates))

	s.publish(ctx, evt)
	return st, nil
}

// SetMode switches one known device and re-evaluates it right away.
func (s *Service) SetMode(ctx context.Context, deviceID string, mode entities.Mode) (entities.ModeState, error) {
	if _, err := entities.ParseMode(string(mode)); err != nil {
		return entities.ModeState{}, err
	}
	now := s.now()

	var evt *messages.RecommendationEvent
	st, err := s.store.Update(deviceID, func(st *entities.ModeState) {
		st.Mode = mode
		evt = s.evaluate(st, now)
	})
	if err != nil {
		return entities.ModeState{}, err
	}
	s.log.Info("collector: mode changed", zap.String("device_id", deviceID), zap.String("mode", string(mode)))
	s.publish(ctx, evt)
	return st, nil
}

// SetGlobalMode changes the default for new devices and switches every known one.
func (s *Service) SetGlobalMode(ctx context.Context, mode entities.Mode) error {
	if _, err := entities.ParseMode(string(mode)); err != nil {
		return err
	}
	s.store.SetDefaultMode(mode)
	for _, id := range s.store.IDs() {
		if _, err := s.SetMode(ctx, id, mode); err != nil && !errors.Is(err, ErrUnknownDevice) {
			return fmt.Errorf("set mode %s: %w", id, err)
		}
	}
	return nil
}

// Mode returns a device's mode, or the global default for an empty id.
func (s *Service) Mode(deviceID string) (entities.Mode, error) {
	if deviceID == "" {
		return s.store.DefaultMode(), nil
	}
	st, err := s.store.Get(deviceID)
	if err != nil {
		return "", err
	}
	return st.Mode, nil
}

// Recommendation evaluates the stored snapshot against the current time
// without touching the stored state. It returns the engine's decline errors.
func (s *Service) Recommendation(deviceID string) (entities.Recommendation, error) {
	st, err := s.store.Get(deviceID)
	if err != nil {
		return entities.Recommendation{}, err
	}
	return s.engine.Evaluate(decision.Input{
		DeviceID:   st.DeviceID,
		Mode:       st.Mode,
		Snapshot:   st.Snapshot,
		ReceivedAt: st.ReceivedAt,
		Now:        s.now(),
	})
}

// Fresh tells whether the device's snapshot is within the engine's age limit.
func (s *Service) Fresh(st entities.ModeState) bool {
	if st.Snapshot == nil {
		return false
	}
	limit := s.engine.MaxSnapshotAge()
	return limit <= 0 || s.now().Sub(st.ReceivedAt) <= limit
}

// evaluate runs under the entry lock. It returns the event to publish when
// the recommended action changed.
func (s *Service) evaluate(st *entities.ModeState, now time.Time) *messages.RecommendationEvent {
	prev := st.Recommendation
	rec, err := s.engine.Evaluate(decision.Input{
		DeviceID:   st.DeviceID,
		Mode:       st.Mode,
		Snapshot:   st.Snapshot,
		ReceivedAt: st.ReceivedAt,
		Now:        now,
	})
	if err != nil {
		st.Recommendation = nil
		st.Declined = DeclineReason(err)
		if s.metrics != nil {
			s.metrics.Declined.WithLabelValues(st.Declined).Inc()
		}
		return nil
	}

	st.Recommendation = &rec
	st.Declined = ""
	if s.metrics != nil {
		s.metrics.Score.WithLabelValues(st.DeviceID).Set(rec.Score)
	}
	if prev != nil && prev.Action == rec.Action {
		return nil
	}
	if s.metrics != nil {
		s.metrics.Recommendations.WithLabelValues(string(rec.Action)).Inc()
	}
	evt := NewRecommendationEvent(rec, now)
	return &evt
}

func (s *Service) publish(ctx context.Context, evt *messages.RecommendationEvent) {
	if evt == nil {
		return
	}
	s.log.Info("collector: recommendation",
		zap.String("device_id", evt.DeviceID),
		zap.String("action", evt.Action),
		zap.Int("duration_minutes", evt.DurationMinutes),
		zap.Float64("score", evt.Score))
	if s.sink == nil {
		return
	}
	if err := s.sink.Record(ctx, *evt); err != nil {
		s.log.Warn("collector: recommendation event dropped", zap.String("device_id", evt.DeviceID), zap.Error(err))
	}
}

func (s *Service) countRejected(reason string) {
	if s.metrics != nil {
		s.metrics.Rejected.WithLabelValues(reason).Inc()
	}
}

// DeclineReason maps an engine error to the code stored on the device.
func DeclineReason(err error) string {
	switch {
	case errors.Is(err, decision.ErrManualMode):
		return DeclinedManual
	case errors.Is(err, decision.ErrNoSnapshot):
		return DeclinedNone
	case errors.Is(err, decision.ErrStaleSnapshot):
		return DeclinedStale
	}
	return "error"
}

func NewRecommendationEvent(rec entities.Recommendation, now time.Time) messages.RecommendationEvent {
	return messages.RecommendationEvent{
		ID:              rec.ID,
		DeviceID:        rec.DeviceID,
		Action:          string(rec.Action),
		DurationMinutes: rec.DurationMinutes,
		Score:           rec.Score,
		Rationale:       rec.Rationale,
		Status:          rec.Status,
		SnapshotTime:    rec.SnapshotTime,
		Timestamp:       now.UTC(),
	}
}
