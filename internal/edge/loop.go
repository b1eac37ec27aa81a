package edge

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/logger"
	"github.com/LeonardoBeccarini/agrosmart/internal/metrics"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
)

// Loop is the device's single control loop. It owns the aggregator, the
// classifier, the connectivity manager and the previous snapshot.
type Loop struct {
	agg     *Aggregator
	cls     *Classifier
	conn    *ConnectivityManager
	rep     *Reporter
	clock   Clock
	cfg     config.LoopConfig
	log     *zap.Logger
	metrics *metrics.Edge

	readings   entities.Readings
	prev       entities.Snapshot
	hasPrev    bool
	nextSample time.Time
	nextLink   time.Time
}

func NewLoop(agg *Aggregator, cls *Classifier, conn *ConnectivityManager, rep *Reporter, clock Clock, cfg config.LoopConfig, log *zap.Logger, m *metrics.Edge) *Loop {
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 50 * time.Millisecond
	}
	return &Loop{
		agg:     agg,
		cls:     cls,
		conn:    conn,
		rep:     rep,
		clock:   clock,
		cfg:     cfg,
		log:     logger.OrNop(log),
		metrics: m,
	}
}

// Run polls both schedules until ctx ends or the link is lost for good.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("edge loop: started",
		zap.Duration("sample_interval", l.cfg.SampleInterval),
		zap.Duration("link_check_interval", l.cfg.LinkCheckInterval))
	for {
		if err := l.Step(ctx, l.clock.Now()); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := l.clock.Sleep(ctx, l.cfg.Tick); err != nil {
			return nil
		}
	}
}

// Step runs whatever is due at now: at most one link check and one sampling cycle.
func (l *Loop) Step(ctx context.Context, now time.Time) error {
	if !now.Before(l.nextLink) {
		l.nextLink = advance(l.nextLink, now, l.cfg.LinkCheckInterval)
		if err := l.conn.Check(ctx); err != nil {
			return err
		}
	}
	if !now.Before(l.nextSample) {
		l.nextSample = advance(l.nextSample, now, l.cfg.SampleInterval)
		l.cycle(ctx, now)
	}
	return ctx.Err()
}

// Last returns the most recent snapshot.
func (l *Loop) Last() (entities.Snapshot, bool) { return l.prev, l.hasPrev }

func (l *Loop) cycle(ctx context.Context, now time.Time) {
	readings := l.agg.Aggregate(ctx, l.readings)
	l.readings = readings
	if !l.agg.Primed() {
		// niente snapshot finché ogni canale non ha una lettura valida
		l.log.Warn("edge loop: cycle dropped, waiting for a first valid reading on every channel")
		if l.metrics != nil {
			l.metrics.Deliveries.WithLabelValues(string(OutcomeUnprimed)).Inc()
		}
		return
	}
	cond := l.cls.Classify(readings)
	snap := entities.NewSnapshot(readings, cond, l.conn.Connected(), now)

	if !l.hasPrev || snap.Condition != l.prev.Condition {
		l.log.Info("edge loop: status changed",
			zap.String("status", snap.Status()),
			zap.String("eco_mode", snap.EcoMode()))
		if l.metrics != nil {
			l.metrics.ConditionChange.WithLabelValues(snap.Status()).Inc()
		}
	}
	l.prev, l.hasPrev = snap, true

	outcome, err := l.rep.Report(ctx, snap)
	if l.metrics != nil {
		l.metrics.Cycles.Inc()
	}
	l.log.Debug("edge loop: cycle done",
		zap.String("outcome", string(outcome)),
		zap.Float64("soil_moisture", snap.SoilMoisture),
		zap.Float64("water_level", snap.WaterLevel),
		zap.NamedError("delivery_error", err))
}

// advance keeps a fixed cadence and skips missed slots.
func advance(next, now time.Time, every time.Duration) time.Time {
	if next.IsZero() {
		return now.Add(every)
	}
	next = next.Add(every)
	if !next.After(now) {
		next = now.Add(every)
	}
	return next
}
