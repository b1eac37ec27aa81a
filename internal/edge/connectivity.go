package edge

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/logger"
	"github.com/LeonardoBeccarini/agrosmart/internal/metrics"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
)

// ErrRestartRequired is returned once reconnect attempts are exhausted. The
// process is expected to exit and be restarted by its supervisor.
var ErrRestartRequired = errors.New("edge: link lost, restart required")

// Link is the wireless uplink.
type Link interface {
	// Check probes the link once.
	Check(ctx context.Context) error
	// Reconnect tries to bring the link back once.
	Reconnect(ctx context.Context) error
}

// ConnectivityManager owns DeviceLinkState. Only the loop goroutine calls it.
type ConnectivityManager struct {
	link       Link
	cfg        config.LinkConfig
	clock      Clock
	log        *zap.Logger
	metrics    *metrics.Edge
	newBackOff func() backoff.BackOff
	state      entities.DeviceLinkState
}

type ConnectivityOption func(*ConnectivityManager)

// WithBackOff replaces the exponential spacing between reconnect attempts.
func WithBackOff(f func() backoff.BackOff) ConnectivityOption {
	return func(m *ConnectivityManager) { m.newBackOff = f }
}

func WithLinkMetrics(em *metrics.Edge) ConnectivityOption {
	return func(m *ConnectivityManager) { m.metrics = em }
}

func NewConnectivityManager(link Link, cfg config.LinkConfig, clock Clock, log *zap.Logger, opts ...ConnectivityOption) *ConnectivityManager {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if clock == nil {
		clock = SystemClock{}
	}
	m := &ConnectivityManager{
		link:  link,
		cfg:   cfg,
		clock: clock,
		log:   logger.OrNop(log),
		state: entities.DeviceLinkState{Phase: entities.LinkPending},
	}
	m.newBackOff = func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		if cfg.BackoffInitial > 0 {
			bo.InitialInterval = cfg.BackoffInitial
		}
		if cfg.BackoffMax > 0 {
			bo.MaxInterval = cfg.BackoffMax
		}
		bo.MaxElapsedTime = 0
		return bo
	}
	for _, o := range opts {
		o(m)
	}
	m.publishPhase()
	return m
}

// State returns a copy of the current link state.
func (m *ConnectivityManager) State() entities.DeviceLinkState { return m.state }

// Connected gates delivery.
func (m *ConnectivityManager) Connected() bool { return m.state.Phase == entities.LinkConnected }

// Check runs one health check and, on failure, the bounded reconnect sequence.
// It returns ErrRestartRequired when the link could not be recovered.
func (m *ConnectivityManager) Check(ctx context.Context) error {
	if m.state.Phase == entities.LinkFailedHard {
		return ErrRestartRequired
	}
	m.state.LastCheck = m.clock.Now()

	err := m.probe(ctx)
	if err == nil {
		if m.state.Phase != entities.LinkConnected {
			m.log.Info("link: connected", zap.String("from", string(m.state.Phase)))
		}
		m.setConnected()
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.log.Warn("link: health check failed", zap.Error(err))
	m.setPhase(entities.LinkDegraded)
	return m.reconnect(ctx)
}

func (m *ConnectivityManager) probe(ctx context.Context) error {
	if m.cfg.HealthTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.HealthTimeout)
		defer cancel()
	}
	return m.link.Check(ctx)
}

func (m *ConnectivityManager) reconnect(ctx context.Context) error {
	m.setPhase(entities.LinkReconnecting)
	bo := m.newBackOff()
	bo.Reset()

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if m.metrics != nil {
			m.metrics.ReconnectTries.Inc()
		}
		err := m.attempt(ctx)
		if err == nil {
			m.log.Info("link: reconnected", zap.Int("attempt", attempt))
			m.setConnected()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.state.ConsecutiveFailures++
		m.log.Warn("link: reconnect attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.cfg.MaxAttempts),
			zap.Error(err))

		if attempt == m.cfg.MaxAttempts {
			break
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		if err := m.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}

	m.setPhase(entities.LinkFailedHard)
	m.log.Error("link: reconnect attempts exhausted", zap.Int("consecutive_failures", m.state.ConsecutiveFailures))
	return fmt.Errorf("%w after %d attempts", ErrRestartRequired, m.state.ConsecutiveFailures)
}

func (m *ConnectivityManager) attempt(ctx context.Context) error {
	if m.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.AttemptTimeout)
		defer cancel()
	}
	if err := m.link.Reconnect(ctx); err != nil {
		return err
	}
	return m.link.Check(ctx)
}

func (m *ConnectivityManager) setConnected() {
	m.state.ConsecutiveFailures = 0
	m.setPhase(entities.LinkConnected)
}

func (m *ConnectivityManager) setPhase(p entities.LinkPhase) {
	m.state.Phase = p
	m.state.Connected = p == entities.LinkConnected
	m.publishPhase()
}

func (m *ConnectivityManager) publishPhase() {
	if m.metrics == nil {
		return
	}
	for _, p := range []entities.LinkPhase{
		entities.LinkPending, entities.LinkConnected, entities.LinkDegraded,
		entities.LinkReconnecting, entities.LinkFailedHard,
	} {
		v := 0.0
		if p == m.state.Phase {
			v = 1
		}
		m.metrics.LinkPhase.WithLabelValues(string(p)).Set(v)
	}
}
