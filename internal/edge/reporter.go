package edge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/agrosmart/internal/logger"
	"github.com/LeonardoBeccarini/agrosmart/internal/metrics"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/messages"
)

// Outcome of one delivery cycle.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeRejected  Outcome = "rejected" // collector answered non-2xx
	OutcomeFailed    Outcome = "failed"   // no answer within the timeout
	OutcomeSkipped   Outcome = "skipped"  // link not connected
	OutcomeUnprimed  Outcome = "unprimed" // no valid reading yet on some channel
)

// RejectedError carries the collector's non-2xx status.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("collector rejected telemetry: HTTP %d %s", e.StatusCode, e.Body)
}

// Deliverer makes exactly one delivery attempt.
type Deliverer interface {
	Deliver(ctx context.Context, p messages.TelemetryPayload) error
}

type LinkGate interface {
	Connected() bool
}

type MetaProvider interface {
	Meta() messages.DeviceMeta
}

// Reporter sends one payload per cycle and never queues.
type Reporter struct {
	deliver   Deliverer
	gate      LinkGate
	meta      MetaProvider
	indicator Indicator
	timeout   time.Duration
	log       *zap.Logger
	metrics   *metrics.Edge
}

func NewReporter(d Deliverer, gate LinkGate, meta MetaProvider, ind Indicator, timeout time.Duration, log *zap.Logger, m *metrics.Edge) *Reporter {
	if ind == nil {
		ind = nopIndicator{}
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Reporter{
		deliver:   d,
		gate:      gate,
		meta:      meta,
		indicator: ind,
		timeout:   timeout,
		log:       logger.OrNop(log),
		metrics:   m,
	}
}

// Report never touches link state; HTTP errors are not link errors.
func (r *Reporter) Report(ctx context.Context, s entities.Snapshot) (Outcome, error) {
	out, err := r.report(ctx, s)
	if r.metrics != nil {
		r.metrics.Deliveries.WithLabelValues(string(out)).Inc()
	}
	return out, err
}

func (r *Reporter) report(ctx context.Context, s entities.Snapshot) (Outcome, error) {
	if r.gate != nil && !r.gate.Connected() {
		r.log.Debug("reporter: link down, cycle dropped")
		return OutcomeSkipped, nil
	}

	p := messages.NewTelemetryPayload(s, r.meta.Meta())

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.deliver.Deliver(ctx, p)
	if err == nil {
		r.indicator.Pulse()
		r.log.Debug("reporter: delivered", zap.String("status", p.Status))
		return OutcomeDelivered, nil
	}

	var rej *RejectedError
	if errors.As(err, &rej) {
		r.log.Warn("reporter: rejected", zap.Int("http_status", rej.StatusCode))
		return OutcomeRejected, err
	}
	r.log.Warn("reporter: delivery failed", zap.Duration("timeout", r.timeout), zap.Error(err))
	return OutcomeFailed, err
}
