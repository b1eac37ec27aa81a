package edge

import (
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/logger"
	"github.com/LeonardoBeccarini/agrosmart/internal/metrics"
)

// Parts are the environment-specific pieces of one device.
type Parts struct {
	Source    SampleSource
	Link      Link
	Deliverer Deliverer
	Indicator Indicator // optional
	Clock     Clock     // optional, SystemClock
	Meta      MetaProvider
}

// Assemble wires aggregator, classifier, connectivity manager and reporter
// into a loop for cfg.
func Assemble(cfg config.EdgeConfig, p Parts, log *zap.Logger, m *metrics.Edge) *Loop {
	log = logger.OrNop(log).With(zap.String("device_id", cfg.Device.ID))
	clock := p.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	meta := p.Meta
	if meta == nil {
		meta = NewDeviceInfo(cfg.Device, clock)
	}

	agg := NewAggregator(p.Source, cfg.Sampling, clock, log, m)
	cls := NewClassifier(cfg.Thresholds)
	conn := NewConnectivityManager(p.Link, cfg.Link, clock, log, WithLinkMetrics(m))
	rep := NewReporter(p.Deliverer, conn, meta, p.Indicator, cfg.Reporter.Timeout, log, m)
	return NewLoop(agg, cls, conn, rep, clock, cfg.Loop, log, m)
}
