package collector

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServiceName is the name reported by the gRPC health service.
const GRPCServiceName = "plot.collector"

// ConnChecker is satisfied by mqtt.Client.
type ConnChecker interface {
	IsConnectionOpen() bool
}

// SinkChecker is satisfied by *InfluxSink.
type SinkChecker interface {
	LastErrorAge() time.Duration
	BreakerState() string
}

// Health summarizes the optional dependencies. A nil dependency is disabled
// and does not count against readiness.
type Health struct {
	mqtt      ConnChecker
	sink      SinkChecker
	store     *Store
	minErrAge time.Duration
	started   time.Time
	now       func() time.Time
}

type HealthReport struct {
	Status          string  `json:"status"` // ok | degraded
	Ready           bool    `json:"ready"`
	MQTT            string  `json:"mqtt"`   // disabled | connected | disconnected
	Influx          string  `json:"influx"` // disabled | ok | failing | breaker state
	LastWriteErrorS float64 `json:"last_write_error_age_sec,omitempty"`
	Devices         int     `json:"devices"`
	UptimeS         int64   `json:"uptime_sec"`
}

func NewHealth(m ConnChecker, sink SinkChecker, store *Store, minErrAge time.Duration) *Health {
	return &Health{mqtt: m, sink: sink, store: store, minErrAge: minErrAge, started: time.Now(), now: time.Now}
}

func (h *Health) Report() HealthReport {
	r := HealthReport{MQTT: "disabled", Influx: "disabled", Ready: true}
	if h.store != nil {
		r.Devices = h.store.Len()
	}
	r.UptimeS = int64(h.now().Sub(h.started) / time.Second)

	if h.mqtt != nil {
		if h.mqtt.IsConnectionOpen() {
			r.MQTT = "connected"
		} else {
			r.MQTT = "disconnected"
			r.Ready = false
		}
	}
	if h.sink != nil {
		age := h.sink.LastErrorAge()
		r.LastWriteErrorS = age.Seconds()
		switch state := h.sink.BreakerState(); {
		case state != "closed":
			r.Influx = "breaker " + state
			r.Ready = false
		case age <= h.minErrAge:
			r.Influx = "failing"
			r.Ready = false
		default:
			r.Influx = "ok"
		}
	}

	r.Status = "ok"
	if !r.Ready {
		r.Status = "degraded"
	}
	return r
}

// ServeGRPC keeps the gRPC health status in line with Report until ctx ends.
func (h *Health) ServeGRPC(ctx context.Context, srv *health.Server, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}
	h.syncGRPC(srv)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			srv.Shutdown()
			return
		case <-t.C:
			h.syncGRPC(srv)
		}
	}
}

func (h *Health) syncGRPC(srv *health.Server) {
	status := healthpb.HealthCheckResponse_SERVING
	if !h.Report().Ready {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	srv.SetServingStatus("", status)
	srv.SetServingStatus(GRPCServiceName, status)
}
