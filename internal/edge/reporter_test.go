package edge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/agrosmart/internal/metrics"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/messages"
)

func sampleSnapshot() entities.Snapshot {
	r := entities.Readings{
		Temperature:  30.04,
		Humidity:     59.96,
		SoilMoisture: 15.26,
		WaterLevel:   500.6,
	}
	return entities.NewSnapshot(r, entities.ConditionIrrigationNeeded, true,
		time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
}

func TestReporter_Delivered(t *testing.T) {
	type captured struct {
		header  string
		payload messages.TelemetryPayload
		err     error
	}
	seen := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c captured
		c.header = r.Header.Get("X-Device-ID")
		c.err = json.NewDecoder(r.Body).Decode(&c.payload)
		seen <- c
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ind := &countingIndicator{}
	reg := prometheus.NewRegistry()
	em := metrics.NewEdge(reg)
	rep := NewReporter(NewHTTPDeliverer(srv.URL, "plot-1"), gate(true), staticMeta{}, ind, time.Second, nil, em)

	out, err := rep.Report(context.Background(), sampleSnapshot())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, out)
	assert.Equal(t, 1, ind.pulses)

	c := <-seen
	require.NoError(t, c.err)
	got := c.payload
	assert.Equal(t, "plot-1", c.header)
	assert.InDelta(t, 1, testutil.ToFloat64(em.Deliveries.WithLabelValues("delivered")), 1e-9)

	assert.Equal(t, 30.0, got.Temperature)
	assert.Equal(t, 60.0, got.Humidity)
	assert.Equal(t, 15.3, got.SoilMoisture)
	assert.Equal(t, 501, got.WaterLevel)
	assert.Equal(t, "irrigation_needed", got.Status)
	assert.Equal(t, "smart_irrigation", got.EcoMode)
	assert.Equal(t, "2024-06-01T08:00:00Z", got.LastUpdated)
	assert.Equal(t, int64(90), got.Uptime)
	assert.Equal(t, -61, got.SignalStrength)
	assert.Equal(t, "10.0.0.7", got.DeviceIP)
	assert.True(t, got.LinkConnected)
}

func TestReporter_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ind := &countingIndicator{}
	rep := NewReporter(NewHTTPDeliverer(srv.URL, "plot-1"), gate(true), staticMeta{}, ind, time.Second, nil, nil)

	out, err := rep.Report(context.Background(), sampleSnapshot())
	assert.Equal(t, OutcomeRejected, out)
	var rej *RejectedError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, http.StatusInternalServerError, rej.StatusCode)
	assert.Zero(t, ind.pulses)
}

func TestReporter_SlowCollectorTimesOut(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rep := NewReporter(NewHTTPDeliverer(srv.URL, "plot-1"), gate(true), staticMeta{}, nil, 50*time.Millisecond, nil, nil)

	start := time.Now()
	out, err := rep.Report(context.Background(), sampleSnapshot())
	assert.Equal(t, OutcomeFailed, out)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), hits.Load(), "exactly one attempt")
}

func TestReporter_UnreachableCollector(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rep := NewReporter(NewHTTPDeliverer(url, "plot-1"), gate(true), staticMeta{}, nil, time.Second, nil, nil)
	out, err := rep.Report(context.Background(), sampleSnapshot())
	assert.Equal(t, OutcomeFailed, out)
	assert.Error(t, err)
}

type recordingDeliverer struct{ calls int }

func (d *recordingDeliverer) Deliver(context.Context, messages.TelemetryPayload) error {
	d.calls++
	return nil
}

func TestReporter_SkipsWhenLinkDown(t *testing.T) {
	d := &recordingDeliverer{}
	rep := NewReporter(d, gate(false), staticMeta{}, nil, time.Second, nil, nil)

	out, err := rep.Report(context.Background(), sampleSnapshot())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out)
	assert.Zero(t, d.calls)
}

type fakePublisher struct {
	topic   string
	payload []byte
	err     error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.topic, p.payload = topic, payload
	return p.err
}

func TestMQTTDeliverer(t *testing.T) {
	pub := &fakePublisher{}
	rep := NewReporter(NewMQTTDeliverer(pub, "sensor/snapshot/{device}", "plot-9"), gate(true), staticMeta{}, nil, time.Second, nil, nil)

	out, err := rep.Report(context.Background(), sampleSnapshot())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, out)
	assert.Equal(t, "sensor/snapshot/plot-9", pub.topic)

	var p messages.TelemetryPayload
	require.NoError(t, json.Unmarshal(pub.payload, &p))
	assert.Equal(t, "plot-1", p.DeviceID)

	pub.err = errors.New("broker gone")
	out, _ = rep.Report(context.Background(), sampleSnapshot())
	assert.Equal(t, OutcomeFailed, out)
}
