package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/agrosmart/internal/logger"
	"github.com/LeonardoBeccarini/agrosmart/internal/metrics"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/messages"
	"github.com/LeonardoBeccarini/agrosmart/pkg/rabbitmq"
)

var ErrQueueFull = errors.New("collector: event queue full")

// EventSink records recommendation events somewhere outside the process.
type EventSink interface {
	Record(ctx context.Context, evt messages.RecommendationEvent) error
}

// Fanout records to every sink and joins their errors.
type Fanout []EventSink

func (f Fanout) Record(ctx context.Context, evt messages.RecommendationEvent) error {
	var errs []error
	for _, s := range f {
		if err := s.Record(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MQTTSink publishes events to a per-device topic ({device} is replaced).
type MQTTSink struct {
	pub   rabbitmq.IPublisher
	topic string
}

func NewMQTTSink(pub rabbitmq.IPublisher, topicTemplate string) *MQTTSink {
	return &MQTTSink{pub: pub, topic: topicTemplate}
}

func (m *MQTTSink) Topic(deviceID string) string {
	return strings.ReplaceAll(m.topic, "{device}", deviceID)
}

func (m *MQTTSink) Record(ctx context.Context, evt messages.RecommendationEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal recommendation: %w", err)
	}
	return m.pub.Publish(ctx, m.Topic(evt.DeviceID), body)
}

// Dispatcher decouples ingestion from slow sinks: Record only enqueues, a
// single worker drains the queue. When the queue is full the event is dropped.
type Dispatcher struct {
	queue   chan messages.RecommendationEvent
	sink    EventSink
	timeout time.Duration
	metrics *metrics.Collector
	log     *zap.Logger
}

func NewDispatcher(sink EventSink, size int, timeout time.Duration, m *metrics.Collector, log *zap.Logger) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Dispatcher{
		queue:   make(chan messages.RecommendationEvent, size),
		sink:    sink,
		timeout: timeout,
		metrics: m,
		log:     logger.OrNop(log),
	}
}

func (d *Dispatcher) Record(_ context.Context, evt messages.RecommendationEvent) error {
	select {
	case d.queue <- evt:
		return nil
	default:
		d.failed()
		return ErrQueueFull
	}
}

// Run drains the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-d.queue:
			d.deliver(evt)
		}
	}
}

func (d *Dispatcher) deliver(evt messages.RecommendationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sink.Record(ctx, evt); err != nil {
		d.failed()
		d.log.Warn("collector: sink error",
			zap.String("device_id", evt.DeviceID),
			zap.String("recommendation_id", evt.ID),
			zap.Error(err))
	}
}

func (d *Dispatcher) failed() {
	if d.metrics != nil {
		d.metrics.SinkErrors.Inc()
	}
}
