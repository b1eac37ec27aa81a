package edge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/LeonardoBeccarini/agrosmart/internal/model/messages"
	"github.com/LeonardoBeccarini/agrosmart/pkg/rabbitmq"
)

// HTTPDeliverer posts the payload to the collector's ingestion endpoint.
type HTTPDeliverer struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPDeliverer(endpoint, deviceID string) *HTTPDeliverer {
	client := resty.New().
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Device-ID", deviceID)
	return &HTTPDeliverer{client: client, endpoint: endpoint}
}

// Deliver is bounded by ctx; the reporter sets the deadline.
func (d *HTTPDeliverer) Deliver(ctx context.Context, p messages.TelemetryPayload) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(p).
		Post(d.endpoint)
	if err != nil {
		return fmt.Errorf("post telemetry: %w", err)
	}
	if !resp.IsSuccess() {
		body := strings.TrimSpace(resp.String())
		if len(body) > 200 {
			body = body[:200]
		}
		return &RejectedError{StatusCode: resp.StatusCode(), Body: body}
	}
	return nil
}

// MQTTDeliverer publishes the payload at QoS 1 and waits for the broker ack.
type MQTTDeliverer struct {
	pub   rabbitmq.IPublisher
	topic string
}

func NewMQTTDeliverer(pub rabbitmq.IPublisher, topicTemplate, deviceID string) *MQTTDeliverer {
	return &MQTTDeliverer{pub: pub, topic: strings.ReplaceAll(topicTemplate, "{device}", deviceID)}
}

func (d *MQTTDeliverer) Deliver(ctx context.Context, p messages.TelemetryPayload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode telemetry: %w", err)
	}
	return d.pub.Publish(ctx, d.topic, b)
}
