package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/agrosmart/internal/model/messages"
	"github.com/LeonardoBeccarini/agrosmart/pkg/dedup"
	"github.com/LeonardoBeccarini/agrosmart/pkg/rabbitmq"
)

// NewSnapshotHandler ingests telemetry delivered over MQTT. QoS 1
// redeliveries carry the same bytes and are dropped by hash. The device id
// comes from the payload, then from the last topic level.
func NewSnapshotHandler(svc *Service, d *dedup.Deduper) rabbitmq.Handler {
	return func(topic string, msg mqtt.Message) error {
		payload := msg.Payload()
		if d != nil && !d.ShouldProcess(dedup.Key(payload)) {
			return nil
		}

		var p messages.TelemetryPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			svc.countRejected("bad_json")
			return fmt.Errorf("invalid telemetry payload: %w", err)
		}
		snap, err := p.Snapshot()
		if err != nil {
			svc.countRejected("invalid_snapshot")
			return err
		}

		id := strings.TrimSpace(p.DeviceID)
		if id == "" {
			id = topicDevice(topic)
		}
		if id == "" {
			svc.countRejected("no_device")
			return fmt.Errorf("no device id in payload or topic %q", topic)
		}
		_, err = svc.Ingest(context.Background(), id, snap, "mqtt")
		return err
	}
}

func topicDevice(topic string) string {
	i := strings.LastIndex(topic, "/")
	if i < 0 || i == len(topic)-1 {
		return ""
	}
	last := topic[i+1:]
	if last == "+" || last == "#" {
		return ""
	}
	return last
}
