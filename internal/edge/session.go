package edge

import (
	"context"
	"errors"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/agrosmart/pkg/rabbitmq"
)

var errNoSession = errors.New("mqtt: no open session")

// DialFunc opens one broker session or fails within ctx.
type DialFunc func(ctx context.Context) (mqtt.Client, error)

// SessionLink is the uplink when telemetry goes over MQTT: it is healthy while
// the broker session is open, and Reconnect dials a new session. It also
// publishes, so delivery never races a session being replaced.
type SessionLink struct {
	dial DialFunc
	cmd  *ProbeLink // only for the optional reconnect command
	qos  byte

	mu     sync.Mutex
	client mqtt.Client
}

func NewSessionLink(dial DialFunc, reconnectCmd []string, qos byte) *SessionLink {
	return &SessionLink{dial: dial, cmd: NewProbeLink("", reconnectCmd), qos: qos}
}

func (l *SessionLink) current() mqtt.Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client
}

func (l *SessionLink) Check(context.Context) error {
	if c := l.current(); c != nil && c.IsConnectionOpen() {
		return nil
	}
	return errNoSession
}

func (l *SessionLink) Reconnect(ctx context.Context) error {
	if err := l.cmd.Reconnect(ctx); err != nil {
		return err
	}
	// paho may have restored the session on its own meanwhile
	if l.Check(ctx) == nil {
		return nil
	}
	c, err := l.dial(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	old := l.client
	l.client = c
	l.mu.Unlock()
	rabbitmq.CloseRabbitMQConn(old)
	return nil
}

// Publish implements rabbitmq.IPublisher over the current session.
func (l *SessionLink) Publish(ctx context.Context, topic string, payload []byte) error {
	c := l.current()
	if c == nil || !c.IsConnectionOpen() {
		return errNoSession
	}
	return rabbitmq.NewPublisher(c, l.qos).Publish(ctx, topic, payload)
}

func (l *SessionLink) Close() {
	l.mu.Lock()
	c := l.client
	l.client = nil
	l.mu.Unlock()
	rabbitmq.CloseRabbitMQConn(c)
}
