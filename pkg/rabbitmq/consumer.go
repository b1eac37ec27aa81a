package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const subscribeTimeout = 10 * time.Second

// Handler processes one message; an error is logged and the message dropped.
type Handler func(topic string, msg mqtt.Message) error

type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(h Handler)
}

// Consumer subscribes to one topic filter. While ConsumeMessage runs the
// subscription is re-issued on every reconnect of the client.
type Consumer struct {
	client  mqtt.Client
	topic   string
	qos     byte
	mu      sync.RWMutex
	handler Handler
	log     *zap.Logger
}

func NewConsumer(client mqtt.Client, topic string, qos byte, handler Handler, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{client: client, topic: topic, qos: qos, handler: handler, log: log}
}

func (c *Consumer) SetHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// ConsumeMessage subscribes and blocks until ctx is cancelled.
func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	track(c)
	defer untrack(c)

	if err := c.subscribe(); err != nil {
		return err
	}
	c.log.Info("mqtt: subscribed", zap.String("topic", c.topic), zap.Uint8("qos", c.qos))

	<-ctx.Done()

	c.client.Unsubscribe(c.topic).WaitTimeout(subscribeTimeout)
	return nil
}

func (c *Consumer) subscribe() error {
	token := c.client.Subscribe(c.topic, c.qos, c.dispatch)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("subscribe %s: timed out", c.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, err)
	}
	return nil
}

func (c *Consumer) dispatch(_ mqtt.Client, msg mqtt.Message) {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		c.log.Warn("mqtt: no handler set", zap.String("topic", c.topic))
		return
	}
	if err := h(msg.Topic(), msg); err != nil {
		c.log.Warn("mqtt: handler error", zap.String("topic", msg.Topic()), zap.Error(err))
	}
}

// active holds, per client, the consumers to restore after a reconnect.
// With a clean session the broker forgets subscriptions on disconnect.
var active = struct {
	sync.Mutex
	m map[mqtt.Client]map[*Consumer]struct{}
}{m: make(map[mqtt.Client]map[*Consumer]struct{})}

func track(c *Consumer) {
	active.Lock()
	defer active.Unlock()
	set, ok := active.m[c.client]
	if !ok {
		set = make(map[*Consumer]struct{})
		active.m[c.client] = set
	}
	set[c] = struct{}{}
}

func untrack(c *Consumer) {
	active.Lock()
	defer active.Unlock()
	set := active.m[c.client]
	delete(set, c)
	if len(set) == 0 {
		delete(active.m, c.client)
	}
}

// resubscribe runs from the client's OnConnect hook.
func resubscribe(client mqtt.Client, log *zap.Logger) {
	active.Lock()
	consumers := make([]*Consumer, 0, len(active.m[client]))
	for c := range active.m[client] {
		consumers = append(consumers, c)
	}
	active.Unlock()

	for _, c := range consumers {
		if err := c.subscribe(); err != nil {
			log.Error("mqtt: resubscribe failed", zap.String("topic", c.topic), zap.Error(err))
			continue
		}
		log.Info("mqtt: resubscribed", zap.String("topic", c.topic))
	}
}
