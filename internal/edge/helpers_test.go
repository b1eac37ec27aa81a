package edge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/messages"
)

var errSensor = errors.New("i2c: no ack")

type analogRead struct {
	v   float64
	err error
}

type digitalRead struct {
	v   bool
	err error
}

// fakeSource replays scripted reads per channel; the last entry repeats.
type fakeSource struct {
	mu      sync.Mutex
	analog  map[Channel][]analogRead
	digital map[Channel][]digitalRead
	reads   map[Channel]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		analog:  map[Channel][]analogRead{},
		digital: map[Channel][]digitalRead{},
		reads:   map[Channel]int{},
	}
}

func (f *fakeSource) setAnalog(ch Channel, vals ...float64) *fakeSource {
	f.analog[ch] = nil
	for _, v := range vals {
		f.analog[ch] = append(f.analog[ch], analogRead{v: v})
	}
	return f
}

func (f *fakeSource) failAnalog(ch Channel) *fakeSource {
	f.analog[ch] = []analogRead{{err: errSensor}}
	return f
}

func (f *fakeSource) setDigital(ch Channel, vals ...bool) *fakeSource {
	f.digital[ch] = nil
	for _, v := range vals {
		f.digital[ch] = append(f.digital[ch], digitalRead{v: v})
	}
	return f
}

func (f *fakeSource) failDigital(ch Channel) *fakeSource {
	f.digital[ch] = []digitalRead{{err: errSensor}}
	return f
}

func (f *fakeSource) ReadAnalog(_ context.Context, ch Channel) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[ch]++
	q := f.analog[ch]
	if len(q) == 0 {
		return 0, ErrUnsupportedChannel
	}
	r := q[0]
	if len(q) > 1 {
		f.analog[ch] = q[1:]
	}
	return r.v, r.err
}

func (f *fakeSource) ReadDigital(_ context.Context, ch Channel) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[ch]++
	q := f.digital[ch]
	if len(q) == 0 {
		return false, ErrUnsupportedChannel
	}
	r := q[0]
	if len(q) > 1 {
		f.digital[ch] = q[1:]
	}
	return r.v, r.err
}

// healthySource reads a plausible, optimal plot.
func healthySource() *fakeSource {
	return newFakeSource().
		setAnalog(ChannelTemperature, 24).
		setAnalog(ChannelHumidity, 55).
		setAnalog(ChannelSoil, 2250). // 50 %
		setAnalog(ChannelWater, 2457). // ~600 L
		setDigital(ChannelRain, false).
		setDigital(ChannelPump, false)
}

// fakeClock advances only when slept on.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func testSampling() config.SamplingConfig {
	return config.DefaultEdge().Sampling
}

// fakeLink fails Check while down, and Reconnect per script.
type fakeLink struct {
	down          bool
	reconnects    []error // consumed in order; empty means success
	checks        int
	reconnectHits int
}

func (l *fakeLink) Check(context.Context) error {
	l.checks++
	if l.down {
		return errors.New("no route to host")
	}
	return nil
}

func (l *fakeLink) Reconnect(context.Context) error {
	l.reconnectHits++
	if len(l.reconnects) == 0 {
		l.down = false
		return nil
	}
	err := l.reconnects[0]
	l.reconnects = l.reconnects[1:]
	if err == nil {
		l.down = false
	}
	return err
}

type staticMeta struct{}

func (staticMeta) Meta() messages.DeviceMeta {
	return messages.DeviceMeta{
		DeviceID:       "plot-1",
		DeviceIP:       "10.0.0.7",
		SystemVersion:  "8.3",
		SignalStrength: -61,
		Uptime:         90 * time.Second,
	}
}

type gate bool

func (g gate) Connected() bool { return bool(g) }

type countingIndicator struct{ pulses int }

func (c *countingIndicator) Pulse() { c.pulses++ }
