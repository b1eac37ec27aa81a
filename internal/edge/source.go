package edge

import (
	"context"
	"errors"
	"time"
)

// Channel names one physical input of the plot station.
type Channel string

const (
	ChannelTemperature Channel = "temperature"
	ChannelHumidity    Channel = "humidity"
	ChannelSoil        Channel = "soil_moisture"
	ChannelWater       Channel = "water_level"
	ChannelRain        Channel = "rain"
	ChannelPump        Channel = "pump"
)

var ErrUnsupportedChannel = errors.New("edge: unsupported channel")

// SampleSource performs single raw reads. Analog channels return raw counts
// (soil, water) or physical units (temperature, humidity).
type SampleSource interface {
	ReadAnalog(ctx context.Context, ch Channel) (float64, error)
	ReadDigital(ctx context.Context, ch Channel) (bool, error)
}

// Indicator is the local acknowledgement shown after a delivery.
type Indicator interface {
	Pulse()
}

type nopIndicator struct{}

func (nopIndicator) Pulse() {}

// Clock is the loop's view of time.
type Clock interface {
	Now() time.Time
	// Sleep returns early with ctx.Err() when ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock uses the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
