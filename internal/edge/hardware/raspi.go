// Package hardware reads the plot sensors on a Raspberry Pi through gobot.
//
// Wiring: SHT2x on I2C for temperature and humidity, an ADS1115 for the
// capacitive soil probe and the reservoir level sensor, the rain module on a
// GPIO input and the pump relay read back from its GPIO. A status LED
// blinks on each delivered report.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/raspi"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/edge"
	"github.com/LeonardoBeccarini/agrosmart/internal/logger"
)

const pulseLength = 150 * time.Millisecond

type climateSensor interface {
	Temperature() (float32, error)
	Humidity() (float32, error)
}

type analogReader interface {
	AnalogRead(pin string) (int, error)
}

type digitalReader interface {
	DigitalRead(pin string) (int, error)
}

type light interface {
	On() error
	Off() error
}

type driver interface {
	Start() error
	Halt() error
}

type namedDriver struct {
	name string
	drv  driver
}

// Board is a SampleSource and an Indicator backed by the Pi peripherals.
type Board struct {
	mu      sync.Mutex
	climate climateSensor
	adc     analogReader
	gpio    digitalReader
	led     light
	cfg     config.SourceConfig
	log     *zap.Logger
	closers []func() error
}

var (
	_ edge.SampleSource = (*Board)(nil)
	_ edge.Indicator    = (*Board)(nil)
)

// Open connects the adaptor and starts the drivers.
func Open(cfg config.SourceConfig, log *zap.Logger) (*Board, error) {
	r := raspi.NewAdaptor()
	if err := r.Connect(); err != nil {
		return nil, fmt.Errorf("raspi connect: %w", err)
	}
	sht := i2c.NewSHT2xDriver(r)
	ads := i2c.NewADS1115Driver(r)
	led := gpio.NewLedDriver(r, cfg.LedPin)

	b := &Board{climate: sht, adc: ads, gpio: r, led: led, cfg: cfg, log: logger.OrNop(log)}
	b.closers = append(b.closers, r.Finalize)

	if err := b.start([]namedDriver{{"sht2x", sht}, {"ads1115", ads}, {"led", led}}); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

// start brings the drivers up in order. Each one that started is halted by Close.
func (b *Board) start(drivers []namedDriver) error {
	for _, d := range drivers {
		if err := d.drv.Start(); err != nil {
			return fmt.Errorf("start %s: %w", d.name, err)
		}
		b.closers = append(b.closers, d.drv.Halt)
	}
	return nil
}

func (b *Board) ReadAnalog(_ context.Context, ch edge.Channel) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch ch {
	case edge.ChannelTemperature:
		v, err := b.climate.Temperature()
		return float64(v), err
	case edge.ChannelHumidity:
		v, err := b.climate.Humidity()
		return float64(v), err
	case edge.ChannelSoil:
		v, err := b.adc.AnalogRead(strconv.Itoa(b.cfg.SoilChannel))
		return float64(v), err
	case edge.ChannelWater:
		v, err := b.adc.AnalogRead(strconv.Itoa(b.cfg.WaterChannel))
		return float64(v), err
	}
	return 0, fmt.Errorf("%w: %s", edge.ErrUnsupportedChannel, ch)
}

func (b *Board) ReadDigital(_ context.Context, ch edge.Channel) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch ch {
	case edge.ChannelRain:
		// il modulo pioggia porta DO a 0 quando è bagnato
		v, err := b.gpio.DigitalRead(b.cfg.RainPin)
		return v == 0, err
	case edge.ChannelPump:
		v, err := b.gpio.DigitalRead(b.cfg.PumpPin)
		return v == 1, err
	}
	return false, fmt.Errorf("%w: %s", edge.ErrUnsupportedChannel, ch)
}

// Pulse blinks the status LED without blocking the caller.
func (b *Board) Pulse() {
	if b.led == nil {
		return
	}
	if err := b.led.On(); err != nil {
		b.log.Debug("hardware: led on", zap.Error(err))
		return
	}
	time.AfterFunc(pulseLength, func() { _ = b.led.Off() })
}

// Close halts the drivers, then releases the adaptor.
func (b *Board) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
