package sensor_simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/edge"
	"github.com/LeonardoBeccarini/agrosmart/internal/logger"
	"github.com/LeonardoBeccarini/agrosmart/internal/metrics"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/messages"
)

type FleetConfig struct {
	Devices      int
	Prefix       string  // ids are Prefix-1..Prefix-N
	Speed        float64 // simulated minutes per real minute
	DecayPerMin  float64
	Seed         int64
	OutageEvery  time.Duration // 0 disables random link outages
	OutageFor    time.Duration
	RestartDelay time.Duration
}

// Fleet runs one full edge loop per simulated plot, in process.
type Fleet struct {
	cfg   config.EdgeConfig
	fc    FleetConfig
	ids   []string
	sims  map[string]*SensorSimulator
	links map[string]*SimLink
	gens  map[string]*DataGenerator
	deliv func(deviceID string) edge.Deliverer
	log   *zap.Logger
	m     *metrics.Edge
	rnd   *rand.Rand
	rndMu sync.Mutex
}

func NewFleet(cfg config.EdgeConfig, fc FleetConfig, deliverer func(deviceID string) edge.Deliverer, log *zap.Logger, m *metrics.Edge) *Fleet {
	if fc.Devices < 1 {
		fc.Devices = 1
	}
	if fc.Prefix == "" {
		fc.Prefix = "plot"
	}
	if fc.RestartDelay <= 0 {
		fc.RestartDelay = 5 * time.Second
	}
	f := &Fleet{
		cfg:   cfg,
		fc:    fc,
		sims:  make(map[string]*SensorSimulator, fc.Devices),
		links: make(map[string]*SimLink, fc.Devices),
		gens:  make(map[string]*DataGenerator, fc.Devices),
		deliv: deliverer,
		log:   logger.OrNop(log),
		m:     m,
		rnd:   rand.New(rand.NewSource(fc.Seed)),
	}
	for i := 1; i <= fc.Devices; i++ {
		id := fmt.Sprintf("%s-%d", fc.Prefix, i)
		gen := NewDataGenerator(fc.DecayPerMin, fc.Speed, fc.Seed+int64(i))
		f.ids = append(f.ids, id)
		f.gens[id] = gen
		f.sims[id] = NewSensorSimulator(id, gen, cfg.Sampling, cfg.Source.GlitchRate, f.log)
		f.links[id] = NewSimLink()
	}
	return f
}

func (f *Fleet) DeviceIDs() []string { return append([]string(nil), f.ids...) }

// Generator exposes a plot's simulation, for scripted scenarios.
func (f *Fleet) Generator(id string) (*DataGenerator, bool) {
	g, ok := f.gens[id]
	return g, ok
}

func (f *Fleet) Link(id string) (*SimLink, bool) {
	l, ok := f.links[id]
	return l, ok
}

// HandleRecommendation routes a recommendation to the plot it names.
func (f *Fleet) HandleRecommendation(topic string, msg mqtt.Message) error {
	id := topic[strings.LastIndex(topic, "/")+1:]
	if _, ok := f.sims[id]; !ok {
		var evt messages.RecommendationEvent
		if err := json.Unmarshal(msg.Payload(), &evt); err != nil {
			return fmt.Errorf("invalid RecommendationEvent: %w", err)
		}
		id = evt.DeviceID
	}
	sim, ok := f.sims[id]
	if !ok {
		return nil
	}
	return sim.HandleRecommendation(topic, msg)
}

// Run blocks until ctx ends. A device whose link is lost for good is
// restarted after RestartDelay, like a supervisor would.
func (f *Fleet) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, id := range f.ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			f.runDevice(ctx, id)
		}(id)
	}
	if f.fc.OutageEvery > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.outages(ctx)
		}()
	}
	wg.Wait()
	for _, s := range f.sims {
		s.Stop()
	}
}

func (f *Fleet) runDevice(ctx context.Context, id string) {
	cfg := f.cfg
	cfg.Device.ID = id
	cfg.Device.IP = "sim"
	log := f.log.With(zap.String("device_id", id))

	for {
		loop := edge.Assemble(cfg, edge.Parts{
			Source:    f.sims[id],
			Link:      f.links[id],
			Deliverer: f.deliv(id),
		}, log, f.m)

		err := loop.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if !errors.Is(err, edge.ErrRestartRequired) {
			log.Error("simulator: device stopped", zap.Error(err))
			return
		}
		log.Warn("simulator: device restarting", zap.Duration("after", f.fc.RestartDelay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.fc.RestartDelay):
		}
	}
}

func (f *Fleet) outages(ctx context.Context) {
	t := time.NewTicker(f.fc.OutageEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			f.rndMu.Lock()
			id := f.ids[f.rnd.Intn(len(f.ids))]
			f.rndMu.Unlock()
			f.links[id].Outage(f.fc.OutageFor)
			f.log.Info("simulator: link outage", zap.String("device_id", id), zap.Duration("for", f.fc.OutageFor))
		}
	}
}
