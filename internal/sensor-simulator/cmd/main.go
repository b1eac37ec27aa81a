package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/edge"
	"github.com/LeonardoBeccarini/agrosmart/internal/logger"
	"github.com/LeonardoBeccarini/agrosmart/internal/metrics"
	sim "github.com/LeonardoBeccarini/agrosmart/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/agrosmart/pkg/rabbitmq"
)

func main() {
	var (
		cfgPath     string
		fc          sim.FleetConfig
		follow      bool
		recTopic    string
		halfLifeMin float64
	)
	root := &cobra.Command{
		Use:           "sensor-sim",
		Short:         "Run simulated plots through the real edge loop",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadEdge(cfgPath)
			if err != nil {
				return err
			}
			if halfLifeMin > 0 {
				// decadimento lineare equivalente alla prima mezza vita
				fc.DecayPerMin = 0.5 * 0.42 / halfLifeMin
			}
			return run(cmd.Context(), cfg, fc, follow, recTopic)
		},
	}
	f := root.Flags()
	f.StringVarP(&cfgPath, "config", "c", os.Getenv("CONFIG_FILE"), "edge YAML config shared by every plot")
	f.IntVarP(&fc.Devices, "devices", "n", 3, "number of simulated plots")
	f.StringVar(&fc.Prefix, "prefix", "plot", "device id prefix")
	f.Float64Var(&fc.Speed, "speed", 60, "simulated minutes per real minute")
	f.Float64Var(&halfLifeMin, "half-life", 120, "soil drying half-life in simulated minutes")
	f.Int64Var(&fc.Seed, "seed", time.Now().UnixNano(), "random seed")
	f.DurationVar(&fc.OutageEvery, "outage-every", 0, "inject a link outage on a random plot this often (0 disables)")
	f.DurationVar(&fc.OutageFor, "outage-for", 20*time.Second, "length of an injected outage")
	f.DurationVar(&fc.RestartDelay, "restart-delay", 5*time.Second, "pause before restarting a plot that lost its link")
	f.BoolVar(&follow, "follow", true, "act on recommendations published over MQTT")
	f.StringVar(&recTopic, "recommendation-topic", "event/recommendation/+", "MQTT topic filter for recommendations")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "sensor-sim:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.EdgeConfig, fc sim.FleetConfig, follow bool, recTopic string) error {
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "sensor-sim")
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	m := metrics.NewEdge(reg)
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("sensor-sim: metrics server", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	needMQTT := follow || cfg.Reporter.Transport == "mqtt"
	var pub rabbitmq.IPublisher
	var consumer *rabbitmq.Consumer
	if needMQTT {
		c, err := rabbitmq.NewRabbitMQConn(ctx, &rabbitmq.RabbitMQConfig{
			Host:     cfg.MQTT.Host,
			Port:     cfg.MQTT.Port,
			User:     cfg.MQTT.User,
			Password: cfg.MQTT.Password,
			ClientID: "sensor-sim",
		}, log)
		if err != nil {
			return err
		}
		pub = rabbitmq.NewPublisher(c, 1)
		if follow {
			consumer = rabbitmq.NewConsumer(c, recTopic, 1, nil, log)
		}
	}

	deliverer := func(id string) edge.Deliverer {
		if cfg.Reporter.Transport == "mqtt" {
			return edge.NewMQTTDeliverer(pub, cfg.Reporter.Topic, id)
		}
		return edge.NewHTTPDeliverer(cfg.Reporter.Endpoint, id)
	}
	fleet := sim.NewFleet(*cfg, fc, deliverer, log, m)

	if consumer != nil {
		consumer.SetHandler(fleet.HandleRecommendation)
		go func() {
			if err := consumer.ConsumeMessage(ctx); err != nil {
				log.Error("sensor-sim: recommendation consumer", zap.Error(err))
			}
		}()
	}

	log.Info("sensor-sim: starting",
		zap.Strings("devices", fleet.DeviceIDs()),
		zap.Float64("speed", fc.Speed),
		zap.String("transport", cfg.Reporter.Transport),
		zap.Bool("follow", follow),
		zap.Bool("mqtt", needMQTT))
	fleet.Run(ctx)
	return nil
}
