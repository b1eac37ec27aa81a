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

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/edge"
	"github.com/LeonardoBeccarini/agrosmart/internal/edge/hardware"
	"github.com/LeonardoBeccarini/agrosmart/internal/logger"
	"github.com/LeonardoBeccarini/agrosmart/internal/metrics"
	sim "github.com/LeonardoBeccarini/agrosmart/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/agrosmart/pkg/rabbitmq"
)

// exitRestart tells the supervisor (systemd Restart=on-failure) that the
// uplink could not be recovered.
const exitRestart = 3

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "edge",
		Short:         "Plot monitor edge loop",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadEdge(cfgPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", os.Getenv("CONFIG_FILE"), "YAML config file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "edge:", err)
		if errors.Is(err, edge.ErrRestartRequired) {
			os.Exit(exitRestart)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.EdgeConfig) error {
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "edge")
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("device_id", cfg.Device.ID))

	reg := prometheus.NewRegistry()
	m := metrics.NewEdge(reg)
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("edge: metrics server", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	parts := edge.Parts{}

	// === Source ===
	switch cfg.Source.Kind {
	case "raspi":
		board, err := hardware.Open(cfg.Source, log)
		if err != nil {
			return err
		}
		defer board.Close()
		parts.Source, parts.Indicator = board, board
	default:
		gen := sim.NewDataGenerator(0.003, 1, cfg.Source.Seed)
		parts.Source = sim.NewSensorSimulator(cfg.Device.ID, gen, cfg.Sampling, cfg.Source.GlitchRate, log)
	}

	// === Delivery ===
	probe := cfg.Link.ProbeAddr
	switch cfg.Reporter.Transport {
	case "mqtt":
		// the broker session is the link: an unreachable broker goes through
		// the reconnect attempts and ends in a restart like any other outage
		mq := &rabbitmq.RabbitMQConfig{
			Host:     cfg.MQTT.Host,
			Port:     cfg.MQTT.Port,
			User:     cfg.MQTT.User,
			Password: cfg.MQTT.Password,
			ClientID: cfg.MQTT.ClientID,
		}
		session := edge.NewSessionLink(func(ctx context.Context) (mqtt.Client, error) {
			return rabbitmq.Dial(ctx, mq, log)
		}, cfg.Link.ReconnectCmd, 1)
		defer session.Close()
		parts.Link = session
		parts.Deliverer = edge.NewMQTTDeliverer(session, cfg.Reporter.Topic, cfg.Device.ID)
		probe = fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port)
	default:
		parts.Deliverer = edge.NewHTTPDeliverer(cfg.Reporter.Endpoint, cfg.Device.ID)
		if probe == "" {
			if probe, err = edge.ProbeAddrFromEndpoint(cfg.Reporter.Endpoint); err != nil {
				return fmt.Errorf("probe address: %w", err)
			}
		}
		parts.Link = edge.NewProbeLink(probe, cfg.Link.ReconnectCmd)
	}

	log.Info("edge: starting",
		zap.String("source", cfg.Source.Kind),
		zap.String("transport", cfg.Reporter.Transport),
		zap.String("endpoint", cfg.Reporter.Endpoint),
		zap.String("probe", probe))

	err = edge.Assemble(*cfg, parts, log, m).Run(ctx)
	if errors.Is(err, edge.ErrRestartRequired) {
		log.Error("edge: link lost, restart required", zap.Error(err))
	}
	return err
}
