package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/logger"
	"github.com/LeonardoBeccarini/agrosmart/internal/metrics"
	"github.com/LeonardoBeccarini/agrosmart/internal/services/collector"
	"github.com/LeonardoBeccarini/agrosmart/internal/services/decision"
	"github.com/LeonardoBeccarini/agrosmart/pkg/dedup"
	"github.com/LeonardoBeccarini/agrosmart/pkg/rabbitmq"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "collector",
		Short:         "Plot telemetry collector and decision engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadCollector(cfgPath)
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
		fmt.Fprintln(os.Stderr, "collector:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.CollectorConfig) error {
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "collector")
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector(reg)

	// === Event sinks ===
	var (
		sinks     collector.Fanout
		conn      collector.ConnChecker
		sinkCheck collector.SinkChecker
	)

	if cfg.Influx.URL != "" {
		influx := influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
		defer influx.Close()
		sink := collector.NewInfluxSink(influx.WriteAPIBlocking(cfg.Influx.Org, cfg.Influx.Bucket), cfg.Influx, log)
		sinks = append(sinks, sink)
		sinkCheck = sink
		log.Info("collector: influx sink enabled", zap.String("url", cfg.Influx.URL), zap.String("bucket", cfg.Influx.Bucket))
	}

	var mqttSub *rabbitmq.Consumer
	if cfg.MQTT.Enabled {
		client, err := rabbitmq.NewRabbitMQConn(ctx, &rabbitmq.RabbitMQConfig{
			Host:     cfg.MQTT.Host,
			Port:     cfg.MQTT.Port,
			User:     cfg.MQTT.User,
			Password: cfg.MQTT.Password,
			ClientID: cfg.MQTT.ClientID,
		}, log)
		if err != nil {
			return err
		}
		conn = client
		sinks = append(sinks, collector.NewMQTTSink(rabbitmq.NewPublisher(client, 1), cfg.MQTT.RecommendationTopic))
		mqttSub = rabbitmq.NewConsumer(client, cfg.MQTT.SnapshotTopic, 1, nil, log)
	}

	store := collector.NewStore(cfg.DefaultMode)
	opts := []collector.Option{collector.WithMetrics(m), collector.WithLogger(log)}
	if len(sinks) > 0 {
		disp := collector.NewDispatcher(sinks, 64, cfg.Influx.WriteTimeout+time.Second, m, log)
		go disp.Run(ctx)
		opts = append(opts, collector.WithEventSink(disp))
	}
	svc := collector.NewService(store, decision.NewEngine(cfg.Decision, cfg.Thresholds), opts...)

	if mqttSub != nil {
		mqttSub.SetHandler(collector.NewSnapshotHandler(svc, dedup.New(cfg.DedupTTL, 20000)))
		go func() {
			if err := mqttSub.ConsumeMessage(ctx); err != nil {
				log.Error("collector: mqtt consumer stopped", zap.Error(err))
			}
		}()
	}

	hc := collector.NewHealth(conn, sinkCheck, store, 30*time.Second)

	// === gRPC health ===
	if cfg.GRPCPort > 0 {
		lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.GRPCPort))
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		gs := grpc.NewServer()
		hs := health.NewServer()
		healthpb.RegisterHealthServer(gs, hs)
		go hc.ServeGRPC(ctx, hs, 5*time.Second)
		go func() {
			log.Info("collector: gRPC health listening", zap.Int("port", cfg.GRPCPort))
			if err := gs.Serve(lis); err != nil {
				log.Error("collector: grpc serve", zap.Error(err))
			}
		}()
		defer gs.GracefulStop()
	}

	// === HTTP ===
	api := collector.NewAPI(svc, *cfg, hc, reg, log)
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      api.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("collector: HTTP listening",
			zap.String("addr", srv.Addr),
			zap.String("default_device", cfg.DefaultDeviceID),
			zap.String("default_mode", string(cfg.DefaultMode)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info("collector: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
