package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/d21d3q/gosmartmeter/internal/api"
	"github.com/d21d3q/gosmartmeter/internal/collector"
	"github.com/d21d3q/gosmartmeter/internal/config"
	"github.com/d21d3q/gosmartmeter/internal/cosem"
	"github.com/d21d3q/gosmartmeter/internal/meterdb"
	"github.com/d21d3q/gosmartmeter/internal/metrics"
	"github.com/d21d3q/gosmartmeter/internal/serialport"
	"github.com/d21d3q/gosmartmeter/internal/sink"
	"github.com/d21d3q/gosmartmeter/pkg/gosmartmeter"
)

var (
	rootCmd = &cobra.Command{
		Use:   "gosmartmeterd",
		Short: "Read a smart meter's push interface and serve the readings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	configPath string
)

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "gosmartmeter.toml", "configuration file, created with defaults when missing")
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	logrus.SetLevel(level)
	cosem.SetLogger(logrus.WithField("component", "cosem"))

	key, err := cfg.MeterKey()
	if err != nil {
		return err
	}
	opts := gosmartmeter.Options{
		Key:            key,
		Profile:        cfg.Meter.Profile,
		VerifyChecksum: cfg.Meter.VerifyChecksum,
	}
	if cfg.Meter.ReplayProtection {
		opts.Guard = gosmartmeter.NewReplayGuard()
	}
	pipeline, err := gosmartmeter.NewPipeline(opts)
	if err != nil {
		return err
	}

	metrics.Register()
	sinks := sink.Multi{metrics.Gauges{}}

	if cfg.Store.Enabled {
		store, err := meterdb.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
	}

	if cfg.API.Enabled {
		codec, err := sink.NewCodec(cfg.Publish.Encoding)
		if err != nil {
			return err
		}
		server := api.New(sink.NewLatest(), codec, pipeline.Profile())
		sinks = append(sinks, server)
		go func() {
			if err := server.ListenAndServe(ctx, cfg.ListenAddr()); err != nil {
				logrus.WithError(err).Error("api server stopped")
			}
		}()
	}

	port, err := serialport.Open(cfg.Serial)
	if err != nil {
		return err
	}
	defer port.Close()

	logrus.WithFields(logrus.Fields{
		"device":  cfg.Serial.Device,
		"baud":    cfg.Serial.Baud,
		"profile": pipeline.Profile(),
	}).Info("collecting notifications")

	return collector.New(port, pipeline, sinks, cfg.Meter.UpdateInterval).Run(ctx)
}
