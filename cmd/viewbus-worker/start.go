package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	bus "github.com/frifox/viewbus"
)

func newStartCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Serve the demo Service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			return runStart(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.Int("prefetch", 0, "max unacked requests per consumer (default 10)")
	f.String("metrics-addr", "", "metrics HTTP listen address, empty = off")
	f.Int64("max-body-size", 0, "max ResponseMessage body in bytes (default 4MiB)")

	_ = v.BindPFlag("prefetch", f.Lookup("prefetch"))
	_ = v.BindPFlag("metrics_addr", f.Lookup("metrics-addr"))
	_ = v.BindPFlag("max_body_size", f.Lookup("max-body-size"))

	return cmd
}

func runStart(ctx context.Context, cfg Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	bus.SetLogger(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := bus.NewMetrics()
	b := bus.NewBus(bus.Opts{
		Context:       ctx,
		DSN:           cfg.DSN,
		CallbackQueue: callbackQueue(cfg),
		Prefetch:      cfg.Prefetch,
		MsgTTL:        cfg.MsgTTL,
		Converter:     &bus.MessageFactory{MaxBodySize: cfg.MaxBodySize},
		Metrics:       metrics,
	})

	err = b.RegisterHandler(bus.HandlerOpts{
		Handler:  &Service{},
		Queue:    cfg.Queue,
		Prefetch: cfg.Prefetch,
	})
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		srv := newMetricsServer(cfg.MetricsAddr, metrics)
		go func() {
			err := srv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "addr", cfg.MetricsAddr, "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("worker starting", "queue", cfg.Queue, "funcs", b.HandlerFuncs()[cfg.Queue])
	b.Run()
	return nil
}

func newMetricsServer(addr string, metrics *bus.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// callbackQueue is unique per process unless configured.
func callbackQueue(cfg Config) string {
	if cfg.CallbackQueue != "" {
		return cfg.CallbackQueue
	}
	return cfg.Queue + ".callback." + uuid.NewString()
}
