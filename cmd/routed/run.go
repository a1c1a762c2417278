package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/routed-project/routed/internal/config"
	"github.com/routed-project/routed/internal/manager"
	"github.com/routed-project/routed/internal/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load the configuration and run the router until signaled",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := requireConfigFile(); err != nil {
		return err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	log, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	reg := metrics.New()

	m, err := manager.New(cfg, reg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		srv := newMetricsServer(cfg.Metrics.ListenAddr, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	if err := m.Start(ctx); err != nil {
		return err
	}
	log.Info("routed started", zap.String("router_id", cfg.RouterID))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	signal.Stop(sigCh)

	log.Info("shutdown signal received")
	m.Stop()
	log.Info("routed stopped")
	return nil
}
