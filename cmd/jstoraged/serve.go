package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/jstorage/pkg/config"
	"github.com/cuemby/jstorage/pkg/crypt"
	"github.com/cuemby/jstorage/pkg/jstorage"
	"github.com/cuemby/jstorage/pkg/log"
	"github.com/cuemby/jstorage/pkg/maintenance"
	"github.com/cuemby/jstorage/pkg/metrics"
	"github.com/cuemby/jstorage/pkg/notify"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the storage core and maintenance scheduler",
	Long: `Start wires the Registry, the NotificationBus and the
MaintenanceScheduler, restores any prior state
from the data directory, and blocks until interrupted.

The HTTP/TLS listener, request parsing and command dispatch for individual
REST actions are out of scope and are not started by this
command; an external process embeds this binary's Registry directly.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("require-crypt", false, "Fail startup if the crypt tool cannot be initialized from JSTORAGE_PASSWORD")
	serveCmd.Flags().String("tls-cert", "", "TLS certificate file for the external listener")
	serveCmd.Flags().String("tls-key", "", "TLS key file for the external listener")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := log.WithComponent("jstoraged")

	clock := config.SystemClock{}
	random := config.SystemRandom{}
	bus := notify.New()

	ct, err := loadCryptTool(cfg.DataDir)
	if err != nil {
		requireCrypt, _ := cmd.Flags().GetBool("require-crypt")
		if requireCrypt {
			metrics.RegisterComponent("crypt", false, err.Error())
			return fmt.Errorf("initialize crypt tool: %w", err)
		}
		logger.Warn().Err(err).Msg("starting without at-rest encryption available")
		ct = crypt.New()
		metrics.RegisterComponent("crypt", false, "no password configured")
	} else {
		metrics.RegisterComponent("crypt", true, "")
	}

	registry := jstorage.NewRegistry(cfg.DataDir, clock, random, bus, ct)
	if err := registry.Setup(); err != nil {
		metrics.RegisterComponent("registry", false, err.Error())
		return fmt.Errorf("registry setup: %w", err)
	}
	metrics.RegisterComponent("registry", true, "")
	logger.Info().Str("dataDir", cfg.DataDir).Msg("registry restored")

	bus.Start()
	defer bus.Stop()
	metrics.RegisterComponent("notify", true, "")

	scheduler := maintenance.New(registry, clock, cfg.UnloadIdleAfter, cfg.SnapshotInterval, cfg.CacheSweepInterval)
	scheduler.Start()
	defer scheduler.Stop()

	// The gate and certificate are what the external request layer picks
	// up when it embeds this process; serve constructs them so a
	// misconfiguration (bad keypair, zero-bucket limiter) fails here
	// rather than on the first request.
	gate := newRequestGate(newInMemoryUserDirectory(), clock, cfg.RateLimitWindow, cfg.RateLimitBuckets)
	logger.Info().Dur("window", gate.window).Int("buckets", gate.bucket).Msg("request gate ready for the external listener")
	if certPath, _ := cmd.Flags().GetString("tls-cert"); certPath != "" {
		keyPath, _ := cmd.Flags().GetString("tls-key")
		loader := CertLoader(&fileCertLoader{certPath: certPath, keyPath: keyPath})
		if _, err := loader.Load(); err != nil {
			return fmt.Errorf("load TLS keypair: %w", err)
		}
		logger.Info().Str("cert", certPath).Msg("TLS keypair loaded for the external listener")
	}

	logger.Info().Msg("jstoraged ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	metrics.UpdateComponent("notify", false, "shutting down")
	scheduler.Stop()
	bus.Stop()
	metrics.UpdateComponent("registry", false, "shutting down")
	if err := registry.Shutdown(); err != nil {
		return fmt.Errorf("registry shutdown: %w", err)
	}
	logger.Info().Msg("shutdown complete")
	return nil
}
