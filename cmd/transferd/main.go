package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vertextoedge/transferd/internal/adapter/filesystem"
	"github.com/vertextoedge/transferd/internal/adapter/remote"
	"github.com/vertextoedge/transferd/internal/adapter/sidecar"
	"github.com/vertextoedge/transferd/internal/adapter/sqlite"
	"github.com/vertextoedge/transferd/internal/config"
	"github.com/vertextoedge/transferd/internal/logger"
	"github.com/vertextoedge/transferd/internal/metrics"
	"github.com/vertextoedge/transferd/internal/port"
	"github.com/vertextoedge/transferd/internal/service/maintenance"
	"github.com/vertextoedge/transferd/internal/service/manager"
	"github.com/vertextoedge/transferd/internal/service/server"
	"github.com/vertextoedge/transferd/internal/service/transfer"
	"github.com/vertextoedge/transferd/internal/telemetry"
)

const version = "0.1.0"

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (defaults and TRANSFERD_* env when empty)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Telemetry.ServiceName); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	zapLogger := logger.GetZapLogger()
	zapLogger.Info("starting transferd",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, logger.Named("telemetry"))
	if err != nil {
		zapLogger.Fatal("failed to initialize tracing", zap.Error(err))
	}

	// Initialize filesystem manager
	fsManager, err := filesystem.NewManager(cfg.Transfer.DownloadDir)
	if err != nil {
		zapLogger.Fatal("failed to create filesystem manager", zap.Error(err))
	}

	// Open database
	store, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		zapLogger.Fatal("failed to open database", zap.Error(err), zap.String("path", cfg.Database.Path))
	}
	defer store.Close()

	var metaStore port.MetadataStore
	switch cfg.Metadata.Backend {
	case config.MetadataBackendSQLite:
		metaStore = store.Metadata(logger.Named("metadata"))
	default:
		metaStore = sidecar.NewStore(logger.Named("metadata"))
	}

	origin := remote.NewClient(remote.Config{
		ConnectTimeout:        cfg.Transfer.GetConnectTimeout(),
		ResponseHeaderTimeout: cfg.Transfer.GetResponseHeaderTimeout(),
		ProbeTimeout:          cfg.Transfer.GetProbeTimeout(),
		UserAgent:             cfg.Transfer.UserAgent,
	}, logger.Named("remote"))

	managerCfg := &manager.Config{
		MaxConcurrent:          cfg.Transfer.MaxConcurrent,
		MaxRetries:             cfg.Transfer.MaxRetries,
		RetryBackoff:           cfg.Transfer.GetRetryBackoff(),
		RestartPolicy:          cfg.Transfer.RestartPolicy,
		RestartApprovalTimeout: cfg.Transfer.GetRestartApprovalTimeout(),
		ResumeOnStartup:        cfg.Transfer.ResumeOnStartup,
		Engine: transfer.Config{
			ChunkSize:        cfg.Transfer.GetChunkSize(),
			ProgressInterval: cfg.Transfer.GetProgressInterval(),
			PersistInterval:  cfg.Transfer.GetPersistInterval(),
			ReadTimeout:      cfg.Transfer.GetReadTimeout(),
			MinFreeSpace:     cfg.Transfer.GetMinFreeSpace(),
		},
	}
	downloads := manager.New(managerCfg, manager.Deps{
		Repo:     store,
		Origin:   origin,
		Metadata: metaStore,
		Payload:  fsManager,
		Resolve:  fsManager.Resolve,
	}, logger.Named("manager"))

	// Create maintenance service
	maintenanceCfg := &maintenance.Config{
		Interval:             cfg.Maintenance.GetInterval(),
		FinishedRecordMaxAge: cfg.Maintenance.GetFinishedRecordMaxAge(),
		OrphanSidecarSweep:   cfg.Maintenance.OrphanSidecarSweep && cfg.Metadata.Backend == config.MetadataBackendSidecar,
		SidecarMaxAge:        cfg.Maintenance.GetSidecarMaxAge(),
	}
	maintenanceService := maintenance.New(maintenanceCfg, store, fsManager, logger.Named("maintenance"))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(registry)

	// Create HTTP server
	serverCfg := &server.Config{
		BindAddr:          cfg.HTTP.BindAddr,
		ReadTimeout:       cfg.HTTP.GetReadTimeout(),
		WriteTimeout:      cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:       cfg.HTTP.GetIdleTimeout(),
		RateLimitRPS:      cfg.HTTP.RateLimitRPS,
		RateLimitBurst:    cfg.HTTP.RateLimitBurst,
		BroadcastInterval: cfg.HTTP.GetBroadcastInterval(),
		Username:          cfg.HTTP.Username,
		Password:          cfg.HTTP.Password,
	}
	httpServer := server.New(serverCfg, server.Deps{
		Downloads: downloads,
		Store:     store,
		Disk:      fsManager,
		Gatherer:  registry,
	}, logger.Named("http"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return downloads.Start(gctx)
	})
	g.Go(func() error {
		if err := maintenanceService.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return httpServer.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		zapLogger.Info("shutdown signal received, stopping services")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Stop the API before parking transfers
		if err := httpServer.Stop(shutdownCtx); err != nil {
			zapLogger.Error("failed to stop HTTP server gracefully", zap.Error(err))
		}
		maintenanceService.Stop()
		downloads.Stop()

		if err := shutdownTracing(shutdownCtx); err != nil {
			zapLogger.Warn("failed to flush traces", zap.Error(err))
		}
		return nil
	})

	zapLogger.Info("application started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("download_dir", fsManager.RootDir()),
		zap.String("metadata_backend", cfg.Metadata.Backend),
	)

	if err := g.Wait(); err != nil {
		zapLogger.Error("service stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	zapLogger.Info("application stopped successfully")
}
