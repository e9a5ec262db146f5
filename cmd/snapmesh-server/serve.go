package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/snapmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/snapmesh-go/internal/infra/certwatch"
	"github.com/yndnr/snapmesh-go/internal/infra/confloader"
	"github.com/yndnr/snapmesh-go/internal/infra/shutdown"
	"github.com/yndnr/snapmesh-go/internal/server/clusterserver"
	"github.com/yndnr/snapmesh-go/internal/server/config"
	"github.com/yndnr/snapmesh-go/internal/server/httpserver"
	"github.com/yndnr/snapmesh-go/internal/storage"
	"github.com/yndnr/snapmesh-go/internal/storage/checkpoint"
	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
	"github.com/yndnr/snapmesh-go/internal/telemetry/metric"
)

const shutdownTimeout = 30 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				EnvVars: []string{"SNAPMESH_CONFIG"},
			},
		},
		Action: func(c *cli.Context) error {
			return serve(c.Context, c.String("config"))
		},
	}
}

func serve(ctx context.Context, configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync(log)
	log.Info("starting snapmesh-server", append(buildinfo.Get().LogFields(), "config", configFile)...)
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	sh := shutdown.NewHandler(shutdownTimeout, log)

	if configFile != "" {
		if err := watchLogLevel(ctx, configFile, log, sh); err != nil {
			log.Warn("config watcher disabled", "error", err)
		}
	}

	metrics := metric.NewRegistry()
	cp := &checkpointer{
		interval: cfg.Storage.CheckpointIntervalRounds,
		metrics:  metrics,
		logger:   log.With("component", "checkpoint"),
		rounds:   make(chan struct{}, 1),
	}

	fsmOpts := []clusterserver.FSMOption{
		clusterserver.WithFSMLogger(log.With("component", "fsm")),
		clusterserver.WithObserver(roundObserver{Observer: metrics, onRound: cp.notify}),
	}
	if cfg.Storage.Mirror {
		mirror, err := storage.NewBadgerFlusher(storage.DefaultBadgerConfig(config.MirrorDir(cfg)), log.With("component", "mirror"))
		if err != nil {
			return fmt.Errorf("open snapshot mirror: %w", err)
		}
		mirror.RegisterMetrics(metrics.Prometheus())
		fsmOpts = append(fsmOpts, clusterserver.WithFlusher(mirror))
		sh.OnShutdown("mirror", func(context.Context) error { return mirror.Close() })
	}

	fsm := clusterserver.NewFSM(config.ToStateConfig(cfg), fsmOpts...)
	cp.fsm = fsm
	metrics.Prometheus().MustRegister(metric.NewCollector(fsm.Stats))

	var (
		clusterCfg clusterserver.Config
		nodeID     = cfg.Cluster.NodeID
		hadState   bool
	)
	if cfg.Cluster.Enabled {
		clusterCfg, err = config.ToClusterConfig(cfg, log)
		if err != nil {
			return err
		}
		nodeID = clusterCfg.NodeID
		hadState, err = clusterserver.HasExistingState(clusterCfg.RaftDataDir)
		if err != nil {
			return fmt.Errorf("inspect raft state: %w", err)
		}
	} else if nodeID == "" {
		nodeID = config.GenerateNodeID()
	}

	ckptCfg, err := config.ToCheckpointConfig(cfg, nodeID)
	if err != nil {
		return err
	}
	cp.mgr, err = checkpoint.NewManager(ckptCfg)
	if err != nil {
		return fmt.Errorf("open checkpoints: %w", err)
	}

	// Raft replays its own snapshot and log; a checkpoint would double-apply.
	if !hadState {
		if err := restoreCheckpoint(cp.mgr, fsm, log); err != nil {
			return err
		}
	}

	var node clusterserver.Node
	if cfg.Cluster.Enabled {
		srv, err := clusterserver.NewServer(clusterCfg, fsm)
		if err != nil {
			return err
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("start cluster: %w", err)
		}
		sh.OnShutdown("cluster", srv.Stop)
		node = srv
	} else {
		node = clusterserver.NewLocalNode(nodeID, fsm)
		log.Info("running without replication", "node_id", nodeID)
	}

	sh.OnShutdown("final checkpoint", func(context.Context) error {
		_, err := cp.Checkpoint()
		return err
	})

	loopCtx, stopLoop := context.WithCancel(ctx)
	go cp.run(loopCtx)
	sh.OnShutdown("checkpoint loop", func(context.Context) error {
		stopLoop()
		return nil
	})

	router := httpserver.NewRouter(&httpserver.RouterConfig{
		Node:           node,
		Checkpointer:   cp,
		Metrics:        metrics.Handler(),
		Logger:         log.With("component", "http"),
		RateLimit:      cfg.Server.HTTP.RateLimit,
		Burst:          cfg.Server.HTTP.Burst,
		AdminAllowList: cfg.Server.HTTP.AdminAllowList,
	})
	httpCfg := httpserver.Config{
		Addr:         cfg.Server.HTTP.Addr,
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
	}
	if cfg.Server.HTTP.TLSCertFile != "" {
		certs, err := certwatch.New(cfg.Server.HTTP.TLSCertFile, cfg.Server.HTTP.TLSKeyFile,
			certwatch.WithLogger(log.With("component", "certwatch")))
		if err != nil {
			sh.Trigger()
			return errors.Join(err, sh.Wait(ctx))
		}
		httpCfg.TLSConfig = certs.TLSConfig()
		log.Info("TLS certificate loaded", "not_after", certs.NotAfter())

		certCtx, stopCerts := context.WithCancel(ctx)
		go func() {
			if err := certs.Run(certCtx); err != nil {
				log.Warn("certificate reload disabled", "error", err)
			}
		}()
		sh.OnShutdown("cert watcher", func(context.Context) error {
			stopCerts()
			return nil
		})
	}
	hs := httpserver.New(httpCfg, router)
	if err := hs.Listen(); err != nil {
		sh.Trigger()
		return errors.Join(fmt.Errorf("listen http: %w", err), sh.Wait(ctx))
	}
	sh.OnShutdown("http", hs.Shutdown)

	go func() {
		log.Info("HTTP server listening", "addr", hs.Addr(), "tls", hs.TLS())
		if err := hs.Serve(); err != nil {
			log.Error("HTTP server error", "error", err)
			sh.Trigger()
		}
	}()

	log.Info("server started", "node_id", nodeID, "cluster", cfg.Cluster.Enabled)
	if err := sh.Wait(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig loads configuration from file and environment.
func loadConfig(configFile string) (*config.ServerConfig, error) {
	cfg := config.Default()

	var opts []confloader.Option
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	opts = append(opts, confloader.WithStrict())
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initLogger builds the process logger and installs it as the default.
func initLogger(cfg *config.ServerConfig) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Backend: cfg.Log.Backend,
		Output:  os.Stdout,
	})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)
	return log, nil
}

// watchLogLevel applies log.level changes from the config file without a
// restart. Other fields need a restart.
func watchLogLevel(ctx context.Context, configFile string, log logger.Logger, sh *shutdown.Handler) error {
	w, err := confloader.NewWatcher(configFile, func(path string) {
		cfg, err := loadConfig(path)
		if err != nil {
			log.Warn("ignoring invalid config change", "path", path, "error", err)
			return
		}
		if cfg.Log.Level != logger.GetLevel() {
			logger.SetLevel(cfg.Log.Level)
			log.Info("log level changed", "level", cfg.Log.Level)
		}
	}, confloader.WithWatcherLogger(log))
	if err != nil {
		return err
	}

	wctx, stop := context.WithCancel(ctx)
	go func() {
		if err := w.Run(wctx); err != nil {
			log.Warn("config watcher stopped", "error", err)
		}
	}()
	sh.OnShutdown("config watcher", func(context.Context) error {
		stop()
		return nil
	})
	return nil
}

// restoreCheckpoint seeds fsm from the newest valid checkpoint, if any.
func restoreCheckpoint(mgr *checkpoint.Manager, fsm *clusterserver.FSM, log logger.Logger) error {
	img, info, err := mgr.LoadLatest()
	if errors.Is(err, checkpoint.ErrNoCheckpoints) {
		log.Info("no checkpoint found, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if err := fsm.Import(img); err != nil {
		return fmt.Errorf("import checkpoint %s: %w", info.ID, err)
	}
	log.Info("restored from checkpoint",
		"id", info.ID,
		"round", info.Round,
		"canisters", info.CanisterCount,
		"snapshots", info.SnapshotCount)
	return nil
}
