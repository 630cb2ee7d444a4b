package harvester

import (
	"context"
	"errors"
	"time"

	"github.com/canopy-network/subnetx/pkg/dataset"
	"github.com/canopy-network/subnetx/pkg/harvest"
	"github.com/canopy-network/subnetx/pkg/logging"
	"github.com/canopy-network/subnetx/pkg/metrics"
	"github.com/canopy-network/subnetx/pkg/redis"
	"github.com/canopy-network/subnetx/pkg/retry"
	"github.com/canopy-network/subnetx/pkg/rpc"
	"github.com/canopy-network/subnetx/pkg/utils"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type App struct {
	Config        Config
	Logger        *zap.Logger
	Client        rpc.Client
	Harvester     *harvest.Harvester
	MetricsServer *metrics.Server
	Redis         *redis.Client
}

// Start runs one harvest, or keeps re-running it on the configured schedule
// until ctx is canceled.
func (a *App) Start(ctx context.Context) {
	var serverErr <-chan error
	if a.MetricsServer != nil {
		serverErr = a.MetricsServer.Start()
		a.MetricsServer.SetReady(true)
		a.Logger.Info("Metrics server listening", zap.String("addr", a.Config.MetricsAddr))
	}
	defer a.Stop()

	if a.Config.Cron == "" {
		if err := a.harvestOnce(ctx); err != nil {
			a.Stop()
			a.Logger.Fatal("Harvest failed", zap.Error(err))
		}
		return
	}

	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cronLogger{a.Logger.Sugar()}),
		cron.WithChain(cron.Recover(cronLogger{a.Logger.Sugar()}), cron.SkipIfStillRunning(cronLogger{a.Logger.Sugar()})),
	)
	if _, err := c.AddFunc(a.Config.Cron, func() {
		if err := a.harvestOnce(ctx); err != nil {
			a.Logger.Error("Harvest failed", zap.Error(err))
		}
	}); err != nil {
		a.Logger.Fatal("Unable to schedule harvest", zap.String("cron", a.Config.Cron), zap.Error(err))
	}

	a.Logger.Info("Watching ledger", zap.String("cron", a.Config.Cron))
	c.Start()
	select {
	case <-ctx.Done():
	case err, ok := <-serverErr:
		if ok && err != nil {
			a.Logger.Error("Metrics server stopped", zap.Error(err))
		}
	}
	<-c.Stop().Done()
}

// harvestOnce runs one harvest. A run interrupted by shutdown is not an error:
// whatever was written is checkpointed and the next run resumes from it.
func (a *App) harvestOnce(ctx context.Context) error {
	sum, err := a.Harvester.Run(ctx)
	if errors.Is(err, context.Canceled) {
		a.Logger.Info("Harvest interrupted",
			zap.Int("batches", sum.Batches),
			zap.Int("rows", sum.Written))
		return nil
	}
	if err != nil {
		return err
	}
	a.Logger.Info("Harvest finished",
		zap.Uint64("head", sum.Head),
		zap.Int("missing", sum.Missing),
		zap.Int("batches", sum.Batches),
		zap.Int("rows", sum.Written),
		zap.Int("skipped", sum.Skipped),
		zap.String("elapsed", utils.FormatSeconds(sum.Elapsed.Seconds())))
	return nil
}

// Stop releases the ledger connection and optional services. Safe to call twice.
func (a *App) Stop() {
	if a.Client != nil {
		if err := a.Client.Close(); err != nil {
			a.Logger.Warn("Closing ledger client", zap.Error(err))
		}
		a.Client = nil
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
		a.Redis = nil
	}
	if a.MetricsServer != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.MetricsServer.Shutdown(sctx)
		cancel()
		a.MetricsServer = nil
	}
	_ = a.Logger.Sync()
}

// Initialize wires the application. Any startup failure is fatal.
func Initialize(ctx context.Context) *App {
	// .env is optional
	_ = godotenv.Load()

	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	store, err := dataset.NewDir(cfg.OutputDir, logger)
	if err != nil {
		logger.Fatal("Unable to prepare output directory", zap.String("dir", cfg.OutputDir), zap.Error(err))
	}

	rpcOpts := rpc.Opts{RPS: cfg.RPCRPS, Burst: cfg.RPCBurst, BreakerFailures: 10, BreakerCooldown: 30 * time.Second, Logger: logger}
	var client rpc.Client
	err = retry.WithBackoff(ctx, retry.StartupConfig(), logger, "connect to ledger", func(ctx context.Context) error {
		c, err := rpc.Dial(ctx, cfg.Endpoints, rpcOpts)
		if err != nil {
			return err
		}
		if _, err := c.ChainHead(ctx); err != nil {
			_ = c.Close()
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		logger.Fatal("Unable to connect to ledger", zap.String("endpoints", cfg.Endpoints), zap.Error(err))
	}
	logger.Info("Connected to ledger", zap.String("endpoints", cfg.Endpoints))

	app := &App{Config: cfg, Logger: logger, Client: client}

	opts := []harvest.Option{}
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m, err := metrics.New(reg)
		if err != nil {
			logger.Fatal("Unable to register metrics", zap.Error(err))
		}
		opts = append(opts, harvest.WithMetrics(m))
		app.MetricsServer = metrics.NewServer(cfg.MetricsAddr, reg)
	}
	if cfg.RedisAddr != "" {
		rc, err := redis.NewClient(ctx, logger, redis.Opts{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			logger.Fatal("Unable to connect to Redis", zap.Error(err))
		}
		app.Redis = rc
		opts = append(opts, harvest.WithPublisher(rc))
		if app.MetricsServer != nil {
			app.MetricsServer.AddReadinessCheck(rc.Health)
		}
	}

	app.Harvester, err = harvest.New(logger, client, store, harvest.Config{
		BatchSize:    cfg.BatchSize,
		FetchTimeout: cfg.FetchTimeout,
		MinHeight:    cfg.MinHeight,
	}, opts...)
	if err != nil {
		logger.Fatal("Unable to create harvester", zap.Error(err))
	}
	return app
}
