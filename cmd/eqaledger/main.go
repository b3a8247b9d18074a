package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"EqaLedger/internal/config"
	"EqaLedger/internal/core"
	"EqaLedger/internal/event"
	"EqaLedger/internal/ingestion"
	"EqaLedger/internal/observability"
	"EqaLedger/internal/persistence"
	"EqaLedger/internal/projection"
	"EqaLedger/internal/query"
	"EqaLedger/internal/server"
	"EqaLedger/internal/state"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var (
		configPath         string
		rebuildProjections bool
	)

	cmd := &cobra.Command{
		Use:           "eqaledger",
		Short:         "EQA stablecoin ledger: collateral, mint/redeem and solvency",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, rebuildProjections)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("EQA_CONFIG"), "path to TOML config file")
	cmd.Flags().BoolVar(&rebuildProjections, "rebuild-projections", false, "rebuild read models from the event log before serving")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		logger := observability.NewLogger("main")
		logger.Error().Err(err).Msg("eqaledger exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, rebuildProjections bool) error {
	level := observability.ParseLogLevel(cfg.LogLevel)
	logger := observability.NewLoggerWithLevel("main", level)
	logger.Info().Msg("EqaLedger starting")

	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	network, _, err := cfg.Network.ActiveNetwork()
	if err != nil {
		return err
	}

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, observability.NewLoggerWithLevel("migrate", level))
	applied, err := migrator.Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	if rebuildProjections {
		if err := projection.RebuildProjections(ctx, db, metrics, observability.NewLoggerWithLevel("projection", level)); err != nil {
			return fmt.Errorf("rebuild projections: %w", err)
		}
	}

	// --- Channels ---
	// The persist channel blocks the core (backpressure); projection drops.
	persistChan := make(chan core.CoreOutput, cfg.Engine.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.Engine.ProjectionChanSize)
	committedChan := make(chan *event.EventEnvelope, cfg.Engine.PublishChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.Engine.PublishChanSize)
	commands := make(chan ingestion.Command, cfg.Engine.InboundChanSize)
	snapshots := make(chan *core.SnapshotState, 1)
	alerts := make(chan state.LiquidationSignal, 64)

	deterministicCore, err := core.NewDeterministicCore(cfg.CoreConfig(0), persistChan, projectionChan, nil, metrics)
	if err != nil {
		return fmt.Errorf("core: %w", err)
	}

	// --- NATS ---
	natsLogger := observability.NewLoggerWithLevel("nats", level)
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, natsLogger)
	if err != nil {
		return err
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
		return err
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, natsLogger); err != nil {
		return err
	}
	publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics, observability.NewLoggerWithLevel("publisher", level))

	snapMgr := persistence.NewSnapshotManager(db)
	head, err := snapMgr.GetLatestSequence(ctx)
	if err != nil {
		return fmt.Errorf("event log head: %w", err)
	}

	// --- Back stage: drains core output. Started before replay, since
	// replayed events also flow through the persist channel. ---
	backCtx, cancelBack := context.WithCancel(context.Background())
	defer cancelBack()
	var back errgroup.Group

	failed := make(chan error, 8)
	supervise := func(name string, f func() error) {
		back.Go(func() error {
			err := f()
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("worker", name).Msg("worker failed")
				select {
				case failed <- fmt.Errorf("%s: %w", name, err):
				default:
				}
			}
			return nil
		})
	}

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.Engine.PersistBatchSize,
		cfg.Engine.PersistFlushTimeout, metrics, observability.NewLoggerWithLevel("persistence", level))
	persistWorker.ForwardCommitted(committedChan)
	persistDone := make(chan struct{})
	supervise("persistence", func() error {
		defer close(persistDone)
		return persistWorker.Run(backCtx)
	})

	supervise("bridge", func() error {
		defer close(publishChan)
		for env := range committedChan {
			// Replayed events were published the first time round.
			if env.Sequence <= head {
				continue
			}
			publishChan <- ingestion.NewPublishableEvent(env)
		}
		return nil
	})

	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics, observability.NewLoggerWithLevel("projection", level))
	supervise("projection", func() error { return projWorker.Run(backCtx) })

	// --- Recovery ---
	if _, err := recoverCore(ctx, deterministicCore, snapMgr, metrics, logger); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if got := deterministicCore.GetSequence(); got != head {
		return fmt.Errorf("recovery stopped at seq=%d, event log head is %d", got, head)
	}
	deterministicCore.AttachDBChecker(persistence.NewPostgresIdempotencyChecker(db))

	supervise("publisher", func() error { return publisher.Run(backCtx) })
	supervise("alerts", func() error {
		for sig := range alerts {
			alertCtx, cancel := context.WithTimeout(backCtx, 5*time.Second)
			err := publisher.PublishAlert(alertCtx, ingestion.NewInsolvencyAlert(sig, time.Now().UTC()))
			cancel()
			if err != nil {
				logger.Error().Err(err).Int64("shortfall", sig.Shortfall).Msg("insolvency alert not delivered")
			}
		}
		return nil
	})

	snapWriter := newSnapshotWriter(snapMgr, metrics, observability.NewLoggerWithLevel("snapshot", level))
	supervise("snapshots", func() error { return snapWriter.run(backCtx, snapshots) })

	// --- Core loop ---
	loop := &coreLoop{
		core:             deterministicCore,
		commands:         commands,
		snapshots:        snapshots,
		alerts:           alerts,
		snapshotInterval: cfg.Engine.SnapshotInterval,
		metrics:          metrics,
		logger:           observability.NewLoggerWithLevel("core", level),
		now:              time.Now,
	}
	coreCtx, stopCore := context.WithCancel(context.Background())
	defer stopCore()
	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		loop.run(coreCtx)
	}()

	// --- Front stage: everything that produces commands ---
	front, frontCtx := errgroup.WithContext(ctx)

	parser := ingestion.NewParser(cfg.Network, ingestion.NewAuthorizer(cfg.Admin.Addresses))

	rawEvents := make(chan ingestion.RawEvent, cfg.Engine.InboundChanSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawEvents, cfg.NATS.MaxDeliver, natsLogger)
	if err := subscriber.Subscribe(frontCtx, cfg.NATS.DurablePrefix, ingestion.DefaultSubjects()); err != nil {
		return err
	}
	defer subscriber.Stop()

	router := ingestion.NewRouter(parser, commands, metrics, natsLogger)
	front.Go(func() error { return ignoreCanceled(router.Run(frontCtx, rawEvents)) })

	srv, err := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, server.Deps{
		Parser:        parser,
		Submitter:     ingestion.NewSubmitter(commands),
		Views:         deterministicCore,
		Query:         query.NewQueryService(db),
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Network:       string(network),
		StaleTimeout:  cfg.Oracle.StaleTimeout,
		Logger:        observability.NewLoggerWithLevel("server", level),
	})
	if err != nil {
		return err
	}
	front.Go(func() error { return srv.StartGRPC(frontCtx) })
	front.Go(func() error { return srv.StartHTTPGateway(frontCtx) })
	front.Go(func() error { return serveMetrics(frontCtx, cfg.Server.MetricsAddr, logger) })
	front.Go(func() error {
		reportChannels(frontCtx, metrics, map[string]func() (int, int){
			"commands":   func() (int, int) { return len(commands), cap(commands) },
			"persist":    func() (int, int) { return len(persistChan), cap(persistChan) },
			"projection": func() (int, int) { return len(projectionChan), cap(projectionChan) },
			"publish":    func() (int, int) { return len(publishChan), cap(publishChan) },
		})
		return nil
	})
	front.Go(func() error {
		select {
		case err := <-failed:
			return err
		case <-frontCtx.Done():
			return nil
		}
	})

	healthChecker.SetReady(true)
	logger.Info().
		Int64("seq", deterministicCore.GetSequence()).
		Str("network", string(network)).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("EqaLedger ready")

	runErr := front.Wait()
	healthChecker.SetReady(false)
	if runErr != nil {
		logger.Error().Err(runErr).Msg("shutting down after failure")
	} else {
		logger.Info().Msg("shutting down")
	}

	// --- Graceful shutdown: stop producers, then the core, then drain ---
	subscriber.Stop()
	stopCore()
	<-coreDone

	close(snapshots)
	close(alerts)
	close(persistChan)
	close(projectionChan)
	<-persistDone
	close(committedChan)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := snapWriter.take(shutdownCtx, deterministicCore.CreateSnapshotState()); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}

	waitDone := make(chan struct{})
	go func() {
		back.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("workers did not drain before timeout")
	}
	cancelBack()

	logger.Info().Int64("seq", deterministicCore.GetSequence()).Msg("EqaLedger shutdown complete")
	return runErr
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func reportChannels(ctx context.Context, metrics *observability.Metrics, channels map[string]func() (int, int)) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, sizes := range channels {
				size, capacity := sizes()
				metrics.SetChannelMetrics(name, size, capacity)
			}
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
