package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"riskgate/internal/api"
	"riskgate/internal/api/handlers"
	"riskgate/internal/bot"
	"riskgate/internal/config"
	"riskgate/internal/exchange"
	"riskgate/internal/kafka"
	"riskgate/internal/models"
	"riskgate/internal/repository"
	"riskgate/internal/service"
	"riskgate/internal/websocket"
	"riskgate/pkg/crypto"
	"riskgate/pkg/utils"
)

func main() {
	// .env необязателен: в контейнере переменные приходят из окружения
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Development: cfg.Logging.Development,
	})
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", utils.Err(err))
		os.Exit(1)
	}
	logger.Info("server exited")
}

func run(cfg *config.Config, logger *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ============ Хранилище ============

	var (
		blacklistSvc *service.BlacklistService
		journalSvc   *service.JournalService
		journalRepo  service.JournalRepositoryInterface
	)
	if cfg.Database.Enabled {
		db, err := initDatabase(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		if err := repository.Migrate(db); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

		repo := repository.NewJournalRepository(db)
		journalRepo = repo
		journalSvc = service.NewJournalService(repo)

		blacklistSvc = service.NewBlacklistService(repository.NewBlacklistRepository(db), logger)
		if err := blacklistSvc.Reload(); err != nil {
			return fmt.Errorf("load blacklist: %w", err)
		}
	} else {
		logger.Warn("database disabled: decision journal and blacklist are off")
	}

	// ============ Рыночные данные ============

	var providerOpts []exchange.ProviderOption
	var tracker *exchange.LatencyTracker
	if cfg.Exchange.TrackWsLatency {
		tracker = exchange.NewLatencyTracker(exchange.DefaultStreamConfig(), logger)
		providerOpts = append(providerOpts, exchange.WithLatencyTracker(tracker))
	}
	provider := exchange.NewBinanceProvider(cfg.Exchange, logger, providerOpts...)
	defer provider.Close()

	// ============ Торговое ядро ============

	positions := bot.NewPositionBook()
	safety := bot.NewSafetyStateMachine(cfg.Safety, logger)
	filters := bot.NewFilterPipeline(bot.NewFilterThresholds(cfg.Filters))

	selectorOpts := []bot.SelectorOption{bot.WithPositionSource(positions)}
	if blacklistSvc != nil {
		selectorOpts = append(selectorOpts, bot.WithBlacklist(blacklistSvc))
	}
	selector := bot.NewSelector(cfg.Selector, provider, logger, selectorOpts...)

	hub := websocket.NewHub(logger)

	sinks := []bot.DecisionSink{hub}
	if journalRepo != nil {
		sinks = append(sinks, service.NewJournalSink(journalRepo))
	}

	deps := bot.GateDeps{
		Provider:  provider,
		Universe:  selector,
		Filters:   filters,
		Safety:    safety,
		Sinks:     sinks,
		Positions: positions,
	}

	var publisher *kafka.DecisionPublisher
	if cfg.Kafka.Enabled {
		p, err := kafka.NewDecisionPublisher(cfg.Kafka, logger)
		if err != nil {
			return err
		}
		publisher = p
		defer publisher.Close()
		deps.Executor = publisher
	} else {
		logger.Warn("kafka disabled: decisions are journaled and streamed only")
	}

	gate := bot.NewGate(cfg.Targets, cfg.Gate, deps, logger)
	dispatcher := bot.NewDispatcher(gate, cfg.Gate, logger)

	outcomes := service.NewOutcomeService(positions, safety, journalRepo, logger)
	outcomes.SetWebSocketHub(hub)

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		c, err := kafka.NewConsumer(cfg.Kafka, dispatcher, func(o models.TradeOutcome) error {
			_, err := outcomes.HandleOutcome(o)
			return err
		}, logger)
		if err != nil {
			return err
		}
		consumer = c
		defer consumer.Close()
	}

	// ============ HTTP ============

	apiDeps := &api.Dependencies{
		Filters:  filters,
		Safety:   safety,
		Universe: selector,
		Stats: handlers.StatsSources{
			Gate:       gate,
			Dispatcher: dispatcher,
			Positions:  positions,
			Outcomes:   outcomes,
			Stream:     hub,
		},
		SecretHash:     cfg.Security.APISecretHash,
		Stream:         hub.Handler(websocket.NewOriginChecker(cfg.Server.AllowedOrigins)),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	}
	if tracker != nil {
		apiDeps.Stats.MarketFeed = tracker
	}
	if blacklistSvc != nil {
		apiDeps.BlacklistService = blacklistSvc
	}
	if journalSvc != nil {
		apiDeps.JournalService = journalSvc
	}
	if cfg.Security.APISecretHash != "" {
		apiDeps.Tokens = crypto.NewTokenManager(cfg.Security.JWTSecret, cfg.Security.JWTTTL)
	} else {
		logger.Warn("API_SECRET_HASH not set: mutating admin routes are disabled")
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.SetupRoutes(apiDeps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// ============ Запуск ============

	var wg sync.WaitGroup
	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("component stopped", utils.Component(name), utils.Err(err))
				stop()
			}
		}()
	}

	goRun("ws_hub", hub.Run)

	hubUpdates, unsubscribeHub := selector.Subscribe()
	defer unsubscribeHub()
	goRun("ws_active_set", func(ctx context.Context) error {
		hub.FollowActiveSet(ctx, hubUpdates)
		return nil
	})

	if tracker != nil {
		trackerUpdates, unsubscribeTracker := selector.Subscribe()
		defer unsubscribeTracker()
		goRun("latency_symbols", func(ctx context.Context) error {
			followActiveSet(ctx, trackerUpdates, tracker.SetSymbols)
			return nil
		})
		goRun("latency_tracker", tracker.Run)
	}

	goRun("selector", selector.Run)
	goRun("counter_scheduler", bot.NewCounterScheduler(safety, nil, logger).Run)
	goRun("dispatcher", func(ctx context.Context) error { return dispatcher.Run(ctx, nil) })
	if consumer != nil {
		goRun("kafka_consumer", consumer.Run)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", utils.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		stop()
		wg.Wait()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server forced to shutdown", utils.Err(err))
	}

	wg.Wait()
	return nil
}

// followActiveSet передаёт символы каждого нового активного набора в apply
func followActiveSet(ctx context.Context, updates <-chan *models.ActivePairSet, apply func([]string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case set, ok := <-updates:
			if !ok {
				return
			}
			if set != nil {
				apply(set.Symbols)
			}
		}
	}
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
