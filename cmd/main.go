package main

import (
	"context"
	"errors"
	"log"
	"net"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/automotiv/khetisahayak-sub001/internal/cache"
	"github.com/automotiv/khetisahayak-sub001/internal/config"
	"github.com/automotiv/khetisahayak-sub001/internal/db"
	"github.com/automotiv/khetisahayak-sub001/internal/events"
	"github.com/automotiv/khetisahayak-sub001/internal/grpcapi"
	"github.com/automotiv/khetisahayak-sub001/internal/httpapi"
	"github.com/automotiv/khetisahayak-sub001/internal/migrations"
	"github.com/automotiv/khetisahayak-sub001/internal/model"
	"github.com/automotiv/khetisahayak-sub001/internal/notify"
	"github.com/automotiv/khetisahayak-sub001/internal/observability"
	"github.com/automotiv/khetisahayak-sub001/internal/payment"
	"github.com/automotiv/khetisahayak-sub001/internal/repository"
	"github.com/automotiv/khetisahayak-sub001/internal/service"
	"github.com/automotiv/khetisahayak-sub001/internal/session"
	"github.com/automotiv/khetisahayak-sub001/internal/worker"
)

func main() {
	// 1. Конфиг из env (+ .env).
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.App.ServiceName, cfg.App.LogLevel, cfg.App.Development())
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("consultation core stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracerProvider(ctx, cfg.App.ServiceName, cfg.Tracing.OTLPEndpoint, logger)
	if err != nil {
		return err
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shCtx); err != nil {
			logger.Warn("shutdown tracer", zap.Error(err))
		}
	}()

	// 2. БД и миграции.
	gormDB, err := db.NewGormDB(cfg.DB, logger)
	if err != nil {
		return err
	}
	if err := model.AutoMigrate(gormDB); err != nil {
		return err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if cfg.DB.Migrate {
		if err := migrations.Up(ctx, sqlDB, logger); err != nil {
			return err
		}
	}
	store := repository.NewStore(gormDB)

	// 3. Redis: кэш слотов и блокировки воркеров. Без Redis: одна реплика.
	var (
		slotCache service.Cache
		locker    worker.Locker
	)
	if cfg.Redis.Enabled() {
		client := cache.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer client.Close()
		redisCache := cache.New(client, cfg.App.ServiceName+":")
		if err := redisCache.Ping(ctx); err != nil {
			return err
		}
		slotCache = redisCache
		locker = worker.NewRedisLocker(redisCache)
	} else {
		logger.Warn("redis is not configured: slot cache off, workers assume a single replica")
	}

	// 4. Шина доменных событий.
	publisher, err := newPublisher(cfg.Events, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	// 5. Внешние провайдеры.
	gateway, err := payment.NewOmiseGateway(payment.OmiseConfig{
		PublicKey:     cfg.Payment.OmisePublicKey,
		SecretKey:     cfg.Payment.OmiseSecretKey,
		WebhookSecret: cfg.Payment.WebhookSecret,
		SourceType:    cfg.Payment.SourceType,
		ReturnURI:     cfg.Payment.ReturnURI,
		Timeout:       cfg.Payment.Timeout,
	})
	if err != nil {
		return err
	}

	var apnsClient notify.APNsClient
	if cfg.Push.APNsEnabled() {
		c, err := notify.NewAPNsClient(cfg.Push.APNsKeyPath, cfg.Push.APNsKeyID, cfg.Push.APNsTeamID, cfg.Push.APNsProduction)
		if err != nil {
			return err
		}
		apnsClient = c
	}
	pusher := notify.NewPushNotifier(store.Devices, notify.NewExpoClient(cfg.Push.Timeout), apnsClient, cfg.Push.APNsTopic, logger)

	video, err := session.NewJWTTokenIssuer(cfg.Video.AppID, cfg.Video.Certificate)
	if err != nil {
		return err
	}
	var chat session.ChatProvider
	if cfg.Chat.Enabled() {
		sc, err := session.NewStreamChat(cfg.Chat.StreamKey, cfg.Chat.StreamSecret)
		if err != nil {
			return err
		}
		chat = sc
	}
	sessions := session.NewIssuer(video, chat, cfg.Video.AppID, cfg.Video.TokenTTL)

	// 6. Сервисы.
	opts := service.Options{
		Location:        cfg.Location(),
		Logger:          logger,
		Cache:           slotCache,
		SlotCacheTTL:    cfg.Redis.SlotTTL,
		ExternalTimeout: cfg.App.ExternalTimeout,
	}
	calendarSvc := service.NewCalendarService(store, opts)
	consultationSvc := service.NewConsultationService(store, calendarSvc, gateway, sessions, opts)
	deviceSvc := service.NewDeviceService(store)

	// 7. gRPC.
	grpcServer := grpcapi.NewGRPCServer(logger, cfg.App.InternalSecret)
	grpcapi.NewServer(calendarSvc, consultationSvc, deviceSvc, logger).Register(grpcServer)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.App.GRPCAddr)
	if err != nil {
		return err
	}

	// 8. HTTP: health, metrics, webhook оплаты.
	httpApp := httpapi.New(httpapi.Deps{
		ServiceName: cfg.App.ServiceName,
		DB:          sqlDB,
		Webhooks:    gateway,
		Payments:    consultationSvc,
		Logger:      logger,
	})

	// 9. Фоновые задачи.
	dispatcher := notify.NewDispatcher(store.Outbox, pusher, publisher, notify.DispatcherConfig{
		BatchSize:      cfg.Workers.OutboxBatch,
		PublishTimeout: cfg.Events.PublishTimeout,
		Retry: notify.RetryConfig{
			MaxAttempts:       cfg.Workers.OutboxMaxAttempt,
			InitialBackoff:    30 * time.Second,
			MaxBackoff:        time.Hour,
			BackoffMultiplier: 2,
		},
		Logger: logger,
	})
	runner := worker.NewRunner(locker, cfg.Workers.LockTTL, logger)
	for _, job := range []worker.Job{
		worker.ReaperJob(consultationSvc, cfg.Workers.ReaperInterval),
		worker.ReminderJob(consultationSvc, cfg.Workers.ReminderInterval, cfg.Workers.ReminderLead),
		worker.OutboxJob(dispatcher, cfg.Workers.OutboxInterval),
	} {
		if err := runner.Register(job); err != nil {
			return err
		}
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("grpc server listening", zap.String("addr", cfg.App.GRPCAddr))
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.App.HTTPAddr))
		errCh <- httpApp.Listen(cfg.App.HTTPAddr)
	}()
	runner.Start(ctx)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error("server exited", zap.Error(serveErr))
	}

	// 10. Грейсфул-шатдаун: сначала перестаём принимать работу, потом ждём воркеры.
	healthSrv.Shutdown()
	runner.Stop()
	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpApp.ShutdownWithContext(shCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcapi.Shutdown(grpcServer)
	return serveErr
}

func newPublisher(cfg config.EventsConfig, logger *zap.Logger) (events.Publisher, error) {
	switch cfg.Driver {
	case "nats":
		return events.NewNatsPublisher(cfg.NATSURL, cfg.SubjectRoot, logger)
	case "amqp":
		return events.NewAmqpPublisher(cfg.RabbitURL, cfg.Exchange)
	case "none":
		return events.Nop{}, nil
	}
	return nil, errors.New("unknown events driver " + cfg.Driver)
}
