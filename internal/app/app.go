package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mykobo/anchor-solana/internal/config"
	"github.com/mykobo/anchor-solana/internal/identity"
	"github.com/mykobo/anchor-solana/internal/queue"
	"github.com/mykobo/anchor-solana/internal/repository"
	"github.com/mykobo/anchor-solana/internal/service"
	"github.com/mykobo/anchor-solana/internal/solana"
	"github.com/mykobo/anchor-solana/pkg/logger"
)

// Role 进程角色, 三个入口各启动一个角色
type Role string

const (
	RoleConsumer    Role = "consumer"
	RoleProcessor   Role = "processor"
	RoleRetryWorker Role = "retryworker"
)

// App 应用
type App struct {
	cfg  *config.Config
	role Role

	db *gorm.DB

	// 外部依赖
	queueClient    *queue.SQSClient
	identityClient *identity.Client
	chainClient    *solana.Client

	// 仓储
	txRepo    repository.TransactionRepository
	inboxRepo repository.InboxRepository
	nonceRepo repository.NonceRepository

	// 服务
	consumerSvc  *service.ConsumerService
	processorSvc *service.ProcessorService
	retrySvc     *service.RetryService
	nonceSvc     *service.NonceService

	cron          *cron.Cron
	metricsServer *http.Server
	opsServer     *http.Server
}

// NewApp 创建应用并完成角色所需的全部初始化
func NewApp(cfg *config.Config, role Role) (*App, error) {
	a := &App{cfg: cfg, role: role}

	if err := a.initDatabase(); err != nil {
		return nil, err
	}
	if err := a.initQueue(); err != nil {
		return nil, err
	}
	a.initIdentity()
	if role == RoleProcessor {
		if err := a.initChain(); err != nil {
			return nil, err
		}
	}
	a.initRepositories()
	a.initServices()
	if role == RoleProcessor {
		if err := a.initMaintenance(); err != nil {
			return nil, err
		}
	}
	if role == RoleRetryWorker {
		a.initOpsServer()
	}
	a.initMetricsServer()

	return a, nil
}

// initDatabase 连接 PostgreSQL 并执行迁移
func (a *App) initDatabase() error {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		a.cfg.Postgres.Host,
		a.cfg.Postgres.Port,
		a.cfg.Postgres.User,
		a.cfg.Postgres.Password,
		a.cfg.Postgres.Database,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(a.cfg.Postgres.MaxConnections)
	sqlDB.SetMaxIdleConns(a.cfg.Postgres.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(a.cfg.Postgres.ConnMaxLifetime) * time.Second)

	a.db = db
	logger.Info("database connected", zap.String("host", a.cfg.Postgres.Host))

	if err := AutoMigrate(a.db, a.cfg.Service.Name); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("database migrated")

	return nil
}

// initQueue 初始化 SQS 客户端
func (a *App) initQueue() error {
	client, err := queue.NewSQSClient(context.Background(), &a.cfg.Queue)
	if err != nil {
		return fmt.Errorf("init sqs client: %w", err)
	}
	a.queueClient = client
	return nil
}

func (a *App) initIdentity() {
	a.identityClient = identity.NewClient(&a.cfg.Identity)
}

// initChain 初始化 Solana 链客户端 (仅处理器角色)
func (a *App) initChain() error {
	client, err := solana.NewClient(&a.cfg.Solana)
	if err != nil {
		return fmt.Errorf("init solana client: %w", err)
	}
	a.chainClient = client
	return nil
}

func (a *App) initRepositories() {
	a.txRepo = repository.NewTransactionRepository(a.db)
	a.inboxRepo = repository.NewInboxRepository(a.db)
	a.nonceRepo = repository.NewNonceRepository(a.db)
}

func (a *App) initServices() {
	a.consumerSvc = service.NewConsumerService(
		a.queueClient, a.identityClient, a.inboxRepo,
		service.ConsumerServiceConfig{
			BatchSize:    a.cfg.Consumer.MaxMessages,
			PollInterval: time.Duration(a.cfg.Consumer.PollInterval) * time.Second,
		})

	a.processorSvc = service.NewProcessorService(
		a.inboxRepo, a.txRepo, a.chainClient, a.queueClient, a.identityClient,
		service.ProcessorServiceConfig{
			BatchSize:    a.cfg.Processor.BatchSize,
			PollInterval: time.Duration(a.cfg.Processor.PollInterval) * time.Second,
			ReapAfter:    time.Duration(a.cfg.Processor.ReapAfter) * time.Second,
		})

	a.retrySvc = service.NewRetryService(
		a.txRepo, a.queueClient, a.identityClient,
		service.RetryServiceConfig{
			BatchSize: a.cfg.Retry.BatchLimit,
			Interval:  time.Duration(a.cfg.Retry.Interval) * time.Second,
		})

	a.nonceSvc = service.NewNonceService(a.nonceRepo, 5*time.Minute)
}

// initMaintenance 注册处理器的周期性维护任务
func (a *App) initMaintenance() error {
	c := cron.New()

	_, err := c.AddFunc(a.cfg.Processor.MaintenanceSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := a.processorSvc.ReapStuck(ctx); err != nil {
			logger.Error("reap stuck inbox rows failed", zap.Error(err))
		}
		if err := a.nonceSvc.PurgeExpired(ctx); err != nil {
			logger.Error("purge expired nonces failed", zap.Error(err))
		}
		a.processorSvc.UpdateGauges(ctx)
	})
	if err != nil {
		return fmt.Errorf("register maintenance job: %w", err)
	}

	a.cron = c
	return nil
}

func (a *App) initMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Service.MetricsPort),
		Handler: mux,
	}
}

// Run 按角色运行应用, 收到终止信号后优雅退出
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("metrics server listening", zap.String("addr", a.metricsServer.Addr))
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	if a.opsServer != nil {
		go func() {
			logger.Info("ops server listening", zap.String("addr", a.opsServer.Addr))
			if err := a.opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("ops server error", zap.Error(err))
			}
		}()
	}

	if a.cron != nil {
		a.cron.Start()
	}

	var runErr error
	switch a.role {
	case RoleConsumer:
		runErr = a.consumerSvc.Run(ctx)
	case RoleProcessor:
		runErr = a.processorSvc.Run(ctx)
	case RoleRetryWorker:
		runErr = a.retrySvc.Run(ctx)
	default:
		return fmt.Errorf("unknown role: %s", a.role)
	}
	if runErr != nil && runErr != context.Canceled {
		logger.Error("service loop exited", zap.Error(runErr))
	}

	return a.shutdown()
}

func (a *App) shutdown() error {
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if a.opsServer != nil {
		if err := a.opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("ops server shutdown error", zap.Error(err))
		}
	}
	if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}

	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logger.Error("database close error", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
	return nil
}
