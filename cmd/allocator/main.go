// The allocator daemon serves requisite allocation and settlement for the
// p2p payment platform.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/p2pexchange/internal/allocation/application"
	"github.com/wyfcoding/p2pexchange/internal/allocation/domain"
	"github.com/wyfcoding/p2pexchange/internal/allocation/infrastructure/messaging"
	"github.com/wyfcoding/p2pexchange/internal/allocation/infrastructure/persistence/mysql"
	allochttp "github.com/wyfcoding/p2pexchange/internal/allocation/interfaces/http"
	"github.com/wyfcoding/p2pexchange/internal/rates"
	"github.com/wyfcoding/p2pexchange/pkg/config"
	"github.com/wyfcoding/p2pexchange/pkg/db"
	"github.com/wyfcoding/p2pexchange/pkg/idgen"
	"github.com/wyfcoding/p2pexchange/pkg/logger"
	"github.com/wyfcoding/p2pexchange/pkg/metrics"
	"github.com/wyfcoding/p2pexchange/pkg/middleware"
	"github.com/wyfcoding/p2pexchange/pkg/mq"
)

func main() {
	configPath := flag.String("config", "configs/allocator.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "Starting allocator",
		"service", cfg.ServiceName,
		"version", cfg.Version,
		"environment", cfg.Environment,
	)

	if err := idgen.Init(cfg.Allocation.NodeID); err != nil {
		logger.Fatal(ctx, "Failed to init id generator", "error", err)
	}

	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to connect to database", "error", err)
	}
	defer database.Close()

	if err := database.AutoMigrate(
		&domain.Trader{},
		&domain.Requisite{},
		&domain.Transaction{},
		&domain.FeeAgreement{},
		&domain.Dispute{},
		&domain.Merchant{},
		&messaging.OutboxMessage{},
	); err != nil {
		logger.Fatal(ctx, "Failed to migrate schema", "error", err)
	}

	m := metrics.New("allocator")
	if cfg.Metrics.Enabled {
		if err := m.Register(); err != nil {
			logger.Fatal(ctx, "Failed to register metrics", "error", err)
		}
		if err := metrics.StartHTTPServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Fatal(ctx, "Failed to start metrics server", "error", err)
		}
	}

	var producer *mq.KafkaProducer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		if err != nil {
			logger.Fatal(ctx, "Failed to create Kafka producer", "error", err)
		}
		defer producer.Close()
	} else {
		logger.Warn(ctx, "No Kafka brokers configured, events stay in the outbox")
	}

	publisher := messaging.NewOutboxPublisher(database.DB, producer, cfg.Kafka.TransactionTopic, cfg.Kafka.BalanceTopic, m)

	requisiteRepo := mysql.NewRequisiteRepository(database.DB)
	traderRepo := mysql.NewTraderRepository(database.DB)
	transactionRepo := mysql.NewTransactionRepository(database.DB)
	agreementRepo := mysql.NewFeeAgreementRepository(database.DB)
	disputeRepo := mysql.NewDisputeRepository(database.DB)
	merchantRepo := mysql.NewMerchantRepository(database.DB)
	txManager := mysql.NewTxManager(database.DB)

	rateProvider := rates.NewProvider(rates.Config{
		BaseURL:      cfg.Rates.BaseURL,
		Timeout:      time.Duration(cfg.Rates.Timeout) * time.Second,
		FallbackRate: decimal.NewFromFloat(cfg.Rates.FallbackRate),
		CacheTTL:     time.Duration(cfg.Rates.CacheTTL) * time.Second,
	}, m)

	allocator := application.NewAllocationService(
		requisiteRepo,
		traderRepo,
		transactionRepo,
		agreementRepo,
		disputeRepo,
		merchantRepo,
		txManager,
		publisher,
		rateProvider,
		m,
		application.AllocationConfig{
			MarkupPercent:  decimal.NewFromFloat(cfg.Allocation.MarkupPercent),
			TransactionTTL: time.Duration(cfg.Allocation.TransactionTTL) * time.Second,
		},
	)
	settlement := application.NewSettlementService(
		traderRepo,
		transactionRepo,
		merchantRepo,
		disputeRepo,
		txManager,
		publisher,
		m,
	)
	watcher := application.NewExpiryWatcher(
		transactionRepo,
		settlement,
		time.Duration(cfg.Allocation.ExpiryInterval)*time.Second,
		100,
	)

	go watcher.Run(ctx)
	go publisher.Relay(ctx,
		time.Duration(cfg.Kafka.RelayInterval)*time.Millisecond,
		cfg.Kafka.RelayBatchSize,
	)

	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Logging(), middleware.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.ServiceName})
	})
	allochttp.NewHandler(allocator, settlement).RegisterRoutes(&router.RouterGroup)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info(ctx, "HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "HTTP server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info(context.Background(), "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "HTTP server shutdown failed", "error", err)
	}
	logger.Info(context.Background(), "Allocator stopped")
}
