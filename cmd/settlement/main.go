package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/pkg/config"
	"github.com/wyfcoding/pkg/database"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/messagequeue/kafka"
	"github.com/wyfcoding/pkg/messagequeue/outbox"
	"github.com/wyfcoding/pkg/metrics"
	"github.com/wyfcoding/settlementengine/internal/settlement/application"
	"github.com/wyfcoding/settlementengine/internal/settlement/domain"
	"github.com/wyfcoding/settlementengine/internal/settlement/infrastructure/adapter"
	"github.com/wyfcoding/settlementengine/internal/settlement/infrastructure/client"
	"github.com/wyfcoding/settlementengine/internal/settlement/infrastructure/messaging"
	"github.com/wyfcoding/settlementengine/internal/settlement/infrastructure/persistence/mysql"
	settlementconsumer "github.com/wyfcoding/settlementengine/internal/settlement/interfaces/consumer"
	httpserver "github.com/wyfcoding/settlementengine/internal/settlement/interfaces/http"
	"golang.org/x/sync/errgroup"
)

var configPath = flag.String("config", "configs/settlement/config.toml", "config file path")

// defaultSettlementCycle 事件驱动建单的默认结算周期 (T+2)。
const defaultSettlementCycle = 2

func main() {
	flag.Parse()

	// 1. Config
	var cfg config.Config
	if err := config.Load(*configPath, &cfg); err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. Logger
	logCfg := &logging.Config{
		Service:    cfg.Server.Name,
		Module:     "settlement",
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}
	logger := logging.NewFromConfig(logCfg)
	slog.SetDefault(logger.Logger)

	// 3. Metrics
	metricsImpl := metrics.NewMetrics(cfg.Server.Name)
	if cfg.Metrics.Enabled {
		go metricsImpl.ExposeHTTP(cfg.Metrics.Port)
	}

	// 4. Infrastructure
	db, err := database.NewDB(cfg.Data.Database, cfg.CircuitBreaker, logger, metricsImpl)
	if err != nil {
		slog.Error("failed to connect database", "error", err)
		os.Exit(1)
	}

	if cfg.Server.Environment == "dev" {
		err := db.RawDB().AutoMigrate(
			&domain.SettlementInstruction{},
			&domain.InstructionFee{},
			&domain.StatusTransition{},
			&domain.NettingGroup{},
			&domain.ReconciliationRun{},
			&domain.ReconciliationBreak{},
			&adapter.StandingInstructionRecord{},
			&outbox.Message{},
		)
		if err != nil {
			slog.Error("failed to migrate database", "error", err)
		}
	}

	// 5. Kafka & Outbox
	kafkaProducer := kafka.NewProducer(&cfg.MessageQueue.Kafka, logger, metricsImpl)
	outboxMgr := outbox.NewManager(db.RawDB(), logger.Logger)
	pusher := func(ctx context.Context, topic, key string, payload []byte) error {
		return kafkaProducer.PublishToTopic(ctx, topic, []byte(key), payload)
	}
	outboxProcessor := outbox.NewProcessor(outboxMgr, pusher, 100, 2*time.Second)
	publisher := messaging.NewOutboxPublisher(outboxMgr)

	// 6. Downstream Gateways
	custodyClient := client.NewCustodyGatewayClient(envOr("CUSTODY_GATEWAY_URL", "http://localhost:8201"))
	ledgerClient := client.NewLedgerGatewayClient(envOr("LEDGER_GATEWAY_URL", "http://localhost:8202"))
	clearingClient := client.NewClearingGatewayClient(envOr("CLEARING_GATEWAY_URL", "http://localhost:8203"))

	custodian := adapter.NewCustodianAdapter(custodyClient, logger.Logger)
	ledger := adapter.NewLedgerAdapter(ledgerClient, logger.Logger)
	clearingHouse := adapter.NewClearingHouseAdapter(clearingClient, logger.Logger)
	refData := adapter.NewRefDataAdapter(db.RawDB())

	// 7. Repositories & Application
	instructionRepo := mysql.NewInstructionRepository(db.RawDB())
	nettingRepo := mysql.NewNettingRepository(db.RawDB())
	reconRepo := mysql.NewReconciliationRepository(db.RawDB())

	dvp := domain.NewDVPProcessor(custodian, ledger)

	instructionSvc := application.NewInstructionService(instructionRepo, dvp, refData, clearingHouse, publisher, logger.Logger)
	matchingSvc := application.NewMatchingService(instructionRepo, domain.DefaultTolerances(), publisher, logger.Logger)
	nettingSvc := application.NewNettingService(instructionRepo, nettingRepo, publisher, logger.Logger)
	reconSvc := application.NewReconciliationService(instructionRepo, reconRepo, custodian, publisher, logger.Logger)
	riskSvc := application.NewRiskService(instructionRepo, domain.DefaultRiskConfig(), logger.Logger)

	// 8. Consumers
	tradeHandler := settlementconsumer.NewTradeExecutedHandler(instructionSvc, defaultSettlementCycle, logger.Logger)
	consumerCfg := cfg.MessageQueue.Kafka
	consumerCfg.Topic = "matching.trade.executed"
	if consumerCfg.GroupID == "" {
		consumerCfg.GroupID = "settlement-instruction-group"
	}
	tradeConsumer := kafka.NewConsumer(&consumerCfg, logger, metricsImpl)
	tradeConsumer.Start(context.Background(), 3, tradeHandler.Handle)

	// 9. Interfaces
	gin.SetMode(gin.ReleaseMode)
	if cfg.Server.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	httpHandler := httpserver.NewSettlementHandler(instructionSvc, matchingSvc, nettingSvc, reconSvc, riskSvc)
	httpHandler.RegisterRoutes(r)

	// 10. Start
	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		outboxProcessor.Start()
		<-ctx.Done()
		outboxProcessor.Stop()
		return nil
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Server.HTTP.Port)
		server := &http.Server{Addr: addr, Handler: r}
		slog.Info("HTTP server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			slog.Info("shutting down servers...")
		case <-ctx.Done():
			slog.Info("context cancelled, shutting down...")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server exited with error", "error", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
