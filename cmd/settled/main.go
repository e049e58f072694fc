// Command settled runs the settlement engine and custody services behind an
// HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/everbloomhq/exchange/api"
	"github.com/everbloomhq/exchange/internal/config"
	"github.com/everbloomhq/exchange/internal/custody"
	"github.com/everbloomhq/exchange/internal/fees"
	"github.com/everbloomhq/exchange/internal/registry"
	"github.com/everbloomhq/exchange/internal/settlement"
	"github.com/everbloomhq/exchange/internal/verifier"
	"github.com/everbloomhq/exchange/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("service exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	var db *gorm.DB
	if cfg.Database.DSN != "" {
		var err error
		db, err = gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		log.Info("connected to postgres")
	} else {
		log.Info("no database configured, using in-memory stores")
	}

	engineAddr := common.HexToAddress(cfg.Engine.Address)
	feeAccount := common.HexToAddress(cfg.Engine.FeeAccount)

	maxRate, err := decimal.NewFromString(cfg.Engine.MaxTotalFeeRate)
	if err != nil {
		return fmt.Errorf("parse max_total_fee_rate: %w", err)
	}

	reg := registry.New(log)

	feeSvc := fees.NewService(log, maxRate)
	feeSvc.SetFeeAccount(feeAccount)

	// One custody service per configured address, each whitelisted and with
	// the engine installed as platform operator. Owner-side approvals are
	// granted per owner at runtime.
	custodies := custody.NewDirectory()
	for _, hex := range cfg.Engine.CustodyServices {
		addr := common.HexToAddress(hex)

		var store custody.Store
		if db != nil {
			gs := custody.NewGormStore(db, addr)
			if err := gs.Migrate(); err != nil {
				return fmt.Errorf("migrate custody store %s: %w", addr.Hex(), err)
			}
			store = gs
		} else {
			store = custody.NewMemoryStore()
		}

		svc := custody.NewService(addr, store, log)
		svc.SetOperator(engineAddr, true)
		custodies.Register(svc)
		reg.SetCustodyService(addr, true)
		log.Info("custody service registered", zap.String("address", addr.Hex()))
	}

	var orderStore settlement.Store
	if db != nil {
		gs := settlement.NewGormStore(db)
		if err := gs.Migrate(); err != nil {
			return fmt.Errorf("migrate order store: %w", err)
		}
		orderStore = gs
	} else {
		orderStore = settlement.NewMemoryStore()
	}

	var publisher settlement.AuditPublisher
	if cfg.Kafka.Enabled {
		kp := settlement.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer kp.Close()
		publisher = kp
		log.Info("kafka audit publisher enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	} else {
		publisher = settlement.NewMemoryPublisher()
	}

	engine := settlement.NewEngine(
		engineAddr,
		orderStore,
		custodies,
		reg,
		feeSvc,
		verifier.NewDirectory(),
		publisher,
		log,
	)

	server := api.NewServer(engine, custodies, reg, feeSvc, log)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}
