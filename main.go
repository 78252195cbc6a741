package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gridbot/pkg/bot"
	"gridbot/pkg/config"
	"gridbot/pkg/exchange"
	"gridbot/pkg/exchange/binance"
	"gridbot/pkg/exchange/sim"
	"gridbot/pkg/journal"
	"gridbot/pkg/ledger"
	"gridbot/pkg/models"
	"gridbot/pkg/orders"
	"gridbot/pkg/signal"
	"gridbot/pkg/stream"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Never closed: the supervisor loops may still be sending while the
	// consumers exit on ctx. Everything drains on cancellation instead.
	ch := make(chan models.ExchangeMessage, 100)

	var (
		gw      exchange.Gateway
		tokener exchange.SessionTokener
	)
	if cfg.Simulated {
		logger.Info("running in simulated mode, no orders reach the exchange")
		gw = sim.New(cfg.Symbol, decimal.NewFromInt(1000), logger)
	} else {
		api := binance.NewAPI(cfg.APIKey, cfg.APISecret, cfg.RESTBaseURL(), cfg.Symbol, logger)
		api.Init(ctx, cfg.Leverage)
		gw = api
		tokener = api
	}

	store := ledger.NewStore(cfg.StateFile)
	led, err := ledger.Open(store, logger)
	if err != nil {
		logger.Fatal("failed to open position ledger", zap.Error(err))
	}

	jnl, err := journal.Open(cfg.JournalFile)
	if err != nil {
		logger.Fatal("failed to open snapshot journal", zap.Error(err))
	}
	defer jnl.Close()

	tol := orders.Tolerances{
		GridPrice: decimal.NewFromFloat(cfg.Protect.GridPriceTolerance),
		TPOffset:  decimal.NewFromFloat(cfg.Protect.TPOffset),
		SLPrice:   decimal.NewFromFloat(cfg.Protect.SLTolerance),
	}
	rec := orders.NewReconciler(gw, tol, logger)

	b := bot.New(cfg, gw, rec, led, signal.NewDetector(), jnl, logger)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sup := stream.New(cfg.WSBaseURL(), cfg.Symbol, tokener, ch, logger)
	go sup.Run(ctx)

	logger.Info("bot starting",
		zap.String("symbol", cfg.Symbol),
		zap.String("version", bot.Version),
		zap.Bool("simulated", cfg.Simulated),
		zap.Bool("testnet", cfg.Testnet))

	b.Run(ctx, ch)

	logger.Info("bot stopped")
}
