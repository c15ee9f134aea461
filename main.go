package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"spot-trader/internal/api"
	"spot-trader/internal/events"
	"spot-trader/internal/monitor"
	"spot-trader/internal/persistence"
	"spot-trader/internal/strategy"
	"spot-trader/internal/trader"
	"spot-trader/pkg/config"
	"spot-trader/pkg/db"
	"spot-trader/pkg/exchanges/binance/spot"
	"spot-trader/pkg/exchanges/common"
	"spot-trader/pkg/exchanges/paper"
	"spot-trader/pkg/logger"
)

var buildVersion = "dev"

func main() {
	issueToken := flag.String("token", "", "print a control-panel token for the named operator and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of a token printed by -token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	if *issueToken != "" {
		token, err := api.IssueToken(*issueToken, cfg.JWTSecret, *tokenTTL)
		if err != nil {
			logrus.WithError(err).Fatal("issue token")
		}
		fmt.Println(token)
		return
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputFile: cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	}); err != nil {
		logrus.WithError(err).Fatal("init logger")
	}
	log := logger.For("main")
	log.WithFields(logrus.Fields{"port": cfg.Port, "dry_run": cfg.DryRun, "version": buildVersion}).Info("config loaded")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("trader exited")
	}
	log.Info("shutdown complete")
}

func run(cfg *config.Config, log *logrus.Entry) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer database.Close()
	journal := db.NewJournal(database)
	writer := persistence.NewBatchWriter(journal, 50, 2*time.Second)
	defer writer.Close()

	client := spot.New(spot.Config{
		APIKey:            cfg.BinanceAPIKey,
		APISecret:         cfg.BinanceAPISecret,
		Testnet:           cfg.BinanceTestnet,
		BaseURL:           cfg.BinanceBaseURL,
		RequestsPerSecond: cfg.RequestsPerSec,
	})
	var gw common.Gateway = client
	venue := "binance-spot"
	if cfg.DryRun {
		gw = paper.New(client, map[string]float64{cfg.DryRunQuoteAsset: cfg.DryRunInitialQuote}, paper.SimConfig{
			FeeRate:     cfg.DryRunFeeRate,
			SlippageBps: cfg.DryRunSlippageBps,
		})
		venue = "paper"
		log.WithFields(logrus.Fields{"quote": cfg.DryRunQuoteAsset, "balance": cfg.DryRunInitialQuote}).
			Warn("dry run: orders are simulated against live market data")
	}
	if _, err := gw.GetServerTime(ctx); err != nil {
		log.WithError(err).Warn("venue not reachable yet; traders will retry each cycle")
	}

	registry := strategy.DefaultRegistry()
	resolver := strategy.NewResolver(registry, logger.For("strategy"))
	defaults, assets, err := config.LoadAssets(cfg.AssetsFile, registry.Has)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.WithField("file", cfg.AssetsFile).Warn("no assets file; add stocks through the control panel")
		defaults = config.DefaultAsset()
	case err != nil:
		return fmt.Errorf("load assets: %w", err)
	}

	bus := events.NewBus()
	metrics := monitor.NewMetrics("")
	(&monitor.Monitor{Bus: bus, Metrics: metrics, Sink: monitor.LogSink{Log: logger.For("alert")}}).Start(ctx)

	deps := trader.Deps{Gateway: gw, Resolver: resolver, Journal: writer, Bus: bus, DryRun: cfg.DryRun}
	factory := func(a config.AssetConfig) (*trader.Trader, error) { return trader.New(a, deps) }

	sched := trader.NewScheduler(trader.SchedulerConfig{Serialized: cfg.SerializeCycles, Bus: bus})
	for _, a := range assets {
		t, err := factory(a)
		if err != nil {
			return fmt.Errorf("asset %s: %w", a.OperationCode, err)
		}
		if err := sched.Add(t); err != nil {
			return err
		}
	}
	sched.Start(ctx)
	log.WithField("assets", sched.Symbols()).Info("traders started")

	server := api.NewServer(api.Options{
		Scheduler:   sched,
		Factory:     factory,
		Defaults:    defaults,
		Known:       registry.Has,
		Orders:      journal,
		Metrics:     metrics,
		Bus:         bus,
		Weight:      client,
		Meta:        api.SystemMeta{DryRun: cfg.DryRun, Venue: venue, Version: buildVersion},
		JWTSecret:   cfg.JWTSecret,
		RateLimit:   cfg.APIRateLimit,
		RateBurst:   cfg.APIRateBurst,
		CORSOrigins: cfg.CORSOrigins,
	})
	if cfg.JWTSecret == "" {
		log.Warn("CONTROL_PANEL_JWT_SECRET not set; mutating routes are unauthenticated")
	}
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		stop()
		sched.Wait()
		return fmt.Errorf("control panel: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("control panel shutdown")
	}
	sched.Wait()
	return nil
}
