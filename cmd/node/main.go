package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperclob/params"
	"github.com/uhyunpark/hyperclob/pkg/api"
	"github.com/uhyunpark/hyperclob/pkg/app/clob"
	"github.com/uhyunpark/hyperclob/pkg/custody"
	"github.com/uhyunpark/hyperclob/pkg/events"
	"github.com/uhyunpark/hyperclob/pkg/matcher"
	"github.com/uhyunpark/hyperclob/pkg/metrics"
	"github.com/uhyunpark/hyperclob/pkg/storage"
	"github.com/uhyunpark/hyperclob/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	level, err := util.ParseLevel(cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("logger_initialized", zap.String("log_file", cfg.Node.LogFile), zap.String("level", level.String()))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("node_failed", zap.Error(err))
	}
}

func run(cfg params.Config, logger *zap.Logger) error {
	// ---- Storage ----
	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		return err
	}
	store, err := storage.Open(filepath.Join(cfg.Node.DataDir, "ledger"))
	if err != nil {
		return err
	}
	defer store.Close()

	var journal storage.Journal = storage.NewNopJournal()
	if cfg.Node.JournalFile != "" {
		fj, err := storage.NewFileJournal(cfg.Node.JournalFile)
		if err != nil {
			return err
		}
		journal = fj
		logger.Info("journal_enabled", zap.String("path", cfg.Node.JournalFile))
	}
	defer journal.Close()

	// ---- Custody ----
	// Devnet vault; DEV_FUNDS credits wallets so they can deposit.
	vault := custody.NewVault(logger.Named("custody"))
	for _, g := range cfg.DevFunds {
		vault.Fund(g.Owner, g.Asset, g.Amount)
		logger.Info("dev_funds",
			zap.String("owner", g.Owner.Hex()),
			zap.String("asset", g.Asset.Hex()),
			zap.String("amount", g.Amount.Dec()),
		)
	}

	// ---- Events ----
	hub := api.NewHub(logger.Named("ws"))
	bus := events.NewBus(events.NewLogSink(logger.Named("events")), hub)
	if len(cfg.Events.KafkaBrokers) > 0 {
		kafka := events.NewKafkaSink(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, logger.Named("kafka"))
		defer kafka.Close()
		bus.Add(kafka)
		logger.Info("kafka_sink_enabled",
			zap.Strings("brokers", cfg.Events.KafkaBrokers),
			zap.String("topic", cfg.Events.KafkaTopic),
		)
	}

	m := metrics.New()

	// ---- Exchange ----
	ex, err := clob.New(store, clob.Options{
		Base:          cfg.Ledger.Base,
		Quote:         cfg.Ledger.Quote,
		Custody:       vault,
		Genesis:       cfg.Genesis(),
		LedgerAddress: cfg.Ledger.Address,
		ChainID:       cfg.Ledger.ChainID,
		Logger:        logger.Named("exchange"),
		Bus:           bus,
		Journal:       journal,
		Metrics:       m,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Matcher ----
	var book api.Depth
	if cfg.Matcher.Enabled {
		self := cfg.MatcherAddress()
		live, err := ex.Config(ctx)
		if err != nil {
			return err
		}
		if !live.IsMatcher(self) {
			logger.Warn("matcher_not_authorized", zap.String("address", self.Hex()))
		}
		mt := matcher.New(ex, self, cfg.Matcher.Interval, logger.Named("matcher"))
		bus.Add(mt)
		open, err := ex.OpenOrders(ctx)
		if err != nil {
			return err
		}
		mt.Load(open)
		book = mt
		go mt.Run(ctx)
	}

	hash, err := ex.StateHash(ctx)
	if err != nil {
		return err
	}
	logger.Info("node_starting",
		zap.String("base", cfg.Ledger.Base.Hex()),
		zap.String("quote", cfg.Ledger.Quote.Hex()),
		zap.String("chain_id", cfg.Ledger.ChainID.String()),
		zap.String("state_hash", hash),
	)

	// ---- API Server ----
	// Start HTTP/WebSocket server for frontend
	apiServer := api.NewServer(ex, hub, api.Options{
		CORSOrigins: cfg.Node.CORSOrigins,
		Metrics:     m.Handler(),
		Book:        book,
		Logger:      logger.Named("api"),
	})

	errc := make(chan error, 1)
	go func() {
		errc <- apiServer.Start(cfg.Node.APIAddr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("node_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return apiServer.Shutdown(shutdownCtx)
}
