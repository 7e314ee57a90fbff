package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/thrisw/tpslkeeper/config"
	"github.com/thrisw/tpslkeeper/internal/adapters/binance"
	"github.com/thrisw/tpslkeeper/internal/adapters/notify"
	"github.com/thrisw/tpslkeeper/internal/adapters/solana"
	"github.com/thrisw/tpslkeeper/internal/adapters/storage"
	"github.com/thrisw/tpslkeeper/internal/engine"
	"github.com/thrisw/tpslkeeper/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	initEscrows := flag.Bool("init", false, "create missing on-chain escrows for configured orders, then exit")
	once := flag.Bool("once", false, "exit once every order reaches a terminal state")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print the order table on exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("tpslkeeper starting",
		"config", *configPath,
		"orders", len(cfg.Orders),
		"rpc", cfg.Ledger.RPCURL,
		"once", *once,
	)

	gateway, err := solana.NewGateway(solana.Config{
		RPCURL:         cfg.Ledger.RPCURL,
		ProgramID:      cfg.Ledger.ProgramID,
		PriceUpdate:    cfg.Ledger.PriceUpdateAccount,
		KeypairPath:    cfg.Ledger.KeypairPath,
		Commitment:     cfg.Ledger.Commitment,
		ConfirmTimeout: cfg.ConfirmTimeout(),
	})
	if err != nil {
		slog.Error("failed to set up ledger gateway", "err", err)
		os.Exit(1)
	}
	slog.Info("wallet loaded", "address", gateway.Wallet())

	var store ports.OrderStore
	if cfg.Storage.DSN != "" {
		sqlStore, err := storage.NewSQLiteStore(cfg.Storage.DSN)
		if err != nil {
			slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
			os.Exit(1)
		}
		defer sqlStore.Close()
		store = sqlStore
	}

	feed := binance.NewFeed(binance.Config{
		BaseURL:        cfg.Feed.WSBase,
		InitialBackoff: cfg.ReconnectInitial(),
		MaxBackoff:     cfg.ReconnectMax(),
		MaxRetries:     cfg.Feed.ReconnectMaxRetries,
	})

	console := notify.NewConsole()

	engCfg := engine.DefaultConfig()
	engCfg.ShutdownGrace = cfg.ShutdownGrace()
	engCfg.Once = *once

	eng := engine.New(engCfg, feed, gateway, store, console)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, oc := range cfg.Orders {
		if err := eng.Register(ctx, oc.Order()); err != nil {
			slog.Error("failed to register order", "order_id", oc.ID, "err", err)
			os.Exit(1)
		}
	}

	if *initEscrows {
		if err := runInit(ctx, gateway, eng); err != nil {
			slog.Error("escrow init failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := eng.Run(ctx); err != nil {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}

	if *table {
		printStatus(console, eng)
	}
	slog.Info("tpslkeeper stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
