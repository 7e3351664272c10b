// Command aggregator is the market-data pipeline entry point: it dials one
// websocket feed per (exchange, instrument) pair, folds every quote into the
// cross-exchange aggregator, and on a fixed interval publishes a
// StateSnapshot to the pub/sub bus and enqueues it for durable storage.
//
// Architecture:
//
//	main.go                — entry point: loads config, wires feeds → aggregator → snapshot loop, waits for SIGINT/SIGTERM
//	internal/feed          — one websocket adapter per (exchange, instrument), auto-reconnect with backoff
//	internal/book          — local order book mirror fed by each adapter
//	internal/aggregator    — cross-exchange state: top-of-book, short-horizon returns, imbalance, cross-exchange signal
//	internal/snapshot      — fixed-interval sampling loop (absolute-deadline sleep_until)
//	internal/publisher     — NATS fan-out, bounded drop-new queue
//	internal/store         — durable batch writer, bounded drop-oldest queue
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"mdpipe/internal/aggregator"
	"mdpipe/internal/book"
	"mdpipe/internal/config"
	"mdpipe/internal/feed"
	"mdpipe/internal/publisher"
	"mdpipe/internal/snapshot"
	"mdpipe/internal/store"
	"mdpipe/pkg/types"
)

func main() {
	cfgPath := "configs/config.json"
	if p := os.Getenv("MDAGG_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	agg := aggregator.New()

	adapters, err := buildAdapters(*cfg, agg, logger)
	if err != nil {
		logger.Error("failed to build feed adapters", "error", err)
		os.Exit(1)
	}

	pub, err := publisher.New(cfg.Publisher.URL, cfg.Publisher.TopicPrefix, cfg.Publisher.QueueDepth, logger)
	if err != nil {
		logger.Error("failed to connect publisher", "error", err)
		os.Exit(1)
	}

	writer := store.New(cfg.Store.DBPath, cfg.Store.QueueDepth, time.Duration(cfg.Store.FlushIntervalMs)*time.Millisecond, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := writer.Start(ctx); err != nil {
		logger.Error("failed to start batch writer", "error", err)
		os.Exit(1)
	}

	loop := snapshot.New(agg, pub, writer, time.Duration(cfg.OrderBookPollFrequencyInMs)*time.Millisecond, logger)

	var wg sync.WaitGroup
	for _, a := range adapters {
		wg.Add(1)
		go func(a feed.Adapter) {
			defer wg.Done()
			if err := a.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("feed adapter exited", "error", err)
			}
		}(a)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	logger.Info("aggregator started",
		"exchanges", cfg.Exchanges,
		"instruments", cfg.Instruments,
		"depth", cfg.OrderBookDepth,
		"poll_ms", cfg.OrderBookPollFrequencyInMs,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	writer.Stop()
	pub.Close()
	wg.Wait()
}

// buildAdapters constructs one feed.Adapter per (exchange, instrument) pair
// named in cfg, wiring each adapter's OnQuote callback into the aggregator
// under the exchange it belongs to.
func buildAdapters(cfg config.Config, agg *aggregator.Aggregator, logger *slog.Logger) ([]feed.Adapter, error) {
	var adapters []feed.Adapter

	for _, ex := range cfg.Exchanges {
		exchange, err := parseExchange(ex)
		if err != nil {
			return nil, err
		}

		for _, instrument := range cfg.Instruments {
			onQuote := func(q types.Quote, ob *book.Book) {
				agg.OnQuote(exchange, q, ob)
			}

			switch exchange {
			case types.Binance:
				adapters = append(adapters, feed.NewBinanceFeed(instrument, cfg.OrderBookDepth, onQuote, logger))
			case types.Bybit:
				adapters = append(adapters, feed.NewBybitFeed(instrument, cfg.OrderBookDepth, onQuote, logger))
			}
		}
	}

	return adapters, nil
}

func parseExchange(name string) (types.Exchange, error) {
	switch name {
	case "binance":
		return types.Binance, nil
	case "bybit":
		return types.Bybit, nil
	default:
		return "", fmt.Errorf("unsupported exchange %q", name)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
