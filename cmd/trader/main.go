// Command trader is the downstream subscriber process: it decodes the
// StateSnapshot stream off the pub/sub bus and feeds it to a paper-trading
// engine and/or a live order router, while a background reconciler folds
// the live router's executions ledger into an idempotent trades ledger of
// realized PnL.
//
// Architecture:
//
//	main.go                — entry point: loads config, wires subscriber → {paper, live} → reconciler, waits for SIGINT/SIGTERM
//	internal/subscriber    — topic-filtered receive + tolerant JSON decode
//	internal/paper         — fixed-notional, r1-sign paper-trading engine with atomic JSON position persistence
//	internal/risk          — kill-switch risk gate guarding the live order router
//	internal/live          — live order router (OrderSubmitter is the injected exchange boundary)
//	internal/reconciler    — FIFO executions→trades realized-PnL ledger folding
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mdpipe/internal/config"
	"mdpipe/internal/live"
	"mdpipe/internal/paper"
	"mdpipe/internal/reconciler"
	"mdpipe/internal/risk"
	"mdpipe/internal/subscriber"
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

	runPaper := cfg.Trader.Mode == "paper" || cfg.Trader.Mode == "both"
	runLive := cfg.Trader.Mode == "live" || cfg.Trader.Mode == "both"

	var paperEngine *paper.Engine
	if runPaper {
		store, err := paper.Open(cfg.Paper.PersistDir)
		if err != nil {
			logger.Error("failed to open paper position store", "error", err)
			os.Exit(1)
		}
		paperEngine = paper.New(store, cfg.Paper.NotionalUSD, logger)
	}

	var liveRouter *live.Router
	var riskMgr *risk.Manager
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if runLive {
		riskMgr = risk.NewManager(cfg.Risk, logger)
		go riskMgr.Run(ctx)
		go watchKillSignals(ctx, riskMgr, logger)
		liveRouter = live.New(&unimplementedSubmitter{}, riskMgr, cfg.Trader.ExecutionsLedgerPath, cfg.Paper.NotionalUSD, logger)
	}

	handler := func(s types.StateSnapshot) {
		if paperEngine != nil {
			if err := paperEngine.OnSnapshot(s); err != nil {
				logger.Error("paper engine failed to process snapshot", "error", err, "instrument", s.Instrument)
			}
		}
		if liveRouter != nil {
			if err := liveRouter.OnSnapshot(ctx, s); err != nil {
				logger.Error("live router failed to process snapshot", "error", err, "instrument", s.Instrument)
			}
		}
	}

	sub, err := subscriber.Subscribe(cfg.Publisher.URL, cfg.Publisher.TopicPrefix, handler, logger)
	if err != nil {
		logger.Error("failed to subscribe", "error", err)
		os.Exit(1)
	}

	if runLive {
		go runReconcileLoop(ctx, *cfg, logger)
	}

	logger.Info("trader started", "mode", cfg.Trader.Mode, "instruments", cfg.Instruments)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	sub.Close()
}

// watchKillSignals logs every kill signal the risk manager emits, giving
// an audit trail distinct from the router's own IsKillSwitchActive poll on
// each snapshot tick.
func watchKillSignals(ctx context.Context, riskMgr *risk.Manager, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-riskMgr.KillCh():
			instrument := sig.Key.Instrument
			if instrument == "" {
				instrument = "*"
			}
			logger.Error("kill switch signal", "instrument", instrument, "reason", sig.Reason)
		}
	}
}

// runReconcileLoop periodically folds the executions ledger into the
// trades ledger for every configured instrument, under cfg.Trader.Category.
func runReconcileLoop(ctx context.Context, cfg config.Config, logger *slog.Logger) {
	interval := time.Duration(cfg.Trader.ReconcileIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reconcileOnce(cfg, logger)
		}
	}
}

func reconcileOnce(cfg config.Config, logger *slog.Logger) {
	rec, err := reconciler.New(cfg.Trader.TradesLedgerPath)
	if err != nil {
		logger.Error("failed to open reconciler", "error", err)
		return
	}

	for _, instrument := range cfg.Instruments {
		execs, err := reconciler.ReadExecutions(cfg.Trader.ExecutionsLedgerPath, cfg.Trader.Category, instrument)
		if err != nil {
			logger.Error("failed to read executions", "error", err, "instrument", instrument)
			continue
		}
		if len(execs) == 0 {
			continue
		}

		result, err := rec.Reconcile(cfg.Trader.Category, instrument, execs)
		if err != nil {
			logger.Error("reconcile failed", "error", err, "instrument", instrument)
			continue
		}
		if result.ClosedEvents > 0 {
			logger.Info("reconciled executions", "instrument", instrument, "closed", result.ClosedEvents, "duplicates", result.DuplicatesSeen)
		}
	}
}

// unimplementedSubmitter is the placeholder OrderSubmitter used until a
// real exchange REST client is injected; signing and submission are out
// of scope here (see internal/live/router.go).
type unimplementedSubmitter struct{}

var errUnimplementedSubmitter = errors.New("no OrderSubmitter configured for live trading")

func (unimplementedSubmitter) Submit(ctx context.Context, order live.Order) (types.ExecutionRecord, error) {
	return types.ExecutionRecord{}, errUnimplementedSubmitter
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
