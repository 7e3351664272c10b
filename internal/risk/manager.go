// Package risk gates the live order router with the same kill-switch
// design as the teacher's internal/risk/manager.go — a standalone
// goroutine that ingests position reports and emits kill signals when a
// per-key exposure cap, a daily-loss cap, or a rapid-price-movement cap
// is breached — repurposed here to key on (exchange, instrument) instead
// of a single prediction-market id, and to gate order submission rather
// than quote cancellation.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mdpipe/internal/config"
	"mdpipe/pkg/types"
)

// killSwitchCooldown is how long the kill switch stays engaged after a
// breach before it clears on its own.
const killSwitchCooldown = 5 * time.Minute

// PositionReport is submitted by the live trader after every fill it
// routes, for risk evaluation.
type PositionReport struct {
	Key           types.MarketKey
	ExposureUSD   float64
	MidPrice      float64
	UnrealizedPnL float64
	RealizedPnL   float64
	Timestamp     time.Time
}

// KillSignal tells the live trader to stop submitting new orders. An
// empty Key means halt every key.
type KillSignal struct {
	Key    types.MarketKey
	Reason string
}

type priceAnchor struct {
	price     float64
	timestamp time.Time
}

// Manager aggregates position reports and emits kill signals.
type Manager struct {
	cfg    config.RiskConfig
	logger *slog.Logger

	mu               sync.RWMutex
	positions        map[types.MarketKey]PositionReport
	totalExposure    float64
	totalRealizedPnL float64
	killSwitchActive bool
	killSwitchUntil  time.Time
	priceAnchors     map[types.MarketKey]priceAnchor

	reportCh chan PositionReport
	killCh   chan KillSignal
}

// NewManager creates a risk manager bound to cfg.
func NewManager(cfg config.RiskConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		logger:       logger.With("component", "risk"),
		positions:    make(map[types.MarketKey]PositionReport),
		priceAnchors: make(map[types.MarketKey]priceAnchor),
		reportCh:     make(chan PositionReport, 100),
		killCh:       make(chan KillSignal, 10),
	}
}

// Run processes reports and periodically clears an expired kill switch,
// until ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case report := <-m.reportCh:
			m.processReport(report)
		case <-ticker.C:
			m.clearExpiredKillSwitch()
		}
	}
}

// Report submits a position report without blocking the caller; a full
// channel drops the report and logs a warning.
func (m *Manager) Report(report PositionReport) {
	select {
	case m.reportCh <- report:
	default:
		m.logger.Warn("risk report channel full, dropping report", "instrument", report.Key.Instrument)
	}
}

// KillCh returns the channel the live trader reads kill signals from.
func (m *Manager) KillCh() <-chan KillSignal {
	return m.killCh
}

// IsKillSwitchActive reports whether the kill switch is currently
// engaged, clearing it first if its cooldown has elapsed.
func (m *Manager) IsKillSwitchActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.killSwitchActive {
		return false
	}
	if time.Now().After(m.killSwitchUntil) {
		m.killSwitchActive = false
		return false
	}
	return true
}

func (m *Manager) processReport(report PositionReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions[report.Key] = report

	m.totalExposure = 0
	m.totalRealizedPnL = 0
	totalUnrealizedPnL := 0.0
	for _, pos := range m.positions {
		m.totalExposure += pos.ExposureUSD
		m.totalRealizedPnL += pos.RealizedPnL
		totalUnrealizedPnL += pos.UnrealizedPnL
	}

	if m.cfg.MaxPositionPerKeyUSD > 0 && report.ExposureUSD > m.cfg.MaxPositionPerKeyUSD {
		m.emitKill(report.Key, "per-key position limit breached")
	}

	totalPnL := m.totalRealizedPnL + totalUnrealizedPnL
	if m.cfg.MaxDailyLossUSD > 0 && totalPnL < -m.cfg.MaxDailyLossUSD {
		m.emitKill(types.MarketKey{}, "max daily loss breached")
	}

	m.checkPriceMovement(report)
}

// checkPriceMovement compares the report's mid against a rolling anchor,
// resetting the anchor once it is older than KillSwitchWindowSec.
func (m *Manager) checkPriceMovement(report PositionReport) {
	if m.cfg.KillSwitchWindowSec <= 0 || m.cfg.KillSwitchDropPct <= 0 {
		return
	}
	window := time.Duration(m.cfg.KillSwitchWindowSec) * time.Second

	anchor, ok := m.priceAnchors[report.Key]
	if !ok || report.Timestamp.Sub(anchor.timestamp) > window {
		m.priceAnchors[report.Key] = priceAnchor{price: report.MidPrice, timestamp: report.Timestamp}
		return
	}
	if anchor.price == 0 {
		return
	}

	pctChange := (report.MidPrice - anchor.price) / anchor.price
	if pctChange < 0 {
		pctChange = -pctChange
	}

	if pctChange > m.cfg.KillSwitchDropPct {
		m.emitKill(report.Key, fmt.Sprintf("rapid price movement: %.1f%% in %ds", pctChange*100, m.cfg.KillSwitchWindowSec))
	}
}

func (m *Manager) clearExpiredKillSwitch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.killSwitchActive && time.Now().After(m.killSwitchUntil) {
		m.killSwitchActive = false
	}
}

// emitKill engages the kill switch and delivers the signal, draining a
// stale pending signal first so the latest reason always gets through.
func (m *Manager) emitKill(key types.MarketKey, reason string) {
	m.killSwitchActive = true
	m.killSwitchUntil = time.Now().Add(killSwitchCooldown)

	m.logger.Error("KILL SWITCH", "instrument", key.Instrument, "reason", reason, "cooldown_until", m.killSwitchUntil)

	sig := KillSignal{Key: key, Reason: reason}
	select {
	case m.killCh <- sig:
	default:
		select {
		case <-m.killCh:
		default:
		}
		m.killCh <- sig
	}
}
