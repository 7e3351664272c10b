// Package paper is a minimal paper-trading harness: it consumes
// StateSnapshots off the subscriber and maintains a decimal position and
// realized-PnL record per (exchange, instrument) key, sized by a fixed
// notional rule driven by the sign of r1. The persisted Cash field is not
// updated by the engine. It is scaffolding for the contract between
// the snapshot stream and a real execution engine, not trading logic —
// position persistence follows the teacher's internal/store atomic
// JSON-file pattern (write to .tmp, then rename) exactly.
package paper

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"mdpipe/pkg/types"
)

// Position is one key's paper position, persisted to JSON.
type Position struct {
	Qty           decimal.Decimal `json:"qty"` // positive = long, negative = short
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	Cash          decimal.Decimal `json:"cash"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	LastUpdated   time.Time       `json:"last_updated"`
}

// Store persists positions to JSON files in a designated directory, one
// file per key, using atomic write-then-rename.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a Store backed by dir, creating it if necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create paper store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(key types.MarketKey) string {
	return filepath.Join(s.dir, fmt.Sprintf("pos_%s_%s.json", key.Exchange, key.Instrument))
}

// Save atomically persists pos for key.
func (s *Store) Save(key types.MarketKey, pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}

	path := s.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write position: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load restores a previously-saved position for key, or returns the
// zero-value Position if none exists.
func (s *Store) Load(key types.MarketKey) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return Position{Qty: decimal.Zero, AvgEntryPrice: decimal.Zero, Cash: decimal.Zero, RealizedPnL: decimal.Zero}, nil
		}
		return Position{}, fmt.Errorf("read position: %w", err)
	}

	var pos Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return Position{}, fmt.Errorf("unmarshal position: %w", err)
	}
	return pos, nil
}
