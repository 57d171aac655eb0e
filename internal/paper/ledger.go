package paper

import (
	"sync"

	"futurebot-go/internal/market"
)

// Ledger stores simulated fills in memory for quick inspection.
type Ledger struct {
	mu    sync.Mutex
	fills []market.Order
}

// NewLedger creates an empty ledger optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{fills: make([]market.Order, 0, capacity)}
}

// Record appends a fill to the ledger.
func (l *Ledger) Record(fill market.Order) {
	l.mu.Lock()
	l.fills = append(l.fills, fill)
	l.mu.Unlock()
}

// Snapshot returns a copy of the recorded fills.
func (l *Ledger) Snapshot() []market.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]market.Order, len(l.fills))
	copy(out, l.fills)
	return out
}

// Reset clears all stored fills.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.fills = l.fills[:0]
	l.mu.Unlock()
}
