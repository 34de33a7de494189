package ledger

import (
	"time"

	"github.com/rustyeddy/gatekeeper/trade"
)

// BreakerFlag names a circuit breaker controlled through SetBreaker.
type BreakerFlag string

const (
	EmergencyStop BreakerFlag = "emergency_stop"
	DailyLoss     BreakerFlag = "daily_loss"
)

// BreakerState is the circuit breaker view carried on every snapshot.
// It is read by every validation and mutated only by the supervisor or an
// explicit operator command.
type BreakerState struct {
	EmergencyStop      bool
	DailyLossTriggered bool
	BlockedSymbols     map[string]struct{}
}

// Blocked reports whether a symbol is on the blocked list.
func (b BreakerState) Blocked(symbol string) bool {
	_, ok := b.BlockedSymbols[symbol]
	return ok
}

// PositionRecord is the ledger's view of one open position, keyed by
// symbol. It is owned exclusively by the ledger and mutated only through
// Commit.
type PositionRecord struct {
	Symbol        string
	StrategyID    string
	Side          trade.Side
	Size          float64
	EntryPrice    float64
	UnrealizedPnL float64
	RealizedPnL   float64
	Lots          int     // number of fills stacked into this record
	Risk          float64 // committed risk carried by this position
}

// Snapshot is a read-only, internally consistent point-in-time view of the
// portfolio. Readers obtain it from an atomically swapped pointer and never
// block the ledger writer.
type Snapshot struct {
	TotalValue         float64
	AvailableCash      float64
	UnrealizedPnL      float64
	RealizedPnLToday   float64
	TotalRiskExposure  float64 // held reservations + committed position risk
	PositionCount      int
	LargestPositionPct float64
	Positions          map[string]PositionRecord
	Breakers           BreakerState
	TakenAt            time.Time
}

// LotsFor returns how many fills are stacked on a symbol, 0 when flat.
func (s *Snapshot) LotsFor(symbol string) int {
	if p, ok := s.Positions[symbol]; ok {
		return p.Lots
	}
	return 0
}
