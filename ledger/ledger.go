package ledger

import (
	"errors"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustyeddy/gatekeeper/pkg/id"
	"github.com/rustyeddy/gatekeeper/trade"
)

var (
	// ErrInsufficientBudget means a reservation would push total held risk
	// over the portfolio risk budget. Expected under concurrency.
	ErrInsufficientBudget = errors.New("insufficient risk budget")
	// ErrEmergencyStopped means the emergency stop breaker is active.
	ErrEmergencyStopped = errors.New("emergency stop is active")
	// ErrLedgerHalted means a fatal invariant violation was detected and
	// the ledger refuses further reservations.
	ErrLedgerHalted = errors.New("ledger halted: invariant violation")
	// ErrUnknownHandle means the reservation handle was never issued.
	ErrUnknownHandle = errors.New("unknown reservation handle")
	// ErrInvalidRisk means the requested risk amount is not positive.
	ErrInvalidRisk = errors.New("risk amount must be positive")
)

// Handle is an opaque token binding a pending risk-budget hold to a
// correlation id.
type Handle string

// budgetEpsilon absorbs float noise when comparing held risk to budget.
const budgetEpsilon = 1e-9

type reservation struct {
	handle        Handle
	correlationID string
	symbol        string
	side          trade.Side
	strategyID    string
	risk          float64
	expiresAt     time.Time
	committed     bool
	released      bool
	result        PositionRecord // prior commit result, replayed on duplicate commits
}

func (r *reservation) outstanding() bool { return !r.committed && !r.released }

// Config sets the ledger's initial capital and risk budget.
type Config struct {
	InitialCash         float64
	MaxPortfolioRiskPct float64       // budget = pct/100 × total value
	ReservationTTL      time.Duration // 0 means reservations never expire
}

// Ledger is the single authoritative store of capital, positions, realized
// P&L and breaker flags. All mutations are linearized through one mutex;
// readers load an atomically swapped immutable Snapshot and never block on
// the writer.
type Ledger struct {
	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]

	cash          float64
	positions     map[string]*PositionRecord
	reservations  map[Handle]*reservation
	byCorrelation map[string]Handle
	heldRisk      float64
	realizedToday float64
	breakers      BreakerState
	budgetPct     float64
	ttl           time.Duration

	halted  atomic.Bool
	onEvent AppendFunc
	now     func() time.Time
}

// New creates a ledger holding only cash.
func New(cfg Config) *Ledger {
	l := &Ledger{
		cash:          cfg.InitialCash,
		positions:     make(map[string]*PositionRecord),
		reservations:  make(map[Handle]*reservation),
		byCorrelation: make(map[string]Handle),
		budgetPct:     cfg.MaxPortfolioRiskPct,
		ttl:           cfg.ReservationTTL,
		now:           time.Now,
	}
	l.mu.Lock()
	l.publishLocked()
	l.mu.Unlock()
	return l
}

// OnEvent installs the durable append hook. Events are emitted after the
// writer lock is released; fn must not call back into the ledger.
func (l *Ledger) OnEvent(fn AppendFunc) { l.onEvent = fn }

// Snapshot returns the current portfolio view. Never blocks on the writer.
func (l *Ledger) Snapshot() *Snapshot { return l.snap.Load() }

// Halted reports whether a fatal invariant violation stopped admission.
func (l *Ledger) Halted() bool { return l.halted.Load() }

// Reserve places a provisional hold of riskAmount against the portfolio
// risk budget. All reserve calls are linearized; a reservation that would
// push total held plus committed risk over budget is rejected, never
// partially applied. Calling again with the same correlation id returns
// the existing outstanding handle.
func (l *Ledger) Reserve(correlationID, symbol string, side trade.Side, strategyID string, riskAmount float64) (Handle, error) {
	if riskAmount <= 0 {
		return "", ErrInvalidRisk
	}
	if l.halted.Load() {
		return "", ErrLedgerHalted
	}

	l.mu.Lock()
	if l.breakers.EmergencyStop {
		l.mu.Unlock()
		return "", ErrEmergencyStopped
	}
	if h, ok := l.byCorrelation[correlationID]; ok {
		if res := l.reservations[h]; res != nil && res.outstanding() {
			l.mu.Unlock()
			return h, nil
		}
	}

	budget := l.budgetPct / 100 * l.totalValueLocked()
	if l.heldRisk+l.committedRiskLocked()+riskAmount > budget+budgetEpsilon {
		l.mu.Unlock()
		return "", ErrInsufficientBudget
	}

	res := &reservation{
		handle:        Handle(id.New()),
		correlationID: correlationID,
		symbol:        symbol,
		side:          side,
		strategyID:    strategyID,
		risk:          riskAmount,
	}
	if l.ttl > 0 {
		res.expiresAt = l.now().Add(l.ttl)
	}
	l.reservations[res.handle] = res
	l.byCorrelation[correlationID] = res.handle
	l.heldRisk += riskAmount

	evs := []Event{{
		Kind:          EventReserve,
		CorrelationID: correlationID,
		Handle:        string(res.handle),
		Symbol:        symbol,
		Amount:        riskAmount,
		At:            l.now(),
	}}
	if haltEv, bad := l.verifyInvariantLocked(); bad {
		evs = append(evs, haltEv)
	}
	l.publishLocked()
	l.mu.Unlock()

	l.emit(evs...)
	if l.halted.Load() {
		return "", ErrLedgerHalted
	}
	return res.handle, nil
}

// Commit converts a reservation into a confirmed position delta. Calling
// twice with the same handle is a no-op returning the prior result. A
// commit that arrives after a release still applies the fill: the exchange
// executed it, so the ledger must reflect it; held risk was already freed
// and both orders converge to the same final state.
func (l *Ledger) Commit(h Handle, fill trade.Execution) (PositionRecord, error) {
	l.mu.Lock()
	res, ok := l.reservations[h]
	if !ok {
		l.mu.Unlock()
		return PositionRecord{}, ErrUnknownHandle
	}
	if res.committed {
		prior := res.result
		l.mu.Unlock()
		return prior, nil
	}

	if !res.released {
		l.heldRisk -= res.risk
	}
	res.committed = true

	rec := l.applyFillLocked(res, fill)
	res.result = rec

	l.publishLocked()
	l.mu.Unlock()

	l.emit(Event{
		Kind:          EventCommit,
		CorrelationID: res.correlationID,
		Handle:        string(h),
		Symbol:        res.symbol,
		Amount:        fill.FilledQuantity,
		At:            l.now(),
	})
	return rec, nil
}

// Release frees an unfilled reservation. No-op after Commit or after a
// prior Release.
func (l *Ledger) Release(h Handle) error {
	l.mu.Lock()
	res, ok := l.reservations[h]
	if !ok {
		l.mu.Unlock()
		return ErrUnknownHandle
	}
	if !res.outstanding() {
		l.mu.Unlock()
		return nil
	}
	ev := l.releaseLocked(res, "released")
	l.publishLocked()
	l.mu.Unlock()

	l.emit(ev)
	return nil
}

// Positions returns the open position records, for durable snapshot.
func (l *Ledger) Positions() []PositionRecord {
	snap := l.snap.Load()
	out := make([]PositionRecord, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		out = append(out, p)
	}
	return out
}

// Lookup returns the reservation handle issued for a correlation id.
func (l *Ledger) Lookup(correlationID string) (Handle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.byCorrelation[correlationID]
	return h, ok
}

// ReleaseExpired frees every outstanding reservation whose TTL elapsed
// before now. Returns how many were released.
func (l *Ledger) ReleaseExpired(now time.Time) int {
	l.mu.Lock()
	var evs []Event
	for _, res := range l.reservations {
		if res.outstanding() && !res.expiresAt.IsZero() && res.expiresAt.Before(now) {
			evs = append(evs, l.releaseLocked(res, "expired"))
		}
	}
	if len(evs) > 0 {
		l.publishLocked()
	}
	l.mu.Unlock()

	l.emit(evs...)
	return len(evs)
}

// SetBreaker updates a circuit breaker flag. The new value is visible to
// every subsequent Snapshot and Reserve call. Setting EmergencyStop to
// true eagerly releases every outstanding reservation.
func (l *Ledger) SetBreaker(flag BreakerFlag, value bool) {
	l.mu.Lock()
	var evs []Event
	switch flag {
	case EmergencyStop:
		l.breakers.EmergencyStop = value
		if value {
			for _, res := range l.reservations {
				if res.outstanding() {
					evs = append(evs, l.releaseLocked(res, "emergency stop"))
				}
			}
		}
	case DailyLoss:
		l.breakers.DailyLossTriggered = value
	}
	evs = append(evs, Event{
		Kind:   EventBreaker,
		Detail: string(flag) + "=" + strconv.FormatBool(value),
		At:     l.now(),
	})
	l.publishLocked()
	l.mu.Unlock()

	l.emit(evs...)
}

// SetBlockedSymbols replaces the blocked symbol set.
func (l *Ledger) SetBlockedSymbols(symbols []string) {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	l.mu.Lock()
	l.breakers.BlockedSymbols = set
	l.publishLocked()
	l.mu.Unlock()

	l.emit(Event{Kind: EventBreaker, Detail: "blocked_symbols", At: l.now()})
}

// SetBudget swaps the portfolio risk budget percentage (hot reload).
func (l *Ledger) SetBudget(pct float64) {
	l.mu.Lock()
	l.budgetPct = pct
	l.publishLocked()
	l.mu.Unlock()

	l.emit(Event{Kind: EventBudgetSwap, Amount: pct, At: l.now()})
}

// ResetDaily zeroes the day's realized P&L and clears the daily loss
// breaker. Called at the trading day boundary.
func (l *Ledger) ResetDaily() {
	l.mu.Lock()
	l.realizedToday = 0
	l.breakers.DailyLossTriggered = false
	l.publishLocked()
	l.mu.Unlock()

	l.emit(Event{Kind: EventDailyReset, At: l.now()})
}

// MarkPrice revalues a position at the given market price.
func (l *Ledger) MarkPrice(symbol string, price float64) {
	l.mu.Lock()
	pos, ok := l.positions[symbol]
	if !ok {
		l.mu.Unlock()
		return
	}
	pnl := (price - pos.EntryPrice) * pos.Size
	if pos.Side == trade.SideSell {
		pnl = -pnl
	}
	pos.UnrealizedPnL = pnl
	l.publishLocked()
	l.mu.Unlock()

	l.emit(Event{Kind: EventMark, Symbol: symbol, Amount: price, At: l.now()})
}

// Restore loads positions and cash from durable storage. Called once at
// startup before the gateway accepts proposals.
func (l *Ledger) Restore(positions []PositionRecord, cash float64) {
	l.mu.Lock()
	l.cash = cash
	l.positions = make(map[string]*PositionRecord, len(positions))
	for i := range positions {
		p := positions[i]
		l.positions[p.Symbol] = &p
	}
	l.publishLocked()
	l.mu.Unlock()

	l.emit(Event{Kind: EventRestore, Amount: cash, At: l.now()})
}

// ---- internals (callers hold l.mu) ----

func (l *Ledger) totalValueLocked() float64 {
	total := l.cash
	for _, p := range l.positions {
		if p.Side == trade.SideBuy {
			total += p.Size * p.EntryPrice
		}
		total += p.UnrealizedPnL
	}
	return total
}

func (l *Ledger) committedRiskLocked() float64 {
	var sum float64
	for _, p := range l.positions {
		sum += p.Risk
	}
	return sum
}

// verifyInvariantLocked halts the ledger when held plus committed risk
// exceeds budget. This is a bug, never a business outcome.
func (l *Ledger) verifyInvariantLocked() (Event, bool) {
	budget := l.budgetPct / 100 * l.totalValueLocked()
	if l.heldRisk+l.committedRiskLocked() <= budget+budgetEpsilon {
		return Event{}, false
	}
	l.halted.Store(true)
	return Event{
		Kind:   EventHalt,
		Amount: l.heldRisk + l.committedRiskLocked(),
		Detail: "held risk exceeds budget",
		At:     l.now(),
	}, true
}

func (l *Ledger) releaseLocked(res *reservation, cause string) Event {
	l.heldRisk -= res.risk
	res.released = true
	return Event{
		Kind:          EventRelease,
		CorrelationID: res.correlationID,
		Handle:        string(res.handle),
		Symbol:        res.symbol,
		Amount:        res.risk,
		Detail:        cause,
		At:            l.now(),
	}
}

// applyFillLocked folds an execution into the position map and returns the
// resulting record. Fully closed positions return a zero-size record.
func (l *Ledger) applyFillLocked(res *reservation, fill trade.Execution) PositionRecord {
	qty := fill.FilledQuantity
	price := fill.AveragePrice
	if qty <= 0 || price <= 0 {
		// Nothing executed; the reservation is consumed with no delta.
		if pos, ok := l.positions[res.symbol]; ok {
			return *pos
		}
		return PositionRecord{Symbol: res.symbol, StrategyID: res.strategyID, Side: res.side}
	}

	if res.side == trade.SideBuy {
		l.cash -= qty * price
	} else {
		l.cash += qty * price
	}
	l.cash -= fill.Fees

	pos, ok := l.positions[res.symbol]
	if !ok {
		pos = &PositionRecord{
			Symbol:     res.symbol,
			StrategyID: res.strategyID,
			Side:       res.side,
			Size:       qty,
			EntryPrice: price,
			Lots:       1,
			Risk:       res.risk,
		}
		l.positions[res.symbol] = pos
		return *pos
	}

	if pos.Side == res.side {
		pos.EntryPrice = (pos.EntryPrice*pos.Size + price*qty) / (pos.Size + qty)
		pos.Size += qty
		pos.Lots++
		pos.Risk += res.risk
		return *pos
	}

	// Opposite side: reduce, realizing P&L on the closed quantity.
	closed := math.Min(pos.Size, qty)
	pnl := (price - pos.EntryPrice) * closed
	if pos.Side == trade.SideSell {
		pnl = -pnl
	}
	l.realizedToday += pnl
	pos.RealizedPnL += pnl
	if pos.Size > 0 {
		pos.Risk *= 1 - closed/pos.Size
	}
	pos.Size -= closed

	if pos.Size <= budgetEpsilon {
		rec := *pos
		rec.Size = 0
		delete(l.positions, res.symbol)

		if leftover := qty - closed; leftover > budgetEpsilon {
			flipped := &PositionRecord{
				Symbol:      res.symbol,
				StrategyID:  res.strategyID,
				Side:        res.side,
				Size:        leftover,
				EntryPrice:  price,
				Lots:        1,
				Risk:        res.risk * leftover / qty,
				RealizedPnL: rec.RealizedPnL,
			}
			l.positions[res.symbol] = flipped
			return *flipped
		}
		return rec
	}
	return *pos
}

func (l *Ledger) publishLocked() {
	positions := make(map[string]PositionRecord, len(l.positions))
	var unrealized, largest float64
	total := l.totalValueLocked()
	for sym, p := range l.positions {
		positions[sym] = *p
		unrealized += p.UnrealizedPnL
		if total > 0 {
			if pct := p.Size * p.EntryPrice / total * 100; pct > largest {
				largest = pct
			}
		}
	}

	blocked := make(map[string]struct{}, len(l.breakers.BlockedSymbols))
	for s := range l.breakers.BlockedSymbols {
		blocked[s] = struct{}{}
	}

	l.snap.Store(&Snapshot{
		TotalValue:         total,
		AvailableCash:      l.cash,
		UnrealizedPnL:      unrealized,
		RealizedPnLToday:   l.realizedToday,
		TotalRiskExposure:  l.heldRisk + l.committedRiskLocked(),
		PositionCount:      len(l.positions),
		LargestPositionPct: largest,
		Positions:          positions,
		Breakers: BreakerState{
			EmergencyStop:      l.breakers.EmergencyStop,
			DailyLossTriggered: l.breakers.DailyLossTriggered,
			BlockedSymbols:     blocked,
		},
		TakenAt: l.now(),
	})
}

func (l *Ledger) emit(evs ...Event) {
	if l.onEvent == nil {
		return
	}
	for _, ev := range evs {
		l.onEvent(ev)
	}
}
