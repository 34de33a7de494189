package ledger

import "time"

// EventKind labels a ledger mutation for the audit journal.
type EventKind string

const (
	EventReserve     EventKind = "reserve"
	EventCommit      EventKind = "commit"
	EventRelease     EventKind = "release"
	EventBreaker     EventKind = "breaker"
	EventDailyReset  EventKind = "daily_reset"
	EventRestore     EventKind = "restore"
	EventHalt        EventKind = "halt"
	EventBudgetSwap  EventKind = "budget_swap"
	EventMark        EventKind = "mark"
)

// Event describes one ledger mutation. Every mutation emits exactly one
// event to the configured append hook, after the writer lock is released.
type Event struct {
	Kind          EventKind
	CorrelationID string
	Handle        string
	Symbol        string
	Amount        float64
	Detail        string
	At            time.Time
}

// AppendFunc receives ledger events for durable append. It must not call
// back into the ledger.
type AppendFunc func(Event)
