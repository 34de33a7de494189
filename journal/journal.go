package journal

import (
	"github.com/rustyeddy/gatekeeper/ledger"
	"github.com/rustyeddy/gatekeeper/risk"
	"github.com/rustyeddy/gatekeeper/trade"
)

// Journal is the durable storage collaborator: it appends every Decision
// and ledger mutation for audit/reconciliation, and loads positions and
// risk parameters at startup before the gateway accepts proposals.
type Journal interface {
	AppendDecision(d trade.Decision) error
	AppendLedgerEvent(ev ledger.Event) error

	SavePositions(positions []ledger.PositionRecord, cash float64) error
	LoadPositions() ([]ledger.PositionRecord, float64, error)

	SaveParams(p risk.Params) error
	LoadParams() (risk.Params, bool, error)

	Close() error
}
