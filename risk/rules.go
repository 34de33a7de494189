package risk

import (
	"fmt"
	"math"

	"github.com/rustyeddy/gatekeeper/ledger"
	"github.com/rustyeddy/gatekeeper/trade"
)

// Context carries everything a rule may consult: the proposal, the price
// the engine resolved for it (0 when unavailable), a ledger snapshot and
// the active parameters. Rules are pure; they never mutate state.
type Context struct {
	Proposal trade.Proposal
	Price    float64
	Snapshot *ledger.Snapshot
	Params   Params
}

// Outcome is a rule verdict: pass, or reject with one reason.
type Outcome struct {
	Pass   bool
	Reason string
}

func pass() Outcome { return Outcome{Pass: true} }

func reject(format string, args ...any) Outcome {
	return Outcome{Reason: fmt.Sprintf(format, args...)}
}

// Rule is one independent, side-effect-free admission check.
type Rule interface {
	Name() string
	Evaluate(Context) Outcome
}

// EstimatedRisk is the canonical risk estimate for a proposal: the loss if
// the stop is hit. A proposal-supplied stop takes precedence over the
// configured stop-loss percentage.
func EstimatedRisk(p trade.Proposal, price float64, params Params) float64 {
	if price <= 0 {
		return 0
	}
	if p.StopLoss > 0 {
		return math.Abs(price-p.StopLoss) * p.Quantity
	}
	return p.Quantity * price * params.StopLossPct / 100
}

// EmergencyStopRule rejects everything while the emergency breaker is set.
type EmergencyStopRule struct{}

func (EmergencyStopRule) Name() string { return "emergency_stop" }

func (EmergencyStopRule) Evaluate(ctx Context) Outcome {
	if ctx.Snapshot.Breakers.EmergencyStop {
		return reject("Emergency stop is active")
	}
	return pass()
}

// BlockedSymbolRule rejects proposals for operator-blocked symbols.
type BlockedSymbolRule struct{}

func (BlockedSymbolRule) Name() string { return "blocked_symbol" }

func (BlockedSymbolRule) Evaluate(ctx Context) Outcome {
	if ctx.Snapshot.Breakers.Blocked(ctx.Proposal.Symbol) {
		return reject("symbol %s is blocked", ctx.Proposal.Symbol)
	}
	return pass()
}

// DailyLossLimitRule rejects once the day's realized loss reaches the
// configured fraction of portfolio value. The supervisor latches the
// breaker flag; the formula here is the same one it evaluates.
type DailyLossLimitRule struct{}

func (DailyLossLimitRule) Name() string { return "daily_loss_limit" }

func (DailyLossLimitRule) Evaluate(ctx Context) Outcome {
	if ctx.Snapshot.Breakers.DailyLossTriggered {
		return reject("daily loss limit reached")
	}
	if ctx.Snapshot.TotalValue <= 0 {
		return reject("portfolio value is zero")
	}
	limit := -ctx.Params.MaxDailyLossPct / 100 * ctx.Snapshot.TotalValue
	if ctx.Snapshot.RealizedPnLToday <= limit {
		return reject("daily loss limit reached")
	}
	return pass()
}

// TradeSizeBoundsRule enforces the min/max notional per trade.
type TradeSizeBoundsRule struct{}

func (TradeSizeBoundsRule) Name() string { return "trade_size_bounds" }

func (TradeSizeBoundsRule) Evaluate(ctx Context) Outcome {
	if ctx.Proposal.Quantity <= 0 {
		return reject("quantity must be positive")
	}
	if ctx.Price <= 0 {
		return reject("price unavailable")
	}
	value := ctx.Proposal.Quantity * ctx.Price
	if value < ctx.Params.MinTradeAmount {
		return reject("trade amount %.2f below minimum %.2f", value, ctx.Params.MinTradeAmount)
	}
	if ctx.Params.MaxTradeAmount > 0 && value > ctx.Params.MaxTradeAmount {
		return reject("trade amount %.2f exceeds maximum %.2f", value, ctx.Params.MaxTradeAmount)
	}
	return pass()
}

// PositionCountLimitsRule enforces the per-symbol and total open position
// caps.
type PositionCountLimitsRule struct{}

func (PositionCountLimitsRule) Name() string { return "position_count_limits" }

func (PositionCountLimitsRule) Evaluate(ctx Context) Outcome {
	if lots := ctx.Snapshot.LotsFor(ctx.Proposal.Symbol); lots >= ctx.Params.MaxPositionsPerSymbol {
		return reject("position limit for %s reached (%d)", ctx.Proposal.Symbol, lots)
	}
	if ctx.Snapshot.PositionCount >= ctx.Params.MaxTotalPositions {
		// A proposal for a symbol already held stacks onto an existing
		// record and does not raise the total count.
		if ctx.Snapshot.LotsFor(ctx.Proposal.Symbol) == 0 {
			return reject("total position limit reached (%d)", ctx.Snapshot.PositionCount)
		}
	}
	return pass()
}

// PositionSizePercentRule caps one trade's notional as a share of
// portfolio value.
type PositionSizePercentRule struct{}

func (PositionSizePercentRule) Name() string { return "position_size_percent" }

func (PositionSizePercentRule) Evaluate(ctx Context) Outcome {
	if ctx.Price <= 0 {
		return reject("price unavailable")
	}
	if ctx.Snapshot.TotalValue <= 0 {
		return reject("portfolio value is zero")
	}
	pct := ctx.Proposal.Quantity * ctx.Price / ctx.Snapshot.TotalValue * 100
	if pct > ctx.Params.MaxPositionSizePct {
		return reject("position size %.2f%% exceeds maximum %.2f%%", pct, ctx.Params.MaxPositionSizePct)
	}
	return pass()
}

// PortfolioRiskBudgetRule pre-filters proposals whose estimated risk
// cannot fit the remaining budget. The ledger's reserve call is the
// authoritative check; this rule only avoids pointless reservations.
type PortfolioRiskBudgetRule struct{}

func (PortfolioRiskBudgetRule) Name() string { return "portfolio_risk_budget" }

func (PortfolioRiskBudgetRule) Evaluate(ctx Context) Outcome {
	if ctx.Price <= 0 {
		return reject("price unavailable")
	}
	if ctx.Snapshot.TotalValue <= 0 {
		return reject("portfolio value is zero")
	}
	est := EstimatedRisk(ctx.Proposal, ctx.Price, ctx.Params)
	budget := ctx.Params.MaxPortfolioRiskPct / 100 * ctx.Snapshot.TotalValue
	if ctx.Snapshot.TotalRiskExposure+est > budget {
		return reject("portfolio risk budget exceeded")
	}
	return pass()
}
