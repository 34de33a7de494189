package admission

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/gatekeeper/ledger"
	"github.com/rustyeddy/gatekeeper/metrics"
	"github.com/rustyeddy/gatekeeper/risk"
	"github.com/rustyeddy/gatekeeper/trade"
)

// Risk level thresholds, in percent of portfolio value.
const (
	lowRiskPct    = 1.0
	mediumRiskPct = 3.0
	highRiskPct   = 5.0
)

// QuoteSource supplies a current-price estimate for market orders that
// arrive without one. May be absent; such proposals are then rejected
// with "price unavailable".
type QuoteSource interface {
	Price(symbol string) (float64, bool)
}

// Engine orchestrates one proposal end-to-end: snapshot, validate,
// reserve, decide. It never fails open: any unexpected internal error
// yields a safe rejection.
type Engine struct {
	ledger  *ledger.Ledger
	params  *risk.ParamStore
	rules   *risk.Engine
	quotes  QuoteSource
	running atomic.Bool
	now     func() time.Time
}

// New builds a running engine over the given ledger and parameters.
// quotes may be nil.
func New(l *ledger.Ledger, params *risk.ParamStore, quotes QuoteSource) *Engine {
	e := &Engine{
		ledger: l,
		params: params,
		rules:  risk.NewEngine(),
		quotes: quotes,
		now:    time.Now,
	}
	e.running.Store(true)
	return e
}

// Stop makes the engine reject all further proposals. Used at shutdown.
func (e *Engine) Stop() { e.running.Store(false) }

// Admit decides one proposal. It always returns exactly one Decision; a
// budget lost to a concurrent proposal is an expected rejection, not an
// error.
func (e *Engine) Admit(ctx context.Context, p trade.Proposal) (d trade.Decision) {
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("correlation_id", p.CorrelationID).Interface("panic", r).
				Msg("admission panic, rejecting fail-safe")
			d = trade.Reject(p.CorrelationID, "internal error", e.now())
		}
		metrics.RecordDecision(string(d.Result))
		metrics.ObserveAdmit(time.Since(start).Seconds())
	}()

	// Cheap pre-checks before anything else.
	if !e.running.Load() {
		return trade.Reject(p.CorrelationID, "admission engine is not running", e.now())
	}
	if e.ledger.Halted() {
		return trade.Reject(p.CorrelationID, "admission halted", e.now())
	}
	if err := ctx.Err(); err != nil {
		return trade.Reject(p.CorrelationID, "admission timed out", e.now())
	}

	snap := e.ledger.Snapshot()
	params := e.params.Current()
	price := e.resolvePrice(p)

	rctx := risk.Context{Proposal: p, Price: price, Snapshot: snap, Params: params}
	if out, rule := e.rules.Evaluate(rctx); !out.Pass {
		metrics.RecordRejection(rule)
		log.Debug().Str("correlation_id", p.CorrelationID).Str("rule", rule).
			Str("reason", out.Reason).Msg("proposal rejected")
		return trade.Reject(p.CorrelationID, out.Reason, e.now())
	}

	if err := ctx.Err(); err != nil {
		return trade.Reject(p.CorrelationID, "admission timed out", e.now())
	}

	estRisk := risk.EstimatedRisk(p, price, params)
	impactPct := p.Quantity * price / snap.TotalValue * 100
	level := classify(impactPct)

	// Extreme positions pass validation only when the configured size cap
	// allows them; they still require a human in the loop.
	if level == trade.RiskExtreme {
		return trade.Decision{
			CorrelationID:       p.CorrelationID,
			Result:              trade.RequiresApproval,
			ApprovedQuantity:    0,
			RiskLevel:           level,
			Warnings:            []string{"extreme risk level requires manual approval"},
			EstimatedRiskAmount: estRisk,
			PortfolioImpact:     impactPct,
			DecidedAt:           e.now(),
		}
	}

	if _, err := e.ledger.Reserve(p.CorrelationID, p.Symbol, p.Side, p.StrategyID, estRisk); err != nil {
		return e.rejectReserve(p, err)
	}

	d = trade.Decision{
		CorrelationID:       p.CorrelationID,
		Result:              trade.Approved,
		ApprovedQuantity:    p.Quantity,
		RiskLevel:           level,
		EstimatedRiskAmount: estRisk,
		PortfolioImpact:     impactPct,
		DecidedAt:           e.now(),
	}
	e.suggestExits(&d, p, price, params)
	if level == trade.RiskHigh {
		d.Warnings = append(d.Warnings, "position size near maximum")
	}

	after := e.ledger.Snapshot()
	metrics.UpdatePortfolio(after.TotalRiskExposure, after.TotalValue)
	return d
}

func (e *Engine) resolvePrice(p trade.Proposal) float64 {
	if p.Price > 0 {
		return p.Price
	}
	if e.quotes != nil {
		if px, ok := e.quotes.Price(p.Symbol); ok {
			return px
		}
	}
	return 0
}

// rejectReserve maps reservation errors to safe decisions. Losing the
// budget race is expected under concurrency and logged at debug only.
func (e *Engine) rejectReserve(p trade.Proposal, err error) trade.Decision {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBudget):
		metrics.RecordBudgetRace()
		log.Debug().Str("correlation_id", p.CorrelationID).
			Msg("reservation lost budget race")
		return trade.Reject(p.CorrelationID, "risk budget exhausted", e.now())
	case errors.Is(err, ledger.ErrEmergencyStopped):
		return trade.Reject(p.CorrelationID, "Emergency stop is active", e.now())
	case errors.Is(err, ledger.ErrLedgerHalted):
		return trade.Reject(p.CorrelationID, "admission halted", e.now())
	default:
		log.Error().Err(err).Str("correlation_id", p.CorrelationID).
			Msg("unexpected reserve failure")
		return trade.Reject(p.CorrelationID, "internal error", e.now())
	}
}

// suggestExits fills in direction-aware stop and target prices from the
// parameters when the proposal omitted them.
func (e *Engine) suggestExits(d *trade.Decision, p trade.Proposal, price float64, params risk.Params) {
	if p.StopLoss > 0 {
		d.SuggestedStopLoss = p.StopLoss
	} else if p.Side == trade.SideBuy {
		d.SuggestedStopLoss = price * (1 - params.StopLossPct/100)
	} else {
		d.SuggestedStopLoss = price * (1 + params.StopLossPct/100)
	}

	if p.TakeProfit > 0 {
		d.SuggestedTakeProfit = p.TakeProfit
	} else if p.Side == trade.SideBuy {
		d.SuggestedTakeProfit = price * (1 + params.TakeProfitPct/100)
	} else {
		d.SuggestedTakeProfit = price * (1 - params.TakeProfitPct/100)
	}
}

func classify(impactPct float64) trade.RiskLevel {
	switch {
	case impactPct <= lowRiskPct:
		return trade.RiskLow
	case impactPct <= mediumRiskPct:
		return trade.RiskMedium
	case impactPct <= highRiskPct:
		return trade.RiskHigh
	default:
		return trade.RiskExtreme
	}
}
