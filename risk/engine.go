package risk

// DefaultRules returns the canonical rule pipeline in its fixed
// evaluation order. The order is part of the contract: cheap breaker
// checks first, budget math last.
func DefaultRules() []Rule {
	return []Rule{
		EmergencyStopRule{},
		BlockedSymbolRule{},
		DailyLossLimitRule{},
		TradeSizeBoundsRule{},
		PositionCountLimitsRule{},
		PositionSizePercentRule{},
		PortfolioRiskBudgetRule{},
	}
}

// Engine runs an ordered rule pipeline, stopping at the first rejection
// so a rejected decision carries exactly one reason.
type Engine struct {
	rules []Rule
}

// NewEngine builds an engine over the default pipeline.
func NewEngine() *Engine { return &Engine{rules: DefaultRules()} }

// NewEngineWithRules builds an engine over a custom pipeline. Adding a
// rule never requires touching existing ones.
func NewEngineWithRules(rules []Rule) *Engine { return &Engine{rules: rules} }

// Evaluate runs the pipeline. On rejection it returns the failing rule's
// name alongside the outcome.
func (e *Engine) Evaluate(ctx Context) (Outcome, string) {
	for _, r := range e.rules {
		if out := r.Evaluate(ctx); !out.Pass {
			return out, r.Name()
		}
	}
	return pass(), ""
}
