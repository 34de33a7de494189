package risk

import (
	"fmt"
	"sync/atomic"
)

// Params are the risk limits consulted by every validation. Percentages
// are expressed as whole numbers (5 means 5%). Loaded at startup and
// replaced only via atomic whole-version swap, never partially mutated.
type Params struct {
	Version               int     `json:"version" yaml:"version"`
	MaxPositionSizePct    float64 `json:"max_position_size_pct" yaml:"max_position_size_pct"`
	MaxDailyLossPct       float64 `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	MaxPortfolioRiskPct   float64 `json:"max_portfolio_risk_pct" yaml:"max_portfolio_risk_pct"`
	StopLossPct           float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct         float64 `json:"take_profit_pct" yaml:"take_profit_pct"`
	MinTradeAmount        float64 `json:"min_trade_amount" yaml:"min_trade_amount"`
	MaxTradeAmount        float64 `json:"max_trade_amount" yaml:"max_trade_amount"`
	MaxPositionsPerSymbol int     `json:"max_positions_per_symbol" yaml:"max_positions_per_symbol"`
	MaxTotalPositions     int     `json:"max_total_positions" yaml:"max_total_positions"`
}

// Validate rejects parameter sets that cannot safely gate trades. A bad
// set is fatal at startup; at hot reload the old version stays active.
func (p Params) Validate() error {
	switch {
	case p.MaxPositionSizePct <= 0 || p.MaxPositionSizePct > 100:
		return fmt.Errorf("max_position_size_pct %.2f out of (0,100]", p.MaxPositionSizePct)
	case p.MaxDailyLossPct <= 0 || p.MaxDailyLossPct > 100:
		return fmt.Errorf("max_daily_loss_pct %.2f out of (0,100]", p.MaxDailyLossPct)
	case p.MaxPortfolioRiskPct <= 0 || p.MaxPortfolioRiskPct > 100:
		return fmt.Errorf("max_portfolio_risk_pct %.2f out of (0,100]", p.MaxPortfolioRiskPct)
	case p.StopLossPct <= 0 || p.StopLossPct >= 100:
		return fmt.Errorf("stop_loss_pct %.2f out of (0,100)", p.StopLossPct)
	case p.TakeProfitPct <= 0:
		return fmt.Errorf("take_profit_pct %.2f must be positive", p.TakeProfitPct)
	case p.MinTradeAmount < 0:
		return fmt.Errorf("min_trade_amount %.2f must not be negative", p.MinTradeAmount)
	case p.MaxTradeAmount > 0 && p.MaxTradeAmount < p.MinTradeAmount:
		return fmt.Errorf("max_trade_amount %.2f below min_trade_amount %.2f",
			p.MaxTradeAmount, p.MinTradeAmount)
	case p.MaxPositionsPerSymbol <= 0:
		return fmt.Errorf("max_positions_per_symbol %d must be positive", p.MaxPositionsPerSymbol)
	case p.MaxTotalPositions <= 0:
		return fmt.Errorf("max_total_positions %d must be positive", p.MaxTotalPositions)
	}
	return nil
}

// ParamStore holds the active Params behind an atomic pointer so readers
// never observe a partial update.
type ParamStore struct {
	p atomic.Pointer[Params]
}

// NewParamStore validates and installs the initial parameter set.
func NewParamStore(p Params) (*ParamStore, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("risk parameters: %w", err)
	}
	s := &ParamStore{}
	s.p.Store(&p)
	return s, nil
}

// Current returns the active parameter set.
func (s *ParamStore) Current() Params { return *s.p.Load() }

// Swap installs a new version atomically. An invalid set is rejected and
// the old version stays active.
func (s *ParamStore) Swap(p Params) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("risk parameters: %w", err)
	}
	s.p.Store(&p)
	return nil
}
