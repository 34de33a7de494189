package trade

import "time"

// Side is the direction of a proposed trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType distinguishes market from limit proposals.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// Proposal is a trade request emitted by a strategy. It is immutable once
// constructed; the gateway consumes each proposal exactly once.
type Proposal struct {
	CorrelationID string            `json:"correlation_id"`
	StrategyID    string            `json:"strategy_id"`
	Symbol        string            `json:"symbol"`
	Side          Side              `json:"side"`
	Quantity      float64           `json:"quantity"`
	Price         float64           `json:"price,omitempty"` // 0 means no price supplied
	OrderType     OrderType         `json:"order_type"`
	StopLoss      float64           `json:"stop_loss,omitempty"`
	TakeProfit    float64           `json:"take_profit,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"timestamp"`
}

// Result is the outcome class of an admission decision.
type Result string

const (
	Approved         Result = "approved"
	Rejected         Result = "rejected"
	RequiresApproval Result = "requires_approval"
)

// RiskLevel classifies a proposal by its position size relative to the
// portfolio.
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskExtreme RiskLevel = "extreme"
)

// Decision is the admission verdict for one proposal. At most one Decision
// ever exists per correlation id.
type Decision struct {
	CorrelationID       string    `json:"correlation_id"`
	Result              Result    `json:"result"`
	ApprovedQuantity    float64   `json:"approved_quantity"`
	RiskLevel           RiskLevel `json:"risk_level,omitempty"`
	Reasons             []string  `json:"reasons,omitempty"`
	Warnings            []string  `json:"warnings,omitempty"`
	SuggestedStopLoss   float64   `json:"suggested_stop_loss,omitempty"`
	SuggestedTakeProfit float64   `json:"suggested_take_profit,omitempty"`
	EstimatedRiskAmount float64   `json:"estimated_risk_amount"`
	PortfolioImpact     float64   `json:"portfolio_impact"`
	DecidedAt           time.Time `json:"timestamp"`
}

// Execution statuses reported by the exchange collaborator.
const (
	StatusFilled    = "filled"
	StatusCancelled = "cancelled"
	StatusRejected  = "rejected"
)

// Execution is a confirmation event from the exchange collaborator. It
// drives reservation commit (filled) or release (cancelled/rejected).
type Execution struct {
	CorrelationID  string  `json:"correlation_id"`
	OrderID        string  `json:"order_id,omitempty"`
	FilledQuantity float64 `json:"filled_quantity"`
	AveragePrice   float64 `json:"average_price"`
	Fees           float64 `json:"fees"`
	Status         string  `json:"status"`
}

// Reject builds a rejected Decision with a single reason. Rejections are
// ordinary outcomes, not errors.
func Reject(correlationID, reason string, now time.Time) Decision {
	return Decision{
		CorrelationID:    correlationID,
		Result:           Rejected,
		ApprovedQuantity: 0,
		Reasons:          []string{reason},
		DecidedAt:        now,
	}
}
