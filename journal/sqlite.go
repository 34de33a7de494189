package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/gatekeeper/ledger"
	"github.com/rustyeddy/gatekeeper/pkg/id"
	"github.com/rustyeddy/gatekeeper/risk"
	"github.com/rustyeddy/gatekeeper/trade"
)

type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		return nil, err
	}

	return &SQLiteJournal{db: db}, nil
}

// AppendDecision records one decision. A second append for the same
// correlation id is ignored, preserving the at-most-one-decision rule
// even across restarts.
func (j *SQLiteJournal) AppendDecision(d trade.Decision) error {
	_, err := j.db.Exec(`
		INSERT OR IGNORE INTO decisions
		(correlation_id, result, approved_quantity, risk_level, reasons, warnings,
		 suggested_stop_loss, suggested_take_profit, estimated_risk, portfolio_impact, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.CorrelationID, string(d.Result), d.ApprovedQuantity, string(d.RiskLevel),
		strings.Join(d.Reasons, "|"), strings.Join(d.Warnings, "|"),
		d.SuggestedStopLoss, d.SuggestedTakeProfit,
		d.EstimatedRiskAmount, d.PortfolioImpact, d.DecidedAt,
	)
	return err
}

func (j *SQLiteJournal) AppendLedgerEvent(ev ledger.Event) error {
	_, err := j.db.Exec(`
		INSERT INTO ledger_events
		(id, kind, correlation_id, handle, symbol, amount, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id.New(), string(ev.Kind), ev.CorrelationID, ev.Handle,
		ev.Symbol, ev.Amount, ev.Detail, ev.At,
	)
	return err
}

// SavePositions replaces the stored position set and cash balance.
func (j *SQLiteJournal) SavePositions(positions []ledger.PositionRecord, cash float64) error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM positions`); err != nil {
		return err
	}
	for _, p := range positions {
		_, err := tx.Exec(`
			INSERT INTO positions
			(symbol, strategy_id, side, size, entry_price, realized_pnl, lots, risk)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Symbol, p.StrategyID, string(p.Side), p.Size, p.EntryPrice,
			p.RealizedPnL, p.Lots, p.Risk,
		)
		if err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`
		INSERT INTO account (id, cash) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET cash = excluded.cash`, cash); err != nil {
		return err
	}
	return tx.Commit()
}

func (j *SQLiteJournal) LoadPositions() ([]ledger.PositionRecord, float64, error) {
	rows, err := j.db.Query(`
		SELECT symbol, strategy_id, side, size, entry_price, realized_pnl, lots, risk
		FROM positions`)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var positions []ledger.PositionRecord
	for rows.Next() {
		var p ledger.PositionRecord
		var side string
		if err := rows.Scan(&p.Symbol, &p.StrategyID, &side, &p.Size,
			&p.EntryPrice, &p.RealizedPnL, &p.Lots, &p.Risk); err != nil {
			return nil, 0, err
		}
		p.Side = trade.Side(side)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var cash float64
	err = j.db.QueryRow(`SELECT cash FROM account WHERE id = 1`).Scan(&cash)
	if err == sql.ErrNoRows {
		return positions, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return positions, cash, nil
}

func (j *SQLiteJournal) SaveParams(p risk.Params) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	_, err = j.db.Exec(`
		INSERT INTO risk_params (version, payload, saved_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(version) DO UPDATE SET payload = excluded.payload, saved_at = CURRENT_TIMESTAMP`,
		p.Version, string(payload),
	)
	return err
}

// LoadParams returns the highest stored parameter version, if any.
func (j *SQLiteJournal) LoadParams() (risk.Params, bool, error) {
	var payload string
	err := j.db.QueryRow(`
		SELECT payload FROM risk_params ORDER BY version DESC LIMIT 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return risk.Params{}, false, nil
	}
	if err != nil {
		return risk.Params{}, false, err
	}

	var p risk.Params
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return risk.Params{}, false, fmt.Errorf("unmarshal params: %w", err)
	}
	return p, true, nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
