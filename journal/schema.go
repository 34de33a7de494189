package journal

const Schema = `
CREATE TABLE IF NOT EXISTS decisions (
	correlation_id TEXT PRIMARY KEY,
	result TEXT NOT NULL,
	approved_quantity REAL NOT NULL,
	risk_level TEXT NOT NULL,
	reasons TEXT NOT NULL,
	warnings TEXT NOT NULL,
	suggested_stop_loss REAL NOT NULL,
	suggested_take_profit REAL NOT NULL,
	estimated_risk REAL NOT NULL,
	portfolio_impact REAL NOT NULL,
	decided_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_events (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	correlation_id TEXT NOT NULL,
	handle TEXT NOT NULL,
	symbol TEXT NOT NULL,
	amount REAL NOT NULL,
	detail TEXT NOT NULL,
	at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_events_at ON ledger_events(at);

CREATE TABLE IF NOT EXISTS positions (
	symbol TEXT PRIMARY KEY,
	strategy_id TEXT NOT NULL,
	side TEXT NOT NULL,
	size REAL NOT NULL,
	entry_price REAL NOT NULL,
	realized_pnl REAL NOT NULL,
	lots INTEGER NOT NULL,
	risk REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS account (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	cash REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_params (
	version INTEGER PRIMARY KEY,
	payload TEXT NOT NULL,
	saved_at DATETIME NOT NULL
);
`
