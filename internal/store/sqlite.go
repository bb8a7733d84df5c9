// Package store provides data persistence implementations.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
)

// SQLiteStore persists the watchlist, cached contract masters and the
// order journal.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Watchlist entries in display order
	CREATE TABLE IF NOT EXISTS watchlist (
		position INTEGER PRIMARY KEY,
		segment TEXT NOT NULL,
		token TEXT NOT NULL,
		trading_symbol TEXT NOT NULL,
		name TEXT,
		lot_size INTEGER NOT NULL DEFAULT 1,
		tick_size REAL NOT NULL DEFAULT 0,
		option_type TEXT,
		strike REAL,
		expiry DATETIME,
		UNIQUE(segment, token)
	);

	-- Cached contract master rows per segment
	CREATE TABLE IF NOT EXISTS instruments (
		segment TEXT NOT NULL,
		token TEXT NOT NULL,
		trading_symbol TEXT NOT NULL,
		name TEXT,
		lot_size INTEGER NOT NULL DEFAULT 1,
		tick_size REAL NOT NULL DEFAULT 0,
		option_type TEXT,
		strike REAL,
		expiry DATETIME,
		PRIMARY KEY(segment, token)
	);
	CREATE INDEX IF NOT EXISTS idx_instruments_symbol ON instruments(segment, trading_symbol);

	-- Order journal keyed by locally assigned id
	CREATE TABLE IF NOT EXISTS orders (
		local_id TEXT PRIMARY KEY,
		broker_id TEXT,
		segment TEXT NOT NULL,
		trading_symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		product TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL,
		trigger_price REAL NOT NULL DEFAULT 0,
		validity TEXT,
		status TEXT NOT NULL,
		filled_qty INTEGER NOT NULL DEFAULT 0,
		avg_fill_price REAL NOT NULL DEFAULT 0,
		reason TEXT,
		placed_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_broker ON orders(broker_id);
	CREATE INDEX IF NOT EXISTS idx_orders_placed ON orders(placed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveWatchlist replaces the persisted watchlist with the given entries,
// preserving their order.
func (s *SQLiteStore) SaveWatchlist(entries []models.Instrument) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM watchlist`); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO watchlist (position, segment, token, trading_symbol, name, lot_size, tick_size, option_type, strike, expiry)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, inst := range entries {
		optType, strike, expiry := optionColumns(inst.Option)
		if _, err := stmt.Exec(i, string(inst.ID.Segment), inst.ID.Token, inst.TradingSymbol,
			inst.Name, inst.LotSize, inst.TickSize, optType, strike, expiry); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadWatchlist returns the persisted watchlist in display order.
func (s *SQLiteStore) LoadWatchlist() ([]models.Instrument, error) {
	rows, err := s.db.Query(`
		SELECT segment, token, trading_symbol, name, lot_size, tick_size, option_type, strike, expiry
		FROM watchlist ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanInstruments(rows)
}

// SaveInstruments replaces the cached contract master for a segment.
func (s *SQLiteStore) SaveInstruments(segment models.ExchangeSegment, instruments []models.Instrument) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM instruments WHERE segment = ?`, string(segment)); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO instruments (segment, token, trading_symbol, name, lot_size, tick_size, option_type, strike, expiry)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, inst := range instruments {
		optType, strike, expiry := optionColumns(inst.Option)
		if _, err := stmt.Exec(string(segment), inst.ID.Token, inst.TradingSymbol,
			inst.Name, inst.LotSize, inst.TickSize, optType, strike, expiry); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadInstruments returns the cached contract master for a segment.
func (s *SQLiteStore) LoadInstruments(segment models.ExchangeSegment) ([]models.Instrument, error) {
	rows, err := s.db.Query(`
		SELECT segment, token, trading_symbol, name, lot_size, tick_size, option_type, strike, expiry
		FROM instruments WHERE segment = ? ORDER BY trading_symbol`, string(segment))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanInstruments(rows)
}

// UpsertOrder writes an order journal entry.
func (s *SQLiteStore) UpsertOrder(order *models.Order) error {
	_, err := s.db.Exec(`
		INSERT INTO orders (local_id, broker_id, segment, trading_symbol, side, order_type, product,
			quantity, price, trigger_price, validity, status, filled_qty, avg_fill_price, reason, placed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			broker_id = excluded.broker_id,
			status = excluded.status,
			filled_qty = excluded.filled_qty,
			avg_fill_price = excluded.avg_fill_price,
			reason = excluded.reason,
			updated_at = excluded.updated_at`,
		order.LocalID, order.BrokerID, string(order.Instrument.ID.Segment), order.Instrument.TradingSymbol,
		string(order.Side), string(order.Type), string(order.Product),
		order.Quantity, order.Price, order.TriggerPrice, order.Validity,
		string(order.Status), order.FilledQty, order.AvgFillPrice, order.Reason,
		order.PlacedAt, order.UpdatedAt)
	return err
}

// LoadOrders returns journaled orders placed since the given time,
// oldest first.
func (s *SQLiteStore) LoadOrders(since time.Time) ([]models.Order, error) {
	rows, err := s.db.Query(`
		SELECT local_id, broker_id, segment, trading_symbol, side, order_type, product,
			quantity, price, trigger_price, validity, status, filled_qty, avg_fill_price, reason, placed_at, updated_at
		FROM orders WHERE placed_at >= ? ORDER BY placed_at`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		var segment, symbol string
		var brokerID, validity, reason sql.NullString
		if err := rows.Scan(&o.LocalID, &brokerID, &segment, &symbol,
			&o.Side, &o.Type, &o.Product,
			&o.Quantity, &o.Price, &o.TriggerPrice, &validity, &o.Status,
			&o.FilledQty, &o.AvgFillPrice, &reason, &o.PlacedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.BrokerID = brokerID.String
		o.Validity = validity.String
		o.Reason = reason.String
		o.Instrument = &models.Instrument{
			ID:            models.InstrumentID{Segment: models.ExchangeSegment(segment), Token: symbol},
			TradingSymbol: symbol,
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func optionColumns(opt *models.OptionMeta) (sql.NullString, sql.NullFloat64, sql.NullTime) {
	if opt == nil {
		return sql.NullString{}, sql.NullFloat64{}, sql.NullTime{}
	}
	return sql.NullString{String: string(opt.Type), Valid: opt.Type != ""},
		sql.NullFloat64{Float64: opt.Strike, Valid: true},
		sql.NullTime{Time: opt.Expiry, Valid: !opt.Expiry.IsZero()}
}

func scanInstruments(rows *sql.Rows) ([]models.Instrument, error) {
	var out []models.Instrument
	for rows.Next() {
		var inst models.Instrument
		var segment string
		var name, optType sql.NullString
		var strike sql.NullFloat64
		var expiry sql.NullTime
		if err := rows.Scan(&segment, &inst.ID.Token, &inst.TradingSymbol, &name,
			&inst.LotSize, &inst.TickSize, &optType, &strike, &expiry); err != nil {
			return nil, err
		}
		inst.ID.Segment = models.ExchangeSegment(segment)
		inst.Name = name.String
		if optType.Valid || strike.Valid {
			inst.Option = &models.OptionMeta{
				Type:   models.OptionType(optType.String),
				Strike: strike.Float64,
			}
			if expiry.Valid {
				inst.Option.Expiry = expiry.Time
			}
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}
