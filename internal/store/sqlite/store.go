// Package sqlite is the durable store: assets, accounts, orders, positions
// and the append-only transaction log, in one WAL-mode database with a
// single writer connection. Fills are applied in a single SQL transaction
// so the order row, the position row and the transaction row commit or roll
// back together.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"portfolio-systemv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to the database file, e.g. "data/portfolio.db"
}

// Store implements model.Store.
type Store struct {
	db *sql.DB

	// OnCommit reports the duration of one committed fill transaction.
	// Optional; wired to the commit latency histogram.
	OnCommit func(d time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database, enables WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer connection pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS assets (
			id               TEXT PRIMARY KEY,
			symbol           TEXT NOT NULL UNIQUE,
			name             TEXT NOT NULL,
			asset_type       TEXT NOT NULL,
			currency         TEXT NOT NULL,
			status           TEXT NOT NULL,
			current_price    TEXT NOT NULL,
			price_version    INTEGER NOT NULL,
			price_updated_at INTEGER NOT NULL,
			day_high         TEXT NOT NULL,
			day_low          TEXT NOT NULL,
			market_cap       TEXT NOT NULL,
			created_at       INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS accounts (
			owner        TEXT PRIMARY KEY,
			created_at   INTEGER NOT NULL,
			buying_power TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS orders (
			id              TEXT PRIMARY KEY,
			owner           TEXT NOT NULL,
			asset_id        TEXT NOT NULL,
			side            TEXT NOT NULL,
			order_type      TEXT NOT NULL,
			quantity        TEXT NOT NULL,
			limit_price     TEXT NOT NULL,
			stop_price      TEXT NOT NULL,
			status          TEXT NOT NULL,
			filled_quantity TEXT NOT NULL,
			reason          TEXT NOT NULL,
			created_at      INTEGER NOT NULL,
			triggered_at    INTEGER NOT NULL,
			filled_at       INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_status  ON orders (status);
		CREATE INDEX IF NOT EXISTS idx_orders_created ON orders (created_at);

		CREATE TABLE IF NOT EXISTS positions (
			owner          TEXT NOT NULL,
			asset_id       TEXT NOT NULL,
			quantity       TEXT NOT NULL,
			avg_cost_basis TEXT NOT NULL,
			realized_pnl   TEXT NOT NULL,
			halted         INTEGER NOT NULL DEFAULT 0,
			updated_at     INTEGER NOT NULL,
			PRIMARY KEY (owner, asset_id)
		);

		CREATE TABLE IF NOT EXISTS transactions (
			id             TEXT PRIMARY KEY,
			owner          TEXT NOT NULL,
			asset_id       TEXT NOT NULL,
			order_id       TEXT NOT NULL,
			side           TEXT NOT NULL,
			quantity       TEXT NOT NULL,
			price_per_unit TEXT NOT NULL,
			fees           TEXT NOT NULL,
			total_amount   TEXT NOT NULL,
			executed_at    INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tx_executed ON transactions (executed_at);
		CREATE INDEX IF NOT EXISTS idx_tx_owner    ON transactions (owner);

		CREATE TABLE IF NOT EXISTS price_history (
			asset_id TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			price    TEXT    NOT NULL,
			PRIMARY KEY (asset_id, ts)
		);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// ── timestamp helpers ──
// Times are stored as UnixNano; zero time maps to 0 so optional timestamps
// (triggered_at, filled_at) round-trip exactly.

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// ── assets ──

// UpsertAsset inserts or replaces the asset row.
func (s *Store) UpsertAsset(ctx context.Context, a *model.Asset) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO assets
			(id, symbol, name, asset_type, currency, status, current_price,
			 price_version, price_updated_at, day_high, day_low, market_cap, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Symbol, a.Name, string(a.Type), a.Currency, string(a.Status),
		a.CurrentPrice, a.PriceVersion, toNanos(a.PriceUpdatedAt),
		a.DayHigh, a.DayLow, a.MarketCap, toNanos(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert asset %s: %w", a.ID, err)
	}
	return nil
}

func scanAsset(row interface{ Scan(...any) error }) (*model.Asset, error) {
	var a model.Asset
	var typ, status string
	var priceUpdated, created int64
	err := row.Scan(&a.ID, &a.Symbol, &a.Name, &typ, &a.Currency, &status,
		&a.CurrentPrice, &a.PriceVersion, &priceUpdated,
		&a.DayHigh, &a.DayLow, &a.MarketCap, &created)
	if err != nil {
		return nil, err
	}
	a.Type = model.AssetType(typ)
	a.Status = model.AssetStatus(status)
	a.PriceUpdatedAt = fromNanos(priceUpdated)
	a.CreatedAt = fromNanos(created)
	return &a, nil
}

const assetCols = `id, symbol, name, asset_type, currency, status, current_price,
	price_version, price_updated_at, day_high, day_low, market_cap, created_at`

// GetAsset returns the asset or model.ErrUnknownAsset.
func (s *Store) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	a, err := scanAsset(s.db.QueryRowContext(ctx,
		`SELECT `+assetCols+` FROM assets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUnknownAsset
	}
	if err != nil {
		return nil, fmt.Errorf("get asset %s: %w", id, err)
	}
	return a, nil
}

// ListAssets returns all assets ordered by symbol.
func (s *Store) ListAssets(ctx context.Context) ([]model.Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assetCols+` FROM assets ORDER BY symbol ASC`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var out []model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// RecordPrice persists the asset's latest observation. History appends go
// through the batched PriceLog writer, not here.
func (s *Store) RecordPrice(ctx context.Context, a *model.Asset) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE assets SET current_price = ?, price_version = ?,
			price_updated_at = ?, day_high = ?, day_low = ?
		WHERE id = ?`,
		a.CurrentPrice, a.PriceVersion, toNanos(a.PriceUpdatedAt),
		a.DayHigh, a.DayLow, a.ID)
	if err != nil {
		return fmt.Errorf("record price %s: %w", a.ID, err)
	}
	return nil
}

// ── accounts ──

// UpsertAccount inserts or replaces the account row.
func (s *Store) UpsertAccount(ctx context.Context, acc *model.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO accounts (owner, created_at, buying_power)
		VALUES (?, ?, ?)`,
		acc.Owner, toNanos(acc.CreatedAt), acc.BuyingPower)
	if err != nil {
		return fmt.Errorf("upsert account %s: %w", acc.Owner, err)
	}
	return nil
}

// ListAccounts returns all accounts ordered by creation time.
func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner, created_at, buying_power FROM accounts ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		var acc model.Account
		var created int64
		if err := rows.Scan(&acc.Owner, &created, &acc.BuyingPower); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		acc.CreatedAt = fromNanos(created)
		out = append(out, acc)
	}
	return out, rows.Err()
}

// ── orders ──

const orderCols = `id, owner, asset_id, side, order_type, quantity, limit_price,
	stop_price, status, filled_quantity, reason, created_at, triggered_at,
	filled_at, updated_at`

const upsertOrderSQL = `
	INSERT OR REPLACE INTO orders (` + orderCols + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func orderArgs(o *model.Order) []any {
	return []any{
		o.ID, o.Owner, o.AssetID, string(o.Side), string(o.Type),
		o.Quantity, o.LimitPrice, o.StopPrice, string(o.Status),
		o.FilledQuantity, string(o.Reason),
		toNanos(o.CreatedAt), toNanos(o.TriggeredAt),
		toNanos(o.FilledAt), toNanos(o.UpdatedAt),
	}
}

func scanOrder(row interface{ Scan(...any) error }) (*model.Order, error) {
	var o model.Order
	var side, typ, status, reason string
	var created, triggered, filled, updated int64
	err := row.Scan(&o.ID, &o.Owner, &o.AssetID, &side, &typ,
		&o.Quantity, &o.LimitPrice, &o.StopPrice, &status,
		&o.FilledQuantity, &reason, &created, &triggered, &filled, &updated)
	if err != nil {
		return nil, err
	}
	o.Side = model.Side(side)
	o.Type = model.OrderType(typ)
	o.Status = model.OrderStatus(status)
	o.Reason = model.RejectReason(reason)
	o.CreatedAt = fromNanos(created)
	o.TriggeredAt = fromNanos(triggered)
	o.FilledAt = fromNanos(filled)
	o.UpdatedAt = fromNanos(updated)
	return &o, nil
}

// SaveOrder inserts or replaces the order row.
func (s *Store) SaveOrder(ctx context.Context, o *model.Order) error {
	if _, err := s.db.ExecContext(ctx, upsertOrderSQL, orderArgs(o)...); err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	return nil
}

// GetOrder returns the order or model.ErrOrderNotFound.
func (s *Store) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

// ListOpenOrders returns non-terminal orders ordered by creation time
// ascending, for crash recovery.
func (s *Store) ListOpenOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE status IN (?, ?, ?)
		ORDER BY created_at ASC, id ASC`,
		string(model.StatusPending), string(model.StatusTriggered),
		string(model.StatusPartiallyFilled))
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ── positions ──

const upsertPositionSQL = `
	INSERT OR REPLACE INTO positions
		(owner, asset_id, quantity, avg_cost_basis, realized_pnl, halted, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

func positionArgs(p *model.Position) []any {
	halted := 0
	if p.Halted {
		halted = 1
	}
	return []any{p.Owner, p.AssetID, p.Quantity, p.AvgCostBasis,
		p.RealizedPnL, halted, toNanos(p.UpdatedAt)}
}

func scanPosition(row interface{ Scan(...any) error }) (*model.Position, error) {
	var p model.Position
	var halted int
	var updated int64
	err := row.Scan(&p.Owner, &p.AssetID, &p.Quantity, &p.AvgCostBasis,
		&p.RealizedPnL, &halted, &updated)
	if err != nil {
		return nil, err
	}
	p.Halted = halted != 0
	p.UpdatedAt = fromNanos(updated)
	return &p, nil
}

const positionCols = `owner, asset_id, quantity, avg_cost_basis, realized_pnl, halted, updated_at`

// UpsertPosition inserts or replaces the position row.
func (s *Store) UpsertPosition(ctx context.Context, p *model.Position) error {
	if _, err := s.db.ExecContext(ctx, upsertPositionSQL, positionArgs(p)...); err != nil {
		return fmt.Errorf("upsert position %s/%s: %w", p.Owner, p.AssetID, err)
	}
	return nil
}

// GetPosition returns the position or model.ErrNoPosition.
func (s *Store) GetPosition(ctx context.Context, owner, assetID string) (*model.Position, error) {
	p, err := scanPosition(s.db.QueryRowContext(ctx,
		`SELECT `+positionCols+` FROM positions WHERE owner = ? AND asset_id = ?`,
		owner, assetID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNoPosition
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", owner, assetID, err)
	}
	return p, nil
}

// ListPositions returns all positions for one owner.
func (s *Store) ListPositions(ctx context.Context, owner string) ([]model.Position, error) {
	return s.listPositions(ctx,
		`SELECT `+positionCols+` FROM positions WHERE owner = ? ORDER BY asset_id ASC`, owner)
}

// ListAllPositions returns every position, for restore and analytics.
func (s *Store) ListAllPositions(ctx context.Context) ([]model.Position, error) {
	return s.listPositions(ctx,
		`SELECT `+positionCols+` FROM positions ORDER BY owner ASC, asset_id ASC`)
}

func (s *Store) listPositions(ctx context.Context, query string, args ...any) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ── transactions ──

const insertTransactionSQL = `
	INSERT INTO transactions
		(id, owner, asset_id, order_id, side, quantity, price_per_unit,
		 fees, total_amount, executed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func transactionArgs(t *model.Transaction) []any {
	return []any{t.ID, t.Owner, t.AssetID, t.OrderID, string(t.Side),
		t.Quantity, t.PricePerUnit, t.Fees, t.TotalAmount, toNanos(t.ExecutedAt)}
}

// AppendTransaction appends one fill record. The log is append-only: the
// primary key makes double-appends fail instead of silently overwriting.
func (s *Store) AppendTransaction(ctx context.Context, t *model.Transaction) error {
	if _, err := s.db.ExecContext(ctx, insertTransactionSQL, transactionArgs(t)...); err != nil {
		return fmt.Errorf("append transaction %s: %w", t.ID, err)
	}
	return nil
}

// ListTransactions returns fills executed within [from, to], oldest first.
// A non-empty owner restricts to that owner.
func (s *Store) ListTransactions(ctx context.Context, from, to time.Time, owner string) ([]model.Transaction, error) {
	query := `
		SELECT id, owner, asset_id, order_id, side, quantity, price_per_unit,
		       fees, total_amount, executed_at
		FROM transactions
		WHERE executed_at >= ? AND executed_at <= ?`
	args := []any{toNanos(from), toNanos(to)}
	if owner != "" {
		query += ` AND owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY executed_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var side string
		var executed int64
		if err := rows.Scan(&t.ID, &t.Owner, &t.AssetID, &t.OrderID, &side,
			&t.Quantity, &t.PricePerUnit, &t.Fees, &t.TotalAmount, &executed); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Side = model.Side(side)
		t.ExecutedAt = fromNanos(executed)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ── fills ──

// ApplyFill writes one fill as a single SQL transaction: transaction
// append, position upsert, order update. Any failure rolls all three back.
func (s *Store) ApplyFill(ctx context.Context, t *model.Transaction, p *model.Position, o *model.Order) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply fill: begin: %w", err)
	}

	if _, err = tx.ExecContext(ctx, insertTransactionSQL, transactionArgs(t)...); err == nil {
		if _, err = tx.ExecContext(ctx, upsertPositionSQL, positionArgs(p)...); err == nil {
			_, err = tx.ExecContext(ctx, upsertOrderSQL, orderArgs(o)...)
		}
	}
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("apply fill %s: %w", t.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply fill %s: commit: %w", t.ID, err)
	}
	if s.OnCommit != nil {
		s.OnCommit(time.Since(start))
	}
	return nil
}
