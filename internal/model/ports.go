package model

import (
	"context"
	"time"

	"portfolio-systemv1/internal/money"
)

// ── Port interfaces ──
// These decouple the engine from concrete implementations (SQLite store,
// Redis cache, fee schedules, the price feed). Each implementation
// satisfies one or more of these.

// AssetStore persists assets and their price observations.
type AssetStore interface {
	UpsertAsset(ctx context.Context, a *Asset) error
	GetAsset(ctx context.Context, id string) (*Asset, error)
	ListAssets(ctx context.Context) ([]Asset, error)

	// RecordPrice persists the latest observation for an asset.
	RecordPrice(ctx context.Context, a *Asset) error

	// ReadPriceHistory returns the logged observations for an asset after
	// the given time, oldest first.
	ReadPriceHistory(ctx context.Context, assetID string, after time.Time) ([]PriceUpdate, error)
}

// AccountStore persists the minimal per-owner records analytics needs.
type AccountStore interface {
	UpsertAccount(ctx context.Context, acc *Account) error
	ListAccounts(ctx context.Context) ([]Account, error)
}

// OrderStore persists order lifecycle state.
type OrderStore interface {
	SaveOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)

	// ListOpenOrders returns non-terminal orders for crash recovery,
	// ordered by creation time ascending.
	ListOpenOrders(ctx context.Context) ([]Order, error)
}

// PositionStore persists positions. The (owner, asset) pair is unique at
// the storage boundary.
type PositionStore interface {
	UpsertPosition(ctx context.Context, p *Position) error
	GetPosition(ctx context.Context, owner, assetID string) (*Position, error)
	ListPositions(ctx context.Context, owner string) ([]Position, error)
	ListAllPositions(ctx context.Context) ([]Position, error)
}

// TransactionStore is the append-only fill log.
type TransactionStore interface {
	AppendTransaction(ctx context.Context, t *Transaction) error
	ListTransactions(ctx context.Context, from, to time.Time, owner string) ([]Transaction, error)
}

// FillStore applies one fill as a single durable unit: transaction append,
// position upsert, and order update commit or roll back together.
type FillStore interface {
	ApplyFill(ctx context.Context, t *Transaction, p *Position, o *Order) error
}

// Store is the full persistence surface the engine wires at startup.
type Store interface {
	AssetStore
	AccountStore
	OrderStore
	PositionStore
	TransactionStore
	FillStore
	Close() error
}

// FeeSchedule computes the fee charged on a fill. Implementations are
// pluggable; the default is flat + proportional.
type FeeSchedule interface {
	ComputeFee(o *Order, qty money.Quantity, price money.Money) money.Money
}

// PriceSource answers "current price of asset X". Implemented by the
// in-memory asset table fed by the price stream.
type PriceSource interface {
	CurrentPrice(assetID string) (money.Money, error)
}

// AnalyticsCache is the invalidate-on-write cache layered in front of the
// aggregator. It is never the source of truth.
type AnalyticsCache interface {
	// Get returns the cached payload for the key, or false on miss.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a payload under the key.
	Set(ctx context.Context, key string, payload []byte)

	// Invalidate makes all previously written keys unreachable.
	// Called after every fill.
	Invalidate(ctx context.Context)

	// Version returns the current cache generation, for key derivation.
	Version(ctx context.Context) int64
}
