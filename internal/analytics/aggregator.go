// Package analytics is the read side: pure, deterministic rollups of the
// transaction/position/asset history into the dashboard graph series.
// Nothing here mutates state and no derived value is authoritative; every
// graph is re-derivable from the store at any time.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"portfolio-systemv1/internal/model"
)

// ErrUnknownGraph rejects graph names outside the closed set.
var ErrUnknownGraph = errors.New("unknown graph type")

// Reader is the slice of the store the aggregator reads. Satisfied by
// model.Store.
type Reader interface {
	ListTransactions(ctx context.Context, from, to time.Time, owner string) ([]model.Transaction, error)
	ListAllPositions(ctx context.Context) ([]model.Position, error)
	ListAssets(ctx context.Context) ([]model.Asset, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
}

// Result wraps one computed graph with its request parameters. Data holds
// the graph-specific payload ([]GrowthPoint, []VolumePoint, Overview, ...).
type Result struct {
	Graph       Graph     `json:"graph"`
	Days        int       `json:"days"`
	Owner       string    `json:"owner,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Data        any       `json:"data"`
}

// Aggregator loads snapshots from the store and computes graphs.
type Aggregator struct {
	reader Reader
	log    *slog.Logger
	now    func() time.Time
}

// New creates an Aggregator.
func New(reader Reader, log *slog.Logger) *Aggregator {
	return &Aggregator{reader: reader, log: log, now: time.Now}
}

// Load reads one consistent snapshot covering the last `days` day buckets,
// today included. A non-empty owner restricts transactions to that owner;
// positions, assets and accounts are always loaded in full since the
// universe-level graphs need them.
func (a *Aggregator) Load(ctx context.Context, days int, owner string) (*Snapshot, error) {
	days = ClampDays(days)
	now := a.now().UTC()
	to := now.Truncate(24 * time.Hour)
	from := to.AddDate(0, 0, -(days - 1))

	txs, err := a.reader.ListTransactions(ctx, from, now, owner)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	positions, err := a.reader.ListAllPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	assets, err := a.reader.ListAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	accounts, err := a.reader.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	return &Snapshot{
		From:         from,
		To:           to,
		Transactions: txs,
		Positions:    positions,
		Assets:       assets,
		Accounts:     accounts,
		Now:          now,
	}, nil
}

// Compute loads a snapshot and evaluates the requested graph over it.
func (a *Aggregator) Compute(ctx context.Context, graph Graph, days int, owner string) (*Result, error) {
	days = ClampDays(days)
	snap, err := a.Load(ctx, days, owner)
	if err != nil {
		return nil, err
	}

	res := &Result{Graph: graph, Days: days, Owner: owner, GeneratedAt: snap.Now}
	switch graph {
	case GraphUserGrowth:
		res.Data = UserGrowth(snap)
	case GraphTransactionVolume:
		res.Data = TransactionVolume(snap)
	case GraphPortfolioPerformance:
		res.Data = PortfolioPerformance(snap)
	case GraphAssetTypePerformance:
		res.Data = AssetTypePerformance(snap)
	case GraphAssetDistribution:
		res.Data = AssetDistribution(snap)
	case GraphTopAssets:
		res.Data = TopAssets(snap, DefaultTopAssets)
	case GraphTransactionTrends:
		res.Data = TransactionTrends(snap)
	case GraphMarketOverview:
		res.Data = MarketOverview(snap)
	default:
		return nil, ErrUnknownGraph
	}

	a.log.Debug("graph computed",
		"graph", string(graph),
		"days", days,
		"owner", owner,
		"transactions", len(snap.Transactions))
	return res, nil
}

// CacheKey derives the cache key for one graph request. The version prefix
// makes whole generations of keys unreachable on invalidation.
func CacheKey(version int64, graph Graph, days int, owner string) string {
	return "analytics:" + strconv.FormatInt(version, 10) + ":" +
		string(graph) + ":" + strconv.Itoa(days) + ":" + owner
}
