// cmd/seed populates a fresh database with demo assets, accounts, and a
// simulated trading history so the analytics graphs have something to show.
//
// Usage:
//
//	go run ./cmd/seed --db=data/portfolio.db --accounts=8 --days=30 --fills=400
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"portfolio-systemv1/internal/ledger"
	"portfolio-systemv1/internal/model"
	"portfolio-systemv1/internal/money"
	sqlitestore "portfolio-systemv1/internal/store/sqlite"
)

type demoAsset struct {
	id     string
	symbol string
	name   string
	typ    model.AssetType
	price  float64
}

var demoAssets = []demoAsset{
	{"aapl", "AAPL", "Apple Inc.", model.AssetStock, 150.25},
	{"googl", "GOOGL", "Alphabet Inc.", model.AssetStock, 135.80},
	{"tsla", "TSLA", "Tesla Inc.", model.AssetStock, 248.50},
	{"msft", "MSFT", "Microsoft Corp.", model.AssetStock, 378.90},
	{"btc-usd", "BTC-USD", "Bitcoin", model.AssetCrypto, 43250.00},
	{"eth-usd", "ETH-USD", "Ethereum", model.AssetCrypto, 2280.00},
	{"spy", "SPY", "SPDR S&P 500 ETF", model.AssetETF, 456.30},
	{"tlt", "TLT", "iShares 20+ Year Treasury", model.AssetBond, 92.15},
	{"gld", "GLD", "SPDR Gold Shares", model.AssetCommodity, 188.40},
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	dbPath := flag.String("db", "data/portfolio.db", "Path to SQLite database")
	accounts := flag.Int("accounts", 8, "Number of demo accounts")
	days := flag.Int("days", 30, "History window in days")
	fills := flag.Int("fills", 400, "Number of simulated fills")
	seed := flag.Int64("seed", 0, "RNG seed (0 = time-based)")
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))
	log.Printf("[seed] seeding %s: %d accounts, %d days, %d fills (seed=%d)",
		*dbPath, *accounts, *days, *fills, *seed)

	os.MkdirAll(filepath.Dir(*dbPath), 0o755)
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[seed] sqlite open failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	// ---- Assets ----
	prices := make(map[string]float64, len(demoAssets))
	for _, d := range demoAssets {
		a := &model.Asset{
			ID: d.id, Symbol: d.symbol, Name: d.name, Type: d.typ,
			Currency: "USD", Status: model.AssetActive,
			CurrentPrice: money.FromFloat(d.price).Round(),
			CreatedAt:    now.AddDate(0, 0, -*days),
		}
		if err := store.UpsertAsset(ctx, a); err != nil {
			log.Fatalf("[seed] upsert asset %s: %v", d.symbol, err)
		}
		prices[d.id] = d.price
	}

	// ---- Accounts, spread over the window so user_growth has a slope ----
	owners := make([]string, 0, *accounts)
	for i := 1; i <= *accounts; i++ {
		owner := fmt.Sprintf("user%d", i)
		created := now.AddDate(0, 0, -rng.Intn(*days))
		acc := &model.Account{Owner: owner, CreatedAt: created}
		if err := store.UpsertAccount(ctx, acc); err != nil {
			log.Fatalf("[seed] upsert account %s: %v", owner, err)
		}
		owners = append(owners, owner)
	}

	// ---- Simulated fill history ----
	// The offline ledger keeps the cost-basis math honest: every generated
	// fill goes through the same weighted-average/realized-PnL path the
	// engine uses, and the commit callback lands transaction + position in
	// one store transaction.
	ldg := ledger.New()
	written := 0
	for i := 0; i < *fills; i++ {
		owner := owners[rng.Intn(len(owners))]
		d := demoAssets[rng.Intn(len(demoAssets))]

		// Random walk the price a little per fill.
		prices[d.id] *= 1 + (rng.Float64()*2-1)*0.01
		price := money.FromFloat(prices[d.id]).Round()
		qty := money.QFromFloat(float64(rng.Intn(20)+1) / (1 + rng.Float64()*3))

		side := model.SideBuy
		if rng.Float64() < 0.35 {
			held := ldg.Quantity(owner, d.id)
			if !held.IsPositive() {
				side = model.SideBuy
			} else {
				side = model.SideSell
				qty = qty.Min(held)
			}
		}

		// Fills spread over the window, oldest first.
		at := now.AddDate(0, 0, -*days+1).Add(
			time.Duration(float64(i) / float64(*fills) * float64(*days) * 24 * float64(time.Hour)))

		t := model.Transaction{
			ID:           uuid.New().String(),
			Owner:        owner,
			AssetID:      d.id,
			OrderID:      "seed-" + uuid.New().String(),
			Side:         side,
			Quantity:     qty,
			PricePerUnit: price,
			Fees:         money.Zero,
			TotalAmount:  price.Mul(qty),
			ExecutedAt:   at,
		}

		err := ldg.Fill(owner, d.id, side, qty, price, money.Zero, at,
			func(pos model.Position, _ money.Money) error {
				if err := store.AppendTransaction(ctx, &t); err != nil {
					return err
				}
				return store.UpsertPosition(ctx, &pos)
			})
		if err != nil {
			log.Printf("[seed] skipped fill %d: %v", i, err)
			continue
		}
		written++
	}

	fmt.Printf("\nseeded %s\n", *dbPath)
	fmt.Printf("  assets:       %d\n", len(demoAssets))
	fmt.Printf("  accounts:     %d\n", len(owners))
	fmt.Printf("  transactions: %d\n", written)
	fmt.Printf("  positions:    %d\n", len(ldg.Snapshot()))
}
