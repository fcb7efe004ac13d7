package pricefeed

import (
	"context"
	"log"
	"math/rand"
	"time"

	"portfolio-systemv1/internal/model"
	"portfolio-systemv1/internal/money"
)

// SimAsset is one simulated instrument with its starting price.
type SimAsset struct {
	AssetID string
	Price   float64
}

// SimConfig configures the in-process price simulator.
type SimConfig struct {
	Assets   []SimAsset
	Interval time.Duration // per-round emit interval, default 1s
	Seed     int64         // rng seed, 0 = time-based
}

// Sim emits random-walk price updates without any network dependency.
// Drop-in replacement for WSFeed, used for offline runs and seeding.
type Sim struct {
	cfg SimConfig
}

// NewSim creates a Sim.
func NewSim(cfg SimConfig) *Sim {
	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}
	return &Sim{cfg: cfg}
}

// walk applies a tiny random step (up to ±0.1%) with a floor of one cent.
func walk(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := price * (1 + pct)
	if next < 0.01 {
		next = 0.01
	}
	return next
}

// Start emits one update per asset per interval into out. Blocks until ctx
// is cancelled.
func (s *Sim) Start(ctx context.Context, out chan<- model.PriceUpdate) error {
	seed := s.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	prices := make(map[string]float64, len(s.cfg.Assets))
	for _, a := range s.cfg.Assets {
		prices[a.AssetID] = a.Price
	}
	log.Printf("[sim] simulating %d assets every %s", len(prices), s.cfg.Interval)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, a := range s.cfg.Assets {
				prices[a.AssetID] = walk(rng, prices[a.AssetID])
				u := model.PriceUpdate{
					AssetID: a.AssetID,
					Price:   money.FromFloat(prices[a.AssetID]).Round(),
					TS:      time.Now().UTC(),
				}
				select {
				case out <- u:
				default:
					log.Println("[sim] output channel full, dropping update")
				}
			}
		}
	}
}
