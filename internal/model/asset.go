package model

import (
	"time"

	"portfolio-systemv1/internal/money"
)

// AssetType classifies a tradeable asset.
type AssetType string

const (
	AssetStock      AssetType = "STOCK"
	AssetBond       AssetType = "BOND"
	AssetCrypto     AssetType = "CRYPTO"
	AssetRealEstate AssetType = "REAL_ESTATE"
	AssetCommodity  AssetType = "COMMODITY"
	AssetCash       AssetType = "CASH"
	AssetETF        AssetType = "ETF"
	AssetMutualFund AssetType = "MUTUAL_FUND"
	AssetDerivative AssetType = "DERIVATIVE"
	AssetOther      AssetType = "OTHER"
)

// AssetStatus is the trading status of an asset. Orders are accepted only
// for ACTIVE assets.
type AssetStatus string

const (
	AssetActive    AssetStatus = "ACTIVE"
	AssetInactive  AssetStatus = "INACTIVE"
	AssetSuspended AssetStatus = "SUSPENDED"
	AssetDelisted  AssetStatus = "DELISTED"
)

// Asset represents a tradeable asset and its latest observed price.
// CurrentPrice is mutated only through price-update events; PriceVersion
// increases monotonically with each accepted update so readers can take
// an explicit snapshot instead of racing on shared state.
type Asset struct {
	ID        string      `json:"id"`
	Symbol    string      `json:"symbol"`
	Name      string      `json:"name"`
	Type      AssetType   `json:"asset_type"`
	Currency  string      `json:"currency"`
	Status    AssetStatus `json:"status"`

	CurrentPrice   money.Money `json:"current_price"`
	PriceVersion   int64       `json:"price_version"`
	PriceUpdatedAt time.Time   `json:"price_updated_at"`

	// Intraday extremes, maintained on each price update.
	DayHigh money.Money `json:"day_high"`
	DayLow  money.Money `json:"day_low"`

	MarketCap money.Money `json:"market_cap,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Tradeable reports whether orders may be submitted against the asset.
func (a *Asset) Tradeable() bool { return a.Status == AssetActive }

// ApplyPrice records a new price observation and returns the new version.
// Day high/low are stretched, never shrunk, within a session.
func (a *Asset) ApplyPrice(price money.Money, ts time.Time) int64 {
	a.CurrentPrice = price
	a.PriceUpdatedAt = ts
	a.PriceVersion++
	if a.DayHigh.IsZero() || price.GreaterThan(a.DayHigh) {
		a.DayHigh = price
	}
	if a.DayLow.IsZero() || price.LessThan(a.DayLow) {
		a.DayLow = price
	}
	return a.PriceVersion
}

// PriceUpdate is a single observation from the price feed.
type PriceUpdate struct {
	AssetID string      `json:"asset_id"`
	Price   money.Money `json:"price"`
	TS      time.Time   `json:"ts"`
}

// Account is the minimal record the core keeps per owner. Identity itself
// is resolved by an external collaborator; the owner ID is opaque here.
type Account struct {
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`

	// BuyingPower caps the total cost of BUY fills when positive.
	// Zero means unlimited (paper account).
	BuyingPower money.Money `json:"buying_power"`
}
