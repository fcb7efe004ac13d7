package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-systemv1/internal/model"
	"portfolio-systemv1/internal/money"
)

// Graph identifies one dashboard graph type.
type Graph string

const (
	GraphUserGrowth           Graph = "user_growth"
	GraphTransactionVolume    Graph = "transaction_volume"
	GraphPortfolioPerformance Graph = "portfolio_performance"
	GraphAssetTypePerformance Graph = "asset_type_performance"
	GraphAssetDistribution    Graph = "asset_distribution"
	GraphTopAssets            Graph = "top_assets"
	GraphTransactionTrends    Graph = "transaction_trends"
	GraphMarketOverview       Graph = "market_overview"
)

// ParseGraph validates a graph name from the API boundary.
func ParseGraph(s string) (Graph, error) {
	switch g := Graph(s); g {
	case GraphUserGrowth, GraphTransactionVolume, GraphPortfolioPerformance,
		GraphAssetTypePerformance, GraphAssetDistribution, GraphTopAssets,
		GraphTransactionTrends, GraphMarketOverview:
		return g, nil
	}
	return "", ErrUnknownGraph
}

// Window bounds for the days parameter.
const (
	MinDays     = 1
	MaxDays     = 365
	DefaultDays = 30
)

// ClampDays normalizes the days parameter: zero means the default, out of
// range values clamp to the bounds.
func ClampDays(days int) int {
	switch {
	case days == 0:
		return DefaultDays
	case days < MinDays:
		return MinDays
	case days > MaxDays:
		return MaxDays
	}
	return days
}

// Snapshot is one consistent read of the history the graphs aggregate over.
// Every graph is a pure function of a Snapshot: recomputing from the same
// snapshot yields identical output.
type Snapshot struct {
	From time.Time // first day bucket (UTC day start)
	To   time.Time // last day bucket (UTC day start)

	Transactions []model.Transaction // executed within [From, To], window-filtered
	Positions    []model.Position
	Assets       []model.Asset
	Accounts     []model.Account
	Now          time.Time
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// eachDay walks the snapshot window one day at a time, zero-filled: fn runs
// for every day in [From, To] whether or not anything happened on it.
func (s *Snapshot) eachDay(fn func(day string)) {
	for d := s.From; !d.After(s.To); d = d.AddDate(0, 0, 1) {
		fn(dayKey(d))
	}
}

func (s *Snapshot) assetByID() map[string]*model.Asset {
	out := make(map[string]*model.Asset, len(s.Assets))
	for i := range s.Assets {
		out[s.Assets[i].ID] = &s.Assets[i]
	}
	return out
}

func avg(total money.Money, n int) money.Money {
	if n == 0 {
		return money.Zero
	}
	return total.Div(money.QFromInt(int64(n))).Round()
}

// ── user_growth ──

// GrowthPoint is one day bucket of account registrations.
type GrowthPoint struct {
	Date       string  `json:"date"`
	NewUsers   int     `json:"new_users"`
	TotalUsers int     `json:"total_users"`
	GrowthRate float64 `json:"growth_rate"`
}

// UserGrowth counts new accounts per day with a cumulative running total.
// Accounts registered before the window seed the cumulative baseline.
func UserGrowth(s *Snapshot) []GrowthPoint {
	perDay := make(map[string]int)
	cumulative := 0
	for _, a := range s.Accounts {
		if a.CreatedAt.Before(s.From) {
			cumulative++
			continue
		}
		perDay[dayKey(a.CreatedAt)]++
	}

	var out []GrowthPoint
	s.eachDay(func(day string) {
		n := perDay[day]
		cumulative += n
		p := GrowthPoint{Date: day, NewUsers: n, TotalUsers: cumulative}
		if cumulative > 0 {
			p.GrowthRate = float64(n) / float64(cumulative) * 100
		}
		out = append(out, p)
	})
	return out
}

// ── transaction_volume ──

// VolumePoint is one day bucket of executed transactions.
type VolumePoint struct {
	Date       string      `json:"date"`
	Volume     money.Money `json:"volume"`
	Count      int         `json:"count"`
	BuyVolume  money.Money `json:"buy_volume"`
	SellVolume money.Money `json:"sell_volume"`
	AvgSize    money.Money `json:"avg_transaction_size"`
}

// TransactionVolume sums total_amount and counts per day, split by side.
// Days without transactions appear as zero buckets.
func TransactionVolume(s *Snapshot) []VolumePoint {
	perDay := make(map[string]*VolumePoint)
	for _, t := range s.Transactions {
		day := dayKey(t.ExecutedAt)
		p, ok := perDay[day]
		if !ok {
			p = &VolumePoint{Date: day}
			perDay[day] = p
		}
		p.Volume = p.Volume.Add(t.TotalAmount)
		p.Count++
		if t.Side == model.SideBuy {
			p.BuyVolume = p.BuyVolume.Add(t.TotalAmount)
		} else {
			p.SellVolume = p.SellVolume.Add(t.TotalAmount)
		}
	}

	var out []VolumePoint
	s.eachDay(func(day string) {
		if p, ok := perDay[day]; ok {
			p.AvgSize = avg(p.Volume, p.Count)
			out = append(out, *p)
			return
		}
		out = append(out, VolumePoint{Date: day})
	})
	return out
}

// ── portfolio_performance ──

// OwnerPerformance summarizes one owner's trading activity and the current
// value of their holdings.
type OwnerPerformance struct {
	Owner            string      `json:"owner"`
	TotalInvested    money.Money `json:"total_invested"`
	TotalReturns     money.Money `json:"total_returns"`
	NetPosition      money.Money `json:"net_position"`
	MarketValue      money.Money `json:"market_value"`
	RealizedPnL      money.Money `json:"realized_pnl"`
	UnrealizedPnL    money.Money `json:"unrealized_pnl"`
	Transactions     int         `json:"total_transactions"`
	BuyTransactions  int         `json:"buy_transactions"`
	SellTransactions int         `json:"sell_transactions"`
	ROIPercent       float64     `json:"roi_percentage"`
}

// PortfolioPerformance aggregates per owner: invested vs returned within the
// window, plus holdings market value at the latest asset prices, cumulative
// realized P&L, and unrealized P&L against cost basis. Sorted by net
// position descending, owner ascending on ties.
func PortfolioPerformance(s *Snapshot) []OwnerPerformance {
	byOwner := make(map[string]*OwnerPerformance)
	get := func(owner string) *OwnerPerformance {
		p, ok := byOwner[owner]
		if !ok {
			p = &OwnerPerformance{Owner: owner}
			byOwner[owner] = p
		}
		return p
	}

	for _, t := range s.Transactions {
		p := get(t.Owner)
		p.Transactions++
		if t.Side == model.SideBuy {
			p.TotalInvested = p.TotalInvested.Add(t.TotalAmount)
			p.BuyTransactions++
		} else {
			p.TotalReturns = p.TotalReturns.Add(t.TotalAmount)
			p.SellTransactions++
		}
	}

	assets := s.assetByID()
	for _, pos := range s.Positions {
		p, ok := byOwner[pos.Owner]
		if !ok {
			// Position history without window activity still shows up.
			p = get(pos.Owner)
		}
		if a, ok := assets[pos.AssetID]; ok {
			p.MarketValue = p.MarketValue.Add(pos.MarketValue(a.CurrentPrice))
			p.UnrealizedPnL = p.UnrealizedPnL.Add(pos.UnrealizedPnL(a.CurrentPrice))
		}
		p.RealizedPnL = p.RealizedPnL.Add(pos.RealizedPnL)
	}

	out := make([]OwnerPerformance, 0, len(byOwner))
	for _, p := range byOwner {
		p.NetPosition = p.TotalInvested.Sub(p.TotalReturns)
		if p.TotalInvested.IsPositive() {
			p.ROIPercent = p.TotalReturns.Sub(p.TotalInvested).Div(
				money.Q(p.TotalInvested.Decimal())).Float() * 100
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].NetPosition.Cmp(out[j].NetPosition); c != 0 {
			return c > 0
		}
		return out[i].Owner < out[j].Owner
	})
	return out
}

// ── asset_type_performance ──

// TypePerformance aggregates traded volume and price stats per asset type.
type TypePerformance struct {
	AssetType        model.AssetType `json:"asset_type"`
	TotalVolume      money.Money     `json:"total_volume"`
	TransactionCount int             `json:"transaction_count"`
	AssetCount       int             `json:"asset_count"`
	AvgPrice         money.Money     `json:"avg_price"`
	MinPrice         money.Money     `json:"min_price"`
	MaxPrice         money.Money     `json:"max_price"`
}

// AssetTypePerformance groups window transactions by the asset's type. Types
// with no traded volume are omitted. Sorted by volume descending, type
// ascending on ties.
func AssetTypePerformance(s *Snapshot) []TypePerformance {
	assets := s.assetByID()
	byType := make(map[model.AssetType]*TypePerformance)

	for i := range s.Assets {
		a := &s.Assets[i]
		p, ok := byType[a.Type]
		if !ok {
			p = &TypePerformance{AssetType: a.Type}
			byType[a.Type] = p
		}
		p.AssetCount++
		p.AvgPrice = p.AvgPrice.Add(a.CurrentPrice) // sum; divided below
		if p.MinPrice.IsZero() || a.CurrentPrice.LessThan(p.MinPrice) {
			p.MinPrice = a.CurrentPrice
		}
		if a.CurrentPrice.GreaterThan(p.MaxPrice) {
			p.MaxPrice = a.CurrentPrice
		}
	}

	for _, t := range s.Transactions {
		a, ok := assets[t.AssetID]
		if !ok {
			continue
		}
		p := byType[a.Type]
		p.TotalVolume = p.TotalVolume.Add(t.TotalAmount)
		p.TransactionCount++
	}

	out := make([]TypePerformance, 0, len(byType))
	for _, p := range byType {
		if !p.TotalVolume.IsPositive() {
			continue
		}
		p.AvgPrice = avg(p.AvgPrice, p.AssetCount)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].TotalVolume.Cmp(out[j].TotalVolume); c != 0 {
			return c > 0
		}
		return out[i].AssetType < out[j].AssetType
	})
	return out
}

// ── asset_distribution ──

// TypeDistribution is the share of the asset universe one type holds.
type TypeDistribution struct {
	AssetType    model.AssetType `json:"asset_type"`
	Count        int             `json:"count"`
	TotalValue   money.Money     `json:"total_value"`
	AvgPrice     money.Money     `json:"avg_price"`
	MarketCap    money.Money     `json:"market_cap_total"`
	SharePercent float64         `json:"share_percentage"`
}

// AssetDistribution groups active assets by type with percentage share of
// total value. Sorted by count descending, type ascending on ties.
func AssetDistribution(s *Snapshot) []TypeDistribution {
	byType := make(map[model.AssetType]*TypeDistribution)
	grandTotal := money.Zero

	for i := range s.Assets {
		a := &s.Assets[i]
		if !a.Tradeable() {
			continue
		}
		d, ok := byType[a.Type]
		if !ok {
			d = &TypeDistribution{AssetType: a.Type}
			byType[a.Type] = d
		}
		d.Count++
		d.TotalValue = d.TotalValue.Add(a.CurrentPrice)
		d.MarketCap = d.MarketCap.Add(a.MarketCap)
		grandTotal = grandTotal.Add(a.CurrentPrice)
	}

	out := make([]TypeDistribution, 0, len(byType))
	for _, d := range byType {
		d.AvgPrice = avg(d.TotalValue, d.Count)
		if grandTotal.IsPositive() {
			d.SharePercent = d.TotalValue.Div(money.Q(grandTotal.Decimal())).Float() * 100
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].AssetType < out[j].AssetType
	})
	return out
}

// ── top_assets ──

// TopAsset is one row of the traded-volume leaderboard.
type TopAsset struct {
	AssetID          string          `json:"id"`
	Symbol           string          `json:"symbol"`
	Name             string          `json:"name"`
	AssetType        model.AssetType `json:"asset_type"`
	CurrentPrice     money.Money     `json:"current_price"`
	TotalVolume      money.Money     `json:"total_volume"`
	TransactionCount int             `json:"transaction_count"`
	BuyVolume        money.Money     `json:"buy_volume"`
	SellVolume       money.Money     `json:"sell_volume"`
	AvgSize          money.Money     `json:"avg_transaction_size"`
}

// DefaultTopAssets bounds the leaderboard length.
const DefaultTopAssets = 10

// TopAssets ranks assets by gross traded volume (quantity x price) within
// the window, descending, ties broken by symbol ascending. Assets with no
// window volume are omitted.
func TopAssets(s *Snapshot, limit int) []TopAsset {
	if limit <= 0 {
		limit = DefaultTopAssets
	}
	byAsset := make(map[string]*TopAsset)
	for _, t := range s.Transactions {
		row, ok := byAsset[t.AssetID]
		if !ok {
			row = &TopAsset{AssetID: t.AssetID}
			byAsset[t.AssetID] = row
		}
		gross := t.GrossAmount()
		row.TotalVolume = row.TotalVolume.Add(gross)
		row.TransactionCount++
		if t.Side == model.SideBuy {
			row.BuyVolume = row.BuyVolume.Add(gross)
		} else {
			row.SellVolume = row.SellVolume.Add(gross)
		}
	}

	assets := s.assetByID()
	out := make([]TopAsset, 0, len(byAsset))
	for id, row := range byAsset {
		if a, ok := assets[id]; ok {
			row.Symbol = a.Symbol
			row.Name = a.Name
			row.AssetType = a.Type
			row.CurrentPrice = a.CurrentPrice
		}
		row.AvgSize = avg(row.TotalVolume, row.TransactionCount)
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].TotalVolume.Cmp(out[j].TotalVolume); c != 0 {
			return c > 0
		}
		return out[i].Symbol < out[j].Symbol
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ── transaction_trends ──

// TrendRow aggregates one side of the book over the window.
type TrendRow struct {
	Side         model.Side     `json:"transaction_type"`
	Count        int            `json:"count"`
	TotalVolume  money.Money    `json:"total_volume"`
	AvgAmount    money.Money    `json:"avg_amount"`
	AvgQuantity  money.Quantity `json:"avg_quantity"`
	TotalFees    money.Money    `json:"total_fees"`
	UniqueOwners int            `json:"unique_users"`
	UniqueAssets int            `json:"unique_assets"`
}

// TransactionTrends aggregates per side: counts, volume, fees, distinct
// owners and assets. Sorted by volume descending.
func TransactionTrends(s *Snapshot) []TrendRow {
	type acc struct {
		row    TrendRow
		qty    money.Quantity
		owners map[string]struct{}
		assets map[string]struct{}
	}
	bySide := make(map[model.Side]*acc)

	for _, t := range s.Transactions {
		a, ok := bySide[t.Side]
		if !ok {
			a = &acc{
				row:    TrendRow{Side: t.Side},
				owners: make(map[string]struct{}),
				assets: make(map[string]struct{}),
			}
			bySide[t.Side] = a
		}
		a.row.Count++
		a.row.TotalVolume = a.row.TotalVolume.Add(t.TotalAmount)
		a.row.TotalFees = a.row.TotalFees.Add(t.Fees)
		a.qty = a.qty.Add(t.Quantity)
		a.owners[t.Owner] = struct{}{}
		a.assets[t.AssetID] = struct{}{}
	}

	out := make([]TrendRow, 0, len(bySide))
	for _, a := range bySide {
		a.row.AvgAmount = avg(a.row.TotalVolume, a.row.Count)
		a.row.AvgQuantity = money.Q(
			a.qty.Decimal().Div(decimal.NewFromInt(int64(a.row.Count))).Round(money.QuantityScale))
		a.row.UniqueOwners = len(a.owners)
		a.row.UniqueAssets = len(a.assets)
		out = append(out, a.row)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].TotalVolume.Cmp(out[j].TotalVolume); c != 0 {
			return c > 0
		}
		return out[i].Side < out[j].Side
	})
	return out
}

// ── market_overview ──

// Overview is the dashboard headline card.
type Overview struct {
	TotalAssets       int         `json:"total_assets"`
	TotalMarketCap    money.Money `json:"total_market_cap"`
	AvgPrice          money.Money `json:"avg_price"`
	MinPrice          money.Money `json:"min_price"`
	MaxPrice          money.Money `json:"max_price"`
	TotalTransactions int         `json:"total_transactions"`
	TotalVolume       money.Money `json:"total_volume"`
	AvgSize           money.Money `json:"avg_transaction_size"`
	Today             int         `json:"transactions_today"`
	ThisWeek          int         `json:"transactions_this_week"`
	ThisMonth         int         `json:"transactions_this_month"`
	GeneratedAt       time.Time   `json:"generated_at"`
}

// MarketOverview summarizes the asset universe and recent activity.
func MarketOverview(s *Snapshot) Overview {
	o := Overview{GeneratedAt: s.Now}

	priceSum := money.Zero
	for i := range s.Assets {
		a := &s.Assets[i]
		if !a.Tradeable() {
			continue
		}
		o.TotalAssets++
		o.TotalMarketCap = o.TotalMarketCap.Add(a.MarketCap)
		priceSum = priceSum.Add(a.CurrentPrice)
		if o.MinPrice.IsZero() || a.CurrentPrice.LessThan(o.MinPrice) {
			o.MinPrice = a.CurrentPrice
		}
		if a.CurrentPrice.GreaterThan(o.MaxPrice) {
			o.MaxPrice = a.CurrentPrice
		}
	}
	o.AvgPrice = avg(priceSum, o.TotalAssets)

	today := dayKey(s.Now)
	weekAgo := s.Now.AddDate(0, 0, -7)
	monthAgo := s.Now.AddDate(0, 0, -30)
	for _, t := range s.Transactions {
		o.TotalTransactions++
		o.TotalVolume = o.TotalVolume.Add(t.TotalAmount)
		if dayKey(t.ExecutedAt) == today {
			o.Today++
		}
		if !t.ExecutedAt.Before(weekAgo) {
			o.ThisWeek++
		}
		if !t.ExecutedAt.Before(monthAgo) {
			o.ThisMonth++
		}
	}
	o.AvgSize = avg(o.TotalVolume, o.TotalTransactions)
	return o
}
