package market

import "time"

// InstrumentMeta carries the static reference data the risk layer needs for
// exposure breakdowns, liquidity and trading-hours checks.
type InstrumentMeta struct {
	Symbol     string  `json:"symbol" yaml:"symbol"`
	AssetClass string  `json:"asset_class" yaml:"asset_class"` // equity, fx, crypto, commodity, fixed_income
	Sector     string  `json:"sector" yaml:"sector"`
	Region     string  `json:"region" yaml:"region"`
	Currency   string  `json:"currency" yaml:"currency"`
	Liquidity  float64 `json:"liquidity" yaml:"liquidity"` // 0 (illiquid) .. 1 (deep)
	MarginRate float64 `json:"margin_rate" yaml:"margin_rate"`
}

// Instruments is the built-in reference table. Config may add to it.
var Instruments = map[string]InstrumentMeta{
	"AAPL":    {Symbol: "AAPL", AssetClass: "equity", Sector: "technology", Region: "us", Currency: "USD", Liquidity: 0.95, MarginRate: 0.25},
	"MSFT":    {Symbol: "MSFT", AssetClass: "equity", Sector: "technology", Region: "us", Currency: "USD", Liquidity: 0.95, MarginRate: 0.25},
	"JPM":     {Symbol: "JPM", AssetClass: "equity", Sector: "financials", Region: "us", Currency: "USD", Liquidity: 0.9, MarginRate: 0.25},
	"XOM":     {Symbol: "XOM", AssetClass: "equity", Sector: "energy", Region: "us", Currency: "USD", Liquidity: 0.85, MarginRate: 0.25},
	"SPY":     {Symbol: "SPY", AssetClass: "equity", Sector: "index", Region: "us", Currency: "USD", Liquidity: 1, MarginRate: 0.25},
	"EUR_USD": {Symbol: "EUR_USD", AssetClass: "fx", Sector: "fx", Region: "eu", Currency: "EUR", Liquidity: 1, MarginRate: 0.02},
	"USD_JPY": {Symbol: "USD_JPY", AssetClass: "fx", Sector: "fx", Region: "jp", Currency: "JPY", Liquidity: 1, MarginRate: 0.02},
	"BTC_USD": {Symbol: "BTC_USD", AssetClass: "crypto", Sector: "crypto", Region: "global", Currency: "USD", Liquidity: 0.6, MarginRate: 0.5},
	"ETH_USD": {Symbol: "ETH_USD", AssetClass: "crypto", Sector: "crypto", Region: "global", Currency: "USD", Liquidity: 0.5, MarginRate: 0.5},
	"GOLD":    {Symbol: "GOLD", AssetClass: "commodity", Sector: "commodities", Region: "global", Currency: "USD", Liquidity: 0.8, MarginRate: 0.1},
}

// Lookup returns metadata for symbol. Unknown symbols get a conservative
// default: low liquidity, USD, sector "unknown".
func Lookup(symbol string) InstrumentMeta {
	if m, ok := Instruments[symbol]; ok {
		return m
	}
	return InstrumentMeta{
		Symbol:     symbol,
		AssetClass: "unknown",
		Sector:     "unknown",
		Region:     "unknown",
		Currency:   "USD",
		Liquidity:  0.2,
		MarginRate: 1,
	}
}

// IsOpen reports whether the instrument's market trades at t. Crypto trades
// around the clock, fx closes at weekends, everything else follows US cash
// equity hours (14:30-21:00 UTC, Monday to Friday).
func (m InstrumentMeta) IsOpen(t time.Time) bool {
	t = t.UTC()
	switch m.AssetClass {
	case "crypto":
		return true
	case "fx":
		switch t.Weekday() {
		case time.Saturday:
			return false
		case time.Sunday:
			return t.Hour() >= 22
		case time.Friday:
			return t.Hour() < 22
		}
		return true
	}
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	mins := t.Hour()*60 + t.Minute()
	return mins >= 14*60+30 && mins < 21*60
}
