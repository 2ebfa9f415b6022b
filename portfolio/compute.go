package portfolio

import (
	"time"

	"github.com/rustyeddy/tradeguard/internal/errs"
	"github.com/rustyeddy/tradeguard/market"
)

// DefaultWindow is the number of daily returns metrics look back over.
const DefaultWindow = 252

// ErrInsufficientData is reported alongside zeroed return based metrics
// when there is no return history.
var ErrInsufficientData = errs.Computation("portfolio.compute", "insufficient return history")

// RiskMetrics is a point-in-time snapshot. It is only produced by Compute.
// VaR and expected shortfall are loss fractions of portfolio value.
type RiskMetrics struct {
	AccountID         string             `json:"account_id"`
	PortfolioValue    float64            `json:"portfolio_value"`
	TotalExposure     float64            `json:"total_exposure"`
	Leverage          float64            `json:"leverage"`
	VaR95             float64            `json:"var_95"`
	VaR99             float64            `json:"var_99"`
	ExpectedShortfall float64            `json:"expected_shortfall"`
	MaxDrawdown       float64            `json:"max_drawdown"`
	CurrentDrawdown   float64            `json:"current_drawdown"`
	Sharpe            float64            `json:"sharpe"`
	Sortino           float64            `json:"sortino"`
	Beta              float64            `json:"beta"`
	Alpha             float64            `json:"alpha"`
	Correlation       map[string]float64 `json:"correlation"`
	Concentration     map[string]float64 `json:"concentration"`
	SectorExposure    map[string]float64 `json:"sector_exposure"`
	RegionExposure    map[string]float64 `json:"region_exposure"`
	CurrencyExposure  map[string]float64 `json:"currency_exposure"`
	Volatility        float64            `json:"volatility"`
	Skewness          float64            `json:"skewness"`
	Kurtosis          float64            `json:"kurtosis"`
	Calmar            float64            `json:"calmar"`
	InformationRatio  float64            `json:"information_ratio"`
	TrackingError     float64            `json:"tracking_error"`
	Timestamp         time.Time          `json:"timestamp"`
}

// Input is what Compute derives metrics from.
type Input struct {
	Account       Account
	Positions     []Position
	Returns       []float64 // portfolio daily returns, oldest first
	Benchmark     []float64
	Equity        []float64 // equity curve, oldest first
	SymbolReturns map[string][]float64
	RiskFreeRate  float64 // per period
	Window        int
	Now           time.Time
}

// Compute derives a RiskMetrics snapshot. With no return history the
// return based fields are zero and ErrInsufficientData is returned along
// with the otherwise complete snapshot.
func Compute(in Input) (RiskMetrics, error) {
	window := in.Window
	if window <= 0 {
		window = DefaultWindow
	}
	returns := tail(in.Returns, window)
	bench := tail(in.Benchmark, window)

	m := RiskMetrics{
		AccountID:        in.Account.ID,
		PortfolioValue:   in.Account.Equity,
		Correlation:      map[string]float64{},
		Concentration:    map[string]float64{},
		SectorExposure:   map[string]float64{},
		RegionExposure:   map[string]float64{},
		CurrencyExposure: map[string]float64{},
		Timestamp:        in.Now,
	}

	for _, p := range in.Positions {
		if !p.IsOpen() {
			continue
		}
		m.TotalExposure += p.Notional()
	}
	if m.PortfolioValue > 0 {
		m.Leverage = m.TotalExposure / m.PortfolioValue
		for _, p := range in.Positions {
			if !p.IsOpen() {
				continue
			}
			share := p.Notional() / m.PortfolioValue
			meta := market.Lookup(p.Symbol)
			m.Concentration[p.Symbol] += share
			m.SectorExposure[meta.Sector] += share
			m.RegionExposure[meta.Region] += share
			m.CurrencyExposure[meta.Currency] += share
		}
	}

	equity := in.Equity
	if len(equity) == 0 && len(returns) > 0 && m.PortfolioValue > 0 {
		equity = EquityCurve(1, returns)
	}
	m.MaxDrawdown, m.CurrentDrawdown = Drawdown(equity)

	if len(returns) == 0 {
		return m, ErrInsufficientData
	}

	m.VaR95 = VaR(returns, 0.95)
	m.VaR99 = VaR(returns, 0.99)
	m.ExpectedShortfall = ExpectedShortfall(returns, 0.95)
	m.Sharpe = Sharpe(returns, in.RiskFreeRate)
	m.Sortino = Sortino(returns, in.RiskFreeRate)
	m.Volatility = Volatility(returns)
	m.Skewness = Skewness(returns)
	m.Kurtosis = Kurtosis(returns)
	m.Calmar = Calmar(returns, m.MaxDrawdown)
	if len(bench) > 0 {
		m.Beta = Beta(returns, bench)
		m.Alpha = Alpha(returns, bench, in.RiskFreeRate)
		m.TrackingError = TrackingError(returns, bench)
		m.InformationRatio = InformationRatio(returns, bench)
	}
	for sym, r := range in.SymbolReturns {
		m.Correlation[sym] = Pearson(tail(r, window), returns)
	}
	return m, nil
}

func tail(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}
