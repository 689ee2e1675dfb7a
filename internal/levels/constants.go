package levels

// Assumed circulating market caps in USD, used to scale open-interest volume
// into an estimated price impact. These are coarse anchors, not live data:
// the impact estimate only needs to be order-of-magnitude right.
var assumedMarketCap = map[string]float64{
	"BTC":  1_200_000_000_000,
	"ETH":  400_000_000_000,
	"SOL":  80_000_000_000,
	"BNB":  90_000_000_000,
	"XRP":  120_000_000_000,
	"DOGE": 25_000_000_000,
	"AVAX": 15_000_000_000,
}

// defaultMarketCap covers assets without an explicit anchor. Small on
// purpose: unknown assets are thin.
const defaultMarketCap = 5_000_000_000

// Typical intraday realized volatility per asset, used to convert a price
// distance into a time-to-liquidation estimate.
var dailyVolatility = map[string]float64{
	"BTC": 0.03,
	"ETH": 0.04,
	"SOL": 0.06,
}

const defaultDailyVolatility = 0.05

// Long liquidations cascade harder than short squeezes on average, so the
// two sides carry different impact multipliers.
const (
	longImpactMultiplier  = 1.2
	shortImpactMultiplier = 1.0
)

// maxImpactPct caps the estimated impact of a single level. A single
// snapshot can never credibly claim more.
const maxImpactPct = 10.0
