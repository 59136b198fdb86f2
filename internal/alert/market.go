package alert

import "time"

// MarketData is a per-symbol tick from the market event source. Pointer fields
// are optional and nil when the producer did not supply them.
type MarketData struct {
	Symbol               string        `json:"symbol"`
	Price                float64       `json:"price"`
	Bid                  float64       `json:"bid"`
	Ask                  float64       `json:"ask"`
	Volume               float64       `json:"volume"`
	PriceChangePercent   float64       `json:"price_change_percent"`
	VolumeRatio          float64       `json:"volume_ratio"`
	ImpliedVolatility    *float64      `json:"implied_volatility,omitempty"`
	IVRank               *float64      `json:"iv_rank,omitempty"`
	PutCallRatio         *float64      `json:"put_call_ratio,omitempty"`
	UnusualActivityScore *float64      `json:"unusual_activity_score,omitempty"`
	TotalDelta           *float64      `json:"total_delta,omitempty"`
	TotalGamma           *float64      `json:"total_gamma,omitempty"`
	Session              MarketSession `json:"session"`
	Timestamp            time.Time     `json:"timestamp"`
}

// Position is a read-only snapshot of one holding. An empty UserID means the
// position applies to every user's position-aware rules.
type Position struct {
	UserID               string     `json:"user_id,omitempty"`
	Symbol               string     `json:"symbol"`
	Quantity             float64    `json:"quantity"`
	UnrealizedPnLPercent float64    `json:"unrealized_pnl_percent"`
	Expiration           *time.Time `json:"expiration,omitempty"`
}

// Open reports whether the position is non-zero.
func (p Position) Open() bool {
	return p.Quantity != 0
}

// Float returns a pointer to v, for building optional market fields.
func Float(v float64) *float64 {
	return &v
}
