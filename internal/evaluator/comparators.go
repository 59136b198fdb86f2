package evaluator

import (
	"math"
	"time"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

// Input is what a comparator may read. Position is nil when the rule's user has
// no open position on the event symbol.
type Input struct {
	Market   *alert.MarketData
	Position *alert.Position
	Now      time.Time
}

// Comparator evaluates one condition type. A missing input field yields
// (false, 0), never an error.
type Comparator interface {
	Evaluate(c alert.Condition, in Input) (matched bool, value float64)
}

// ComparatorFunc adapts a function to Comparator.
type ComparatorFunc func(c alert.Condition, in Input) (bool, float64)

// Evaluate calls f.
func (f ComparatorFunc) Evaluate(c alert.Condition, in Input) (bool, float64) {
	return f(c, in)
}

// DefaultComparators returns the comparator table for every known condition type.
func DefaultComparators() map[alert.ConditionType]Comparator {
	return map[alert.ConditionType]Comparator{
		alert.ConditionPriceAbove:         ComparatorFunc(priceAbove),
		alert.ConditionPriceBelow:         ComparatorFunc(priceBelow),
		alert.ConditionPriceChangePercent: ComparatorFunc(priceChangePercent),
		alert.ConditionIVAbove:            optionalAbove(func(m *alert.MarketData) *float64 { return m.ImpliedVolatility }),
		alert.ConditionIVBelow:            optionalBelow(func(m *alert.MarketData) *float64 { return m.ImpliedVolatility }),
		alert.ConditionIVRankChange:       optionalMagnitude(func(m *alert.MarketData) *float64 { return m.IVRank }),
		alert.ConditionVolumeAbove:        ComparatorFunc(volumeAbove),
		alert.ConditionBullishFlow:        optionalBelow(func(m *alert.MarketData) *float64 { return m.PutCallRatio }),
		alert.ConditionBearishFlow:        optionalAtLeast(func(m *alert.MarketData) *float64 { return m.PutCallRatio }),
		alert.ConditionUnusualActivity:    optionalAtLeast(func(m *alert.MarketData) *float64 { return m.UnusualActivityScore }),
		alert.ConditionSpreadAbove:        ComparatorFunc(spreadAbove),
		alert.ConditionDeltaExposure:      optionalMagnitude(func(m *alert.MarketData) *float64 { return m.TotalDelta }),
		alert.ConditionGammaExposure:      optionalMagnitude(func(m *alert.MarketData) *float64 { return m.TotalGamma }),
		alert.ConditionPositionPnL:        ComparatorFunc(positionPnL),
		alert.ConditionDaysToExpiration:   ComparatorFunc(daysToExpiration),
	}
}

func priceAbove(c alert.Condition, in Input) (bool, float64) {
	if in.Market.Price <= 0 {
		return false, 0
	}
	return in.Market.Price > c.Threshold, in.Market.Price
}

func priceBelow(c alert.Condition, in Input) (bool, float64) {
	if in.Market.Price <= 0 {
		return false, 0
	}
	return in.Market.Price < c.Threshold, in.Market.Price
}

// priceChangePercent matches moves of at least the threshold in either direction.
func priceChangePercent(c alert.Condition, in Input) (bool, float64) {
	v := in.Market.PriceChangePercent
	return math.Abs(v) >= math.Abs(c.Threshold), v
}

func volumeAbove(c alert.Condition, in Input) (bool, float64) {
	v := in.Market.VolumeRatio
	if v <= 0 {
		return false, 0
	}
	return v >= c.Threshold, v
}

// spreadAbove compares the bid/ask spread as a percentage of the mid price.
func spreadAbove(c alert.Condition, in Input) (bool, float64) {
	bid, ask := in.Market.Bid, in.Market.Ask
	if bid <= 0 || ask <= 0 || ask < bid {
		return false, 0
	}
	mid := (bid + ask) / 2
	pct := (ask - bid) * 100 / mid
	return pct >= c.Threshold, pct
}

// positionPnL treats a non-negative threshold as a profit target and a negative
// one as a stop.
func positionPnL(c alert.Condition, in Input) (bool, float64) {
	if in.Position == nil {
		return false, 0
	}
	pnl := in.Position.UnrealizedPnLPercent
	if c.Threshold >= 0 {
		return pnl >= c.Threshold, pnl
	}
	return pnl <= c.Threshold, pnl
}

func daysToExpiration(c alert.Condition, in Input) (bool, float64) {
	if in.Position == nil || in.Position.Expiration == nil {
		return false, 0
	}
	days := math.Ceil(in.Position.Expiration.Sub(in.Now).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days <= c.Threshold, days
}

type field func(m *alert.MarketData) *float64

func optionalAbove(get field) Comparator {
	return ComparatorFunc(func(c alert.Condition, in Input) (bool, float64) {
		v := get(in.Market)
		if v == nil {
			return false, 0
		}
		return *v > c.Threshold, *v
	})
}

func optionalBelow(get field) Comparator {
	return ComparatorFunc(func(c alert.Condition, in Input) (bool, float64) {
		v := get(in.Market)
		if v == nil {
			return false, 0
		}
		return *v < c.Threshold, *v
	})
}

func optionalAtLeast(get field) Comparator {
	return ComparatorFunc(func(c alert.Condition, in Input) (bool, float64) {
		v := get(in.Market)
		if v == nil {
			return false, 0
		}
		return *v >= c.Threshold, *v
	})
}

func optionalMagnitude(get field) Comparator {
	return ComparatorFunc(func(c alert.Condition, in Input) (bool, float64) {
		v := get(in.Market)
		if v == nil {
			return false, 0
		}
		return math.Abs(*v) >= math.Abs(c.Threshold), *v
	})
}
