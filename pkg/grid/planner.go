// Package grid turns market state into the ladder of resting buy levels
// that should exist right now. Everything here is a pure function of its
// inputs; nothing is stored.
package grid

import (
	"github.com/shopspring/decimal"

	"gridbot/pkg/signal"
)

var two = decimal.NewFromInt(2)

// Params are the planner's tunables, taken from configuration.
type Params struct {
	MinSpacing decimal.Decimal
	MaxSpacing decimal.Decimal
	MinRange   decimal.Decimal
	MaxRange   decimal.Decimal
	SafeSpread decimal.Decimal
	// PricePrecision is the number of decimals levels are rounded to.
	PricePrecision int32
}

// SpacingFor widens the level gap during a dump (avoid catching a falling
// price too densely) and tightens it near detected support.
func SpacingFor(sig signal.Signal, minSpacing, maxSpacing decimal.Decimal) decimal.Decimal {
	switch sig.Kind {
	case signal.Dump:
		return maxSpacing
	case signal.Support:
		return minSpacing
	}
	return minSpacing.Add(maxSpacing).Div(two)
}

// RangeFor selects the grid depth the same way.
func RangeFor(sig signal.Signal, minRange, maxRange decimal.Decimal) decimal.Decimal {
	switch sig.Kind {
	case signal.Dump:
		return maxRange
	case signal.Support:
		return minRange
	}
	return minRange.Add(maxRange).Div(two)
}

// BuildLevels prices the ladder below lastPrice: level i sits at
// lastPrice*(1-spacing*(i+1)), nearest to market first.
func BuildLevels(lastPrice, spacing, rangeDown decimal.Decimal, precision int32) []decimal.Decimal {
	if !lastPrice.IsPositive() || !spacing.IsPositive() {
		return nil
	}

	n := rangeDown.Div(spacing).IntPart()
	levels := make([]decimal.Decimal, 0, n)
	for i := int64(0); i < n; i++ {
		offset := spacing.Mul(decimal.NewFromInt(i + 1))
		level := lastPrice.Mul(decimal.NewFromInt(1).Sub(offset))
		levels = append(levels, level.Round(precision))
	}

	return levels
}

// FilterSafe drops levels that would average the position up, or that
// improve the average by less than safeSpread.
func FilterSafe(levels []decimal.Decimal, avgCost, safeSpread decimal.Decimal) []decimal.Decimal {
	if !avgCost.IsPositive() {
		return levels
	}

	out := make([]decimal.Decimal, 0, len(levels))
	for _, level := range levels {
		if level.GreaterThanOrEqual(avgCost) {
			continue
		}
		if avgCost.Sub(level).Div(avgCost).LessThan(safeSpread) {
			continue
		}
		out = append(out, level)
	}

	return out
}

// Plan composes signal-driven spacing/range selection, level pricing and
// the safety filter.
func Plan(lastPrice decimal.Decimal, sig signal.Signal, p Params, avgCost decimal.Decimal) []decimal.Decimal {
	spacing := SpacingFor(sig, p.MinSpacing, p.MaxSpacing)
	rangeDown := RangeFor(sig, p.MinRange, p.MaxRange)
	levels := BuildLevels(lastPrice, spacing, rangeDown, p.PricePrecision)
	return FilterSafe(levels, avgCost, p.SafeSpread)
}

// marginFallbackCap bounds the grid when the balance query fails.
const marginFallbackCap = 5

// CapByMargin truncates desired levels to what available margin can fund.
// queryFailed selects the conservative fallback; a zero or unknown balance
// still funds one level.
func CapByMargin(levels []decimal.Decimal, available, perOrderNotional decimal.Decimal, queryFailed bool) []decimal.Decimal {
	if queryFailed {
		if len(levels) > marginFallbackCap {
			return levels[:marginFallbackCap]
		}
		return levels
	}

	maxOrders := 1
	if available.IsPositive() && perOrderNotional.IsPositive() {
		if n := available.Div(perOrderNotional).IntPart(); n > 1 {
			maxOrders = int(n)
		}
	}

	if len(levels) > maxOrders {
		return levels[:maxOrders]
	}
	return levels
}
