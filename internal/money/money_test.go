package money

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundHalfAwayFromZero(t *testing.T) {
	assert.True(t, Round(MustParse("2.345")).Equal(MustParse("2.35")))
	assert.True(t, Round(decimal.RequireFromString("-2.345")).Equal(MustParse("-2.35")))
	assert.True(t, Round(decimal.RequireFromString("2.344")).Equal(MustParse("2.34")))
}

func TestTaxOnRoundTripOrder(t *testing.T) {
	subtotal := Sum(Line(MustParse("1500"), 2), Line(MustParse("600"), 1))
	require.True(t, subtotal.Equal(decimal.NewFromInt(3600)))

	tax := Tax(subtotal, decimal.NewFromInt(18))
	assert.True(t, tax.Equal(decimal.NewFromInt(648)), "got %s", tax)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("12,50")
	require.Error(t, err)
}

func TestPercentProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("percent of a non-negative base stays within [0, base]", prop.ForAll(
		func(cents int64, pct int64) bool {
			base := decimal.New(cents, -2)
			p := Percent(base, decimal.NewFromInt(pct))
			return !p.IsNegative() && p.LessThanOrEqual(base)
		},
		gen.Int64Range(0, 100_000_000),
		gen.Int64Range(0, 100),
	))

	properties.Property("rounded values keep at most two decimals", prop.ForAll(
		func(units int64, exp int32) bool {
			r := Round(decimal.New(units, -exp))
			return r.Equal(r.Truncate(2))
		},
		gen.Int64Range(-1_000_000_000, 1_000_000_000),
		gen.Int32Range(0, 6),
	))

	properties.TestingRun(t)
}
