package dca

import (
	"math/rand"
	"testing"

	"github.com/aristath/fundtrack/internal/domain"
	testingpkg "github.com/aristath/fundtrack/internal/testing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smartPlan() *domain.DCAPlan {
	plan := testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100")
	plan.SmartDCA = true
	plan.BaseAmount = testingpkg.Dec("100")
	plan.MaxAmount = testingpkg.Dec("180")
	plan.IncreaseRate = testingpkg.Dec("0.5")
	plan.MinNAV = testingpkg.Dec("1.0")
	plan.MaxNAV = testingpkg.Dec("2.0")
	return plan
}

func TestAmountFor_PlainPlan(t *testing.T) {
	plan := testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "250")

	assert.Equal(t, "250", AmountFor(plan, testingpkg.Dec("0.5")).String())
	assert.Equal(t, "250", AmountFor(plan, testingpkg.Dec("50")).String())
}

func TestAmountFor_SmartBands(t *testing.T) {
	plan := smartPlan()

	tests := []struct {
		nav  string
		want string
	}{
		{"0.5", "150"},    // below band: boosted 100*1.5
		{"1.0", "150"},    // at MinNAV
		{"1.5", "125"},    // midpoint
		{"1.75", "112.5"}, // three quarters up the band
		{"2.0", "100"},    // at MaxNAV
		{"3.0", "100"},    // above band
	}

	for _, tt := range tests {
		t.Run(tt.nav, func(t *testing.T) {
			assert.Equal(t, tt.want, AmountFor(plan, testingpkg.Dec(tt.nav)).String())
		})
	}
}

func TestAmountFor_BoostCappedAtMax(t *testing.T) {
	plan := smartPlan()
	plan.IncreaseRate = testingpkg.Dec("2")

	assert.Equal(t, "180", AmountFor(plan, testingpkg.Dec("0.9")).String())
}

func TestAmountFor_MonotoneAndBounded(t *testing.T) {
	plan := smartPlan()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		a := decimal.NewFromFloat(rng.Float64() * 3).Round(4)
		b := decimal.NewFromFloat(rng.Float64() * 3).Round(4)
		if a.GreaterThan(b) {
			a, b = b, a
		}

		amountA := AmountFor(plan, a)
		amountB := AmountFor(plan, b)

		assert.True(t, amountA.GreaterThanOrEqual(amountB), "nav %s -> %s, nav %s -> %s", a, amountA, b, amountB)
		for _, amt := range []decimal.Decimal{amountA, amountB} {
			assert.True(t, amt.GreaterThanOrEqual(plan.BaseAmount))
			assert.True(t, amt.LessThanOrEqual(plan.MaxAmount))
		}
	}
}

func TestBaselineNAV(t *testing.T) {
	assert.Equal(t, "1.5", BaselineNAV(smartPlan()).String())
}

func TestValidateSmart(t *testing.T) {
	require.NoError(t, ValidateSmart(testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100")))
	require.NoError(t, ValidateSmart(smartPlan()))

	tests := []struct {
		name   string
		mutate func(p *domain.DCAPlan)
		field  string
	}{
		{"zero base", func(p *domain.DCAPlan) { p.BaseAmount = decimal.Zero }, "base_amount"},
		{"max below base", func(p *domain.DCAPlan) { p.MaxAmount = testingpkg.Dec("50") }, "max_amount"},
		{"negative rate", func(p *domain.DCAPlan) { p.IncreaseRate = testingpkg.Dec("-0.1") }, "increase_rate"},
		{"zero min nav", func(p *domain.DCAPlan) { p.MinNAV = decimal.Zero }, "min_nav"},
		{"inverted band", func(p *domain.DCAPlan) { p.MaxNAV = testingpkg.Dec("0.5") }, "max_nav"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := smartPlan()
			tt.mutate(plan)

			err := ValidateSmart(plan)
			var validation *domain.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, tt.field, validation.Field)
		})
	}
}
