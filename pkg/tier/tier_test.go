package tier_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotakit/pkg/tier"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want tier.Tier
		err  error
	}{
		{raw: "free", want: tier.Free},
		{raw: " PRO ", want: tier.Pro},
		{raw: "max", want: tier.Max},
		{raw: "enterprise", err: tier.ErrUnknownTier},
		{raw: "", err: tier.ErrUnknownTier},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := tier.Parse(tt.raw)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrdering(t *testing.T) {
	t.Parallel()

	all := tier.All()
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Rank(), all[i-1].Rank())
	}
	assert.Equal(t, -1, tier.Tier("gold").Rank())
	assert.False(t, tier.Free.Paid())
	assert.True(t, tier.Basic.Paid())
	assert.False(t, tier.Tier("gold").Paid())
}

func TestCycle(t *testing.T) {
	t.Parallel()

	c, err := tier.ParseCycle("Yearly")
	require.NoError(t, err)
	assert.Equal(t, tier.Yearly, c)

	_, err = tier.ParseCycle("weekly")
	assert.ErrorIs(t, err, tier.ErrInvalidCycle)

	start := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC), tier.Monthly.Next(start))
	assert.Equal(t, time.Date(2027, 1, 31, 10, 0, 0, 0, time.UTC), tier.Yearly.Next(start))
}

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c := tier.Default()
	plans := c.Plans()
	require.Len(t, plans, 5)
	assert.Equal(t, tier.Free, plans[0].Tier)
	assert.Equal(t, tier.Max, plans[4].Tier)

	assert.Equal(t, int64(10), c.ScanLimit(tier.Free))
	assert.Equal(t, int64(80), c.ScanLimit(tier.Basic))
	assert.Equal(t, int64(200), c.ScanLimit(tier.Pro))
	assert.Zero(t, c.ScanLimit(tier.Tier("gold")))

	pro, err := c.Plan(tier.Pro)
	require.NoError(t, err)
	assert.Equal(t, int64(39900), pro.Price(tier.Monthly))
	assert.Equal(t, int64(399000), pro.Price(tier.Yearly))
	assert.Equal(t, "INR", pro.Currency)

	for i := 1; i < len(plans); i++ {
		assert.Greater(t, plans[i].ScansPerPeriod, plans[i-1].ScansPerPeriod)
		assert.Greater(t, plans[i].RateLimits.PerMinute, plans[i-1].RateLimits.PerMinute)
	}

	_, err = c.Plan(tier.Tier("gold"))
	assert.ErrorIs(t, err, tier.ErrUnknownTier)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := tier.New(tier.Plan{Tier: tier.Free, Currency: "INR"})
	assert.ErrorIs(t, err, tier.ErrInvalidPlan, "missing tiers")

	_, err = tier.New(tier.Plan{Tier: tier.Basic, Currency: "INR"})
	assert.ErrorIs(t, err, tier.ErrInvalidPlan, "zero price on paid tier")
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("overrides", func(t *testing.T) {
		t.Parallel()
		doc := `
plans:
  pro:
    scans_per_period: 250
    rate_limits:
      per_minute: 90
  free:
    retention_days: 3
`
		c, err := tier.Load(strings.NewReader(doc))
		require.NoError(t, err)

		pro, err := c.Plan(tier.Pro)
		require.NoError(t, err)
		assert.Equal(t, int64(250), pro.ScansPerPeriod)
		assert.Equal(t, 90, pro.RateLimits.PerMinute)
		assert.Equal(t, 1500, pro.RateLimits.PerHour, "untouched fields keep defaults")
		assert.Equal(t, int64(39900), pro.MonthlyPrice)

		free, err := c.Plan(tier.Free)
		require.NoError(t, err)
		assert.Equal(t, 3, free.RetentionDays)
	})

	t.Run("empty document", func(t *testing.T) {
		t.Parallel()
		c, err := tier.Load(strings.NewReader(""))
		require.NoError(t, err)
		assert.Equal(t, int64(80), c.ScanLimit(tier.Basic))
	})

	t.Run("unknown tier", func(t *testing.T) {
		t.Parallel()
		_, err := tier.Load(strings.NewReader("plans:\n  gold:\n    scans_per_period: 1\n"))
		assert.ErrorIs(t, err, tier.ErrUnknownTier)
	})

	t.Run("unknown field", func(t *testing.T) {
		t.Parallel()
		_, err := tier.Load(strings.NewReader("plans:\n  pro:\n    seats: 3\n"))
		assert.Error(t, err)
	})

	t.Run("invalid override", func(t *testing.T) {
		t.Parallel()
		_, err := tier.Load(strings.NewReader("plans:\n  basic:\n    monthly_price: 0\n"))
		assert.ErrorIs(t, err, tier.ErrInvalidPlan)
	})
}

func TestLoadFileEmptyPath(t *testing.T) {
	t.Parallel()
	c, err := tier.LoadFile("")
	require.NoError(t, err)
	assert.Len(t, c.Plans(), 5)
}
