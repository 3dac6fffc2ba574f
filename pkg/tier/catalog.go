package tier

import (
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// RateLimits caps API calls per window. Zero disables a window.
type RateLimits struct {
	PerMinute int `yaml:"per_minute" json:"per_minute"`
	PerHour   int `yaml:"per_hour" json:"per_hour"`
	PerDay    int `yaml:"per_day" json:"per_day"`
}

// Plan describes what a tier costs and grants. Prices are minor units.
type Plan struct {
	Tier           Tier       `yaml:"-" json:"tier"`
	Name           string     `yaml:"name" json:"name"`
	Currency       string     `yaml:"currency" json:"currency"`
	MonthlyPrice   int64      `yaml:"monthly_price" json:"monthly_price"`
	YearlyPrice    int64      `yaml:"yearly_price" json:"yearly_price"`
	ScansPerPeriod int64      `yaml:"scans_per_period" json:"scans_per_period"`
	RetentionDays  int        `yaml:"retention_days" json:"retention_days"`
	RateLimits     RateLimits `yaml:"rate_limits" json:"rate_limits"`
}

// Price returns the charge for one period of c.
func (p Plan) Price(c Cycle) int64 {
	if c == Yearly {
		return p.YearlyPrice
	}
	return p.MonthlyPrice
}

func (p Plan) validate() error {
	switch {
	case !p.Tier.Valid():
		return fmt.Errorf("%w: tier %q", ErrInvalidPlan, p.Tier)
	case p.ScansPerPeriod < 0:
		return fmt.Errorf("%w: %s scans_per_period is negative", ErrInvalidPlan, p.Tier)
	case p.MonthlyPrice < 0 || p.YearlyPrice < 0:
		return fmt.Errorf("%w: %s price is negative", ErrInvalidPlan, p.Tier)
	case p.Tier.Paid() && (p.MonthlyPrice == 0 || p.YearlyPrice == 0):
		return fmt.Errorf("%w: paid tier %s has a zero price", ErrInvalidPlan, p.Tier)
	case p.Currency == "":
		return fmt.Errorf("%w: %s currency is empty", ErrInvalidPlan, p.Tier)
	}
	return nil
}

// Catalog maps tiers to plans. It is immutable after construction.
type Catalog struct {
	plans map[Tier]Plan
}

func defaultPlans() []Plan {
	monthly := func(t Tier, name string, price, scans int64, retention int, rl RateLimits) Plan {
		return Plan{
			Tier:           t,
			Name:           name,
			Currency:       "INR",
			MonthlyPrice:   price,
			YearlyPrice:    price * 10,
			ScansPerPeriod: scans,
			RetentionDays:  retention,
			RateLimits:     rl,
		}
	}
	return []Plan{
		monthly(Free, "Free", 0, 10, 7, RateLimits{PerMinute: 10, PerHour: 100, PerDay: 500}),
		monthly(Basic, "Basic", 14900, 80, 30, RateLimits{PerMinute: 30, PerHour: 500, PerDay: 3000}),
		monthly(Pro, "Pro", 39900, 200, 90, RateLimits{PerMinute: 60, PerHour: 1500, PerDay: 10000}),
		monthly(Ultra, "Ultra", 79900, 500, 180, RateLimits{PerMinute: 120, PerHour: 4000, PerDay: 30000}),
		monthly(Max, "Max", 149900, 1200, 365, RateLimits{PerMinute: 300, PerHour: 10000, PerDay: 100000}),
	}
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(defaultPlans()...)
	if err != nil {
		panic(err)
	}
	return c
}

// New builds a catalog. Every tier must be present exactly once.
func New(plans ...Plan) (*Catalog, error) {
	m := make(map[Tier]Plan, len(plans))
	for _, p := range plans {
		if err := p.validate(); err != nil {
			return nil, err
		}
		if _, dup := m[p.Tier]; dup {
			return nil, fmt.Errorf("%w: tier %s defined twice", ErrInvalidPlan, p.Tier)
		}
		m[p.Tier] = p
	}
	for _, t := range All() {
		if _, ok := m[t]; !ok {
			return nil, fmt.Errorf("%w: tier %s missing", ErrInvalidPlan, t)
		}
	}
	return &Catalog{plans: m}, nil
}

// Plan returns the plan for t.
func (c *Catalog) Plan(t Tier) (Plan, error) {
	p, ok := c.plans[t]
	if !ok {
		return Plan{}, ErrUnknownTier
	}
	return p, nil
}

// ScanLimit returns the per-period scan ceiling for t, or 0 for unknown tiers.
func (c *Catalog) ScanLimit(t Tier) int64 {
	return c.plans[t].ScansPerPeriod
}

// Plans returns plans ordered by tier rank.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Plan) int { return a.Tier.Rank() - b.Tier.Rank() })
	return out
}

type fileFormat struct {
	Plans map[string]planOverride `yaml:"plans"`
}

type planOverride struct {
	Name           *string `yaml:"name"`
	Currency       *string `yaml:"currency"`
	MonthlyPrice   *int64  `yaml:"monthly_price"`
	YearlyPrice    *int64  `yaml:"yearly_price"`
	ScansPerPeriod *int64  `yaml:"scans_per_period"`
	RetentionDays  *int    `yaml:"retention_days"`
	RateLimits     *struct {
		PerMinute *int `yaml:"per_minute"`
		PerHour   *int `yaml:"per_hour"`
		PerDay    *int `yaml:"per_day"`
	} `yaml:"rate_limits"`
}

// Load reads YAML overrides on top of the default catalog. Fields absent
// from the document keep their default values.
func Load(r io.Reader) (*Catalog, error) {
	var doc fileFormat
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode tier catalog: %w", err)
	}

	base := make(map[Tier]Plan)
	for _, p := range defaultPlans() {
		base[p.Tier] = p
	}
	for name, o := range doc.Plans {
		t, err := Parse(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, name)
		}
		p := base[t]
		set(&p.Name, o.Name)
		set(&p.Currency, o.Currency)
		set(&p.MonthlyPrice, o.MonthlyPrice)
		set(&p.YearlyPrice, o.YearlyPrice)
		set(&p.ScansPerPeriod, o.ScansPerPeriod)
		set(&p.RetentionDays, o.RetentionDays)
		if o.RateLimits != nil {
			set(&p.RateLimits.PerMinute, o.RateLimits.PerMinute)
			set(&p.RateLimits.PerHour, o.RateLimits.PerHour)
			set(&p.RateLimits.PerDay, o.RateLimits.PerDay)
		}
		base[t] = p
	}

	plans := make([]Plan, 0, len(base))
	for _, p := range base {
		plans = append(plans, p)
	}
	return New(plans...)
}

// LoadFile is Load for a file path. An empty path returns the default catalog.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tier catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
