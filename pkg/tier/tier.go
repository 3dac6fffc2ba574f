package tier

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrUnknownTier  = errors.New("unknown tier")
	ErrInvalidCycle = errors.New("invalid billing cycle")
	ErrInvalidPlan  = errors.New("invalid plan")
)

// Tier is a named service level. Tiers are ordered by Rank.
type Tier string

const (
	Free  Tier = "free"
	Basic Tier = "basic"
	Pro   Tier = "pro"
	Ultra Tier = "ultra"
	Max   Tier = "max"
)

var ranks = map[Tier]int{Free: 0, Basic: 1, Pro: 2, Ultra: 3, Max: 4}

// All returns every tier in ascending order.
func All() []Tier { return []Tier{Free, Basic, Pro, Ultra, Max} }

// Parse normalises raw and returns the matching tier.
func Parse(raw string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", ErrUnknownTier
	}
	return t, nil
}

func (t Tier) Valid() bool {
	_, ok := ranks[t]
	return ok
}

// Rank returns the ordinal position of t, or -1 for unknown tiers.
func (t Tier) Rank() int {
	if r, ok := ranks[t]; ok {
		return r
	}
	return -1
}

// Paid reports whether the tier requires a payment.
func (t Tier) Paid() bool { return t.Valid() && t != Free }

func (t Tier) String() string { return string(t) }

// Cycle is a billing cycle length.
type Cycle string

const (
	Monthly Cycle = "monthly"
	Yearly  Cycle = "yearly"
)

func ParseCycle(raw string) (Cycle, error) {
	switch c := Cycle(strings.ToLower(strings.TrimSpace(raw))); c {
	case Monthly, Yearly:
		return c, nil
	default:
		return "", ErrInvalidCycle
	}
}

func (c Cycle) Valid() bool { return c == Monthly || c == Yearly }

// Next returns the end of a period of this cycle starting at t.
// Unknown cycles are treated as monthly.
func (c Cycle) Next(t time.Time) time.Time {
	if c == Yearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

func (c Cycle) String() string { return string(c) }
