// Package tier is the static plan catalog: ordered service tiers, billing
// cycles, prices in minor currency units, scan quotas, retention and the
// minute/hour/day API rate limits each tier is entitled to.
//
// The catalog is pure lookup. Default returns the built-in plans and Load
// overlays per-tier overrides read from YAML:
//
//	plans:
//	  pro:
//	    scans_per_period: 250
//	    rate_limits: {per_minute: 90}
package tier
