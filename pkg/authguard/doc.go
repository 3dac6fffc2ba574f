// Package authguard throttles authentication attempts per source (usually
// the client IP).
//
// Failures are counted in a rolling window. Reaching MaxFailures within the
// window records a lockout violation and locks the source out for
// Backoff[violations-1], capped at the last entry, so repeat offenders wait
// progressively longer. Violations are forgotten after ViolationTTL without
// a new one. A successful authentication clears all state for the source.
//
// State lives in a Store: MemoryStore (bounded LRU) for a single instance,
// RedisStore when instances share lockouts. Store errors never block
// authentication; Check admits and logs.
package authguard
