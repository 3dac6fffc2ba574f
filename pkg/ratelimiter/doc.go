// Package ratelimiter implements admission control with two algorithms.
//
// Bucket is a token bucket: Capacity tokens refilled by RefillRate every
// RefillInterval. It caps bursty operations such as order creation.
//
// Tiered is a sliding-window limiter sized by a tenant's tier. A request is
// admitted only when every configured window (minute, hour, day) has
// headroom, and it is recorded in all windows atomically. When the backing
// WindowStore fails, Tiered admits the request and reports it as degraded.
//
// Both algorithms run on swappable stores: MemoryStore and MemoryWindowStore
// for single-instance deployments, RedisStore and RedisWindowStore (Lua
// scripts, one round trip per decision) when several instances share limits.
package ratelimiter
