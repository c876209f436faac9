// Package replay rejects webhook deliveries that have already been accepted.
//
// A Guard records a nonce for every verified delivery that carries a sender
// timestamp and refuses the same nonce until it expires. Nonces live in a
// pluggable Store:
//
//   - MemoryStore: process-local map swept on an interval
//   - RedisStore: SETNX with a TTL, shared between replicas
//   - SQLStore: SQLite or PostgreSQL table with an upsert-based claim
//
// Any store can be wrapped in a BreakerStore so an unreachable backend fails
// fast instead of stalling every request.
//
// Stores that implement AtomicStore close the window between "seen?" and
// "record" that two identical deliveries arriving together would otherwise
// race through. All stores in this package do.
package replay
