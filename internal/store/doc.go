// Package store provides SQLite-backed durable storage for pending mutation
// tasks.
//
// The store is the single source of truth for "what is still pending". It is
// a pure durability primitive: no folding, no network I/O. Only two paths may
// mutate it:
//   - Append, from the enqueue path
//   - Remove / RemoveAll, from the queue processor after a confirmed success
//
// # Ordering
//
// Every task gets a seq from SQLite AUTOINCREMENT. Seqs are strictly
// increasing and never reused, even after the highest row is deleted, so
// ORDER BY seq ASC is a stable global FIFO independent of enqueued_at
// collisions.
//
// # Database Configuration
//
//   - WAL mode: readers do not block the appending writer
//   - synchronous=FULL: an acknowledged Append survives power loss
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - single connection: SQLite has one writer anyway
//
// Payloads are stored as sorted-key JSON TEXT with strings kept exactly as
// appended (payload.Encode).
package store
