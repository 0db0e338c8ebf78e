// Package ledger provides SQLite-backed storage for capsule lifecycle events.
//
// The ledger is an append-only log. Every pack, unpack, failed
// verification and deploy attempt becomes one row.
//
// # Ordering
//
//   - seq is assigned by SQLite on insert and is the only ordering key
//   - all queries use ORDER BY seq ASC, id ASC COLLATE BINARY
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//
// Event details are stored as canonical JSON so identical details always
// produce identical rows.
package ledger
