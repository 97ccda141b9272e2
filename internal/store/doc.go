// Package store provides SQLite-backed history of harness runs.
//
// Each run is one row in runs; every test record the run produced is a row
// in tests, keyed by (run_id, seq) where seq is the record's position in the
// subject's output. A run row is written when the run starts and updated
// when it finishes, so interrupted runs stay visible with an empty
// finished_at.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Queries are ordered explicitly; list results never depend on insertion
// order.
package store
