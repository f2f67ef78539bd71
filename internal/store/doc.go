// Package store provides SQLite-backed storage for the local hosting
// substrate: the documents and users the sync engine watches, the durable
// backfill task queue, and the processing-state history.
//
// # Tables
//
//   - documents: JSON documents keyed by slash-separated path
//   - users: identity records listed by the AUTH backfill source
//   - tasks: durable queue of continuation payloads
//   - processing_state: append-only lifecycle status reports
//
// # Task Identity
//
// A task id is SHA-256 over the canonical JSON of its queue and payload,
// with domain separation. Enqueue uses ON CONFLICT DO NOTHING, so a
// redelivered dispatch that enqueues the same successor twice creates one
// task.
//
// # Ordering
//
// Listing queries order by id COLLATE BINARY (documents, users) or by seq
// (tasks, processing_state), never by wall-clock time.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
