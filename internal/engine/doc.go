// Package engine applies inbound triggers to the audience service.
//
// An Engine holds an immutable runtime snapshot: the normalized config, the
// audience client and the retry policy built from it. Reconfigure swaps the
// whole snapshot atomically, so a handler that is already running keeps
// the snapshot it started with.
//
// Triggers arrive either as direct calls (HandleUserCreated,
// HandleUserDeleted, HandleDocumentWrite) or as Events on the FIFO queue
// drained by Run. Handlers log failures and never return them; the Sync*
// methods return errors for callers such as the backfill that count them.
//
// Remote call policy:
//   - Adding a member is not retried. "Member Exists" is informational.
//   - Deleting a member retries on not found. "Method Not Allowed" means
//     the member is already gone and is informational.
//   - Tag, merge-field and event writes retry on not found.
//   - Member events for one write are created concurrently; all are
//     attempted and the first failure is returned.
package engine
