// Package backfill synchronizes records that existed before the sync was
// configured.
//
// A backfill is a chain of dispatches on the task queue. Start plans the
// sub-tasks (identity source first, then one document-source task per
// watched collection) and enqueues the first. Each dispatch handles one
// page, then enqueues exactly one successor: the next page of the same
// task (CONTINUE), the next task (PASS), or nothing. At most one page of
// a lineage is ever in flight.
//
// A page whose every record failed stops the chain (FAIL). With task
// retries configured, the same page is re-dispatched first.
//
//	Start -> [task 1 page 1] -CONTINUE-> [task 1 page 2] -PASS-> [task 2 page 1] -PASS-> report
package backfill
