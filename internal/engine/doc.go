// Package engine implements the queue processor: the flush cycle that drains
// the durable task store into the remote store.
//
// A cycle moves through
//
//	Idle -> Folding -> Executing -> Idle      (every task succeeded)
//	Idle -> Folding -> Executing -> Halted    (first failure)
//
// Folding reads the whole store and reduces it with fold.Fold. Executing
// replays the folded tasks strictly in order; after each success every
// original seq the task replaces is removed from the store. The first
// failure stops the cycle and leaves that task and everything after it
// queued. Halted becomes Idle again only on the next Flush.
//
// At most one cycle runs at a time. The guard is an atomic compare-and-swap;
// a Flush that loses it returns ErrBusy immediately and does nothing.
//
// Cancelling the context passed to Flush stops the cycle at the next task
// boundary. A remote call already in flight is never aborted: it runs on a
// context detached from cancellation and bounded only by the executor's call
// timeout.
//
// Lifecycle events (sync-queued, sync-started, sync-task-ok, sync-task-error,
// sync-done) are delivered synchronously to subscribed observers. Observers
// must not block; a panicking observer is recovered and logged.
package engine
