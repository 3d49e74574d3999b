/*
Package reconciler closes the gap between what the broker believes is
alive on this node and what the orchestrator actually runs.

The watcher (pkg/watcher) only upserts pods; it does not mark a pod dead
when the pod stream reports its deletion, so without this loop the
broker's view of deleted pods stays stale. Every 60 seconds the reconciler
fetches the broker's alive-pod set for this node, asks the orchestrator
what it currently runs, and POSTs a mark-dead for anything in the former
but not the latter.

A failed cycle is logged and skipped; the next tick is unaffected.
*/
package reconciler
