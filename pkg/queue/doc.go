/*
Package queue implements the durable job queue on top of storage.

Jobs progress through the status DAG pending → running → {done, error}, with
pending ← running only via ResetStuck and pending ← error only via
ResetErrors. Every transition out of pending or running is a guarded
compare-and-swap, so two workers can never hold the same job concurrently and
a late completion racing a supervisor reset degrades to a logged no-op.

Ordering is FIFO by (created_at, id). There is no priority field; the core
does not interpret created_at beyond ordering.
*/
package queue
