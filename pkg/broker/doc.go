/*
Package broker implements the topic-based state broker.

A single poller reads the health table, the job:* and worker:* KV namespaces
and the aggregate job counts on a fixed tick, diffs them against its previous
in-memory snapshot and publishes typed events on change. Subscribers register
topic patterns and receive events over a bounded, lossy channel; a subscriber
that falls behind loses its oldest events and receives one coalesced lagged:N
marker in their place. The poller never blocks on a subscriber, so one stuck
consumer cannot stall the others.

Topics: queue:jobs, queue:stats, worker:<queue>:<id>:status (wildcard
workers:*) and system:health. Per-topic ordering follows tick order; there is
no cross-topic ordering guarantee.
*/
package broker
