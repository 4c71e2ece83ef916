/*
Package worker implements the long-running child process that claims and
executes tagging jobs.

# Lifecycle

A worker moves through starting → healthy ⇄ processing → stopping → stopped,
with crashed and failed as terminal states. Every transition is published to
the process's own health row; per-job progress goes through worker_kv so the
state broker can fan it out without touching the job table.

# Process isolation

Each worker opens its own storage connection inside the child (Config.OpenStore
runs post-spawn), and the processor's model and GPU state are lazy-initialized
per process. Nothing is inherited from the supervisor except flags, the
database path and the restart count.

# Cancellation

Cancellation is cooperative: the worker observes the context and the shutdown
flag between jobs and never interrupts the processor mid-job. A job cut off by
a dying worker is returned to pending by the supervisor's stale-heartbeat
reset, not by the worker itself.
*/
package worker
