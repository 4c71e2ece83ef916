/*
Package metrics provides Prometheus instrumentation for the scheduler core.

Counters are incremented where the event happens (queue transitions, worker
restarts, broker drops). Gauges describing derived state (jobs by status,
workers by health) are refreshed by the Collector, which polls the store on a
fixed tick in the parent process. Expose Handler() on an HTTP mux to serve
/metrics; the listener is optional and disabled when metrics_addr is empty.
*/
package metrics
