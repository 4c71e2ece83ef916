/*
Package log provides structured logging for Nomarr's multi-process runtime.

The supervisor and every worker child write to the same stderr stream, so the
root logger stamps each line with the process name ("app" or the worker
component) and pid; a worker restart is visible as the same process name
reappearing under a new pid. Levels are scoped to the logger rather than set
globally, and components derive child loggers from the root:

	log.Init(log.Config{Level: "info", Process: "worker:tag:0"})
	logger := log.WithComponent("queue")
	logger.Info().Int64("job_id", id).Msg("job enqueued")

The broker's poll loop logs repeated failures through Sampled, a
burst-sampled child logger, so a storage outage reports promptly without
emitting one warning per tick for its whole duration.
*/
package log
