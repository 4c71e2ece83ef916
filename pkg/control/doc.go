// Package control exposes the narrow API the rest of the application uses:
// enqueue, pause/resume, status, subscriptions and the administrative bulk
// operations. All operations are non-blocking and none spawns processes.
package control
