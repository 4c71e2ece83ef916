/*
Package types defines the core data model shared by every Nomarr process.

The five persisted entities (Job, Health, Claim, RestartPolicy, Calibration)
mirror the storage schema exactly; broker events and the control-plane
Snapshot are derived views. Component names and worker_kv key formats are
centralized here so the worker, supervisor and broker never disagree on
conventions.

All timestamps are wall-clock milliseconds (NowMS). Zero means unset.
*/
package types
