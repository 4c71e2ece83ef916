// Package processor defines the pluggable inference contract the worker
// invokes per job, plus the ExecProcessor that delegates to an external
// tagger command. Model loading, audio decoding and GPU state are entirely
// the processor's concern and always per-process.
package processor
