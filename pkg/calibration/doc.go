// Package calibration implements the per-head state machine that gates which
// tags may be persisted. Heads promote from collecting to calibrated after a
// configured number of observed scores; until then their tags are stripped
// from job results before the result blob is written.
package calibration
