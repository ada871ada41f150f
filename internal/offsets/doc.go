// Package offsets turns per-frame star measurements into the relative
// dither shifts consumed by the exposure-combination step.
//
// Ordering is the load-bearing property here: the star table keeps one row
// per input frame in input order, the quality filter only ever excludes
// rows, and the resolved shifts stay positionally 1:1 with the combination
// manifest. Every write path re-validates that pairing instead of assuming
// it.
package offsets
