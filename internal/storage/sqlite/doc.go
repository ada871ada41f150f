// Package sqlite persists batch runs and their per-frame star fits, so
// offset solutions can be audited and compared across reprocessings.
//
// No numerical code is allowed here; this layer stores what the pipeline
// produced and nothing else.
package sqlite
