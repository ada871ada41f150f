// Package pipeline orchestrates batch processing over discovered
// exposures: sky-residual correction per exposure, then the star-offset
// chain (locate, fit, filter, resolve) over a frame list.
//
// Frames are independent, so both stages fan out over a bounded worker
// pool; results land in slices indexed by input position so output order
// is never a function of scheduling. Offset resolution runs strictly after
// every frame's fit has landed.
package pipeline
