// Package skyres estimates and removes residual sky-background structure
// left over after the upstream pipeline's primary sky subtraction.
//
// The model is a per-detector 1-D residual spectrum: a robust central
// estimate of the spatially averaged flux in each wavelength channel,
// computed from source-free pixels. Subtraction is channel-aligned and
// optionally rescaled per spatial pixel.
package skyres
