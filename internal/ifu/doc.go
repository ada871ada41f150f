// Package ifu owns the base data model for integral-field spectrograph
// post-processing: exposures, per-detector data cubes, and the robust
// statistics shared by the higher layers.
//
// Responsibilities: cube geometry and indexing, masked-pixel conventions,
// wavelength solutions, exposure identity and derived-product naming.
//
// Dependency rule: ifu depends on nothing above it. No persistence or
// file-format code is allowed in this package.
package ifu
