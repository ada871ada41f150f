// Package starfind locates the reference star in an exposure's cube and
// fits a 2-D Gaussian point-spread-function model to it.
//
// Location and fitting are split behind small interfaces so a stricter
// detector (for crowded fields) can replace the default maximum-pixel
// locator without touching the fit or the offset logic downstream.
package starfind
