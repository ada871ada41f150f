// Package units provides shared constants and conversion for angular
// offset units.
package units

// Unit constants. Shifts are computed and persisted in pixels; conversion
// to sky angles needs the instrument's plate scale.
const (
	Pix    = "pix"
	Arcsec = "arcsec"
	Mas    = "mas"
)

// ValidUnits contains all valid unit values.
var ValidUnits = []string{Pix, Arcsec, Mas}

// DefaultPixelScale is the spatial sampling of the reconstructed cubes, in
// arcseconds per pixel.
const DefaultPixelScale = 0.2

// IsValid checks if the given unit is in the list of valid units.
func IsValid(unit string) bool {
	for _, v := range ValidUnits {
		if unit == v {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for
// error messages.
func GetValidUnitsString() string {
	return "pix, arcsec, mas"
}

// ConvertOffset converts an offset measured in pixels to the target units,
// given the plate scale in arcseconds per pixel. Unknown units fall back to
// pixels.
func ConvertOffset(pixels, scaleArcsecPerPix float64, targetUnits string) float64 {
	switch targetUnits {
	case Arcsec:
		return pixels * scaleArcsecPerPix
	case Mas:
		return pixels * scaleArcsecPerPix * 1000
	default:
		return pixels
	}
}
