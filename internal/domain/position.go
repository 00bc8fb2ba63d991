package domain

import (
	"fmt"
	"math"
	"time"
)

// PositionStaleAfter is how long a higher-precision position shields the
// node from lower-precision overwrites.
const PositionStaleAfter = 12 * time.Hour

// fullPrecisionBits is assumed for reports that carry coordinates but no
// precision metadata.
const fullPrecisionBits = 32

// AcceptPosition decides whether an incoming position replaces the existing
// one. A lower-precision report is rejected only while the existing
// position is younger than PositionStaleAfter; at exactly the boundary the
// aged position is overwritten. An existing position without a timestamp
// never shields.
func AcceptPosition(existing *Position, incoming Position, now time.Time) bool {
	if existing == nil {
		return true
	}
	if existing.PrecisionBits == nil {
		return true
	}
	if existing.Time.IsZero() {
		return true
	}

	newPrec := uint32(fullPrecisionBits)
	if incoming.PrecisionBits != nil {
		newPrec = *incoming.PrecisionBits
	}
	oldPrec := *existing.PrecisionBits
	age := now.Sub(existing.Time)

	return newPrec >= oldPrec || age >= PositionStaleAfter
}

// ValidateCoordinates rejects out-of-range or non-finite coordinates.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return fmt.Errorf("coordinates are not finite")
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude out of range: %v", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude out of range: %v", lon)
	}

	return nil
}
