package match

import (
	"fmt"
	"math"
)

// cellSizeDeg fixes the grid used for geo lookups. Cells are about 222m
// tall; width shrinks toward the poles.
const cellSizeDeg = 0.002

// Cell returns the grid cell containing a point, as "x:y".
func Cell(lat, lon float64) string {
	x := int(math.Floor(lon / cellSizeDeg))
	y := int(math.Floor(lat / cellSizeDeg))
	return fmt.Sprintf("%d:%d", x, y)
}

// RadiusForAccuracy widens the search radius for imprecise GPS fixes:
// twice the reported accuracy, never below minMeters.
func RadiusForAccuracy(minMeters, accuracyM float64) float64 {
	if r := 2 * accuracyM; r > minMeters {
		return r
	}
	return minMeters
}

// CoverRadius returns every cell whose bounding box intersects the circle
// of radiusM meters around the point. The center cell is always included.
func CoverRadius(lat, lon, radiusM float64) []string {
	const metersPerDegLat = 111320.0

	lonScale := math.Cos(lat * math.Pi / 180)
	if lonScale < 0.01 {
		lonScale = 0.01
	}

	dLat := radiusM / metersPerDegLat
	dLon := radiusM / (metersPerDegLat * lonScale)

	minX := int(math.Floor((lon - dLon) / cellSizeDeg))
	maxX := int(math.Floor((lon + dLon) / cellSizeDeg))
	minY := int(math.Floor((lat - dLat) / cellSizeDeg))
	maxY := int(math.Floor((lat + dLat) / cellSizeDeg))

	cells := make([]string, 0, (maxX-minX+1)*(maxY-minY+1))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			cells = append(cells, fmt.Sprintf("%d:%d", x, y))
		}
	}
	return cells
}
