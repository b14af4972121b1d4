package search

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// earthRadiusMeters is the mean Earth radius used for the bounding-box
// approximation; geo.Distance itself uses a more precise spherical model
// for the exact post-filter.
const earthRadiusMeters = 6371000.0

// noFilterRadiusMeters is spec.md §4.7's "radius > 5,000 km: no filter"
// threshold.
const noFilterRadiusMeters = 5_000_000.0

// Point is a (latitude, longitude) pair in degrees.
type Point struct {
	Lat, Lon float64
}

func (p Point) orbPoint() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// BoundingBox is the superset rectangle callers prefilter against before
// applying exact great-circle distance post-filtering. WrapsAntimeridian
// is true when the rectangle crosses longitude ±180, in which case
// Contains uses the "lon >= MinLon OR lon <= MaxLon" predicate spec.md
// §4.7 describes instead of the usual AND.
type BoundingBox struct {
	NoFilter          bool
	MinLat, MaxLat    float64
	MinLon, MaxLon    float64
	WrapsAntimeridian bool
}

// ComputeBoundingBox implements spec.md §4.7's three regimes: beyond
// 5,000km the filter is dropped entirely; when the cap reaches a pole, a
// single-latitude half-spherical cap with unrestricted longitude is used;
// otherwise the smallest enclosing lat/lon rectangle around the
// great-circle disc is computed.
func ComputeBoundingBox(center Point, radiusMeters float64) BoundingBox {
	if radiusMeters > noFilterRadiusMeters {
		return BoundingBox{NoFilter: true}
	}

	radDist := radiusMeters / earthRadiusMeters
	radLat := degToRad(center.Lat)
	radLon := degToRad(center.Lon)

	minLat := radLat - radDist
	maxLat := radLat + radDist

	const halfPi = math.Pi / 2
	if minLat > -halfPi && maxLat < halfPi {
		deltaLon := math.Asin(math.Sin(radDist) / math.Cos(radLat))
		minLon := radLon - deltaLon
		maxLon := radLon + deltaLon

		wraps := false
		if minLon < -math.Pi {
			minLon += 2 * math.Pi
			wraps = true
		}
		if maxLon > math.Pi {
			maxLon -= 2 * math.Pi
			wraps = true
		}
		return BoundingBox{
			MinLat: radToDeg(minLat), MaxLat: radToDeg(maxLat),
			MinLon: radToDeg(minLon), MaxLon: radToDeg(maxLon),
			WrapsAntimeridian: wraps,
		}
	}

	// the cap reaches a pole: bound by a single latitude, full longitude.
	if minLat < -halfPi {
		minLat = -halfPi
	}
	if maxLat > halfPi {
		maxLat = halfPi
	}
	return BoundingBox{
		MinLat: radToDeg(minLat), MaxLat: radToDeg(maxLat),
		MinLon: -180, MaxLon: 180,
	}
}

// Contains reports whether (lat, lon) falls within the bounding box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	if b.NoFilter {
		return true
	}
	if lat < b.MinLat || lat > b.MaxLat {
		return false
	}
	if b.WrapsAntimeridian {
		return lon >= b.MinLon || lon <= b.MaxLon
	}
	return lon >= b.MinLon && lon <= b.MaxLon
}

// ExactDistanceMeters computes the precise great-circle distance between
// two points, for the post-filter spec.md §4.7 requires after the
// bounding-box prefilter.
func ExactDistanceMeters(a, b Point) float64 {
	return geo.Distance(a.orbPoint(), b.orbPoint())
}

// WithinRadius applies both the bounding-box prefilter and the exact
// post-filter in one call.
func WithinRadius(center Point, radiusMeters float64, candidate Point) bool {
	bbox := ComputeBoundingBox(center, radiusMeters)
	if !bbox.Contains(candidate.Lat, candidate.Lon) {
		return false
	}
	if bbox.NoFilter {
		return true
	}
	return ExactDistanceMeters(center, candidate) <= radiusMeters
}

func degToRad(d float64) float64 { return d * math.Pi / 180 }
func radToDeg(r float64) float64 { return r * 180 / math.Pi }
