/*
Package geo resolves order addresses to road distances from the company
origin. It implements fee.DistanceLookup.

KEY CONCEPTS:
  - Point: WGS84 latitude/longitude
  - Geocoder: address -> Point (Yandex, Nominatim, Chain)
  - Cache: address -> Point, memoized with a TTL (MemoryCache, RedisCache)
  - Resolver: Haversine from the origin times a road factor

An address that already is a coordinate pair ("55.75, 37.61") skips
geocoding.

SEE ALSO:
  - fee/calculator.go: the consumer
*/
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const earthRadiusKm = 6371.0

// DefaultRoadFactor approximates road distance from the straight line.
const DefaultRoadFactor = 1.4

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (p Point) String() string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon, 'f', -1, 64)
}

func (p Point) valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(a, b Point) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// ParsePoint reads "lat, lon" (comma or whitespace separated). ok is false
// for anything else, including out-of-range values.
func ParsePoint(s string) (Point, bool) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == ' ' || r == '\t' })
	if len(fields) != 2 {
		return Point{}, false
	}
	lat, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Point{}, false
	}
	lon, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Point{}, false
	}
	p := Point{Lat: lat, Lon: lon}
	if !p.valid() {
		return Point{}, false
	}
	return p, true
}

func parsePointString(s string) (Point, error) {
	p, ok := ParsePoint(s)
	if !ok {
		return Point{}, fmt.Errorf("geo: malformed point %q", s)
	}
	return p, nil
}
