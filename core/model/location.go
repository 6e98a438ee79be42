package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const earthRadiusKm = 6371.0088

// ErrInvalidLocation is returned by Location.Validate.
var ErrInvalidLocation = errors.New("invalid location")

// Location is a GeoJSON style point. Coordinates are stored as [lng, lat].
type Location struct {
	Type        string     `json:"type,omitempty"`
	Coordinates []float64  `json:"coordinates"`
	Address     string     `json:"address,omitempty"`
	RecordedAt  *time.Time `json:"recordedAt,omitempty"`
}

// NewLocation builds a point from latitude and longitude.
func NewLocation(lat, lng float64, address string) Location {
	return Location{Type: "Point", Coordinates: []float64{lng, lat}, Address: address}
}

// Validate checks that both coordinates are present and within range.
func (l Location) Validate() error {
	if len(l.Coordinates) != 2 {
		return fmt.Errorf("%w: expected [lng, lat], got %d coordinates", ErrInvalidLocation, len(l.Coordinates))
	}
	lng, lat := l.Coordinates[0], l.Coordinates[1]
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidLocation, lat)
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidLocation, lng)
	}
	return nil
}

// Lat returns the latitude. The location must be valid.
func (l Location) Lat() float64 { return l.Coordinates[1] }

// Lng returns the longitude. The location must be valid.
func (l Location) Lng() float64 { return l.Coordinates[0] }

// Clone returns a deep copy of l.
func (l Location) Clone() Location {
	c := l
	c.Coordinates = append([]float64(nil), l.Coordinates...)
	if l.RecordedAt != nil {
		t := *l.RecordedAt
		c.RecordedAt = &t
	}
	return c
}

// CurrentLocation is the last known position of a moving party.
type CurrentLocation struct {
	Location
	LastUpdated time.Time `json:"lastUpdated"`
}

// DistanceKm returns the great-circle distance between a and b.
func DistanceKm(a, b Location) float64 {
	lat1, lat2 := radians(a.Lat()), radians(b.Lat())
	dLat := lat2 - lat1
	dLng := radians(b.Lng() - a.Lng())
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BoundingBox is a lat/lng rectangle used to prefilter range queries.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// BoundsAround returns a box enclosing every point within radiusKm of c.
// Boxes crossing the antimeridian or a pole widen to the full longitude range.
func BoundsAround(c Location, radiusKm float64) BoundingBox {
	dLat := radiusKm / earthRadiusKm * 180 / math.Pi
	b := BoundingBox{
		MinLat: math.Max(-90, c.Lat()-dLat),
		MaxLat: math.Min(90, c.Lat()+dLat),
		MinLng: -180,
		MaxLng: 180,
	}
	cosLat := math.Cos(radians(c.Lat()))
	ratio := math.Sin(radiusKm/earthRadiusKm) / cosLat
	if b.MinLat > -90 && b.MaxLat < 90 && cosLat > 1e-9 && ratio < 1 {
		dLng := math.Asin(ratio) * 180 / math.Pi
		if c.Lng()-dLng >= -180 && c.Lng()+dLng <= 180 {
			b.MinLng = c.Lng() - dLng
			b.MaxLng = c.Lng() + dLng
		}
	}
	return b
}

// Contains reports whether l lies inside the box.
func (b BoundingBox) Contains(l Location) bool {
	return l.Lat() >= b.MinLat && l.Lat() <= b.MaxLat && l.Lng() >= b.MinLng && l.Lng() <= b.MaxLng
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
