package model

import (
	"errors"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// ErrInvalidRoute is returned when a route lacks the addresses needed for analysis.
var ErrInvalidRoute = errors.New("route requires both a start and an end address")

// RouteDetails is a resolved route as produced by the geocoding/mapping service.
// The core only reads the addresses; the geometry is carried through untouched.
type RouteDetails struct {
	StartAddress   string         `json:"start_address"`
	EndAddress     string         `json:"end_address"`
	Path           orb.LineString `json:"-"`
	DistanceMeters float64        `json:"distance_m,omitempty"`
}

// Validate checks that the route can be turned into an analysis request.
func (r *RouteDetails) Validate() error {
	if r == nil {
		return ErrInvalidRoute
	}
	if strings.TrimSpace(r.StartAddress) == "" || strings.TrimSpace(r.EndAddress) == "" {
		return ErrInvalidRoute
	}
	return nil
}

// Distance returns the route length in meters. When the mapping service did not
// supply one, it is measured along the path geometry.
func (r *RouteDetails) Distance() float64 {
	if r.DistanceMeters > 0 {
		return r.DistanceMeters
	}
	if len(r.Path) < 2 {
		return 0
	}
	return geo.LengthHaversine(r.Path)
}

// Clone returns a deep copy so callers can't mutate a stored route.
func (r *RouteDetails) Clone() *RouteDetails {
	if r == nil {
		return nil
	}
	c := *r
	if r.Path != nil {
		c.Path = r.Path.Clone()
	}
	return &c
}
