package routing

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/example/ride-lifecycle/internal/models"
)

// mapsAPI is the subset of *maps.Client we call.
type mapsAPI interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
	ReverseGeocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// GoogleMapsClient routes and geocodes through the Google Maps Platform.
type GoogleMapsClient struct {
	api      mapsAPI
	language string
}

func NewGoogleMapsClient(apiKey, language string) (*GoogleMapsClient, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google maps client: %w", err)
	}
	return &GoogleMapsClient{api: c, language: language}, nil
}

func (g *GoogleMapsClient) Route(ctx context.Context, from, to models.Coord) (Route, error) {
	origin, dest := latLng(from), latLng(to)
	routes, _, err := g.api.Directions(ctx, &maps.DirectionsRequest{
		Origin:      origin.String(),
		Destination: dest.String(),
		Mode:        maps.TravelModeDriving,
		Language:    g.language,
	})
	if err != nil {
		return Route{}, fmt.Errorf("directions: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, ErrNoRoute
	}
	var meters int
	var minutes float64
	for _, leg := range routes[0].Legs {
		meters += leg.Distance.Meters
		minutes += leg.Duration.Minutes()
	}
	return Route{
		DistanceKm:  float64(meters) / 1000,
		DurationMin: minutes,
		Polyline:    routes[0].OverviewPolyline.Points,
	}, nil
}

func (g *GoogleMapsClient) ReverseGeocode(ctx context.Context, at models.Coord) (string, error) {
	ll := latLng(at)
	res, err := g.api.ReverseGeocode(ctx, &maps.GeocodingRequest{LatLng: &ll, Language: g.language})
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	if len(res) == 0 {
		return fmtCoord(at), nil
	}
	return res[0].FormattedAddress, nil
}

func latLng(c models.Coord) maps.LatLng { return maps.LatLng{Lat: c.Lat, Lng: c.Lon} }
