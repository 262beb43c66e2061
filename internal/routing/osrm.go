package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

// Route queries OSRM /route between points.
func (o *OSRMClient) Route(ctx context.Context, from, to models.Coord) (Route, error) {
	// OSRM route query: /route/v1/driving/{lon1},{lat1};{lon2},{lat2}?overview=full
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=polyline", o.Endpoint, from.Lon, from.Lat, to.Lon, to.Lat)
	var out struct {
		Routes []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
			Geometry string  `json:"geometry"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := o.get(ctx, url, &out); err != nil {
		return Route{}, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return Route{}, fmt.Errorf("%w: osrm code %v", ErrNoRoute, out.Code)
	}
	r := out.Routes[0]
	return Route{DistanceKm: r.Distance / 1000, DurationMin: r.Duration / 60, Polyline: r.Geometry}, nil
}

// ReverseGeocode uses /nearest, which names the closest street segment.
func (o *OSRMClient) ReverseGeocode(ctx context.Context, at models.Coord) (string, error) {
	url := fmt.Sprintf("%s/nearest/v1/driving/%.6f,%.6f?number=1", o.Endpoint, at.Lon, at.Lat)
	var out struct {
		Waypoints []struct {
			Name string `json:"name"`
		} `json:"waypoints"`
		Code string `json:"code"`
	}
	if err := o.get(ctx, url, &out); err != nil {
		return "", err
	}
	if out.Code != "Ok" || len(out.Waypoints) == 0 || out.Waypoints[0].Name == "" {
		return fmtCoord(at), nil
	}
	return out.Waypoints[0].Name, nil
}

func (o *OSRMClient) get(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("osrm status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
