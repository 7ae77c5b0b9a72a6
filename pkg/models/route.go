package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// Preference selects which metric ranks the returned routes
type Preference string

const (
	PreferenceFastest       Preference = "FASTEST"
	PreferenceLowFuel       Preference = "LOW_FUEL"
	PreferenceCheapest      Preference = "CHEAPEST"
	PreferenceShortDistance Preference = "SHORT_DISTANCE"
)

// Preferences lists every accepted preference in declaration order
var Preferences = []Preference{
	PreferenceFastest,
	PreferenceLowFuel,
	PreferenceCheapest,
	PreferenceShortDistance,
}

// Valid reports whether p is one of the known preferences
func (p Preference) Valid() bool {
	for _, known := range Preferences {
		if p == known {
			return true
		}
	}
	return false
}

// LatLng is a WGS84 coordinate
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// String renders the coordinate in OSRM's lng,lat order
func (l LatLng) String() string {
	return strconv.FormatFloat(l.Lng, 'f', -1, 64) + "," + strconv.FormatFloat(l.Lat, 'f', -1, 64)
}

// VehicleConfig describes the vehicle used for fuel estimation
type VehicleConfig struct {
	FuelLPer100Km float64 `json:"fuel_l_per_100km"`
}

// RouteOptionsRequest is the validated body of POST /route-options
type RouteOptionsRequest struct {
	Origin            LatLng        `json:"origin"`
	Destination       LatLng        `json:"destination"`
	Preference        Preference    `json:"preference"`
	K                 int           `json:"k"`
	FuelPricePerLiter int           `json:"fuel_price_per_liter"`
	Vehicle           VehicleConfig `json:"vehicle"`
}

// RouteOption is one ranked alternative
type RouteOption struct {
	ID          string          `json:"id"`
	DistanceKm  float64         `json:"distance_km"`
	DurationMin float64         `json:"duration_min"`
	FuelLiters  float64         `json:"fuel_liters"`
	FuelCostCOP float64         `json:"fuel_cost_cop"`
	Score       float64         `json:"score"`
	GeoJSON     json.RawMessage `json:"geojson"`
}

// RouteOptionsResponse is returned by POST /route-options
type RouteOptionsResponse struct {
	Preference Preference    `json:"preference"`
	Requested  int           `json:"requested"`
	Returned   int           `json:"returned"`
	Routes     []RouteOption `json:"routes"`
}

// QueryStatus is the outcome of a recorded route query
type QueryStatus string

const (
	QueryStatusOK       QueryStatus = "ok"
	QueryStatusNoRoutes QueryStatus = "no_routes"
	QueryStatusFailed   QueryStatus = "failed"
)

// RouteQuery is the history record kept for every route-options call
type RouteQuery struct {
	ID            string      `json:"id"`
	Origin        LatLng      `json:"origin"`
	Destination   LatLng      `json:"destination"`
	Preference    Preference  `json:"preference"`
	K             int         `json:"k"`
	Returned      int         `json:"returned"`
	BestRouteID   string      `json:"best_route_id,omitempty"`
	BestScore     float64     `json:"best_score,omitempty"`
	Status        QueryStatus `json:"status"`
	Error         string      `json:"error,omitempty"`
	OSRMLatencyMs int64       `json:"osrm_latency_ms"`
	CreatedAt     time.Time   `json:"created_at"`
}

// QueryStats aggregates the query history
type QueryStats struct {
	Total        int            `json:"total"`
	ByPreference map[string]int `json:"by_preference"`
	ByStatus     map[string]int `json:"by_status"`
}
