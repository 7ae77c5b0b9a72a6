package routing

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/routeoptions/route-options/pkg/models"
)

// Route is the subset of a backend route needed to build an option
type Route struct {
	DistanceMeters  float64
	DurationSeconds float64
	Geometry        json.RawMessage
}

// EstimateFuel returns litres consumed over distanceKm
func EstimateFuel(distanceKm, fuelLPer100Km float64) float64 {
	return (distanceKm * fuelLPer100Km) / 100.0
}

// Score returns the ranking value for a route; lower is better
func Score(pref models.Preference, distanceKm, durationMin, fuelLiters, fuelCost float64) float64 {
	switch pref {
	case models.PreferenceFastest:
		return durationMin
	case models.PreferenceShortDistance:
		return distanceKm
	case models.PreferenceLowFuel:
		return fuelLiters
	case models.PreferenceCheapest:
		return fuelCost
	default:
		return durationMin
	}
}

// BuildOptions turns the first req.K backend routes into ranked options.
// IDs follow backend order; the result is sorted by score, ties keep that order.
func BuildOptions(routes []Route, req *models.RouteOptionsRequest) []models.RouteOption {
	if len(routes) > req.K {
		routes = routes[:req.K]
	}

	out := make([]models.RouteOption, 0, len(routes))
	for i, rt := range routes {
		distKm := rt.DistanceMeters / 1000.0
		durMin := rt.DurationSeconds / 60.0

		fuelL := EstimateFuel(distKm, req.Vehicle.FuelLPer100Km)
		fuelCost := fuelL * float64(req.FuelPricePerLiter)
		score := Score(req.Preference, distKm, durMin, fuelL, fuelCost)

		geometry := rt.Geometry
		if len(geometry) == 0 {
			geometry = json.RawMessage("null")
		}

		out = append(out, models.RouteOption{
			ID:          fmt.Sprintf("r%d", i+1),
			DistanceKm:  Round(distKm, 3),
			DurationMin: Round(durMin, 1),
			FuelLiters:  Round(fuelL, 3),
			FuelCostCOP: Round(fuelCost, 0),
			Score:       score,
			GeoJSON:     geometry,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score < out[j].Score
	})

	return out
}

// Respond wraps ranked options into the API response
func Respond(req *models.RouteOptionsRequest, options []models.RouteOption) *models.RouteOptionsResponse {
	return &models.RouteOptionsResponse{
		Preference: req.Preference,
		Requested:  req.K,
		Returned:   len(options),
		Routes:     options,
	}
}

// Round rounds the exact binary value of x to the given number of decimals,
// exact halves to even. Do not scale by a power of ten first: 0.05*10 is
// exactly 0.5 and would round to 0.
func Round(x float64, decimals int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	r, err := strconv.ParseFloat(strconv.FormatFloat(x, 'f', decimals, 64), 64)
	if err != nil {
		return x
	}
	return r
}
