package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Request limits
const (
	MinK                 = 1
	MaxK                 = 5
	DefaultK             = 3
	MaxFuelPricePerLiter = 200000
	MaxFuelLPer100Km     = 50
)

// RequestDefaults are applied to fields the client leaves out
type RequestDefaults struct {
	FuelLPer100Km     float64
	FuelPricePerLiter int
}

// FieldError describes one invalid field of a request body
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// ValidationErrors is returned when a request body is rejected
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fmt.Sprintf("%s: %s", strings.Join(fe.Loc, "."), fe.Msg))
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func (v *ValidationErrors) add(msg, typ string, loc ...string) {
	*v = append(*v, FieldError{Loc: append([]string{"body"}, loc...), Msg: msg, Type: typ})
}

// optional records whether a field was present and whether it was null,
// so absent fields take defaults while an explicit null is rejected
type optional[T any] struct {
	Set   bool
	Null  bool
	Value T
}

func (o *optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Null = true
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

type latLngPayload struct {
	Lat optional[float64] `json:"lat"`
	Lng optional[float64] `json:"lng"`
}

type vehiclePayload struct {
	FuelLPer100Km optional[float64] `json:"fuel_l_per_100km"`
}

type routeOptionsPayload struct {
	Origin            optional[latLngPayload]  `json:"origin"`
	Destination       optional[latLngPayload]  `json:"destination"`
	Preference        optional[string]         `json:"preference"`
	K                 optional[json.Number]    `json:"k"`
	FuelPricePerLiter optional[json.Number]    `json:"fuel_price_per_liter"`
	Vehicle           optional[vehiclePayload] `json:"vehicle"`
}

const (
	msgInt    = "Input should be a valid integer"
	msgNumber = "Input should be a valid number"
	msgObject = "Input should be a valid dictionary or object to extract fields from"
)

func invalidJSON(err error) ValidationErrors {
	return ValidationErrors{{
		Loc:  []string{"body"},
		Msg:  fmt.Sprintf("invalid JSON body: %v", err),
		Type: "json_invalid",
	}}
}

// DecodeRouteOptionsRequest parses and validates a route-options body.
// Absent fields take their defaults; present fields are range checked.
func DecodeRouteOptionsRequest(r io.Reader, defaults RequestDefaults) (*RouteOptionsRequest, error) {
	var payload routeOptionsPayload
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, invalidJSON(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, invalidJSON(errors.New("unexpected data after top-level value"))
	}

	var errs ValidationErrors
	req := &RouteOptionsRequest{
		Preference:        PreferenceFastest,
		K:                 DefaultK,
		FuelPricePerLiter: defaults.FuelPricePerLiter,
		Vehicle:           VehicleConfig{FuelLPer100Km: defaults.FuelLPer100Km},
	}

	req.Origin = decodeLatLng(payload.Origin, "origin", &errs)
	req.Destination = decodeLatLng(payload.Destination, "destination", &errs)

	if payload.Preference.Set {
		pref := Preference(payload.Preference.Value)
		if payload.Preference.Null || !pref.Valid() {
			errs.add("Input should be 'FASTEST', 'LOW_FUEL', 'CHEAPEST' or 'SHORT_DISTANCE'", "literal_error", "preference")
		} else {
			req.Preference = pref
		}
	}

	if payload.K.Set {
		k, ok := parseInt(payload.K)
		switch {
		case !ok:
			errs.add(msgInt, "int_type", "k")
		case k < MinK:
			errs.add(fmt.Sprintf("Input should be greater than or equal to %d", MinK), "greater_than_equal", "k")
		case k > MaxK:
			errs.add(fmt.Sprintf("Input should be less than or equal to %d", MaxK), "less_than_equal", "k")
		default:
			req.K = int(k)
		}
	}

	if payload.FuelPricePerLiter.Set {
		price, ok := parseInt(payload.FuelPricePerLiter)
		switch {
		case !ok:
			errs.add(msgInt, "int_type", "fuel_price_per_liter")
		case price < 0:
			errs.add("Input should be greater than or equal to 0", "greater_than_equal", "fuel_price_per_liter")
		case price > MaxFuelPricePerLiter:
			errs.add(fmt.Sprintf("Input should be less than or equal to %d", MaxFuelPricePerLiter), "less_than_equal", "fuel_price_per_liter")
		default:
			req.FuelPricePerLiter = int(price)
		}
	}

	if payload.Vehicle.Null {
		errs.add(msgObject, "model_type", "vehicle")
	} else if fuel := payload.Vehicle.Value.FuelLPer100Km; fuel.Set {
		v := fuel.Value
		switch {
		case fuel.Null:
			errs.add(msgNumber, "float_type", "vehicle", "fuel_l_per_100km")
		case v <= 0:
			errs.add("Input should be greater than 0", "greater_than", "vehicle", "fuel_l_per_100km")
		case v > MaxFuelLPer100Km:
			errs.add(fmt.Sprintf("Input should be less than or equal to %d", MaxFuelLPer100Km), "less_than_equal", "vehicle", "fuel_l_per_100km")
		default:
			req.Vehicle.FuelLPer100Km = v
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return req, nil
}

func decodeLatLng(p optional[latLngPayload], field string, errs *ValidationErrors) LatLng {
	switch {
	case !p.Set:
		errs.add("Field required", "missing", field)
		return LatLng{}
	case p.Null:
		errs.add(msgObject, "model_type", field)
		return LatLng{}
	}
	var out LatLng
	lat, lng := p.Value.Lat, p.Value.Lng
	switch {
	case !lat.Set:
		errs.add("Field required", "missing", field, "lat")
	case lat.Null:
		errs.add(msgNumber, "float_type", field, "lat")
	case lat.Value < -90 || lat.Value > 90:
		errs.add("Input should be between -90 and 90", "range", field, "lat")
	default:
		out.Lat = lat.Value
	}
	switch {
	case !lng.Set:
		errs.add("Field required", "missing", field, "lng")
	case lng.Null:
		errs.add(msgNumber, "float_type", field, "lng")
	case lng.Value < -180 || lng.Value > 180:
		errs.add("Input should be between -180 and 180", "range", field, "lng")
	default:
		out.Lng = lng.Value
	}
	return out
}

// parseInt accepts integers and floats with no fractional part.
// Values beyond int64 saturate so range checks still report the right bound.
func parseInt(n optional[json.Number]) (int64, bool) {
	if n.Null {
		return 0, false
	}
	if i, err := n.Value.Int64(); err == nil {
		return i, true
	}
	f, err := n.Value.Float64()
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	if math.IsNaN(f) || f != math.Trunc(f) {
		return 0, false
	}
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64, true
	case f <= math.MinInt64:
		return math.MinInt64, true
	}
	return int64(f), true
}
