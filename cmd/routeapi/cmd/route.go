package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/routeoptions/route-options/pkg/models"
)

var (
	routeFrom       string
	routeTo         string
	routePreference string
	routeK          int
	routeFuelPrice  int
	routeFuelUse    float64
	routeTimeout    time.Duration
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Request ranked route options",
	Long: `Ask a running server for route alternatives between two points.
Coordinates are given as "lat,lng". Options left unset use the server defaults.

Example:
  routeapi route --from 2.4448,-76.6147 --to 2.4550,-76.5980
  routeapi route --from 2.4448,-76.6147 --to 2.4550,-76.5980 --preference CHEAPEST --k 2`,
	RunE: runRoute,
}

func init() {
	rootCmd.AddCommand(routeCmd)

	routeCmd.Flags().StringVar(&routeFrom, "from", "", "origin as lat,lng (required)")
	routeCmd.Flags().StringVar(&routeTo, "to", "", "destination as lat,lng (required)")
	routeCmd.Flags().StringVar(&routePreference, "preference", "", "FASTEST, LOW_FUEL, CHEAPEST or SHORT_DISTANCE")
	routeCmd.Flags().IntVar(&routeK, "k", 0, "number of alternatives (1-5)")
	routeCmd.Flags().IntVar(&routeFuelPrice, "fuel-price", 0, "fuel price per liter")
	routeCmd.Flags().Float64Var(&routeFuelUse, "fuel-use", 0, "vehicle consumption in L/100km")
	routeCmd.Flags().DurationVar(&routeTimeout, "timeout", 90*time.Second, "request timeout")
	routeCmd.MarkFlagRequired("from")
	routeCmd.MarkFlagRequired("to")
}

// parseLatLng reads "lat,lng"
func parseLatLng(s string) (models.LatLng, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return models.LatLng{}, fmt.Errorf("invalid coordinate %q: expected lat,lng", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return models.LatLng{}, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return models.LatLng{}, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}
	return models.LatLng{Lat: lat, Lng: lng}, nil
}

// buildRouteBody only includes the fields the user set
func buildRouteBody(cmd *cobra.Command) (map[string]interface{}, error) {
	origin, err := parseLatLng(routeFrom)
	if err != nil {
		return nil, err
	}
	destination, err := parseLatLng(routeTo)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"origin":      origin,
		"destination": destination,
	}
	if cmd.Flags().Changed("preference") {
		body["preference"] = strings.ToUpper(routePreference)
	}
	if cmd.Flags().Changed("k") {
		body["k"] = routeK
	}
	if cmd.Flags().Changed("fuel-price") {
		body["fuel_price_per_liter"] = routeFuelPrice
	}
	if cmd.Flags().Changed("fuel-use") {
		body["vehicle"] = models.VehicleConfig{FuelLPer100Km: routeFuelUse}
	}
	return body, nil
}

func runRoute(cmd *cobra.Command, args []string) error {
	body, err := buildRouteBody(cmd)
	if err != nil {
		return err
	}

	c, err := newAPIClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), routeTimeout)
	defer cancel()

	result, err := c.RouteOptions(ctx, body)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(os.Stdout, result)
	}
	printRouteOptions(os.Stdout, result)
	return nil
}

func printRouteOptions(w io.Writer, result *models.RouteOptionsResponse) {
	table := tablewriter.NewWriter(w)
	table.Header("Rank", "ID", "Distance (km)", "Duration (min)", "Fuel (L)", "Fuel Cost", "Score")

	for i, opt := range result.Routes {
		table.Append(
			strconv.Itoa(i+1),
			opt.ID,
			strconv.FormatFloat(opt.DistanceKm, 'f', 3, 64),
			strconv.FormatFloat(opt.DurationMin, 'f', 1, 64),
			strconv.FormatFloat(opt.FuelLiters, 'f', 3, 64),
			strconv.FormatFloat(opt.FuelCostCOP, 'f', 0, 64),
			strconv.FormatFloat(opt.Score, 'f', -1, 64),
		)
	}

	table.Render()
	fmt.Fprintf(w, "\nPreference: %s, returned %d of %d requested\n", result.Preference, result.Returned, result.Requested)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return nil
}
