package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/routeoptions/route-options/pkg/models"
)

var queriesLimit int

// queriesCmd represents the queries command
var queriesCmd = &cobra.Command{
	Use:   "queries",
	Short: "Inspect the route query history",
	Long:  `Commands for listing and inspecting route-options queries recorded by the server.`,
}

var queriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent queries",
	RunE:  runQueriesList,
}

var queriesGetCmd = &cobra.Command{
	Use:   "get <query-id>",
	Short: "Show one query",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueriesGet,
}

var queriesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show query counts by preference and status",
	RunE:  runQueriesStats,
}

func init() {
	rootCmd.AddCommand(queriesCmd)
	queriesCmd.AddCommand(queriesListCmd)
	queriesCmd.AddCommand(queriesGetCmd)
	queriesCmd.AddCommand(queriesStatsCmd)

	queriesListCmd.Flags().IntVar(&queriesLimit, "limit", 20, "maximum number of queries (max 200)")
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 90*time.Second)
}

func runQueriesList(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	result, err := c.ListQueries(ctx, queriesLimit)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(os.Stdout, result)
	}

	if len(result.Queries) == 0 {
		fmt.Println("No queries recorded")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Preference", "K", "Returned", "Best", "Status", "OSRM (ms)", "Created")
	for _, q := range result.Queries {
		best := "-"
		if q.BestRouteID != "" {
			best = q.BestRouteID
		}
		table.Append(
			q.ID,
			string(q.Preference),
			strconv.Itoa(q.K),
			strconv.Itoa(q.Returned),
			best,
			string(q.Status),
			strconv.FormatInt(q.OSRMLatencyMs, 10),
			q.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	table.Render()
	fmt.Printf("\nTotal queries: %d\n", result.Count)
	return nil
}

func runQueriesGet(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	q, err := c.GetQuery(ctx, args[0])
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(os.Stdout, q)
	}
	printQuery(os.Stdout, q)
	return nil
}

func printQuery(w io.Writer, q *models.RouteQuery) {
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")

	table.Append("ID", q.ID)
	table.Append("Origin", fmt.Sprintf("%g,%g", q.Origin.Lat, q.Origin.Lng))
	table.Append("Destination", fmt.Sprintf("%g,%g", q.Destination.Lat, q.Destination.Lng))
	table.Append("Preference", string(q.Preference))
	table.Append("Requested", strconv.Itoa(q.K))
	table.Append("Returned", strconv.Itoa(q.Returned))
	table.Append("Status", string(q.Status))
	if q.BestRouteID != "" {
		table.Append("Best Route", q.BestRouteID)
		table.Append("Best Score", strconv.FormatFloat(q.BestScore, 'f', -1, 64))
	}
	if q.Error != "" {
		table.Append("Error", q.Error)
	}
	table.Append("OSRM Latency", fmt.Sprintf("%d ms", q.OSRMLatencyMs))
	table.Append("Created At", q.CreatedAt.Format(time.RFC3339))

	table.Render()
}

func runQueriesStats(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	stats, err := c.QueryStats(ctx)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(os.Stdout, stats)
	}
	printStats(os.Stdout, stats)
	return nil
}

func printStats(w io.Writer, stats *models.QueryStats) {
	table := tablewriter.NewWriter(w)
	table.Header("Group", "Value", "Count")

	for _, pref := range models.Preferences {
		table.Append("preference", string(pref), strconv.Itoa(stats.ByPreference[string(pref)]))
	}
	statuses := make([]string, 0, len(stats.ByStatus))
	for s := range stats.ByStatus {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		table.Append("status", s, strconv.Itoa(stats.ByStatus[s]))
	}

	table.Render()
	fmt.Fprintf(w, "\nTotal queries: %d\n", stats.Total)
}
