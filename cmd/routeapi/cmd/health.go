package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the server is up",
	RunE:  runHealth,
}

var osrmTestCmd = &cobra.Command{
	Use:   "osrm-test",
	Short: "Check that the server can reach OSRM",
	Long:  `Asks the server to route a fixed trip in Popayán and reports how many routes OSRM returned.`,
	RunE:  runOSRMTest,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(osrmTestCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	h, err := c.Health(ctx)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(os.Stdout, h)
	}
	fmt.Printf("✓ %s is up at %s\n", h.API, GetServerURL())
	fmt.Printf("  OSRM: %s\n", h.OSRMBaseURL)
	return nil
}

func runOSRMTest(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	res, err := c.OSRMTest(ctx)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(os.Stdout, res)
	}
	fmt.Printf("✓ OSRM reachable, %d routes found\n", res.RoutesFound)
	return nil
}
