package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/routeoptions/route-options/pkg/client"
	"github.com/routeoptions/route-options/pkg/config"
	tlsutil "github.com/routeoptions/route-options/pkg/tls"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=..."
var Version = "1.0.2"

var (
	cfgFile      string
	serverURL    string
	outputFormat string
	apiKey       string
	caFile       string
	insecure     bool

	// v holds the merged file, env and default configuration
	v *viper.Viper
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "routeapi",
	Short: "Route Options API server and client",
	Long: `routeapi serves the Route Options API, which asks an OSRM server for
alternative driving routes, estimates fuel use and cost for each one and
returns them ranked by a preference. The remaining commands are a client
for a running server.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.routeapi/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "API URL for client commands (default from config or http://localhost:8000)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key sent as a bearer token")
	rootCmd.PersistentFlags().StringVar(&caFile, "ca-file", "", "CA certificate for https servers")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	var err error
	v, err = config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up config: %v\n", err)
		os.Exit(1)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		v.AddConfigPath(filepath.Join(home, ".routeapi"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Client-side settings
	v.SetDefault("client.server_url", "http://localhost:8000")
	v.SetDefault("client.api_key", "")
	v.BindEnv("client.server_url", "ROUTEAPI_URL")
	v.BindEnv("client.api_key", "ROUTEAPI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}

	if serverURL == "" {
		serverURL = v.GetString("client.server_url")
	}
	if apiKey == "" {
		apiKey = v.GetString("client.api_key")
	}
}

// GetServerURL returns the configured API URL with trailing slashes removed
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// newAPIClient builds a client from the global flags
func newAPIClient() (*client.Client, error) {
	url := GetServerURL()
	if !strings.HasPrefix(url, "https://") {
		return client.NewClient(url, apiKey, nil), nil
	}
	tlsConfig, err := tlsutil.ClientConfig(caFile, insecure)
	if err != nil {
		return nil, fmt.Errorf("failed to set up TLS: %w", err)
	}
	return client.NewClient(url, apiKey, tlsConfig), nil
}
