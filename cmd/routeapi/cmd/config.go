package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/routeoptions/route-options/pkg/auth"
	"github.com/routeoptions/route-options/pkg/config"
	"github.com/routeoptions/route-options/pkg/logging"
)

var (
	showSecrets   bool
	keygenHash    bool
	logrotateDir  string
	logrotateName string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective server configuration as YAML",
	Long: `Prints the configuration serve would run with, after merging defaults,
the config file and environment variables. API keys are masked unless
--show-secrets is given.`,
	RunE: runConfigShow,
}

var configLogrotateCmd = &cobra.Command{
	Use:   "logrotate",
	Short: "Print a logrotate snippet for the server log directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Print(logging.GenerateLogrotateConfig(logrotateDir, logrotateName))
		return nil
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an API key",
	Long: `Generates a random API key. With --hash the bcrypt hash to put under
auth.api_key_hashes is printed as well, so the plain key never has to be
stored on the server.`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keygenCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configLogrotateCmd)

	configShowCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print API keys and DSNs unmasked")
	configLogrotateCmd.Flags().StringVar(&logrotateDir, "dir", "/var/log/routeapi", "log directory")
	configLogrotateCmd.Flags().StringVar(&logrotateName, "service", "routeapi", "service name used in the snippet")
	keygenCmd.Flags().BoolVar(&keygenHash, "hash", false, "also print the bcrypt hash of the key")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if !showSecrets {
		maskSecrets(cfg)
	}
	if path := v.ConfigFileUsed(); path != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "# config file: %s\n", path)
	}
	return writeYAML(cmd.OutOrStdout(), cfg)
}

func maskSecrets(cfg *config.Config) {
	for i := range cfg.Auth.APIKeys {
		cfg.Auth.APIKeys[i] = "********"
	}
	if cfg.Store.DSN != "" {
		cfg.Store.DSN = "********"
	}
}

func writeYAML(w io.Writer, v interface{}) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return encoder.Close()
}

func runKeygen(cmd *cobra.Command, args []string) error {
	key, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "API key: %s\n", key)
	if keygenHash {
		hash, err := auth.HashAPIKey(key)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "bcrypt:  %s\n", hash)
	}

	home, _ := os.UserHomeDir()
	fmt.Fprintf(out, "\nUse it with --api-key, ROUTEAPI_API_KEY or client.api_key in %s\n",
		filepath.Join(home, ".routeapi", "config.yaml"))
	return nil
}
