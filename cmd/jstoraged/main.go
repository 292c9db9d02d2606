// Command jstoraged is JStorage's process entry point. It wires the
// storage core (pkg/jstorage), the cache (pkg/cache), the notification bus
// (pkg/notify) and the maintenance scheduler (pkg/maintenance) together the
// way the Registry's setup/shutdown contract requires, and
// exposes the administrative surface (database/table/cache/crypt
// management) as cobra subcommands: a root command with persistent flags, a cobra.OnInitialize
// logging hook, and one subcommand tree per concern.
//
// The HTTP/TLS listener, request dispatch and the user/permission database
// are out of scope: "serve" wires the storage core and blocks
// until signaled, standing in for the external request layer that would
// otherwise drive it.
package main

import (
	"fmt"
	"os"

	"github.com/cuemby/jstorage/pkg/config"
	"github.com/cuemby/jstorage/pkg/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "jstoraged",
	Short: "JStorage - a network-accessible JSON document store",
	Long: `JStorage is a JSON document store with a companion ephemeral
cache, access-controlled over TLS and delivering asynchronous change
notifications.

This binary wires the storage core (databases, tables, shards, the cache
and the notification bus) and exposes administrative subcommands for
managing them; the HTTP/TLS listener and request dispatch are external
collaborators and are not part of this binary.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (defaults to ./jstorage)")
	rootCmd.PersistentFlags().String("config", "", "Optional YAML bootstrap config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(databaseCmd)
	rootCmd.AddCommand(tableCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(cryptCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

// loadConfig overlays the --config YAML file (if any) onto config.Default,
// then applies the --data-dir flag on top; flags win over the file.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}
