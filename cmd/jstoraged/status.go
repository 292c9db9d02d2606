package main

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/jstorage/pkg/metrics"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the storage core in --data-dir can be brought up",
	Long: `Status restores the Registry the way "serve" would, registers the
same component health as "serve" does at startup, and prints the
resulting readiness as JSON. It exists so an operator (or a process
supervisor in front of the out-of-scope external listener) can check
the data directory's health without holding the process open the way
"serve" does.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if _, err := loadCryptTool(cfg.DataDir); err != nil {
		metrics.RegisterComponent("crypt", false, err.Error())
	} else {
		metrics.RegisterComponent("crypt", true, "")
	}

	registry, err := openRegistry(cmd)
	if err != nil {
		metrics.RegisterComponent("registry", false, err.Error())
	} else {
		metrics.RegisterComponent("registry", true, "")
		defer registry.Shutdown()
	}
	metrics.RegisterComponent("notify", registry != nil, "")

	readiness := metrics.GetReadiness()
	out, err := json.MarshalIndent(readiness, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal readiness: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
