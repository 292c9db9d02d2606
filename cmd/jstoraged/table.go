package main

import (
	"fmt"

	"github.com/cuemby/jstorage/pkg/jstorage"
	"github.com/spf13/cobra"
)

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Manage tables",
}

var tableCreateCmd = &cobra.Command{
	Use:   "create DATABASE NAME",
	Short: "Create a table within a database",
	Args:  cobra.ExactArgs(2),
	RunE: withRegistry(func(cmd *cobra.Command, args []string, registry *jstorage.Registry) error {
		db, err := registry.GetDatabase(args[0])
		if err != nil {
			return err
		}
		cap, _ := cmd.Flags().GetInt("cap")
		adaptive, _ := cmd.Flags().GetBool("adaptive")
		secure, _ := cmd.Flags().GetBool("secure")

		table, err := db.InsertTable(args[1], cap)
		if err != nil {
			return err
		}
		table.SetAdaptiveLoad(adaptive)
		table.SetSecureModifications(secure)
		fmt.Printf("table %q created in database %q\n", args[1], args[0])
		return nil
	}),
}

var tableDeleteCmd = &cobra.Command{
	Use:   "delete DATABASE NAME",
	Short: "Delete a table and every shard it owns",
	Args:  cobra.ExactArgs(2),
	RunE: withRegistry(func(cmd *cobra.Command, args []string, registry *jstorage.Registry) error {
		db, err := registry.GetDatabase(args[0])
		if err != nil {
			return err
		}
		if err := db.DeleteTable(args[1]); err != nil {
			return err
		}
		fmt.Printf("table %q deleted from database %q\n", args[1], args[0])
		return nil
	}),
}

var tableOptimizeCmd = &cobra.Command{
	Use:   "optimize DATABASE NAME",
	Short: "Repack a table's shards by usage count",
	Args:  cobra.ExactArgs(2),
	RunE: withRegistry(func(cmd *cobra.Command, args []string, registry *jstorage.Registry) error {
		_, table, err := registry.Resolve(args[0], args[1])
		if err != nil {
			return err
		}
		if err := table.Optimize(); err != nil {
			return err
		}
		fmt.Printf("table %q optimized\n", args[1])
		return nil
	}),
}

var tableResolveCmd = &cobra.Command{
	Use:   "resolve-inconsistency DATABASE NAME",
	Short: "Resolve a table marked inconsistent",
	Long: `Resolve runs one of the four inconsistency-resolution modes:
  0 - clear the inconsistent flag without touching the index
  1 - drop index entries whose shard no longer exists
  2 - also drop entries whose shard is loaded but does not hold the record
  3 - rebuild the index from scratch by scanning every shard on disk`,
	Args: cobra.ExactArgs(2),
	RunE: withRegistry(func(cmd *cobra.Command, args []string, registry *jstorage.Registry) error {
		_, table, err := registry.Resolve(args[0], args[1])
		if err != nil {
			return err
		}
		mode, _ := cmd.Flags().GetInt("mode")
		if err := table.ResolveInconsistency(mode); err != nil {
			return err
		}
		fmt.Printf("table %q inconsistency resolved with mode %d\n", args[1], mode)
		return nil
	}),
}

func init() {
	tableCreateCmd.Flags().Int("cap", 0, "Shard capacity (0 uses the table's default)")
	tableCreateCmd.Flags().Bool("adaptive", false, "Make the table's idle shards eligible for unloading by the maintenance scheduler")
	tableCreateCmd.Flags().Bool("secure", false, "Reject updates that would create a dataType the record lacks (NoToken); inserts are not affected")

	tableResolveCmd.Flags().Int("mode", 0, "Resolution mode (0-3)")

	tableCmd.AddCommand(tableCreateCmd)
	tableCmd.AddCommand(tableDeleteCmd)
	tableCmd.AddCommand(tableOptimizeCmd)
	tableCmd.AddCommand(tableResolveCmd)
}
