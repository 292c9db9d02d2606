package main

import (
	"fmt"

	"github.com/cuemby/jstorage/pkg/jstorage"
	"github.com/spf13/cobra"
)

var databaseCmd = &cobra.Command{
	Use:   "database",
	Short: "Manage databases",
}

var databaseCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a database",
	Args:  cobra.ExactArgs(1),
	RunE: withRegistry(func(cmd *cobra.Command, args []string, registry *jstorage.Registry) error {
		if _, err := registry.CreateDatabase(args[0]); err != nil {
			return err
		}
		fmt.Printf("database %q created\n", args[0])
		return nil
	}),
}

var databaseDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a database and every table it contains",
	Args:  cobra.ExactArgs(1),
	RunE: withRegistry(func(cmd *cobra.Command, args []string, registry *jstorage.Registry) error {
		if err := registry.DeleteDatabase(args[0]); err != nil {
			return err
		}
		fmt.Printf("database %q deleted\n", args[0])
		return nil
	}),
}

var databaseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List databases",
	Args:  cobra.NoArgs,
	RunE: withRegistry(func(cmd *cobra.Command, args []string, registry *jstorage.Registry) error {
		for _, db := range registry.Databases() {
			fmt.Println(db.Name)
		}
		return nil
	}),
}

var databaseEncryptCmd = &cobra.Command{
	Use:   "encrypt NAME",
	Short: "Enable or disable at-rest encryption for a database",
	Long: `Encrypt flips a database's encryption flag. The
change is lazy: existing shard files keep their current encoding until
they are next saved (on unload or snapshot); only newly written shards
pick up the new setting immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: withRegistry(func(cmd *cobra.Command, args []string, registry *jstorage.Registry) error {
		enable, _ := cmd.Flags().GetBool("enable")
		disable, _ := cmd.Flags().GetBool("disable")
		if enable == disable {
			return fmt.Errorf("specify exactly one of --enable or --disable")
		}
		db, err := registry.GetDatabase(args[0])
		if err != nil {
			return err
		}
		if err := db.SetEncryption(enable); err != nil {
			return err
		}
		fmt.Printf("database %q encryption set to %v\n", args[0], enable)
		return nil
	}),
}

func init() {
	databaseEncryptCmd.Flags().Bool("enable", false, "Enable encryption")
	databaseEncryptCmd.Flags().Bool("disable", false, "Disable encryption")

	databaseCmd.AddCommand(databaseCreateCmd)
	databaseCmd.AddCommand(databaseDeleteCmd)
	databaseCmd.AddCommand(databaseListCmd)
	databaseCmd.AddCommand(databaseEncryptCmd)
}

// withRegistry restores the Registry from --data-dir, runs fn against it,
// and always calls Shutdown afterward so administrative commands leave
// manifests consistent the same way "serve" does on a clean exit.
func withRegistry(fn func(cmd *cobra.Command, args []string, registry *jstorage.Registry) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		registry, err := openRegistry(cmd)
		if err != nil {
			return err
		}
		defer registry.Shutdown()
		return fn(cmd, args, registry)
	}
}
