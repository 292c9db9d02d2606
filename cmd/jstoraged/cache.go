package main

import (
	"fmt"

	"github.com/cuemby/jstorage/pkg/jstorage"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage ephemeral caches",
}

var cacheCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a cache bucket",
	Args:  cobra.ExactArgs(1),
	RunE: withRegistry(func(cmd *cobra.Command, args []string, registry *jstorage.Registry) error {
		bucket, err := registry.CreateCache(args[0])
		if err != nil {
			return err
		}
		adaptive, _ := cmd.Flags().GetBool("adaptive")
		bucket.SetAdaptiveLoad(adaptive)
		fmt.Printf("cache %q created\n", args[0])
		return nil
	}),
}

var cacheDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a cache bucket",
	Args:  cobra.ExactArgs(1),
	RunE: withRegistry(func(cmd *cobra.Command, args []string, registry *jstorage.Registry) error {
		if err := registry.DeleteCache(args[0]); err != nil {
			return err
		}
		fmt.Printf("cache %q deleted\n", args[0])
		return nil
	}),
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cache buckets",
	Args:  cobra.NoArgs,
	RunE: withRegistry(func(cmd *cobra.Command, args []string, registry *jstorage.Registry) error {
		for _, bucket := range registry.Caches() {
			fmt.Printf("%s (%d entries)\n", bucket.Name, bucket.Count())
		}
		return nil
	}),
}

func init() {
	cacheCreateCmd.Flags().Bool("adaptive", false, "Set the bucket's adaptive-load flag (recorded in the cache manifest)")

	cacheCmd.AddCommand(cacheCreateCmd)
	cacheCmd.AddCommand(cacheDeleteCmd)
	cacheCmd.AddCommand(cacheListCmd)
}
