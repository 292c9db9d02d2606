package main

import (
	"fmt"

	"github.com/cuemby/jstorage/pkg/config"
	"github.com/cuemby/jstorage/pkg/crypt"
	"github.com/cuemby/jstorage/pkg/jstorage"
	"github.com/cuemby/jstorage/pkg/notify"
	"github.com/spf13/cobra"
)

// openRegistry restores a Registry from --data-dir for one-shot
// administrative commands (database/table/cache management). Unlike
// "serve" it never starts the notification bus or the maintenance
// scheduler, since a single command invocation has no need for either.
func openRegistry(cmd *cobra.Command) (*jstorage.Registry, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	ct, err := loadCryptTool(cfg.DataDir)
	if err != nil {
		ct = crypt.New()
	}

	bus := notify.New()
	registry := jstorage.NewRegistry(cfg.DataDir, config.SystemClock{}, config.SystemRandom{}, bus, ct)
	if err := registry.Setup(); err != nil {
		return nil, fmt.Errorf("registry setup: %w", err)
	}
	return registry, nil
}
