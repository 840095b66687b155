package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/warp/allocation-engine/api"
	"github.com/warp/allocation-engine/config"
	"github.com/warp/allocation-engine/lock"
	"github.com/warp/allocation-engine/logger"
	"github.com/warp/allocation-engine/store/memory"
	"github.com/warp/allocation-engine/store/sqlite"
)

var (
	cfgPath string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "allocator",
	Short:         "Allocation plan generation engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		logger.SetLevel(cfg.Logging.Level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (yaml or json)")
}

// Execute runs the CLI.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}

// openBackend opens the configured store. The returned func closes it.
func openBackend(c config.DatabaseConfig) (api.Backend, func() error, error) {
	switch c.Driver {
	case "memory":
		return memory.New(), func() error { return nil }, nil
	default:
		if c.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
				return nil, nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		store, err := sqlite.New(c.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open database %s: %w", c.Path, err)
		}
		return store, store.Close, nil
	}
}

// openLocker returns the merge locker of the configured backend. The returned
// func releases its connection.
func openLocker(ctx context.Context, c config.MergeConfig) (lock.Locker, func() error, error) {
	if c.LockBackend != "redis" {
		return lock.NewLocal(), func() error { return nil }, nil
	}
	locker, rdb, err := lock.Dial(ctx, c.RedisAddr, c.RedisPassword, "allocator:")
	if err != nil {
		return nil, nil, err
	}
	return locker, rdb.Close, nil
}

func closeWith(log logger.Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		log.Errorf("close %s: %v", what, err)
	}
}
