// Command guardctl inspects and maintains the guardian database offline.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"tg-guardian/internal/config"
	"tg-guardian/internal/logger"
	"tg-guardian/internal/storage"
)

// cli carries state shared by subcommands.
type cli struct {
	configPath string
	timeout    time.Duration
	cfg        *config.Config
	db         *gorm.DB
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "guardctl",
		Short:         "Maintain the tg-guardian database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			c.close()
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "configs/config.yaml", "Path to configuration file")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", time.Minute, "Operation timeout")

	root.AddCommand(c.migrateCmd(), c.statusCmd(), c.gbanCmd(), c.logsCmd(), c.purgeLogsCmd())
	return root
}

func (c *cli) open() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		return fmt.Errorf("database is not enabled in %s", c.configPath)
	}
	db, err := storage.Open(cfg.Database, cfg.Logger.Level)
	if err != nil {
		return err
	}
	c.cfg, c.db = cfg, db
	return nil
}

func (c *cli) close() {
	if c.db == nil {
		return
	}
	if sqlDB, err := c.db.DB(); err == nil {
		sqlDB.Close()
	}
	c.db = nil
}

func (c *cli) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), c.timeout)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error(err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
