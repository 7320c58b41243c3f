package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vango-dev/worldsync/internal/config"
	wserrors "github.com/vango-dev/worldsync/internal/errors"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage worldsync.yaml",
	}
	cmd.AddCommand(configInitCmd(), configCheckCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var (
		dir   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default worldsync.yaml",
		Long: `Write a worldsync.yaml holding every setting at its default value.

Examples:
  worldsyncd config init
  worldsyncd config init --dir deploy --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(dir, config.ConfigFileName)
			if _, err := os.Stat(path); err == nil && !force {
				return wserrors.Newf(wserrors.CategoryConfig, "%s already exists", path).
					WithSuggestion("Pass --force to overwrite it.")
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
			if err := config.New().SaveTo(path); err != nil {
				return err
			}
			success("Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Directory to write the config into")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config")

	return cmd
}

func configCheckCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}
			success("%s is valid", cfg.Path())
			info("listen:    %s (%s)", cfg.Listen, cfg.Transport)
			info("tick rate: %d Hz (%s per tick)", cfg.TickRate, cfg.TickInterval())
			info("admin:     %s", orNone(cfg.Admin.Listen))
			info("ban list:  %s", orNone(cfg.Banlist.Path))
			if cfg.Replay.Enabled {
				dest := cfg.Replay.Dir
				if cfg.Replay.S3.Bucket != "" {
					dest = fmt.Sprintf("s3://%s/%s", cfg.Replay.S3.Bucket, cfg.Replay.S3.Prefix)
				}
				info("replay:    %s", dest)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", config.ConfigFileName, "Config file to check")

	return cmd
}

func orNone(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}
