package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"medalert/internal/config"
)

func newCheckConfigCmd() *cobra.Command {
	var settings string
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the service config and threshold settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolvePath(configPath))
			if err != nil {
				return fmt.Errorf("config %s: %w", configPath, err)
			}
			if settings == "" {
				settings = cfg.Settings.Path
			}
			t, err := config.LoadThresholds(config.ResolvePath(settings))
			if err != nil {
				return fmt.Errorf("settings %s: %w", settings, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %s\n", configPath)
			fmt.Fprintf(out, "settings ok: %s\n", settings)
			fmt.Fprintf(out, "  expiry days: critical=%d warning=%d upcoming=%d\n", t.Expiry.Critical, t.Expiry.Warning, t.Expiry.Upcoming)
			fmt.Fprintf(out, "  intervals: quick=%s regular=%s deep=%s\n", t.Intervals.Quick(), t.Intervals.Regular(), t.Intervals.Deep())
			return nil
		},
	}
	cmd.Flags().StringVar(&settings, "settings", "", "threshold settings file (json, yaml or toml); defaults to settings.path from the config")
	return cmd
}
