package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"medalert/internal/model"
)

func newScanCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, true)
			if err != nil {
				return err
			}
			defer a.Close()

			var summary model.ScanSummary
			switch strings.ToLower(kind) {
			case "full":
				summary, err = a.scanner.RunFullScan(cmd.Context())
			case "low-stock", "low_stock":
				summary, err = a.scanner.CheckLowStockOnly(cmd.Context())
			case "expiry", "imminent-expiry":
				summary, err = a.scanner.CheckImminentExpiryOnly(cmd.Context())
			default:
				return fmt.Errorf("unknown scan kind %q (full, low-stock, expiry)", kind)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(summary); encErr != nil {
				return encErr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "full", "scan kind: full, low-stock or expiry")
	return cmd
}
