package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/srg/beaconmon/internal/beacon"
)

// ErrInvalidLayout is returned when at least one layout fails to parse
var ErrInvalidLayout = errors.New("invalid beacon layout")

var layoutsCmd = &cobra.Command{
	Use:   "layouts [LAYOUT...]",
	Short: "List and validate beacon layouts",
	Long: `Lists the configured beacon layouts and checks that each one parses.
Layouts given as arguments are checked instead of the configured ones.`,
	Example: `  beaconmon layouts
  beaconmon layouts "m:2-3=beac,i:4-19,i:20-21,i:22-23,p:24-24,d:25-25"`,
	RunE: runLayouts,
}

func runLayouts(cmd *cobra.Command, args []string) error {
	exprs := args
	if len(exprs) == 0 {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		exprs = cfg.Engine.Layouts
	}
	cmd.SilenceUsage = true

	return writeLayouts(cmd.OutOrStdout(), exprs)
}

// writeLayouts prints one line per layout and fails if any is invalid
func writeLayouts(w io.Writer, exprs []string) error {
	invalid := 0
	for i, expr := range exprs {
		if _, err := beacon.ParseLayout(expr); err != nil {
			invalid++
			fmt.Fprintf(w, "%d  %-9s %s\n     %v\n", i+1, "invalid", expr, err)
			continue
		}
		fmt.Fprintf(w, "%d  %-9s %s\n", i+1, layoutName(expr), expr)
	}

	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d", ErrInvalidLayout, invalid, len(exprs))
	}
	return nil
}

func layoutName(expr string) string {
	switch expr {
	case beacon.IBeaconLayout:
		return "iBeacon"
	case beacon.AltBeaconLayout:
		return "AltBeacon"
	}
	return "custom"
}
