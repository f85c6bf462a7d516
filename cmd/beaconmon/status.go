package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/beaconmon/internal/beacon"
	"github.com/srg/beaconmon/internal/capability"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Bluetooth, location and permission status",
	Long: `Evaluates the configured capability probe and reports whether foreground
and background monitoring could start right now.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg, "")
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	probe, err := capability.Detect(cfg.Capability, logger)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoCapabilityProbe, err)
	}
	if c, ok := probe.(io.Closer); ok {
		defer c.Close()
	}

	out := cmd.OutOrStdout()
	colorize := false
	if f, ok := out.(*os.File); ok {
		colorize = term.IsTerminal(int(f.Fd()))
	}
	writeStatus(out, capability.NewGate(probe, logger), colorize)
	return nil
}

// writeStatus prints the probe readings and the gate verdict per tier
func writeStatus(w io.Writer, gate *capability.Gate, colorize bool) {
	good := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	label := color.New(color.Bold)
	for _, c := range []*color.Color{good, bad, label} {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	onOff := func(on bool) string {
		if on {
			return good.Sprint("on")
		}
		return bad.Sprint("off")
	}

	probe := gate.Probe()
	label.Fprintln(w, "Capabilities")
	fmt.Fprintf(w, "  %-22s %s\n", "Bluetooth:", onOff(probe.BluetoothEnabled()))
	fmt.Fprintf(w, "  %-22s %s\n", "Location services:", onOff(probe.LocationEnabled()))

	tier := probe.Permission()
	tierText := good.Sprint(tier)
	if tier == beacon.TierDenied {
		tierText = bad.Sprint(tier)
	}
	fmt.Fprintf(w, "  %-22s %s\n", "Location permission:", tierText)

	label.Fprintln(w, "Monitoring")
	for _, row := range []struct {
		name string
		tier beacon.Tier
	}{
		{"Foreground:", beacon.TierWhileInUse},
		{"Background:", beacon.TierAlways},
	} {
		verdict := good.Sprint("ready")
		if err := gate.Evaluate(row.tier); err != nil {
			verdict = bad.Sprint(beacon.CodeOf(err))
		}
		fmt.Fprintf(w, "  %-22s %s\n", row.name, verdict)
	}
}
