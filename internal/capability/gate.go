package capability

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/beaconmon/internal/beacon"
)

// Gate evaluates a Probe against a required permission tier
type Gate struct {
	probe  Probe
	logger *logrus.Logger
}

// NewGate creates a requirement gate over probe
func NewGate(probe Probe, logger *logrus.Logger) *Gate {
	if logger == nil {
		logger = logrus.New()
	}
	return &Gate{probe: probe, logger: logger}
}

// Probe returns the underlying capability probe
func (g *Gate) Probe() Probe {
	return g.probe
}

// Evaluate checks Bluetooth, then location, then the permission tier.
// The first failing check wins; later checks are not run.
func (g *Gate) Evaluate(required beacon.Tier) error {
	if !g.probe.BluetoothEnabled() {
		g.logger.WithField("required", required).Debug("Requirement gate: Bluetooth disabled")
		return beacon.ErrBluetoothDisabled
	}
	if !g.probe.LocationEnabled() {
		g.logger.WithField("required", required).Debug("Requirement gate: location disabled")
		return beacon.ErrLocationDisabled
	}
	if granted := g.probe.Permission(); !granted.Satisfies(required) {
		g.logger.WithFields(logrus.Fields{
			"required": required,
			"granted":  granted,
		}).Debug("Requirement gate: permission tier insufficient")
		return beacon.ErrPermissionDenied
	}
	return nil
}
