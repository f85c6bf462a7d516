package capability

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/beaconmon/internal/beacon"
	"github.com/srg/beaconmon/pkg/config"
)

// BlueZFactory opens the BlueZ probe; tests replace it to avoid the system bus.
var BlueZFactory = func(adapter string, policy *PolicyProbe, logger *logrus.Logger) (Probe, error) {
	return NewBlueZProbe(adapter, policy, logger)
}

// Detect builds the probe selected by cfg. In auto mode BlueZ is used when
// reachable, otherwise the configured policy alone.
func Detect(cfg config.CapabilityConfig, logger *logrus.Logger) (Probe, error) {
	if logger == nil {
		logger = logrus.New()
	}

	policy := NewPolicyProbe(PolicyOptions{
		Bluetooth:      cfg.Bluetooth,
		Location:       cfg.Location,
		Tier:           tierOrDenied(cfg.Permission),
		GrantOnRequest: tierOrDenied(cfg.GrantOnRequest),
	})

	switch cfg.Mode {
	case "policy":
		return policy, nil
	case "bluez":
		return BlueZFactory(cfg.Adapter, policy, logger)
	}

	probe, err := BlueZFactory(cfg.Adapter, policy, logger)
	if err != nil {
		logger.WithError(err).Info("BlueZ unavailable, using configured capability policy")
		return policy, nil
	}
	return probe, nil
}

// tierOrDenied keeps a bad configured tier from granting access
func tierOrDenied(name string) beacon.Tier {
	t, err := beacon.ParseTier(name)
	if err != nil {
		return beacon.TierDenied
	}
	return t
}
