package main

import (
	"errors"

	"github.com/srg/beaconmon/internal/beacon"
)

// Command-level errors
var (
	// ErrNoCapabilityProbe indicates neither BlueZ nor the configured policy could be used.
	ErrNoCapabilityProbe = errors.New("no capability probe available")
)

// FormatUserError turns a coded error into a message with a remedy.
// Errors without a code are printed as is.
func FormatUserError(err error) string {
	var e *beacon.Error
	if !errors.As(err, &e) {
		return err.Error()
	}

	switch e.Code {
	case beacon.CodeBluetoothDisabled:
		return "Bluetooth is turned off. Power on the adapter and try again."
	case beacon.CodeLocationDisabled:
		return "Location services are disabled. Enable them in the capability configuration."
	case beacon.CodePermissionDenied:
		return "Location permission is insufficient for this operation. Check capability.permission in the configuration."
	case beacon.CodeAlreadyPending:
		return "Another request is already waiting for an answer."
	}
	return err.Error()
}
