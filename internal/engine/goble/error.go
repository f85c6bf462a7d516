package goble

import (
	"fmt"
	"strings"

	"github.com/srg/beaconmon/internal/beacon"
)

// NormalizeError maps known go-ble error strings to coded beacon errors.
// The original error stays wrapped.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", beacon.ErrBluetoothDisabled, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", beacon.ErrBluetoothDisabled, err)
	case containsIgnoreCase(msg, "can't init hci"):
		return fmt.Errorf("%w: %v", beacon.ErrBluetoothDisabled, err)
	case containsIgnoreCase(msg, "operation not permitted"):
		return fmt.Errorf("%w: %v", beacon.ErrPermissionDenied, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
