//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	ble "github.com/go-ble/ble"

	"github.com/srg/beaconmon/internal/beacon"
)

// DeviceFactory creates the platform BLE device; tests may override it
var DeviceFactory = func() (ble.Device, error) {
	return nil, fmt.Errorf("%w: no BLE backend for %s", beacon.ErrBluetoothDisabled, runtime.GOOS)
}
