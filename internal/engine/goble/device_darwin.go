package goble

import (
	ble "github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// DeviceFactory creates the platform BLE device; tests may override it
var DeviceFactory = func() (ble.Device, error) {
	return darwin.NewDevice()
}
