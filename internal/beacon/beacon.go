package beacon

import (
	"math"
	"strings"
)

// Beacon is a single ranged beacon sighting
type Beacon struct {
	IDs              []string `json:"ids"`
	RSSI             int      `json:"rssi"`
	Distance         float64  `json:"distance"`
	TxPower          int      `json:"txPower"`
	BluetoothAddress string   `json:"bluetoothAddress,omitempty"`
}

// Key identifies a physical beacon across sightings
func (b Beacon) Key() string {
	return strings.ToLower(strings.Join(b.IDs, "/"))
}

// Curve-fitted coefficients for a Nexus 4 class receiver; the same defaults the
// Android beacon library ships with.
const (
	distanceCoefficient1 = 0.89976
	distanceCoefficient2 = 7.7095
	distanceCoefficient3 = 0.111
)

// EstimateDistance estimates metres to the beacon from the measured RSSI and the
// calibrated one-metre power. Returns -1 when no estimate is possible.
func EstimateDistance(txPower int, rssi float64) float64 {
	if rssi == 0 || txPower == 0 {
		return -1
	}

	ratio := rssi / float64(txPower)
	if ratio < 1.0 {
		return math.Pow(ratio, 10)
	}
	return distanceCoefficient1*math.Pow(ratio, distanceCoefficient2) + distanceCoefficient3
}
