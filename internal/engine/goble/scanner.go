package goble

import (
	"context"

	ble "github.com/go-ble/ble"

	"github.com/srg/beaconmon/internal/engine"
)

// Scanner is the radio the engine scans with
type Scanner interface {
	Scan(ctx context.Context, allowDup bool, handler func(engine.Advertisement)) error
	Close() error
}

// bleScanner wraps ble.Device to implement the Scanner interface
type bleScanner struct {
	dev ble.Device
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the engine.Advertisement
func (s *bleScanner) Scan(ctx context.Context, allowDup bool, handler func(engine.Advertisement)) error {
	bleHandler := func(adv ble.Advertisement) {
		handler(toAdvertisement(adv))
	}
	return NormalizeError(s.dev.Scan(ctx, allowDup, bleHandler))
}

func (s *bleScanner) Close() error {
	return NormalizeError(s.dev.Stop())
}

// NewScanner opens the default BLE device for scanning
func NewScanner() (Scanner, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &bleScanner{dev: dev}, nil
}

func toAdvertisement(adv ble.Advertisement) engine.Advertisement {
	out := engine.Advertisement{
		RSSI:             adv.RSSI(),
		ManufacturerData: adv.ManufacturerData(),
	}
	if addr := adv.Addr(); addr != nil {
		out.Address = addr.String()
	}
	return out
}
