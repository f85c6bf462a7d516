// Package engine defines the scanning engine the monitor drives. Concrete
// engines detect region transitions and range beacons; the monitor owns
// demand, regions and delivery.
package engine

import (
	"fmt"
	"time"

	"github.com/srg/beaconmon/internal/beacon"
	"github.com/srg/beaconmon/pkg/config"
)

// Handler receives engine callbacks. Calls arrive on the engine's goroutine.
type Handler interface {
	DidEnterRegion(r beacon.Region)
	DidExitRegion(r beacon.Region)
	DidDetermineState(r beacon.Region, s beacon.RegionState)
	DidRangeBeacons(r beacon.Region, beacons []beacon.Beacon)
}

// Engine is a beacon scanning engine.
//
// Start reconfigures the engine and begins scanning; Stop cancels scanning
// without waiting for an in-flight callback to return. SetScanProfile changes
// the scan periods of a running session from its next cycle on, keeping the
// handler and region state.
type Engine interface {
	Start(opts Options, h Handler) error
	Stop() error
	SetScanProfile(p ScanProfile) error

	StartMonitoring(r beacon.Region) error
	StopMonitoring(r beacon.Region) error
	StartRanging(r beacon.Region) error
	StopRanging(r beacon.Region) error
}

// Options configure one bound session of the engine
type Options struct {
	Layouts           []*beacon.Layout
	ScanPeriod        time.Duration
	BetweenScanPeriod time.Duration
	ExitTimeout       time.Duration
	Background        bool
	Debug             bool
}

// ScanProfile is the scan cadence of a session
type ScanProfile struct {
	ScanPeriod        time.Duration
	BetweenScanPeriod time.Duration
	Background        bool
}

// Profile returns the scan cadence part of o
func (o Options) Profile() ScanProfile {
	return ScanProfile{
		ScanPeriod:        o.ScanPeriod,
		BetweenScanPeriod: o.BetweenScanPeriod,
		Background:        o.Background,
	}
}

// ProfileFromConfig picks the foreground or background scan periods
func ProfileFromConfig(cfg config.EngineConfig, background bool) ScanProfile {
	if background {
		return ScanProfile{
			ScanPeriod:        cfg.BackgroundScanPeriod,
			BetweenScanPeriod: cfg.BackgroundBetweenScanPeriod,
			Background:        true,
		}
	}
	return ScanProfile{
		ScanPeriod:        cfg.ForegroundScanPeriod,
		BetweenScanPeriod: cfg.ForegroundBetweenScanPeriod,
	}
}

// OptionsFromConfig builds Options for the foreground or background scan profile
func OptionsFromConfig(cfg config.EngineConfig, background, debug bool) (Options, error) {
	p := ProfileFromConfig(cfg, background)
	opts := Options{
		ScanPeriod:        p.ScanPeriod,
		BetweenScanPeriod: p.BetweenScanPeriod,
		ExitTimeout:       cfg.ExitTimeout,
		Background:        p.Background,
		Debug:             debug,
	}

	for _, expr := range cfg.Layouts {
		l, err := beacon.ParseLayout(expr)
		if err != nil {
			return Options{}, fmt.Errorf("engine layout: %w", err)
		}
		opts.Layouts = append(opts.Layouts, l)
	}
	return opts, nil
}

// Advertisement is the part of a BLE advertisement beacon decoding needs
type Advertisement struct {
	Address          string
	RSSI             int
	ManufacturerData []byte
}
