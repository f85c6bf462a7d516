// Package goble is the go-ble backed scanning engine. It scans in fixed
// cycles, decodes beacon frames with the configured layouts and turns the
// sightings into region transitions and ranging results.
package goble

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/beaconmon/internal/beacon"
	"github.com/srg/beaconmon/internal/engine"
	"github.com/srg/beaconmon/internal/groutine"
)

const defaultScanPeriod = 1100 * time.Millisecond

type track struct {
	region   beacon.Region
	state    beacon.RegionState
	lastSeen time.Time
}

type sighting struct {
	mu     sync.Mutex
	beacon beacon.Beacon
	rssi   int
	count  int
}

// Engine implements engine.Engine on top of a Scanner
type Engine struct {
	mu         sync.Mutex
	logger     *logrus.Logger
	newScanner func() (Scanner, error)
	now        func() time.Time

	scanner   Scanner
	cancel    context.CancelFunc
	session   uint64
	profile   engine.ScanProfile
	monitored map[string]*track
	ranged    map[string]beacon.Region
}

var _ engine.Engine = (*Engine)(nil)

// New creates an engine that opens the platform BLE device on first Start
func New(logger *logrus.Logger) *Engine {
	return NewWithScanner(nil, logger)
}

// NewWithScanner creates an engine scanning with s. A nil s opens the
// platform device on first Start.
func NewWithScanner(s Scanner, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Engine{
		logger:     logger,
		newScanner: NewScanner,
		now:        time.Now,
		monitored:  make(map[string]*track),
		ranged:     make(map[string]beacon.Region),
	}
	if s != nil {
		e.scanner = s
	}
	return e
}

// Start begins a new scanning session, replacing any running one.
// Regions must be pushed again after Start.
func (e *Engine) Start(opts engine.Options, h engine.Handler) error {
	if h == nil {
		return beacon.Errorf(beacon.CodeInvalidArgument, "engine handler is required")
	}
	if opts.ScanPeriod <= 0 {
		opts.ScanPeriod = defaultScanPeriod
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()

	if e.scanner == nil {
		s, err := e.newScanner()
		if err != nil {
			return err
		}
		e.scanner = s
	}

	e.session++
	e.profile = opts.Profile()
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.logger.WithFields(logrus.Fields{
		"session":     e.session,
		"scan_period": opts.ScanPeriod,
		"between":     opts.BetweenScanPeriod,
		"background":  opts.Background,
	}).Info("Beacon engine started")

	session, scanner := e.session, e.scanner
	groutine.Go(ctx, "beacon-scan", func(ctx context.Context) {
		e.run(ctx, session, scanner, opts, h)
	})
	return nil
}

// Stop cancels the session. It does not wait for an in-flight callback.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	return nil
}

// SetScanProfile switches the scan periods of the running session. The
// current cycle finishes with the old periods.
func (e *Engine) SetScanProfile(p engine.ScanProfile) error {
	if p.ScanPeriod <= 0 {
		p.ScanPeriod = defaultScanPeriod
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel == nil {
		return nil
	}
	e.profile = p
	e.logger.WithFields(logrus.Fields{
		"session":     e.session,
		"scan_period": p.ScanPeriod,
		"between":     p.BetweenScanPeriod,
		"background":  p.Background,
	}).Info("Beacon engine scan profile changed")
	return nil
}

// scanProfile returns the profile of session, or false once it has ended
func (e *Engine) scanProfile(session uint64) (engine.ScanProfile, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile, e.session == session
}

func (e *Engine) stopLocked() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.cancel = nil
	e.session++
	e.monitored = make(map[string]*track)
	e.ranged = make(map[string]beacon.Region)
	e.logger.Debug("Beacon engine stopped")
}

// Close stops scanning and releases the BLE device
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	if e.scanner == nil {
		return nil
	}
	err := e.scanner.Close()
	e.scanner = nil
	return err
}

func (e *Engine) StartMonitoring(r beacon.Region) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.monitored[r.Identifier] = &track{region: r}
	return nil
}

func (e *Engine) StopMonitoring(r beacon.Region) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.monitored, r.Identifier)
	return nil
}

func (e *Engine) StartRanging(r beacon.Region) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ranged[r.Identifier] = r
	return nil
}

func (e *Engine) StopRanging(r beacon.Region) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.ranged, r.Identifier)
	return nil
}

func (e *Engine) run(ctx context.Context, session uint64, scanner Scanner, opts engine.Options, h engine.Handler) {
	for {
		profile, ok := e.scanProfile(session)
		if !ok {
			return
		}

		seen := hashmap.New[string, *sighting]()
		scanCtx, cancel := context.WithTimeout(ctx, profile.ScanPeriod)
		err := scanner.Scan(scanCtx, true, func(adv engine.Advertisement) {
			e.observe(seen, adv, opts)
		})
		cancel()

		if ctx.Err() != nil {
			return
		}

		pause := profile.BetweenScanPeriod
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			e.logger.WithError(err).Warn("Beacon scan cycle failed")
			if pause <= 0 {
				pause = profile.ScanPeriod
			}
		} else {
			e.completeCycle(ctx, session, seen, opts, h)
		}

		if pause > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pause):
			}
		}
	}
}

// observe decodes one advertisement with the first matching layout
func (e *Engine) observe(seen *hashmap.Map[string, *sighting], adv engine.Advertisement, opts engine.Options) {
	b, ok := decode(adv, opts.Layouts)
	if !ok {
		return
	}
	if opts.Debug {
		e.logger.WithFields(logrus.Fields{
			"ids":     b.IDs,
			"address": b.BluetoothAddress,
			"rssi":    b.RSSI,
		}).Debug("Beacon sighted")
	}

	key := b.Key() + "|" + strings.ToLower(b.BluetoothAddress)
	s, _ := seen.GetOrInsert(key, &sighting{beacon: b})
	s.mu.Lock()
	s.rssi += b.RSSI
	s.count++
	s.mu.Unlock()
}

func decode(adv engine.Advertisement, layouts []*beacon.Layout) (beacon.Beacon, bool) {
	for _, l := range layouts {
		ids, txPower, ok := l.Decode(adv.ManufacturerData)
		if !ok {
			continue
		}
		return beacon.Beacon{
			IDs:              ids,
			RSSI:             adv.RSSI,
			TxPower:          txPower,
			BluetoothAddress: adv.Address,
		}, true
	}
	return beacon.Beacon{}, false
}

type callback func(engine.Handler)

// completeCycle updates region state from one cycle of sightings and fires
// the resulting callbacks outside the engine lock.
func (e *Engine) completeCycle(ctx context.Context, session uint64, seen *hashmap.Map[string, *sighting], opts engine.Options, h engine.Handler) {
	beacons := make([]beacon.Beacon, 0, seen.Len())
	seen.Range(func(_ string, s *sighting) bool {
		s.mu.Lock()
		b := s.beacon
		b.RSSI = s.rssi / s.count
		s.mu.Unlock()
		b.Distance = beacon.EstimateDistance(b.TxPower, float64(b.RSSI))
		beacons = append(beacons, b)
		return true
	})
	sort.Slice(beacons, func(i, j int) bool { return beacons[i].Key() < beacons[j].Key() })

	now := e.now()
	var calls []callback

	e.mu.Lock()
	if session != e.session {
		e.mu.Unlock()
		return
	}
	for _, t := range sortedTracks(e.monitored) {
		for _, b := range beacons {
			if t.region.Matches(b) {
				t.lastSeen = now
				break
			}
		}
		calls = append(calls, transition(t, now, opts.ExitTimeout)...)
	}
	for _, r := range sortedRegions(e.ranged) {
		calls = append(calls, ranging(r, beacons))
	}
	e.mu.Unlock()

	if opts.Debug {
		e.logger.WithFields(logrus.Fields{
			"beacons":   len(beacons),
			"callbacks": len(calls),
		}).Debug("Beacon scan cycle complete")
	}

	for _, call := range calls {
		if ctx.Err() != nil {
			return
		}
		call(h)
	}
}

// transition moves t to its state for this cycle. A region first found
// outside only reports its state.
func transition(t *track, now time.Time, exitTimeout time.Duration) []callback {
	inside := !t.lastSeen.IsZero() && now.Sub(t.lastSeen) <= exitTimeout
	r := t.region

	switch {
	case inside && t.state != beacon.StateInside:
		t.state = beacon.StateInside
		return []callback{
			func(h engine.Handler) { h.DidEnterRegion(r) },
			func(h engine.Handler) { h.DidDetermineState(r, beacon.StateInside) },
		}
	case !inside && t.state == beacon.StateInside:
		t.state = beacon.StateOutside
		return []callback{
			func(h engine.Handler) { h.DidExitRegion(r) },
			func(h engine.Handler) { h.DidDetermineState(r, beacon.StateOutside) },
		}
	case !inside && t.state == beacon.StateUnknown:
		t.state = beacon.StateOutside
		return []callback{
			func(h engine.Handler) { h.DidDetermineState(r, beacon.StateOutside) },
		}
	}
	return nil
}

func ranging(r beacon.Region, beacons []beacon.Beacon) callback {
	matched := make([]beacon.Beacon, 0)
	for _, b := range beacons {
		if r.Matches(b) {
			matched = append(matched, b)
		}
	}
	return func(h engine.Handler) { h.DidRangeBeacons(r, matched) }
}

func sortedTracks(m map[string]*track) []*track {
	out := make([]*track, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].region.Identifier < out[j].region.Identifier })
	return out
}

func sortedRegions(m map[string]beacon.Region) []beacon.Region {
	out := make([]beacon.Region, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}
