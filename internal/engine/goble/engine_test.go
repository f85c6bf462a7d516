package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	ble "github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/beaconmon/internal/beacon"
	"github.com/srg/beaconmon/internal/engine"
	"github.com/srg/beaconmon/internal/testutils"
)

const proximityUUID = "e2c56db5-dffb-48d2-b060-d0f5a71096e0"

// fakeScanner replays the current advertisements once per cycle
type fakeScanner struct {
	mu      sync.Mutex
	current []engine.Advertisement
	scans   int
	closed  int
	err     error
}

func (f *fakeScanner) Scan(ctx context.Context, _ bool, handler func(engine.Advertisement)) error {
	f.mu.Lock()
	f.scans++
	advs, err := append([]engine.Advertisement(nil), f.current...), f.err
	f.mu.Unlock()

	if err != nil {
		return err
	}
	for _, adv := range advs {
		handler(adv)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeScanner) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeScanner) set(advs ...engine.Advertisement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = advs
}

func (f *fakeScanner) Scans() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}

type recordingHandler struct {
	mu     sync.Mutex
	events []string
	ranges [][]beacon.Beacon
}

func (r *recordingHandler) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recordingHandler) DidEnterRegion(reg beacon.Region) { r.add("enter:" + reg.Identifier) }
func (r *recordingHandler) DidExitRegion(reg beacon.Region)  { r.add("exit:" + reg.Identifier) }
func (r *recordingHandler) DidDetermineState(reg beacon.Region, s beacon.RegionState) {
	r.add(fmt.Sprintf("state:%s:%s", reg.Identifier, s))
}
func (r *recordingHandler) DidRangeBeacons(reg beacon.Region, beacons []beacon.Beacon) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ranges = append(r.ranges, beacons)
}

func (r *recordingHandler) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingHandler) Ranges() [][]beacon.Beacon {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]beacon.Beacon(nil), r.ranges...)
}

type EngineSuite struct {
	suite.Suite
	scanner *fakeScanner
	engine  *Engine
	handler *recordingHandler
	opts    engine.Options
	region  beacon.Region
}

func (s *EngineSuite) SetupTest() {
	s.scanner = &fakeScanner{}
	s.engine = NewWithScanner(s.scanner, testutils.NewTestHelper(s.T()).Logger)
	s.handler = &recordingHandler{}
	s.opts = engine.Options{
		Layouts:     []*beacon.Layout{beacon.MustParseLayout(beacon.IBeaconLayout)},
		ScanPeriod:  10 * time.Millisecond,
		ExitTimeout: 40 * time.Millisecond,
		Debug:       true,
	}
	s.region = beacon.Region{Identifier: "lobby", IDs: []string{proximityUUID, "1"}}
}

func (s *EngineSuite) TearDownTest() {
	s.NoError(s.engine.Close())
}

func (s *EngineSuite) waitEvents(expected ...string) {
	s.Require().Eventually(func() bool {
		return len(s.handler.Events()) >= len(expected)
	}, time.Second, 5*time.Millisecond)
	s.Equal(expected, s.handler.Events()[:len(expected)])
}

func (s *EngineSuite) iBeacon(minor uint16) engine.Advertisement {
	return testutils.NewAdvertisementBuilder().IBeacon(proximityUUID, 1, minor, -59).Build()
}

func (s *EngineSuite) TestEnterThenExitAfterTimeout() {
	s.scanner.set(s.iBeacon(7))
	s.Require().NoError(s.engine.Start(s.opts, s.handler))
	s.Require().NoError(s.engine.StartMonitoring(s.region))

	s.waitEvents("enter:lobby", "state:lobby:inside")

	s.scanner.set()
	s.waitEvents("enter:lobby", "state:lobby:inside", "exit:lobby", "state:lobby:outside")
}

func (s *EngineSuite) TestUnseenRegionReportsOutsideOnce() {
	s.Require().NoError(s.engine.Start(s.opts, s.handler))
	s.Require().NoError(s.engine.StartMonitoring(s.region))

	s.waitEvents("state:lobby:outside")
	scans := s.scanner.Scans()
	s.Require().Eventually(func() bool { return s.scanner.Scans() > scans+2 }, time.Second, 5*time.Millisecond)
	s.Equal([]string{"state:lobby:outside"}, s.handler.Events())
}

func (s *EngineSuite) TestNonMatchingBeaconIsOutside() {
	other := testutils.NewAdvertisementBuilder().IBeacon(proximityUUID, 2, 7, -59).Build()
	s.scanner.set(other)
	s.Require().NoError(s.engine.Start(s.opts, s.handler))
	s.Require().NoError(s.engine.StartMonitoring(s.region))

	s.waitEvents("state:lobby:outside")
}

func (s *EngineSuite) TestRangingAveragesRSSIPerCycle() {
	b := testutils.NewAdvertisementBuilder().IBeacon(proximityUUID, 1, 7, -59)
	s.scanner.set(b.WithRSSI(-60).Build(), b.WithRSSI(-70).Build())
	s.Require().NoError(s.engine.Start(s.opts, s.handler))
	s.Require().NoError(s.engine.StartRanging(s.region))

	s.Require().Eventually(func() bool {
		for _, r := range s.handler.Ranges() {
			if len(r) == 1 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	var got beacon.Beacon
	for _, r := range s.handler.Ranges() {
		if len(r) == 1 {
			got = r[0]
			break
		}
	}
	s.Equal([]string{proximityUUID, "1", "7"}, got.IDs)
	s.Equal(-65, got.RSSI)
	s.Equal(-59, got.TxPower)
	s.Equal("AA:BB:CC:DD:EE:FF", got.BluetoothAddress)
	s.InDelta(beacon.EstimateDistance(-59, -65), got.Distance, 1e-9)
}

func (s *EngineSuite) TestRangingReportsEmptyCycles() {
	s.Require().NoError(s.engine.Start(s.opts, s.handler))
	s.Require().NoError(s.engine.StartRanging(s.region))

	s.Require().Eventually(func() bool { return len(s.handler.Ranges()) > 0 }, time.Second, 5*time.Millisecond)
	s.Empty(s.handler.Ranges()[0])
	s.NotNil(s.handler.Ranges()[0])
}

func (s *EngineSuite) TestStopSilencesCallbacks() {
	s.scanner.set(s.iBeacon(7))
	s.Require().NoError(s.engine.Start(s.opts, s.handler))
	s.Require().NoError(s.engine.StartRanging(s.region))
	s.Require().Eventually(func() bool { return len(s.handler.Ranges()) > 0 }, time.Second, 5*time.Millisecond)

	s.Require().NoError(s.engine.Stop())
	time.Sleep(30 * time.Millisecond)
	n := len(s.handler.Ranges())
	time.Sleep(50 * time.Millisecond)

	s.Equal(n, len(s.handler.Ranges()))
}

func (s *EngineSuite) TestStartForgetsRegionsOfPreviousSession() {
	s.scanner.set(s.iBeacon(7))
	s.Require().NoError(s.engine.Start(s.opts, s.handler))
	s.Require().NoError(s.engine.StartMonitoring(s.region))
	s.waitEvents("enter:lobby", "state:lobby:inside")

	fresh := &recordingHandler{}
	s.Require().NoError(s.engine.Start(s.opts, fresh))

	scans := s.scanner.Scans()
	s.Require().Eventually(func() bool { return s.scanner.Scans() > scans+2 }, time.Second, 5*time.Millisecond)
	s.Empty(fresh.Events())
}

func (s *EngineSuite) TestScanErrorsAreRetried() {
	s.scanner.mu.Lock()
	s.scanner.err = errors.New("hci busy")
	s.scanner.mu.Unlock()

	s.Require().NoError(s.engine.Start(s.opts, s.handler))
	s.Require().Eventually(func() bool { return s.scanner.Scans() > 2 }, time.Second, 5*time.Millisecond)
	s.Empty(s.handler.Events())
}

func (s *EngineSuite) TestScanProfileSwitchKeepsSession() {
	s.scanner.set(s.iBeacon(7))
	s.Require().NoError(s.engine.Start(s.opts, s.handler))
	s.Require().NoError(s.engine.StartMonitoring(s.region))
	s.waitEvents("enter:lobby", "state:lobby:inside")

	s.Require().NoError(s.engine.SetScanProfile(engine.ScanProfile{
		ScanPeriod:        10 * time.Millisecond,
		BetweenScanPeriod: time.Hour,
		Background:        true,
	}))

	// the next cycle starts the long pause
	time.Sleep(100 * time.Millisecond)
	scans := s.scanner.Scans()
	time.Sleep(100 * time.Millisecond)
	s.Equal(scans, s.scanner.Scans())

	// no re-entry: the region kept its inside state across the switch
	s.Equal([]string{"enter:lobby", "state:lobby:inside"}, s.handler.Events())
}

func (s *EngineSuite) TestScanProfileIgnoredWhenStopped() {
	s.NoError(s.engine.SetScanProfile(engine.ScanProfile{ScanPeriod: time.Second}))
	s.Zero(s.scanner.Scans())
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func TestStart_RequiresHandler(t *testing.T) {
	e := NewWithScanner(&fakeScanner{}, nil)
	err := e.Start(engine.Options{}, nil)
	assert.ErrorIs(t, err, beacon.ErrInvalidArgument)
}

func TestStart_BluetoothOff(t *testing.T) {
	saved := DeviceFactory
	t.Cleanup(func() { DeviceFactory = saved })
	DeviceFactory = func() (ble.Device, error) {
		return nil, errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")
	}

	e := New(nil)
	err := e.Start(engine.Options{}, &recordingHandler{})

	require.Error(t, err)
	assert.ErrorIs(t, err, beacon.ErrBluetoothDisabled)
	assert.NoError(t, e.Close())
}

func TestDecode(t *testing.T) {
	layouts := []*beacon.Layout{
		beacon.MustParseLayout(beacon.IBeaconLayout),
		beacon.MustParseLayout(beacon.AltBeaconLayout),
	}

	tests := []struct {
		name    string
		adv     engine.Advertisement
		ids     []string
		txPower int
		ok      bool
	}{
		{
			name:    "ibeacon",
			adv:     testutils.NewAdvertisementBuilder().IBeacon(proximityUUID, 258, 3, -59).Build(),
			ids:     []string{proximityUUID, "258", "3"},
			txPower: -59,
			ok:      true,
		},
		{
			name:    "altbeacon",
			adv:     testutils.NewAdvertisementBuilder().AltBeacon(proximityUUID, 1, 2, -65).Build(),
			ids:     []string{proximityUUID, "1", "2"},
			txPower: -65,
			ok:      true,
		},
		{
			name: "unrelated manufacturer data",
			adv:  testutils.NewAdvertisementBuilder().WithManufacturerData([]byte{0x4c, 0x00, 0x10, 0x05}).Build(),
		},
		{
			name: "no manufacturer data",
			adv:  testutils.NewAdvertisementBuilder().Build(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, ok := decode(tt.adv, layouts)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.ids, b.IDs)
			assert.Equal(t, tt.txPower, b.TxPower)
			assert.Equal(t, tt.adv.RSSI, b.RSSI)
		})
	}
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"darwin powered off", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), beacon.ErrBluetoothDisabled},
		{"turned off", errors.New("Bluetooth is turned off"), beacon.ErrBluetoothDisabled},
		{"linux hci", errors.New("can't init hci: no devices available"), beacon.ErrBluetoothDisabled},
		{"linux permission", errors.New("can't open socket: operation not permitted"), beacon.ErrPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.Contains(t, got.Error(), tt.err.Error())
		})
	}

	t.Run("passthrough", func(t *testing.T) {
		err := errors.New("something else")
		assert.Same(t, err, NormalizeError(err))
		assert.NoError(t, NormalizeError(nil))
	})
}
