package capability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/beaconmon/internal/beacon"
	"github.com/srg/beaconmon/internal/groutine"
	"github.com/srg/beaconmon/pkg/config"
)

func TestGate_Evaluate(t *testing.T) {
	tests := []struct {
		name      string
		bluetooth bool
		location  bool
		tier      beacon.Tier
		required  beacon.Tier
		want      error
	}{
		{name: "all satisfied", bluetooth: true, location: true, tier: beacon.TierAlways, required: beacon.TierAlways},
		{name: "always covers whileInUse", bluetooth: true, location: true, tier: beacon.TierAlways, required: beacon.TierWhileInUse},
		{name: "whileInUse is enough in foreground", bluetooth: true, location: true, tier: beacon.TierWhileInUse, required: beacon.TierWhileInUse},
		{name: "whileInUse is not enough in background", bluetooth: true, location: true, tier: beacon.TierWhileInUse, required: beacon.TierAlways, want: beacon.ErrPermissionDenied},
		{name: "denied", bluetooth: true, location: true, tier: beacon.TierDenied, required: beacon.TierWhileInUse, want: beacon.ErrPermissionDenied},
		{name: "bluetooth off wins over location off", bluetooth: false, location: false, tier: beacon.TierDenied, required: beacon.TierAlways, want: beacon.ErrBluetoothDisabled},
		{name: "location off wins over permission", bluetooth: true, location: false, tier: beacon.TierDenied, required: beacon.TierAlways, want: beacon.ErrLocationDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := NewPolicyProbe(PolicyOptions{Bluetooth: tt.bluetooth, Location: tt.location, Tier: tt.tier})
			gate := NewGate(probe, nil)

			err := gate.Evaluate(tt.required)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.want.(*beacon.Error).Code, beacon.CodeOf(err))
		})
	}
}

func TestPolicyProbe_RequestPermission(t *testing.T) {
	t.Run("grants configured tier and notifies", func(t *testing.T) {
		probe := NewPolicyProbe(PolicyOptions{Tier: beacon.TierDenied, GrantOnRequest: beacon.TierWhileInUse})
		var calls atomic.Int32
		stop := probe.Watch(func() { calls.Add(1) })
		defer stop()

		granted, err := probe.RequestPermission(context.Background())

		require.NoError(t, err)
		assert.True(t, granted)
		assert.Equal(t, beacon.TierWhileInUse, probe.Permission())
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("never downgrades", func(t *testing.T) {
		probe := NewPolicyProbe(PolicyOptions{Tier: beacon.TierAlways, GrantOnRequest: beacon.TierWhileInUse})

		granted, err := probe.RequestPermission(context.Background())

		require.NoError(t, err)
		assert.True(t, granted)
		assert.Equal(t, beacon.TierAlways, probe.Permission())
	})

	t.Run("denied grant", func(t *testing.T) {
		probe := NewPolicyProbe(PolicyOptions{Tier: beacon.TierDenied, GrantOnRequest: beacon.TierDenied})

		granted, err := probe.RequestPermission(context.Background())

		require.NoError(t, err)
		assert.False(t, granted)
	})

	t.Run("prompt error propagates", func(t *testing.T) {
		boom := errors.New("prompt closed")
		probe := NewPolicyProbe(PolicyOptions{Prompt: func(ctx context.Context) (beacon.Tier, error) {
			return beacon.TierDenied, boom
		}})

		_, err := probe.RequestPermission(context.Background())
		assert.ErrorIs(t, err, boom)
	})
}

func TestPolicyProbe_Setters(t *testing.T) {
	probe := NewPolicyProbe(PolicyOptions{Bluetooth: true, Location: true, Tier: beacon.TierAlways})
	var calls atomic.Int32
	stop := probe.Watch(func() { calls.Add(1) })

	probe.SetBluetooth(true) // unchanged, no notification
	probe.SetBluetooth(false)
	probe.SetLocation(false)
	probe.SetPermission(beacon.TierWhileInUse)

	assert.False(t, probe.BluetoothEnabled())
	assert.False(t, probe.LocationEnabled())
	assert.Equal(t, beacon.TierWhileInUse, probe.Permission())
	assert.Equal(t, int32(3), calls.Load())

	stop()
	probe.SetBluetooth(true)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGuard_SecondRequestWhilePending(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	probe := NewPolicyProbe(PolicyOptions{Prompt: func(ctx context.Context) (beacon.Tier, error) {
		close(entered)
		<-release
		return beacon.TierAlways, nil
	}})
	guard := NewGuard(probe)

	type result struct {
		granted bool
		err     error
	}
	first := make(chan result, 1)
	go func() {
		granted, err := guard.RequestPermission(context.Background())
		first <- result{granted, err}
	}()
	<-entered

	_, err := guard.RequestPermission(context.Background())
	assert.ErrorIs(t, err, beacon.ErrAlreadyPending)

	close(release)
	select {
	case r := <-first:
		require.NoError(t, r.err)
		assert.True(t, r.granted)
	case <-time.After(time.Second):
		t.Fatal("first request never resolved")
	}

	// Resolved exactly once; a new request is admitted afterwards.
	granted, err := guard.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestGuard_BluetoothSettings(t *testing.T) {
	guard := NewGuard(NewPolicyProbe(PolicyOptions{Bluetooth: true}))

	on, err := guard.OpenBluetoothSettings(context.Background())

	require.NoError(t, err)
	assert.True(t, on)
}

func TestGuard_WatchForwards(t *testing.T) {
	probe := NewPolicyProbe(PolicyOptions{})
	guard := NewGuard(probe)
	var calls atomic.Int32
	stop := guard.Watch(func() { calls.Add(1) })
	defer stop()

	probe.SetLocation(true)

	assert.Equal(t, int32(1), calls.Load())
}

func TestDetect(t *testing.T) {
	orig := BlueZFactory
	t.Cleanup(func() { BlueZFactory = orig })

	cfg := config.DefaultConfig().Capability
	logger := logrus.New()

	t.Run("policy mode never touches BlueZ", func(t *testing.T) {
		BlueZFactory = func(string, *PolicyProbe, *logrus.Logger) (Probe, error) {
			t.Fatal("BlueZ factory called in policy mode")
			return nil, nil
		}
		c := cfg
		c.Mode = "policy"
		c.Permission = "whileInUse"

		probe, err := Detect(c, logger)

		require.NoError(t, err)
		assert.IsType(t, &PolicyProbe{}, probe)
		assert.Equal(t, beacon.TierWhileInUse, probe.Permission())
	})

	t.Run("auto falls back to policy", func(t *testing.T) {
		BlueZFactory = func(string, *PolicyProbe, *logrus.Logger) (Probe, error) {
			return nil, errors.New("no system bus")
		}

		probe, err := Detect(cfg, logger)

		require.NoError(t, err)
		assert.IsType(t, &PolicyProbe{}, probe)
	})

	t.Run("bluez mode surfaces errors", func(t *testing.T) {
		BlueZFactory = func(string, *PolicyProbe, *logrus.Logger) (Probe, error) {
			return nil, errors.New("no system bus")
		}
		c := cfg
		c.Mode = "bluez"

		_, err := Detect(c, logger)
		assert.Error(t, err)
	})

	t.Run("unknown tier never grants", func(t *testing.T) {
		assert.Equal(t, beacon.TierDenied, tierOrDenied("sometimes"))
	})
}

func TestBlueZProbe_WatchSignals(t *testing.T) {
	p := &BlueZProbe{
		adapter: bluezAdapterPath,
		logger:  logrus.New(),
		signals: make(chan *dbus.Signal, 4),
	}
	var calls atomic.Int32
	p.bluetooth.add(func() { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := groutine.Start(ctx, "bluez-signals", p.watchSignals)

	changed := func(path dbus.ObjectPath, iface string, props map[string]dbus.Variant) *dbus.Signal {
		return &dbus.Signal{Path: path, Name: propsSignal, Body: []interface{}{iface, props, []string{}}}
	}
	p.signals <- changed("/org/bluez/hci1", adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(false)})
	p.signals <- changed(bluezAdapterPath, "org.bluez.Device1", map[string]dbus.Variant{"Powered": dbus.MakeVariant(false)})
	p.signals <- changed(bluezAdapterPath, adapterIface, map[string]dbus.Variant{"Discovering": dbus.MakeVariant(true)})
	p.signals <- changed(bluezAdapterPath, adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(false)})

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// the watcher ends on cancel even though the signal channel stays open
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("signal watcher still running after stop")
	}
	assert.Equal(t, int32(1), calls.Load())
}
