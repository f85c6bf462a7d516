package capability

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/beaconmon/internal/groutine"
)

const (
	bluezBusName     = "org.bluez"
	bluezAdapterPath = "/org/bluez/hci0"
	adapterIface     = "org.bluez.Adapter1"
	propsIface       = "org.freedesktop.DBus.Properties"
	propsSignal      = "org.freedesktop.DBus.Properties.PropertiesChanged"
)

// BlueZProbe reads Bluetooth power from BlueZ over the system bus. Location
// and permission have no BlueZ counterpart and come from the embedded policy.
type BlueZProbe struct {
	*PolicyProbe

	conn    *dbus.Conn
	adapter dbus.ObjectPath
	logger  *logrus.Logger

	watchOnce   sync.Once
	signals     chan *dbus.Signal
	stopSignals context.CancelFunc
	signalsDone <-chan struct{}
	bluetooth   listeners
}

// NewBlueZProbe connects to the system bus and verifies BlueZ is present.
// An empty adapter selects hci0.
func NewBlueZProbe(adapter string, policy *PolicyProbe, logger *logrus.Logger) (*BlueZProbe, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if adapter == "" {
		adapter = bluezAdapterPath
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == bluezBusName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("%s not found on system bus", bluezBusName)
	}

	return &BlueZProbe{
		PolicyProbe: policy,
		conn:        conn,
		adapter:     dbus.ObjectPath(adapter),
		logger:      logger,
	}, nil
}

// BluetoothEnabled reports the adapter's Powered property; read errors count as off.
func (p *BlueZProbe) BluetoothEnabled() bool {
	powered, err := p.powered()
	if err != nil {
		p.logger.WithError(err).WithField("adapter", p.adapter).Debug("Failed to read adapter power state")
		return false
	}
	return powered
}

// OpenBluetoothSettings powers the adapter on and reports the resulting state
func (p *BlueZProbe) OpenBluetoothSettings(ctx context.Context) (bool, error) {
	obj := p.conn.Object(bluezBusName, p.adapter)
	call := obj.CallWithContext(ctx, propsIface+".Set", 0, adapterIface, "Powered", dbus.MakeVariant(true))
	if call.Err != nil {
		p.logger.WithError(call.Err).Warn("Failed to power on Bluetooth adapter")
	}
	return p.BluetoothEnabled(), nil
}

// Watch reports adapter power changes as well as policy changes
func (p *BlueZProbe) Watch(fn func()) func() {
	p.watchOnce.Do(p.subscribe)

	stopBT := p.bluetooth.add(fn)
	stopPolicy := p.PolicyProbe.Watch(fn)
	return func() {
		stopBT()
		stopPolicy()
	}
}

// Close stops the signal watcher and releases the bus connection
func (p *BlueZProbe) Close() error {
	// no later Watch may subscribe
	p.watchOnce.Do(func() {})
	if p.signals != nil {
		if err := p.conn.RemoveMatchSignal(p.adapterMatch()...); err != nil {
			p.logger.WithError(err).Debug("Failed to remove adapter signal match")
		}
		p.conn.RemoveSignal(p.signals)
		p.stopSignals()
		<-p.signalsDone
	}
	return p.conn.Close()
}

func (p *BlueZProbe) adapterMatch() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchObjectPath(p.adapter),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	}
}

func (p *BlueZProbe) powered() (bool, error) {
	var v dbus.Variant
	obj := p.conn.Object(bluezBusName, p.adapter)
	if err := obj.Call(propsIface+".Get", 0, adapterIface, "Powered").Store(&v); err != nil {
		return false, err
	}
	on, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property Powered is %T, not bool", v.Value())
	}
	return on, nil
}

func (p *BlueZProbe) subscribe() {
	if err := p.conn.AddMatchSignal(p.adapterMatch()...); err != nil {
		p.logger.WithError(err).WithField("adapter", p.adapter).Warn("Failed to watch adapter power changes")
	}
	p.signals = make(chan *dbus.Signal, 16)
	p.conn.Signal(p.signals)

	var ctx context.Context
	ctx, p.stopSignals = context.WithCancel(context.Background())
	p.signalsDone = groutine.Start(ctx, "bluez-signals", p.watchSignals)
}

func (p *BlueZProbe) watchSignals(ctx context.Context) {
	for {
		var sig *dbus.Signal
		select {
		case <-ctx.Done():
			return
		case s, ok := <-p.signals:
			if !ok {
				return
			}
			sig = s
		}
		if sig.Name != propsSignal || sig.Path != p.adapter || len(sig.Body) < 2 {
			continue
		}
		// Body: [interface_name, changed_props, invalidated]
		iface, ok := sig.Body[0].(string)
		if !ok || iface != adapterIface {
			continue
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			continue
		}
		if v, ok := changed["Powered"]; ok {
			p.logger.WithField("powered", v.Value()).Info("Bluetooth adapter power changed")
			p.bluetooth.notify()
		}
	}
}

var _ Probe = (*BlueZProbe)(nil)
