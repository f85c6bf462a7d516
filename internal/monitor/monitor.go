// Package monitor binds listener demand and registered regions to the
// scanning engine.
//
// A single mutex serializes every demand change, region change, bind, unbind
// and engine callback dispatch. Engine callbacks are stamped with the
// generation of the bind that produced them; callbacks from an earlier bind,
// or arriving while unbound, are dropped.
package monitor

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/beaconmon/internal/beacon"
	"github.com/srg/beaconmon/internal/capability"
	"github.com/srg/beaconmon/internal/engine"
	"github.com/srg/beaconmon/internal/notify"
	"github.com/srg/beaconmon/internal/region"
	"github.com/srg/beaconmon/internal/store"
	"github.com/srg/beaconmon/pkg/config"
)

// BindingState is whether the engine is running on behalf of the monitor
type BindingState int

const (
	Unbound BindingState = iota
	Bound
)

func (s BindingState) String() string {
	if s == Bound {
		return "bound"
	}
	return "unbound"
}

// Subscriber receives accepted engine events in dispatch order.
// It must not call back into the Monitor synchronously.
type Subscriber interface {
	OnMonitoring(e beacon.MonitoringEvent)
	OnRanging(r beacon.RangingResult)
}

// BackgroundSink receives monitoring events while background monitoring is
// enabled. It must not call back into the Monitor.
type BackgroundSink interface {
	OnMonitoring(e beacon.MonitoringEvent)
	SetRetain(retain bool)
	Stop()
}

// Options wires a Monitor to its collaborators
type Options struct {
	Engine engine.Engine
	Gate   *capability.Gate
	Store  store.Store

	// Background is optional; without it background events are only logged.
	Background BackgroundSink
	// KeepAlive keeps the background channel open after a flush.
	KeepAlive bool
	Notifier  notify.Notifier
	Config    config.EngineConfig
	Logger    *logrus.Logger
}

// Monitor drives the engine from listener demand
type Monitor struct {
	mu sync.Mutex

	engine     engine.Engine
	gate       *capability.Gate
	store      store.Store
	background BackgroundSink
	keepAlive  bool
	notifier   notify.Notifier
	cfg        config.EngineConfig
	logger     *logrus.Logger

	demand     Demand
	regions    *region.Set
	state      BindingState
	generation uint64
	scanBg     bool
	inside     map[string]bool
	ranging    map[string]bool
	debug      bool

	subscribers []subscription
	nextSubID   int
}

type subscription struct {
	id int
	s  Subscriber
}

// New creates an unbound monitor. The persisted background flag and debug
// flag are loaded from the store; call Restore to act on them.
func New(opts Options) (*Monitor, error) {
	if opts.Engine == nil || opts.Gate == nil || opts.Store == nil {
		return nil, fmt.Errorf("monitor: engine, gate and store are required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}

	st, err := opts.Store.Load()
	if err != nil {
		opts.Logger.WithError(err).Warn("Failed to load persisted state, starting from defaults")
		st = store.DefaultState()
	}

	m := &Monitor{
		engine:     opts.Engine,
		gate:       opts.Gate,
		store:      opts.Store,
		background: opts.Background,
		keepAlive:  opts.KeepAlive,
		notifier:   opts.Notifier,
		cfg:        opts.Config,
		logger:     opts.Logger,
		regions:    region.NewSet(),
		inside:     make(map[string]bool),
		ranging:    make(map[string]bool),
		debug:      st.Debug,
	}
	m.demand.BackgroundMonitoring = st.BackgroundMonitoringEnabled
	return m, nil
}

// Subscribe adds s to the dispatch list and returns its removal function
func (m *Monitor) Subscribe(s Subscriber) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subscribers = append(m.subscribers, subscription{id: id, s: s})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.subscribers {
			if sub.id == id {
				m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Watch makes capability changes reported by w re-evaluate the binding
func (m *Monitor) Watch(w capability.Watcher) (stop func()) {
	return w.Watch(m.OnCapabilityChanged)
}

// State returns the binding state
func (m *Monitor) State() BindingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Demand returns a snapshot of the listener demand
func (m *Monitor) Demand() Demand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.demand
}

// IsMonitoringStarted reports whether any listener is present
func (m *Monitor) IsMonitoringStarted() bool {
	return m.Demand().Any()
}

// Regions returns the registered regions in registration order
func (m *Monitor) Regions() []beacon.Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regions.Regions()
}

// Debug reports the debug flag
func (m *Monitor) Debug() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debug
}

// RegisterRegions validates and adds regions. Nothing is added if any region
// is invalid. A region whose identifier is already registered replaces the
// old one in place; a bound engine is moved over to the new filters.
func (m *Monitor) RegisterRegions(rs ...beacon.Region) error {
	normalized := make([]beacon.Region, 0, len(rs))
	for _, r := range rs {
		n, err := r.Normalize()
		if err != nil {
			return err
		}
		normalized = append(normalized, n)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range normalized {
		old, replaced := m.regions.Add(r)
		if m.state != Bound {
			continue
		}
		if replaced {
			m.stopRegion(old)
		}
		if err := m.engine.StartMonitoring(r); err != nil {
			m.logger.WithError(err).WithField("region", r.Identifier).Warn("Engine failed to start monitoring region")
		}
	}
	return nil
}

// RemoveRegions removes regions by identifier; unknown identifiers are ignored
func (m *Monitor) RemoveRegions(rs ...beacon.Region) error {
	for _, r := range rs {
		if r.Identifier == "" {
			return beacon.Errorf(beacon.CodeInvalidArgument, "region identifier is required")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range rs {
		removed, ok := m.regions.Remove(r)
		if ok && m.state == Bound {
			m.stopRegion(removed)
		}
	}
	return nil
}

// RemoveAllRegions clears the region set
func (m *Monitor) RemoveAllRegions() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.regions.Clear() {
		if m.state == Bound {
			m.stopRegion(r)
		}
	}
}

// SetForegroundMonitoring records whether a foreground monitoring listener is
// attached. Attaching may bind the engine; if the requirements are not met the
// flag is rolled back and the gate error returned.
func (m *Monitor) SetForegroundMonitoring(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.demand.SetForegroundMonitoring(on) {
		return nil
	}
	if err := m.reconcile(); err != nil {
		m.demand.SetForegroundMonitoring(!on)
		return err
	}
	return nil
}

// SetForegroundRanging records whether a ranging listener is attached.
// Attaching while bound ranges the regions currently inside; detaching stops
// all ranging.
func (m *Monitor) SetForegroundRanging(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.demand.SetForegroundRanging(on) {
		return nil
	}

	wasBound := m.state == Bound
	if err := m.reconcile(); err != nil {
		m.demand.SetForegroundRanging(!on)
		return err
	}
	if !wasBound || m.state != Bound {
		return nil
	}

	if on {
		for _, r := range m.regions.Regions() {
			if m.inside[r.Identifier] {
				m.startRanging(r)
			}
		}
	} else {
		m.stopAllRanging()
	}
	return nil
}

// StartBackground enables durable background monitoring. The requirements are
// always checked at the Always tier; on failure nothing changes.
func (m *Monitor) StartBackground(backgroundCallbackID, monitoringCallbackID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.gate.Evaluate(beacon.TierAlways); err != nil {
		return err
	}

	err := store.Update(m.store, func(st *store.State) {
		st.BackgroundMonitoringEnabled = true
		st.BackgroundCallbackID = backgroundCallbackID
		st.MonitoringCallbackID = monitoringCallbackID
	})
	if err != nil {
		return beacon.Errorf(beacon.CodeUnexpected, "persist background monitoring: %v", err)
	}

	if m.background != nil {
		m.background.SetRetain(m.keepAlive)
	}
	changed := m.demand.SetBackgroundMonitoring(true)
	if err := m.reconcile(); err != nil {
		// the gate just passed, so only the engine itself can fail here
		if changed {
			m.demand.SetBackgroundMonitoring(false)
			m.persistBackground(false)
		}
		return err
	}
	if !changed {
		return nil
	}

	m.logger.WithFields(logrus.Fields{
		"background_callback_id": backgroundCallbackID,
		"monitoring_callback_id": monitoringCallbackID,
	}).Info("Background monitoring enabled")
	return nil
}

// StopBackground disables background monitoring and drops undelivered events
func (m *Monitor) StopBackground() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.demand.BackgroundMonitoring {
		return nil
	}
	if err := m.persistBackground(false); err != nil {
		return beacon.Errorf(beacon.CodeUnexpected, "persist background monitoring: %v", err)
	}
	m.demand.SetBackgroundMonitoring(false)
	if m.background != nil {
		m.background.Stop()
		m.background.SetRetain(false)
	}

	m.logger.Info("Background monitoring disabled")
	return m.reconcile()
}

// Restore binds the engine at startup when background monitoring was left
// enabled and the requirements still hold.
func (m *Monitor) Restore() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.demand.BackgroundMonitoring || m.state == Bound {
		return nil
	}
	if err := m.gate.Evaluate(beacon.TierAlways); err != nil {
		m.logger.WithError(err).Info("Not restoring background monitoring")
		return err
	}
	if m.background != nil {
		m.background.SetRetain(m.keepAlive)
	}
	return m.bind()
}

// OnCapabilityChanged re-evaluates the requirements after Bluetooth, location
// or permission changed. Demand is kept either way.
func (m *Monitor) OnCapabilityChanged() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.demand.Any() {
		return
	}
	err := m.gate.Evaluate(m.requiredTier())

	switch {
	case m.state == Bound && err != nil:
		m.logger.WithError(err).Info("Requirements no longer met, stopping engine")
		m.unbind()
	case m.state == Unbound && err == nil:
		m.logger.Info("Requirements met again, starting engine")
		if err := m.bind(); err != nil {
			m.logger.WithError(err).Warn("Failed to restart engine")
		}
	}
}

// SetDebug persists the debug flag
func (m *Monitor) SetDebug(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := store.Update(m.store, func(st *store.State) { st.Debug = on }); err != nil {
		return beacon.Errorf(beacon.CodeUnexpected, "persist debug flag: %v", err)
	}
	m.debug = on
	return nil
}

// Close stops the engine if it is bound. Demand and regions are kept.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Bound {
		m.unbind()
	}
}

func (m *Monitor) requiredTier() beacon.Tier {
	if m.demand.BackgroundMonitoring {
		return beacon.TierAlways
	}
	return beacon.TierWhileInUse
}

// reconcile binds or unbinds to match demand. Caller holds mu.
func (m *Monitor) reconcile() error {
	switch {
	case m.demand.Any() && m.state == Unbound:
		if err := m.gate.Evaluate(m.requiredTier()); err != nil {
			return err
		}
		return m.bind()
	case !m.demand.Any() && m.state == Bound:
		m.unbind()
	case m.state == Bound:
		m.applyProfile()
	}
	return nil
}

// applyProfile switches a bound engine between the foreground and background
// scan periods without restarting it. Caller holds mu.
func (m *Monitor) applyProfile() {
	background := !m.demand.Foreground()
	if background == m.scanBg {
		return
	}
	if err := m.engine.SetScanProfile(engine.ProfileFromConfig(m.cfg, background)); err != nil {
		m.logger.WithError(err).Warn("Engine failed to change scan profile")
		return
	}
	m.scanBg = background
	m.logger.WithField("background", background).Debug("Engine scan profile changed")
}

func (m *Monitor) bind() error {
	opts, err := engine.OptionsFromConfig(m.cfg, !m.demand.Foreground(), m.debug)
	if err != nil {
		return beacon.Errorf(beacon.CodeUnexpected, "%v", err)
	}

	m.generation++
	h := &handler{m: m, generation: m.generation}
	if err := m.engine.Start(opts, h); err != nil {
		return beacon.Errorf(beacon.CodeUnexpected, "start engine: %v", err)
	}
	m.state = Bound
	m.scanBg = opts.Background

	regions := m.regions.Regions()
	for _, r := range regions {
		if err := m.engine.StartMonitoring(r); err != nil {
			m.logger.WithError(err).WithField("region", r.Identifier).Warn("Engine failed to start monitoring region")
		}
	}

	m.logger.WithFields(logrus.Fields{
		"generation": m.generation,
		"regions":    len(regions),
		"background": opts.Background,
	}).Info("Engine bound")
	return nil
}

func (m *Monitor) unbind() {
	m.stopAllRanging()
	m.inside = make(map[string]bool)

	// Bumping the generation makes callbacks still in flight stale.
	m.generation++
	if err := m.engine.Stop(); err != nil {
		m.logger.WithError(err).Warn("Engine failed to stop")
	}
	m.state = Unbound
	m.logger.Info("Engine unbound")
}

// stopRegion stops monitoring and ranging for a region leaving the set
func (m *Monitor) stopRegion(r beacon.Region) {
	if m.ranging[r.Identifier] {
		m.stopRanging(r)
	}
	delete(m.inside, r.Identifier)
	if err := m.engine.StopMonitoring(r); err != nil {
		m.logger.WithError(err).WithField("region", r.Identifier).Warn("Engine failed to stop monitoring region")
	}
}

func (m *Monitor) startRanging(r beacon.Region) {
	if m.ranging[r.Identifier] {
		return
	}
	if err := m.engine.StartRanging(r); err != nil {
		m.logger.WithError(err).WithField("region", r.Identifier).Warn("Engine failed to start ranging")
		return
	}
	m.ranging[r.Identifier] = true
}

func (m *Monitor) stopRanging(r beacon.Region) {
	delete(m.ranging, r.Identifier)
	if err := m.engine.StopRanging(r); err != nil {
		m.logger.WithError(err).WithField("region", r.Identifier).Debug("Engine failed to stop ranging")
	}
}

func (m *Monitor) stopAllRanging() {
	for id := range m.ranging {
		r, ok := m.regions.Get(id)
		if !ok {
			r = beacon.Region{Identifier: id}
		}
		m.stopRanging(r)
	}
}

// persistBackground stores the background flag; turning it off also clears
// the callback handles
func (m *Monitor) persistBackground(on bool) error {
	err := store.Update(m.store, func(st *store.State) {
		st.BackgroundMonitoringEnabled = on
		if !on {
			st.BackgroundCallbackID = store.NoCallback
			st.MonitoringCallbackID = store.NoCallback
		}
	})
	if err != nil {
		m.logger.WithError(err).Warn("Failed to persist background monitoring flag")
	}
	return err
}
