package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/beaconmon/internal/beacon"
	"github.com/srg/beaconmon/internal/delivery"
	"github.com/srg/beaconmon/internal/store"
)

// ReadyMarker is told when the background client has come up
type ReadyMarker interface {
	MarkReady()
}

// BackgroundChannel delivers monitoring events to the session that called
// backgroundInitialized. It is the delivery.Channel behind the queue.
type BackgroundChannel struct {
	store    store.Store
	launcher Launcher
	socket   string
	logger   *logrus.Logger

	mu      sync.Mutex
	session *Session
	ready   ReadyMarker
}

var _ delivery.Channel = (*BackgroundChannel)(nil)

// NewBackgroundChannel creates an unbound channel. socket is passed to
// launched clients so they know where to connect.
func NewBackgroundChannel(st store.Store, launcher Launcher, socket string, logger *logrus.Logger) *BackgroundChannel {
	if logger == nil {
		logger = logrus.New()
	}
	if launcher == nil {
		launcher = NopLauncher{}
	}
	return &BackgroundChannel{
		store:    st,
		launcher: launcher,
		socket:   socket,
		logger:   logger,
	}
}

// SetReadyMarker sets who is told when a background client binds
func (c *BackgroundChannel) SetReadyMarker(r ReadyMarker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = r
}

// Bind makes s the background session and reports readiness
func (c *BackgroundChannel) Bind(s *Session) {
	c.mu.Lock()
	c.session = s
	ready := c.ready
	c.mu.Unlock()

	c.logger.WithField("session", s.ID()).Info("Background client initialized")
	if ready != nil {
		ready.MarkReady()
	}
}

// Unbind forgets s if it is the background session
func (c *BackgroundChannel) Unbind(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == s {
		c.session = nil
		c.logger.WithField("session", s.ID()).Debug("Background client disconnected")
	}
}

// Bound reports whether a background session is attached
func (c *BackgroundChannel) Bound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Open reports readiness at once when a background client is attached,
// otherwise launches one.
func (c *BackgroundChannel) Open(ctx context.Context) error {
	c.mu.Lock()
	bound, ready := c.session != nil, c.ready
	c.mu.Unlock()

	if bound {
		if ready != nil {
			ready.MarkReady()
		}
		return nil
	}

	st, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("load background callback: %w", err)
	}
	return c.launcher.Launch(ctx, LaunchEnv{
		DispatchID: st.BackgroundCallbackID,
		CallbackID: st.MonitoringCallbackID,
		Socket:     c.socket,
	})
}

// Deliver sends e with the monitoring callback id stored at delivery time
func (c *BackgroundChannel) Deliver(e beacon.MonitoringEvent) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return fmt.Errorf("no background client attached")
	}

	st, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("load monitoring callback: %w", err)
	}
	ok := s.enqueue(backgroundMessage{
		Method: "",
		Args: beacon.BackgroundResult{
			MonitoringCallbackID: st.MonitoringCallbackID,
			MonitoringResult:     e,
		},
	})
	if !ok {
		return fmt.Errorf("background client %d disconnected", s.ID())
	}
	return nil
}

// Close keeps an attached client; a launched one is stopped by its context.
func (c *BackgroundChannel) Close() error {
	c.logger.Debug("Background channel closed")
	return nil
}
