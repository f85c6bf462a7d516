package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/beaconmon/internal/beacon"
	"github.com/srg/beaconmon/internal/capability"
	"github.com/srg/beaconmon/internal/groutine"
	"github.com/srg/beaconmon/internal/monitor"
)

// ServerOptions wires a Server to the monitor and its collaborators
type ServerOptions struct {
	Monitor *monitor.Monitor
	// Probe answers capability calls; wrap it in a capability.Guard so
	// concurrent prompts fail fast.
	Probe      capability.Probe
	Gate       *capability.Gate
	Background *BackgroundChannel
	Logger     *logrus.Logger
}

// Server dispatches client calls and fans engine events out to sessions
type Server struct {
	monitor    *monitor.Monitor
	probe      capability.Probe
	gate       *capability.Gate
	background *BackgroundChannel
	logger     *logrus.Logger
	methods    map[string]method

	mu        sync.Mutex
	nextID    uint64
	listeners map[string]int
	sessions  map[*Session]func()
	wg        sync.WaitGroup
}

// NewServer creates a server
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Monitor == nil || opts.Probe == nil || opts.Gate == nil {
		return nil, fmt.Errorf("rpc: monitor, probe and gate are required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	s := &Server{
		monitor:    opts.Monitor,
		probe:      opts.Probe,
		gate:       opts.Gate,
		background: opts.Background,
		logger:     opts.Logger,
		listeners:  make(map[string]int),
		sessions:   make(map[*Session]func()),
	}
	s.methods = s.methodTable()
	return s, nil
}

// Listen opens a Unix socket at path, replacing a stale socket file
func Listen(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	return ln, nil
}

// Serve accepts clients on ln until ctx is cancelled, then waits for the
// open sessions to end.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	groutine.Go(ctx, "rpc-listener-close", func(ctx context.Context) {
		<-ctx.Done()
		_ = ln.Close()
	})

	s.logger.WithField("address", ln.Addr().String()).Info("Serving clients")
	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		groutine.Go(ctx, "rpc-session", func(ctx context.Context) {
			defer s.wg.Done()
			s.ServeConn(ctx, conn)
		})
	}
}

// ServeConn serves one client on conn and returns when it disconnects
func (s *Server) ServeConn(ctx context.Context, conn io.ReadWriteCloser) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	newSession(id, s, conn).run(ctx)
}

// Stdio joins a reader and a writer into a session transport
func Stdio(in io.ReadCloser, out io.Writer) io.ReadWriteCloser {
	return stdio{ReadCloser: in, Writer: out}
}

type stdio struct {
	io.ReadCloser
	io.Writer
}

func (s *Server) attach(sess *Session) {
	unsubscribe := s.monitor.Subscribe(sess)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess] = unsubscribe
}

// detach drops the session's listeners and background binding
func (s *Server) detach(sess *Session) {
	for _, name := range []string{StreamMonitoring, StreamRanging} {
		if err := s.cancel(sess, name); err != nil {
			sess.logger.WithError(err).WithField("stream", name).Warn("Failed to release stream on disconnect")
		}
	}
	if s.background != nil {
		s.background.Unbind(sess)
	}

	s.mu.Lock()
	unsubscribe := s.sessions[sess]
	delete(s.sessions, sess)
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// listen attaches sess to a stream. The requirements are checked for
// foreground use first; the first listener of a stream raises the demand.
func (s *Server) listen(sess *Session, name string) error {
	flag, err := sess.streamFlag(name)
	if err != nil {
		return err
	}
	if err := s.gate.Evaluate(beacon.TierWhileInUse); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if flag.Load() {
		return nil
	}
	if s.listeners[name] == 0 {
		if err := s.setDemand(name, true); err != nil {
			return err
		}
	}
	s.listeners[name]++
	flag.Store(true)

	sess.logger.WithFields(logrus.Fields{
		"stream":    name,
		"listeners": s.listeners[name],
	}).Debug("Stream listener attached")
	return nil
}

// cancel detaches sess from a stream; the last listener drops the demand
func (s *Server) cancel(sess *Session, name string) error {
	flag, err := sess.streamFlag(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !flag.Load() {
		return nil
	}
	flag.Store(false)
	s.listeners[name]--
	if s.listeners[name] > 0 {
		return nil
	}
	return s.setDemand(name, false)
}

func (s *Server) setDemand(name string, on bool) error {
	if name == StreamRanging {
		return s.monitor.SetForegroundRanging(on)
	}
	return s.monitor.SetForegroundMonitoring(on)
}

// Listeners returns the number of sessions listening to a stream
func (s *Server) Listeners(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listeners[name]
}
