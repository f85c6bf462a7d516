package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/srg/beaconmon/internal/beacon"
	"github.com/srg/beaconmon/internal/groutine"
	"github.com/srg/beaconmon/internal/stream"
)

const (
	outboxSize      = 64
	rangingBacklog  = 8
	maxRequestBytes = 1 << 20
)

// Session is one connected client
type Session struct {
	id     uint64
	server *Server
	conn   io.ReadWriteCloser
	logger *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	outbox chan []byte

	monitoring    atomic.Bool
	ranging       atomic.Bool
	events        *stream.FIFO[any]
	rangingBuf    *stream.RingChannel[beacon.RangingResult]
}

func newSession(id uint64, srv *Server, conn io.ReadWriteCloser) *Session {
	return &Session{
		id:         id,
		server:     srv,
		conn:       conn,
		logger:     srv.logger.WithField("session", id),
		outbox:        make(chan []byte, outboxSize),
		events:        stream.NewFIFO[any](),
		rangingBuf:    stream.NewRingChannel[beacon.RangingResult](rangingBacklog),
	}
}

// ID returns the session number
func (s *Session) ID() uint64 {
	return s.id
}

// OnMonitoring queues e when the client listens to the monitoring stream.
// It never blocks; events are kept until written or the session ends.
func (s *Session) OnMonitoring(e beacon.MonitoringEvent) {
	if !s.monitoring.Load() {
		return
	}
	s.events.Push(StreamEvent{Stream: StreamMonitoring, Event: e})
}

// enqueue queues a message that must not be dropped; it never blocks.
// It reports false once the session has ended.
func (s *Session) enqueue(msg any) bool {
	return s.events.Push(msg)
}

// OnRanging buffers r when the client listens to the ranging stream.
// A slow client loses the oldest results.
func (s *Session) OnRanging(r beacon.RangingResult) {
	if !s.ranging.Load() {
		return
	}
	if s.rangingBuf.Send(r) {
		s.logger.WithField("region", r.Region.Identifier).Debug("Ranging backlog full, dropped oldest result")
	}
}

// run serves the session until the client disconnects or ctx ends
func (s *Session) run(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()
	s.server.attach(s)

	writerDone := groutine.Start(s.ctx, fmt.Sprintf("rpc-writer-%d", s.id), s.writeLoop)
	groutine.Go(s.ctx, fmt.Sprintf("rpc-events-%d", s.id), s.eventLoop)
	groutine.Go(s.ctx, fmt.Sprintf("rpc-ranging-%d", s.id), s.rangingLoop)
	groutine.Go(s.ctx, fmt.Sprintf("rpc-close-%d", s.id), func(ctx context.Context) {
		<-ctx.Done()
		_ = s.conn.Close()
	})

	s.logger.Info("Client connected")
	s.readLoop()

	s.cancel()
	<-writerDone
	s.server.detach(s)
	s.events.Close()
	s.rangingBuf.Close()
	s.logger.Info("Client disconnected")
}

func (s *Session) readLoop() {
	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxRequestBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.WithError(err).Warn("Malformed request")
			s.reply(req.ID, nil, beacon.Errorf(beacon.CodeInvalidArgument, "malformed request: %v", err))
			continue
		}

		// Requests are applied in arrival order, except prompts.
		if promptMethods[req.Method] {
			groutine.Go(s.ctx, "rpc-call-"+req.Method, func(ctx context.Context) {
				result, err := s.server.call(ctx, s, req)
				s.reply(req.ID, result, err)
			})
			continue
		}
		result, err := s.server.call(s.ctx, s, req)
		s.reply(req.ID, result, err)
	}

	if err := scanner.Err(); err != nil && s.ctx.Err() == nil {
		s.logger.WithError(err).Debug("Session read failed")
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-s.outbox:
			if _, err := s.conn.Write(line); err != nil {
				s.logger.WithError(err).Debug("Session write failed")
				s.cancel()
				return
			}
		}
	}
}

// eventLoop writes queued monitoring and background events in push order
func (s *Session) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.events.Ready():
		}
		for _, msg := range s.events.Drain() {
			if err := s.send(msg); err != nil {
				s.logger.WithError(err).Debug("Dropping queued events")
				return
			}
		}
	}
}

func (s *Session) rangingLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-s.rangingBuf.C():
			if !ok {
				return
			}
			if err := s.send(StreamEvent{Stream: StreamRanging, Event: r}); err != nil {
				return
			}
		}
	}
}

func (s *Session) reply(id int64, result any, err error) {
	var msg any = resultResponse{ID: id, Result: result}
	if err != nil {
		msg = errorResponse{ID: id, Error: errorBody(err)}
	}
	if sendErr := s.send(msg); sendErr != nil {
		s.logger.WithError(sendErr).WithField("id", id).Debug("Dropping response")
	}
}

func (s *Session) streamError(name string, err error) {
	if sendErr := s.send(StreamEvent{Stream: name, Error: errorBody(err)}); sendErr != nil {
		s.logger.WithError(sendErr).Debug("Dropping stream error")
	}
}

// send queues one JSON line; it blocks while the outbox is full
func (s *Session) send(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	select {
	case s.outbox <- line:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *Session) streamFlag(name string) (*atomic.Bool, error) {
	switch name {
	case StreamMonitoring:
		return &s.monitoring, nil
	case StreamRanging:
		return &s.ranging, nil
	}
	return nil, beacon.Errorf(beacon.CodeInvalidArgument, "unknown stream %q", name)
}
