package midi

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"go.uber.org/zap"
)

// ErrQueueFull is returned by AsyncSink.Send when the queue has no room
var ErrQueueFull = errors.New("midi send queue full")

// ErrSinkClosed is returned by AsyncSink.Send after Close
var ErrSinkClosed = errors.New("midi sink closed")

// Sink receives raw MIDI messages, one call per message
type Sink interface {
	Send(msg []byte) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(msg []byte) error

func (f SinkFunc) Send(msg []byte) error { return f(msg) }

// PortSink sends to an opened output port
type PortSink struct {
	name string
	out  drivers.Out
	send func(msg gomidi.Message) error

	mu     sync.Mutex
	closed bool
}

// OpenPortSink opens the port for sending
func OpenPortSink(out drivers.Out) (*PortSink, error) {
	send, err := gomidi.SendTo(out)
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", out.String(), err)
	}
	return &PortSink{name: out.String(), out: out, send: send}, nil
}

// OpenPortSinkByName finds an output port by exact name and opens it
func OpenPortSinkByName(name string) (*PortSink, error) {
	for _, port := range gomidi.GetOutPorts() {
		if port.String() == name {
			return OpenPortSink(port)
		}
	}
	return nil, fmt.Errorf("output port %q not found", name)
}

func (p *PortSink) Name() string { return p.name }

// Send fails with ErrSinkClosed once Close has been called
func (p *PortSink) Send(msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrSinkClosed
	}
	return p.send(gomidi.Message(msg))
}

// Close closes the port once
func (p *PortSink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.out.Close()
}

// AsyncSink decouples callers from a slow output. Messages are delivered
// in order by a single goroutine; a full queue drops the message.
type AsyncSink struct {
	next   Sink
	queue  chan []byte
	done   chan struct{}
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewAsyncSink starts the delivery goroutine. size <= 0 uses 256.
func NewAsyncSink(next Sink, size int, logger *zap.Logger) *AsyncSink {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AsyncSink{
		next:   next,
		queue:  make(chan []byte, size),
		done:   make(chan struct{}),
		logger: logger.Named("sink"),
	}
	go s.loop()
	return s
}

func (s *AsyncSink) loop() {
	defer close(s.done)
	for msg := range s.queue {
		if err := s.next.Send(msg); err != nil {
			s.failed.Add(1)
			s.logger.Warn("send failed", zap.Error(err), zap.Binary("msg", msg))
			continue
		}
		s.sent.Add(1)
	}
}

// Send queues a copy of msg without blocking
func (s *AsyncSink) Send(msg []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}

	cp := make([]byte, len(msg))
	copy(cp, msg)

	select {
	case s.queue <- cp:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("send queue full, dropping message", zap.Binary("msg", msg))
		return ErrQueueFull
	}
}

// Close delivers what is queued and stops the goroutine. Safe to call twice.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
	return nil
}

// Stats returns delivered, dropped and failed counts
func (s *AsyncSink) Stats() (sent, dropped, failed uint64) {
	return s.sent.Load(), s.dropped.Load(), s.failed.Load()
}
