package midi

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"
)

// DeviceEvent is emitted when the watched output port appears or goes away
type DeviceEvent struct {
	Type DeviceEventType
	Name string
	Sink Sink // nil on disconnect
}

type DeviceEventType int

const (
	DeviceConnected DeviceEventType = iota
	DeviceDisconnected
)

func (t DeviceEventType) String() string {
	if t == DeviceConnected {
		return "connected"
	}
	return "disconnected"
}

// PortWatcher handles hot-plug detection of an output port
type PortWatcher struct {
	match       string
	list        func() []string
	open        func(name string) (Sink, error)
	pollRate    time.Duration
	scanTimeout time.Duration
	logger      *zap.Logger

	mu     sync.RWMutex
	ports  map[string]Sink
	events chan DeviceEvent
}

// WatcherOption configures a PortWatcher
type WatcherOption func(*PortWatcher)

// WithLister replaces the port enumeration
func WithLister(list func() []string) WatcherOption {
	return func(w *PortWatcher) { w.list = list }
}

// WithOpener replaces how a found port is opened
func WithOpener(open func(name string) (Sink, error)) WatcherOption {
	return func(w *PortWatcher) { w.open = open }
}

func WithPollRate(d time.Duration) WatcherOption {
	return func(w *PortWatcher) { w.pollRate = d }
}

func WithScanTimeout(d time.Duration) WatcherOption {
	return func(w *PortWatcher) { w.scanTimeout = d }
}

func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *PortWatcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewPortWatcher watches output ports whose name contains match (case-insensitive)
func NewPortWatcher(match string, opts ...WatcherOption) *PortWatcher {
	w := &PortWatcher{
		match:       strings.ToLower(match),
		list:        listOutPorts,
		open:        func(name string) (Sink, error) { return OpenPortSinkByName(name) },
		pollRate:    time.Second,
		scanTimeout: 3 * time.Second,
		logger:      zap.NewNop(),
		ports:       make(map[string]Sink),
		events:      make(chan DeviceEvent, 16),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("ports")
	return w
}

func listOutPorts() []string {
	var names []string
	for _, p := range gomidi.GetOutPorts() {
		names = append(names, p.String())
	}
	return names
}

// Events is closed when Run returns
func (w *PortWatcher) Events() <-chan DeviceEvent {
	return w.events
}

// Connected returns the names of currently open ports
func (w *PortWatcher) Connected() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, 0, len(w.ports))
	for name := range w.ports {
		names = append(names, name)
	}
	return names
}

// Run starts the polling loop (blocking - run in goroutine)
func (w *PortWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollRate)
	defer ticker.Stop()

	w.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			w.closeAll()
			close(w.events)
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *PortWatcher) matches(name string) bool {
	return w.match == "" || strings.Contains(strings.ToLower(name), w.match)
}

func (w *PortWatcher) scan(ctx context.Context) {
	// CoreMIDI can hang while enumerating
	ch := make(chan []string, 1)
	go func() { ch <- w.list() }()

	var names []string
	select {
	case names = <-ch:
	case <-time.After(w.scanTimeout):
		w.logger.Warn("port scan timed out", zap.Duration("timeout", w.scanTimeout))
		return
	case <-ctx.Done():
		return
	}

	seen := make(map[string]bool)
	for _, name := range names {
		if !w.matches(name) {
			continue
		}
		seen[name] = true

		w.mu.RLock()
		_, exists := w.ports[name]
		w.mu.RUnlock()
		if exists {
			continue
		}

		sink, err := w.open(name)
		if err != nil {
			w.logger.Warn("open port failed", zap.String("port", name), zap.Error(err))
			continue
		}
		w.mu.Lock()
		w.ports[name] = sink
		w.mu.Unlock()
		w.logger.Info("port connected", zap.String("port", name))
		w.emit(ctx, DeviceEvent{Type: DeviceConnected, Name: name, Sink: sink})
	}

	w.mu.Lock()
	gone := make(map[string]Sink)
	for name, sink := range w.ports {
		if !seen[name] {
			gone[name] = sink
			delete(w.ports, name)
		}
	}
	w.mu.Unlock()

	// Consumers hear about the loss before the port is closed; late sends
	// on a closed PortSink fail with ErrSinkClosed.
	for name, sink := range gone {
		w.logger.Info("port disconnected", zap.String("port", name))
		w.emit(ctx, DeviceEvent{Type: DeviceDisconnected, Name: name})
		closeSink(sink)
	}
}

func (w *PortWatcher) emit(ctx context.Context, ev DeviceEvent) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

func (w *PortWatcher) closeAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sink := range w.ports {
		closeSink(sink)
	}
	w.ports = make(map[string]Sink)
}

func closeSink(s Sink) {
	if c, ok := s.(io.Closer); ok {
		c.Close()
	}
}
