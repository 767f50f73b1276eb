package midi

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakePorts struct {
	mu    sync.Mutex
	names []string
}

func (f *fakePorts) set(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = names
}

func (f *fakePorts) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}

type closingSink struct {
	recordSink
	closed  bool
	onClose func()
}

func (c *closingSink) Close() error {
	c.closed = true
	if c.onClose != nil {
		c.onClose()
	}
	return nil
}

func TestPortWatcherConnectAndDisconnect(t *testing.T) {
	ports := &fakePorts{}
	ports.set("IAC Driver Bus 1", "JD-Xi MIDI 1")
	opened := map[string]*closingSink{}
	w := NewPortWatcher("jd-xi",
		WithLister(ports.list),
		WithOpener(func(name string) (Sink, error) {
			s := &closingSink{}
			opened[name] = s
			return s, nil
		}),
	)
	ctx := context.Background()

	w.scan(ctx)
	ev := <-w.Events()
	assert.Equal(t, DeviceConnected, ev.Type)
	assert.Equal(t, "JD-Xi MIDI 1", ev.Name)
	require.NotNil(t, ev.Sink)
	assert.Equal(t, []string{"JD-Xi MIDI 1"}, w.Connected())

	// no duplicate event while still present
	w.scan(ctx)
	assert.Len(t, w.Events(), 0)

	ports.set("IAC Driver Bus 1")
	w.scan(ctx)
	ev = <-w.Events()
	assert.Equal(t, DeviceDisconnected, ev.Type)
	assert.Nil(t, ev.Sink)
	assert.True(t, opened["JD-Xi MIDI 1"].closed)
	assert.Empty(t, w.Connected())
}

func TestPortWatcherEmitsDisconnectBeforeClosing(t *testing.T) {
	ports := &fakePorts{}
	ports.set("JD-Xi")
	var w *PortWatcher
	queuedAtClose := -1
	w = NewPortWatcher("jd-xi",
		WithLister(ports.list),
		WithOpener(func(name string) (Sink, error) {
			return &closingSink{onClose: func() { queuedAtClose = len(w.events) }}, nil
		}),
	)
	ctx := context.Background()

	w.scan(ctx)
	require.Equal(t, DeviceConnected, (<-w.Events()).Type)

	ports.set()
	w.scan(ctx)
	assert.Equal(t, 1, queuedAtClose, "disconnect queued before the port closed")
	assert.Equal(t, DeviceDisconnected, (<-w.Events()).Type)
}

func TestPortWatcherOpenFailureIsRetried(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	ports := &fakePorts{}
	ports.set("JD-Xi")
	fail := true
	w := NewPortWatcher("jd-xi",
		WithLister(ports.list),
		WithLogger(zap.New(core)),
		WithOpener(func(name string) (Sink, error) {
			if fail {
				return nil, errors.New("busy")
			}
			return &recordSink{}, nil
		}),
	)

	w.scan(context.Background())
	assert.Len(t, w.Events(), 0)
	assert.Equal(t, 1, logs.FilterMessage("open port failed").Len())

	fail = false
	w.scan(context.Background())
	assert.Equal(t, DeviceConnected, (<-w.Events()).Type)
}

func TestPortWatcherScanTimeout(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	block := make(chan struct{})
	defer close(block)
	w := NewPortWatcher("",
		WithLister(func() []string { <-block; return nil }),
		WithScanTimeout(10*time.Millisecond),
		WithLogger(zap.New(core)),
	)

	w.scan(context.Background())
	assert.Equal(t, 1, logs.FilterMessage("port scan timed out").Len())
	assert.Len(t, w.Events(), 0)
}

func TestPortWatcherRunClosesOnCancel(t *testing.T) {
	ports := &fakePorts{}
	ports.set("JD-Xi")
	sink := &closingSink{}
	w := NewPortWatcher("JD-XI",
		WithLister(ports.list),
		WithOpener(func(string) (Sink, error) { return sink, nil }),
		WithPollRate(time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	assert.Equal(t, DeviceConnected, (<-w.Events()).Type)
	cancel()
	<-done
	_, ok := <-w.Events()
	assert.False(t, ok)
	assert.True(t, sink.closed)
}
