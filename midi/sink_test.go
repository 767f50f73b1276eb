package midi

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordSink struct {
	mu   sync.Mutex
	msgs [][]byte
	fail func(msg []byte) bool
}

func (r *recordSink) Send(msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil && r.fail(msg) {
		return errors.New("port gone")
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func TestAsyncSinkPreservesOrder(t *testing.T) {
	rec := &recordSink{}
	s := NewAsyncSink(rec, 1024, nil)

	for i := 0; i < 500; i++ {
		require.NoError(t, s.Send([]byte{0x90, byte(i % 128), 100}))
	}
	require.NoError(t, s.Close())

	require.Len(t, rec.msgs, 500)
	for i, m := range rec.msgs {
		assert.Equal(t, byte(i%128), m[1])
	}
	sent, dropped, failed := s.Stats()
	assert.Equal(t, uint64(500), sent)
	assert.Zero(t, dropped)
	assert.Zero(t, failed)
}

func TestAsyncSinkCopiesMessage(t *testing.T) {
	rec := &recordSink{}
	s := NewAsyncSink(rec, 4, nil)
	buf := []byte{0x90, 60, 100}
	require.NoError(t, s.Send(buf))
	buf[1] = 0
	require.NoError(t, s.Close())
	assert.Equal(t, byte(60), rec.msgs[0][1])
}

func TestAsyncSinkFailureIsLoggedAndContinues(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	rec := &recordSink{fail: func(msg []byte) bool { return msg[1] == 61 }}
	s := NewAsyncSink(rec, 8, zap.New(core))

	for _, key := range []byte{60, 61, 62} {
		require.NoError(t, s.Send([]byte{0x90, key, 100}))
	}
	require.NoError(t, s.Close())

	require.Len(t, rec.msgs, 2)
	assert.Equal(t, byte(62), rec.msgs[1][1])
	_, _, failed := s.Stats()
	assert.Equal(t, uint64(1), failed)
	assert.Equal(t, 1, logs.FilterMessage("send failed").Len())
}

func TestAsyncSinkSendAfterClose(t *testing.T) {
	s := NewAsyncSink(&recordSink{}, 1, nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Send([]byte{0xF8}), ErrSinkClosed)
}

func TestAsyncSinkDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	blocking := SinkFunc(func(msg []byte) error {
		<-release
		return nil
	})
	s := NewAsyncSink(blocking, 1, nil)

	// first message may already be in flight; keep sending until one is dropped
	var dropErr error
	for i := 0; i < 10 && dropErr == nil; i++ {
		dropErr = s.Send([]byte{0xF8})
	}
	assert.ErrorIs(t, dropErr, ErrQueueFull)
	close(release)
	require.NoError(t, s.Close())

	_, dropped, _ := s.Stats()
	assert.NotZero(t, dropped)
}

type fakeOut struct {
	drivers.Out
	closes int
}

func (f *fakeOut) Close() error {
	f.closes++
	return nil
}

func TestPortSinkRejectsSendAfterClose(t *testing.T) {
	out := &fakeOut{}
	var sent [][]byte
	p := &PortSink{name: "JD-Xi", out: out, send: func(msg gomidi.Message) error {
		sent = append(sent, msg.Bytes())
		return nil
	}}

	require.NoError(t, p.Send([]byte{0x90, 60, 100}))
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Send([]byte{0x80, 60, 0}), ErrSinkClosed)
	require.NoError(t, p.Close())

	assert.Len(t, sent, 1)
	assert.Equal(t, 1, out.closes)
	assert.Equal(t, "JD-Xi", p.Name())
}
