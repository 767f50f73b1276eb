package sequencer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"jdxi-player/midi"

	"go.uber.org/zap"
)

// Poll interval bounds
const (
	DefaultPollInterval = 2 * time.Millisecond
	MinPollInterval     = time.Millisecond
	MaxPollInterval     = 10 * time.Millisecond
)

// UI notification rate while playing
const uiFPS = 30

// ErrClosed is returned once Run has exited
var ErrClosed = errors.New("sequencer manager closed")

// ErrInvalidTempo is returned for a zero manual tempo
var ErrInvalidTempo = errors.New("tempo must be positive")

// ClampPollInterval keeps d within the supported range; zero means default
func ClampPollInterval(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultPollInterval
	case d < MinPollInterval:
		return MinPollInterval
	case d > MaxPollInterval:
		return MaxPollInterval
	}
	return d
}

// Snapshot is a consistent copy of the transport state
type Snapshot struct {
	State           State
	PositionSeconds float64
	PositionTick    uint64
	Tempo           uint32 // effective µs per quarter
	DurationSeconds float64
	Cursor          int
	Len             int

	MutedTracks            []int
	MutedChannels          []int
	SuppressControlChanges bool
	SuppressProgramChanges bool
	ManualTempo            uint32

	Stats  Stats
	Tracks []TrackInfo
}

func (s Snapshot) BPM() float64 { return BPM(s.Tempo) }

// TrackMuted reports whether track i is muted
func (s Snapshot) TrackMuted(i int) bool {
	for _, t := range s.MutedTracks {
		if t == i {
			return true
		}
	}
	return false
}

// ChannelMuted reports whether channel ch (0-15) is muted
func (s Snapshot) ChannelMuted(ch int) bool {
	for _, c := range s.MutedChannels {
		if c == ch {
			return true
		}
	}
	return false
}

type command struct {
	fn   func(now time.Time)
	done chan struct{}
}

// Manager owns a Worker on a single goroutine and attaches a poll ticker
// while playback runs. Run must be running for the control methods to return.
type Manager struct {
	worker       *Worker
	clock        Clock
	pollInterval time.Duration
	logger       *zap.Logger

	cmds       chan command
	done       chan struct{}
	ticker     Ticker // owned by Run
	lastNotify time.Time

	snap atomic.Pointer[Snapshot]

	// Notify TUI of updates
	UpdateChan chan struct{}
}

// Option configures a Manager
type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = ClampPollInterval(d) }
}

func WithReleaseNotes(on bool) Option {
	return func(m *Manager) { m.worker.SetReleaseNotes(on) }
}

func WithSink(s midi.Sink) Option {
	return func(m *Manager) { m.worker.sink = s }
}

// NewManager creates a transport manager with nothing loaded
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		worker:       NewWorker(nil, nil),
		clock:        SystemClock{},
		pollInterval: DefaultPollInterval,
		logger:       zap.NewNop(),
		cmds:         make(chan command),
		done:         make(chan struct{}),
		UpdateChan:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("transport")
	m.worker.logger = m.logger
	m.worker.OnTempo = func(t uint32) {
		m.logger.Debug("tempo change", zap.Float64("bpm", BPM(t)))
	}
	m.snap.Store(&Snapshot{Tempo: DefaultTempo})
	return m
}

// Run processes commands and poll ticks until ctx is done (blocking - run in goroutine)
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	for {
		var tick <-chan time.Time
		if m.ticker != nil {
			tick = m.ticker.C()
		}

		select {
		case <-ctx.Done():
			m.worker.Stop()
			m.detach()
			m.publish(true)
			return
		case c := <-m.cmds:
			c.fn(m.clock.Now())
			m.syncTicker()
			m.publish(true)
			close(c.done)
		case <-tick:
			m.poll()
		}
	}
}

func (m *Manager) do(fn func(now time.Time)) error {
	c := command{fn: fn, done: make(chan struct{})}
	select {
	case m.cmds <- c:
	case <-m.done:
		return ErrClosed
	}
	<-c.done
	return nil
}

func (m *Manager) poll() {
	now := m.clock.Now()
	m.worker.Poll(now)
	if m.worker.State() == StateCompleted {
		m.logger.Info("playback complete", zap.Uint64("dispatched", m.worker.Stats().Dispatched))
		m.detach()
		m.publish(true)
		return
	}
	m.publish(now.Sub(m.lastNotify) >= time.Second/uiFPS)
}

// attach registers a fresh poll ticker, dropping any previous one
func (m *Manager) attach() {
	m.detach()
	m.ticker = m.clock.NewTicker(m.pollInterval)
}

func (m *Manager) detach() {
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}
}

// syncTicker keeps exactly one ticker attached while running
func (m *Manager) syncTicker() {
	running := m.worker.State() == StateRunning
	switch {
	case running && m.ticker == nil:
		m.attach()
	case !running && m.ticker != nil:
		m.detach()
	}
}

func (m *Manager) publish(notify bool) {
	w := m.worker
	st := w.PlaybackState()
	now := m.clock.Now()
	s := &Snapshot{
		State:                  w.State(),
		PositionSeconds:        w.PositionSeconds(now),
		PositionTick:           w.PositionTick(now),
		Tempo:                  w.CurrentTempo(),
		DurationSeconds:        w.DurationSeconds(),
		Cursor:                 st.Cursor,
		Len:                    st.Buffer.Len(),
		MutedTracks:            sortedKeys(st.MutedTracks),
		MutedChannels:          sortedKeys(st.MutedChannels),
		SuppressControlChanges: st.SuppressControlChanges,
		SuppressProgramChanges: st.SuppressProgramChanges,
		ManualTempo:            st.ManualTempo,
		Stats:                  w.Stats(),
	}
	if st.Buffer != nil {
		s.Tracks = st.Buffer.Tracks
	}
	m.snap.Store(s)

	if !notify {
		return
	}
	m.lastNotify = now
	select {
	case m.UpdateChan <- struct{}{}:
	default:
	}
}

// Load builds the event buffer and replaces the loaded file. Zero tracks
// is ErrNoBuffer.
func (m *Manager) Load(tracks []Track, ticksPerBeat uint16) error {
	if len(tracks) == 0 {
		return ErrNoBuffer
	}
	buf, err := BuildBuffer(tracks, ticksPerBeat)
	if err != nil {
		return err
	}
	return m.LoadBuffer(buf)
}

// LoadBuffer replaces the loaded file with a prebuilt buffer. A nil buffer
// is ErrNoBuffer and leaves the current file loaded.
func (m *Manager) LoadBuffer(buf *Buffer) error {
	if buf == nil {
		return ErrNoBuffer
	}
	return m.do(func(time.Time) {
		m.worker.Load(buf)
		m.logger.Info("loaded",
			zap.Int("events", buf.Len()),
			zap.Int("tracks", len(buf.Tracks)),
			zap.Float64("duration", buf.Duration()))
	})
}

// Start plays from the beginning. It does nothing while a session is active.
func (m *Manager) Start() {
	m.do(func(now time.Time) {
		if m.worker.Start(now) {
			m.attach()
			m.logger.Info("start")
		}
	})
}

// Stop rewinds to the beginning. Safe to call repeatedly.
func (m *Manager) Stop() {
	m.do(func(time.Time) {
		if m.worker.Stop() {
			m.detach()
			m.logger.Info("stop")
		}
	})
}

func (m *Manager) Pause() {
	m.do(func(now time.Time) {
		if m.worker.Pause(now) {
			m.logger.Info("pause", zap.Float64("position", m.worker.PositionSeconds(now)))
		}
	})
}

func (m *Manager) Resume() {
	m.do(func(now time.Time) {
		if m.worker.Resume(now) {
			m.logger.Info("resume")
		}
	})
}

// TogglePause pauses, resumes or starts depending on the state
func (m *Manager) TogglePause() {
	m.do(func(now time.Time) {
		switch m.worker.State() {
		case StateRunning:
			m.worker.Pause(now)
		case StatePaused:
			m.worker.Resume(now)
		default:
			if m.worker.Start(now) {
				m.attach()
			}
		}
	})
}

// Seek moves to seconds and returns the resulting position
func (m *Manager) Seek(seconds float64) float64 {
	var pos float64
	m.do(func(now time.Time) {
		pos = m.worker.Seek(now, seconds)
		m.logger.Debug("seek", zap.Float64("target", seconds), zap.Float64("position", pos))
	})
	return pos
}

func (m *Manager) MuteTrack(track int, muted bool) {
	m.do(func(time.Time) { m.worker.MuteTrack(track, muted) })
}

func (m *Manager) MuteChannel(channel int, muted bool) {
	m.do(func(time.Time) { m.worker.MuteChannel(channel, muted) })
}

func (m *Manager) SetSuppressControlChanges(on bool) {
	m.do(func(time.Time) { m.worker.SetSuppressControlChanges(on) })
}

func (m *Manager) SetSuppressProgramChanges(on bool) {
	m.do(func(time.Time) { m.worker.SetSuppressProgramChanges(on) })
}

// SetManualTempoOverride fixes the tempo from the current position on
func (m *Manager) SetManualTempoOverride(enabled bool, usPerQuarter uint32) error {
	if !enabled {
		usPerQuarter = 0
	} else if usPerQuarter == 0 {
		return ErrInvalidTempo
	}
	return m.do(func(now time.Time) { m.worker.SetManualTempo(now, usPerQuarter) })
}

// SetSink replaces the output; nil discards messages
func (m *Manager) SetSink(s midi.Sink) {
	m.do(func(time.Time) { m.worker.SetSink(s) })
}

// Snapshot returns the state published after the last command or poll
func (m *Manager) Snapshot() Snapshot { return *m.snap.Load() }

func (m *Manager) State() State                { return m.snap.Load().State }
func (m *Manager) PositionSeconds() float64    { return m.snap.Load().PositionSeconds }
func (m *Manager) PositionTick() uint64        { return m.snap.Load().PositionTick }
func (m *Manager) CurrentTempoBPM() float64    { return m.snap.Load().BPM() }
func (m *Manager) DurationSeconds() float64    { return m.snap.Load().DurationSeconds }
func (m *Manager) PollInterval() time.Duration { return m.pollInterval }
