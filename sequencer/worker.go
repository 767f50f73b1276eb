package sequencer

import (
	"time"

	"jdxi-player/midi"

	"go.uber.org/zap"
)

// Stats counts what happened to the events the cursor has passed
type Stats struct {
	Dispatched   uint64
	Filtered     uint64
	Failed       uint64
	TempoChanges uint64
	Released     uint64 // note offs sent for hanging notes
}

// Processed is the number of buffer events the cursor has consumed
func (s Stats) Processed() uint64 {
	return s.Dispatched + s.Filtered + s.Failed + s.TempoChanges
}

type noteKey struct {
	track        int
	channel, key uint8
}

// anchor maps elapsed wall seconds to musical position. In map mode
// (fixed == 0) due times follow the tempo map; otherwise every tick from the
// anchor on lasts fixed µs per quarter.
type anchor struct {
	elapsed float64 // wall seconds since StartWallTime
	tick    float64
	seconds float64 // tempo-map seconds at tick
	fixed   uint32
}

// Worker dispatches buffered events when their due time has passed. It is
// not safe for concurrent use; one goroutine owns it.
type Worker struct {
	st     *PlaybackState
	state  State
	anchor anchor

	sink         midi.Sink
	logger       *zap.Logger
	releaseNotes bool
	sounding     map[noteKey]int
	stats        Stats

	// OnTempo is called when a tempo change is dispatched
	OnTempo func(usPerQuarter uint32)
	// OnDispatch is called after an event reached the sink
	OnDispatch func(e Event)
}

// NewWorker creates an idle worker. A nil logger disables logging.
func NewWorker(sink midi.Sink, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		st:       NewPlaybackState(nil),
		sink:     sink,
		logger:   logger,
		sounding: make(map[noteKey]int),
	}
}

func (w *Worker) State() State                  { return w.state }
func (w *Worker) PlaybackState() *PlaybackState { return w.st }
func (w *Worker) Stats() Stats                  { return w.stats }
func (w *Worker) Buffer() *Buffer               { return w.st.Buffer }

// SetSink replaces the output. Sounding notes are released on the old one.
func (w *Worker) SetSink(s midi.Sink) {
	w.releaseWhere(func(noteKey) bool { return true })
	w.sink = s
}

// SetReleaseNotes enables note offs for sounding notes on pause, stop, seek
// and completion.
func (w *Worker) SetReleaseNotes(on bool) { w.releaseNotes = on }

// Load replaces the buffer. A running session is stopped first. Channel
// mutes, suppression flags and the tempo override carry over; track mutes
// do not.
func (w *Worker) Load(buf *Buffer) {
	w.Stop()
	prev := w.st
	w.st = NewPlaybackState(buf)
	w.st.MutedChannels = prev.MutedChannels
	w.st.SuppressControlChanges = prev.SuppressControlChanges
	w.st.SuppressProgramChanges = prev.SuppressProgramChanges
	w.st.ManualTempo = prev.ManualTempo
	w.stats = Stats{}
	w.anchor = anchor{}
	if buf == nil {
		w.state = StateIdle
	} else {
		w.state = StateArmed
	}
}

// Start begins playback from tick 0. It returns false when nothing is
// loaded or a session is already active.
func (w *Worker) Start(now time.Time) bool {
	switch w.state {
	case StateIdle, StateRunning, StatePaused:
		return false
	}
	w.reset()
	w.st.StartWallTime = now
	w.anchor = anchor{fixed: w.st.ManualTempo}
	w.stats = Stats{}
	w.state = StateRunning
	return true
}

// Poll dispatches every event due at now and returns how many events the
// cursor passed.
func (w *Worker) Poll(now time.Time) int {
	if w.state != StateRunning {
		return 0
	}
	buf := w.st.Buffer
	elapsed := w.elapsed(now)

	n := 0
	for w.st.Cursor < buf.Len() && w.due(w.st.Cursor) <= elapsed {
		w.dispatch(buf.Events[w.st.Cursor])
		w.st.Cursor++
		n++
	}
	if w.st.Cursor >= buf.Len() {
		w.complete()
	}
	return n
}

func (w *Worker) Pause(now time.Time) bool {
	if w.state != StateRunning {
		return false
	}
	w.st.PausedAt = now
	w.state = StatePaused
	w.releaseWhere(func(noteKey) bool { return true })
	return true
}

func (w *Worker) Resume(now time.Time) bool {
	if w.state != StatePaused {
		return false
	}
	w.st.StartWallTime = w.st.StartWallTime.Add(now.Sub(w.st.PausedAt))
	w.st.PausedAt = time.Time{}
	w.state = StateRunning
	return true
}

// Stop ends the session and rewinds to tick 0. Repeated calls are no-ops.
func (w *Worker) Stop() bool {
	switch w.state {
	case StateRunning, StatePaused:
		w.releaseWhere(func(noteKey) bool { return true })
	case StateCompleted:
	default:
		return false
	}
	w.reset()
	w.state = StateStopped
	return true
}

// Seek moves playback to target seconds and returns the new position.
// Without an active session it does nothing and returns 0. Past the end the
// session completes.
func (w *Worker) Seek(now time.Time, target float64) float64 {
	if !w.state.Active() {
		return 0
	}
	buf := w.st.Buffer
	if target < 0 {
		target = 0
	}
	w.releaseWhere(func(noteKey) bool { return true })

	dur := buf.Duration()
	if target > dur {
		w.st.Cursor = buf.Len()
		w.st.CurrentTempo = buf.TempoBefore(w.st.Cursor)
		w.complete()
		return dur
	}

	w.st.Cursor = buf.IndexAt(target)
	w.st.CurrentTempo = buf.TempoBefore(w.st.Cursor)
	w.st.StartWallTime = now.Add(-time.Duration(target * float64(time.Second)))
	w.anchor = anchor{
		elapsed: target,
		tick:    buf.Tempo.tickAt(target),
		seconds: target,
		fixed:   w.st.ManualTempo,
	}
	if w.state == StatePaused {
		w.st.PausedAt = now
	}
	return target
}

// SetManualTempo schedules from the current position on at a fixed tempo.
// Zero returns to the file's tempo map.
func (w *Worker) SetManualTempo(now time.Time, usPerQuarter uint32) {
	if w.state.Active() {
		e := w.elapsed(now)
		tick := w.tickAt(e)
		w.anchor = anchor{
			elapsed: e,
			tick:    tick,
			seconds: w.st.Buffer.Tempo.secondsAt(tick),
			fixed:   usPerQuarter,
		}
	}
	w.st.ManualTempo = usPerQuarter
}

func (w *Worker) MuteTrack(track int, on bool) {
	if !on {
		delete(w.st.MutedTracks, track)
		return
	}
	w.st.MutedTracks[track] = true
	w.releaseWhere(func(k noteKey) bool { return k.track == track })
}

func (w *Worker) MuteChannel(channel int, on bool) {
	if !on {
		delete(w.st.MutedChannels, channel)
		return
	}
	w.st.MutedChannels[channel] = true
	w.releaseWhere(func(k noteKey) bool { return int(k.channel) == channel })
}

func (w *Worker) SetSuppressControlChanges(on bool) { w.st.SuppressControlChanges = on }
func (w *Worker) SetSuppressProgramChanges(on bool) { w.st.SuppressProgramChanges = on }

// PositionSeconds is the tempo-map time at now, 0 without a session
func (w *Worker) PositionSeconds(now time.Time) float64 {
	switch w.state {
	case StateCompleted:
		return w.st.Buffer.Duration()
	case StateRunning, StatePaused:
		return clamp(w.mapSecondsAt(w.elapsed(now)), 0, w.st.Buffer.Duration())
	}
	return 0
}

// PositionTick is the tick reached at now, 0 without a session
func (w *Worker) PositionTick(now time.Time) uint64 {
	switch w.state {
	case StateCompleted:
		return w.st.Buffer.MaxTick()
	case StateRunning, StatePaused:
		return uint64(clamp(w.tickAt(w.elapsed(now)), 0, float64(w.st.Buffer.MaxTick())))
	}
	return 0
}

// DurationSeconds is 0 when nothing is loaded
func (w *Worker) DurationSeconds() float64 {
	return w.st.Buffer.Duration()
}

// CurrentTempo is the effective µs per quarter
func (w *Worker) CurrentTempo() uint32 {
	return w.st.EffectiveTempo()
}

func (w *Worker) reset() {
	w.st.Cursor = 0
	w.st.StartWallTime = time.Time{}
	w.st.PausedAt = time.Time{}
	w.st.CurrentTempo = DefaultTempo
	w.anchor = anchor{}
}

func (w *Worker) complete() {
	w.releaseWhere(func(noteKey) bool { return true })
	w.st.StartWallTime = time.Time{}
	w.st.PausedAt = time.Time{}
	w.state = StateCompleted
}

func (w *Worker) elapsed(now time.Time) float64 {
	if w.state == StatePaused {
		now = w.st.PausedAt
	}
	return now.Sub(w.st.StartWallTime).Seconds()
}

// due returns the elapsed wall seconds at which event i is due
func (w *Worker) due(i int) float64 {
	a := w.anchor
	buf := w.st.Buffer
	if a.fixed == 0 {
		return a.elapsed + buf.due[i] - a.seconds
	}
	ticks := float64(buf.Events[i].Tick) - a.tick
	return a.elapsed + ticks/float64(buf.TicksPerBeat)*float64(a.fixed)/1e6
}

func (w *Worker) tickAt(elapsed float64) float64 {
	a := w.anchor
	buf := w.st.Buffer
	if a.fixed == 0 {
		return buf.Tempo.tickAt(a.seconds + elapsed - a.elapsed)
	}
	return a.tick + (elapsed-a.elapsed)*1e6/float64(a.fixed)*float64(buf.TicksPerBeat)
}

func (w *Worker) mapSecondsAt(elapsed float64) float64 {
	if w.anchor.fixed == 0 {
		return w.anchor.seconds + elapsed - w.anchor.elapsed
	}
	return w.st.Buffer.Tempo.secondsAt(w.tickAt(elapsed))
}

func (w *Worker) dispatch(e Event) {
	if e.IsTempo() {
		w.st.CurrentTempo = e.Tempo
		w.stats.TempoChanges++
		if w.OnTempo != nil {
			w.OnTempo(e.Tempo)
		}
		return
	}
	if w.st.Filtered(e) {
		w.stats.Filtered++
		return
	}
	if !w.send(e.Payload) {
		w.stats.Failed++
		return
	}
	w.stats.Dispatched++
	w.trackNote(e)
	if w.OnDispatch != nil {
		w.OnDispatch(e)
	}
}

func (w *Worker) send(msg []byte) bool {
	if w.sink == nil {
		return true
	}
	if err := w.sink.Send(msg); err != nil {
		w.logger.Warn("send failed", zap.Error(err), zap.Binary("msg", msg))
		return false
	}
	return true
}

func (w *Worker) trackNote(e Event) {
	if e.Kind != midi.KindNote {
		return
	}
	ch, key, start, ok := midi.NoteState(e.Payload)
	if !ok {
		return
	}
	k := noteKey{track: e.Track, channel: ch, key: key}
	if start {
		w.sounding[k]++
		return
	}
	if w.sounding[k] > 1 {
		w.sounding[k]--
	} else {
		delete(w.sounding, k)
	}
}

// releaseWhere forgets sounding notes matching match and, when enabled,
// sends a note off for each.
func (w *Worker) releaseWhere(match func(noteKey) bool) {
	for k := range w.sounding {
		if !match(k) {
			continue
		}
		delete(w.sounding, k)
		if !w.releaseNotes {
			continue
		}
		if w.send(midi.NoteOffBytes(k.channel, k.key)) {
			w.stats.Released++
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
