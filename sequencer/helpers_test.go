package sequencer

import (
	"errors"
	"sync"
	"time"

	"jdxi-player/midi"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func at(seconds float64) time.Time {
	return t0.Add(time.Duration(seconds * float64(time.Second)))
}

func noteOn(ch, key, vel uint8) []byte { return []byte{0x90 | ch, key, vel} }
func noteOff(ch, key uint8) []byte     { return []byte{0x80 | ch, key, 0} }
func cc(ch, num, val uint8) []byte     { return []byte{0xB0 | ch, num, val} }
func program(ch, prog uint8) []byte    { return []byte{0xC0 | ch, prog} }

func msg(delta uint32, b []byte) SourceEvent {
	return SourceEvent{Delta: delta, Payload: b}
}

func tempo(delta, us uint32) SourceEvent {
	return SourceEvent{Delta: delta, Kind: midi.KindTempo, Tempo: us}
}

func meta(delta uint32) SourceEvent {
	return SourceEvent{Delta: delta, Kind: midi.KindMeta}
}

// scenarioTracks is a two-segment file: 62 BPM from tick 0, 124 BPM from
// tick 49920, with notes on both sides of the change.
func scenarioTracks() []Track {
	return []Track{
		{Name: "Tempo", Events: []SourceEvent{
			tempo(0, 967745),
			tempo(49920, 483870),
		}},
		{Name: "Lead", Events: []SourceEvent{
			msg(0, noteOn(0, 60, 100)),
			msg(49919, noteOff(0, 60)),
			msg(1, noteOn(0, 62, 100)),
			msg(9600, noteOff(0, 62)),
		}},
	}
}

// evenTracks puts a note on every beat at 120 BPM (0.5s apart)
func evenTracks(beats int) []Track {
	var evs []SourceEvent
	for i := 0; i < beats; i++ {
		var delta uint32 = 480
		if i == 0 {
			delta = 0
		}
		evs = append(evs, msg(delta, noteOn(0, uint8(40+i%40), 100)))
	}
	return []Track{{Events: evs}}
}

func mustBuffer(tracks []Track, tpb uint16) *Buffer {
	buf, err := BuildBuffer(tracks, tpb)
	if err != nil {
		panic(err)
	}
	return buf
}

type recorder struct {
	mu   sync.Mutex
	msgs [][]byte
	fail func(msg []byte) bool
}

func (r *recorder) Send(msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil && r.fail(msg) {
		return errors.New("device unplugged")
	}
	r.msgs = append(r.msgs, append([]byte(nil), msg...))
	return nil
}

func (r *recorder) all() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.msgs...)
}

func (r *recorder) count(b []byte) int {
	n := 0
	for _, m := range r.all() {
		if string(m) == string(b) {
			n++
		}
	}
	return n
}

// newTestWorker loads tracks and records every dispatched event
func newTestWorker(tracks []Track, tpb uint16) (*Worker, *recorder, *[]Event) {
	rec := &recorder{}
	w := NewWorker(rec, nil)
	w.Load(mustBuffer(tracks, tpb))
	var sent []Event
	w.OnDispatch = func(e Event) { sent = append(sent, e) }
	return w, rec, &sent
}

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	created int
}

type fakeTicker struct {
	clock   *fakeClock
	c       chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) NewTicker(time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{clock: f, c: make(chan time.Time), stopped: make(chan struct{})}
	f.tickers = append(f.tickers, t)
	f.created++
	return t
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }

func (t *fakeTicker) Stop() {
	t.once.Do(func() {
		close(t.stopped)
		f := t.clock
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, other := range f.tickers {
			if other == t {
				f.tickers = append(f.tickers[:i], f.tickers[i+1:]...)
				break
			}
		}
	})
}

// active is the number of tickers not yet stopped
func (f *fakeClock) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

func (f *fakeClock) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// advance moves time forward and delivers one tick to every active ticker.
// It returns once each tick has been received.
func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	tickers := append([]*fakeTicker(nil), f.tickers...)
	f.mu.Unlock()

	for _, t := range tickers {
		select {
		case t.c <- now:
		case <-t.stopped:
		}
	}
}
