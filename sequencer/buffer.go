package sequencer

import (
	"errors"
	"sort"

	"jdxi-player/midi"
)

// ErrNoBuffer is returned by operations that need a loaded file
var ErrNoBuffer = errors.New("no event buffer loaded")

// ErrTicksPerBeat is returned when the resolution is zero
var ErrTicksPerBeat = errors.New("ticks per beat must be positive")

// Buffer is the merged, time-ordered event list for one loaded file.
// It is read-only once built.
type Buffer struct {
	Events       []Event
	TicksPerBeat uint16
	Tempo        *TempoMap
	Tracks       []TrackInfo

	due []float64 // tempo-map seconds of each event
}

// BuildBuffer merges tracks into one buffer ordered by tick. Ties keep track
// order, then file order within a track.
func BuildBuffer(tracks []Track, ticksPerBeat uint16) (*Buffer, error) {
	if ticksPerBeat == 0 {
		return nil, ErrTicksPerBeat
	}

	events := flatten(tracks)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Tick < events[j].Tick })
	TagTempos(events)

	var changes []Checkpoint
	for _, e := range events {
		if e.IsTempo() {
			changes = append(changes, Checkpoint{Tick: e.Tick, Tempo: e.Tempo})
		}
	}

	b := &Buffer{
		Events:       events,
		TicksPerBeat: ticksPerBeat,
		Tempo:        NewTempoMap(ticksPerBeat, changes),
		Tracks:       trackInfos(tracks, events),
		due:          make([]float64, len(events)),
	}
	for i, e := range events {
		b.due[i] = b.Tempo.SecondsForTick(e.Tick)
	}
	return b, nil
}

// flatten converts delta times to absolute ticks per track and drops
// non-tempo meta events.
func flatten(tracks []Track) []Event {
	var out []Event
	for ti, tr := range tracks {
		var tick uint64
		for _, se := range tr.Events {
			tick += uint64(se.Delta)
			switch se.Kind {
			case midi.KindMeta:
				continue
			case midi.KindTempo:
				out = append(out, Event{Tick: tick, Track: ti, Channel: -1, Kind: midi.KindTempo, Tempo: se.Tempo})
			default:
				kind, ch := midi.Classify(se.Payload)
				if se.Kind != midi.KindOther {
					kind = se.Kind
				}
				out = append(out, Event{Tick: tick, Track: ti, Channel: ch, Kind: kind, Payload: se.Payload})
			}
		}
	}
	return out
}

// TagTempos walks a tick-ordered buffer and tags every non-tempo event with
// the tempo set by the most recent earlier tempo change. A tempo change keeps
// its own value and only affects the events after it.
func TagTempos(events []Event) {
	current := DefaultTempo
	for i := range events {
		if events[i].IsTempo() {
			current = events[i].Tempo
			continue
		}
		events[i].Tempo = current
	}
}

func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Events)
}

// MaxTick is the tick of the last event
func (b *Buffer) MaxTick() uint64 {
	if b.Len() == 0 {
		return 0
	}
	return b.Events[len(b.Events)-1].Tick
}

// Duration is the tempo-map length of the buffer in seconds
func (b *Buffer) Duration() float64 {
	if b.Len() == 0 {
		return 0
	}
	return b.Tempo.SecondsForTick(b.MaxTick())
}

// DueSeconds returns the tempo-map time of event i
func (b *Buffer) DueSeconds(i int) float64 {
	return b.due[i]
}

// IndexAt returns the first event index whose time reaches seconds
func (b *Buffer) IndexAt(seconds float64) int {
	return sort.SearchFloat64s(b.due, seconds)
}

// TempoBefore replays tempo changes in [0, idx) and returns the tempo in force
func (b *Buffer) TempoBefore(idx int) uint32 {
	tempo := DefaultTempo
	for i := 0; i < idx && i < len(b.Events); i++ {
		if b.Events[i].IsTempo() {
			tempo = b.Events[i].Tempo
		}
	}
	return tempo
}
