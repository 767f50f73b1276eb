package sequencer

import "jdxi-player/midi"

// DefaultTempo applies until the first tempo change (120 BPM)
const DefaultTempo uint32 = 500000

// SourceEvent is one delta-tagged event of an input track
type SourceEvent struct {
	Delta   uint32
	Kind    midi.Kind
	Payload []byte // raw MIDI; unused for tempo and meta
	Tempo   uint32 // µs per quarter, KindTempo only
}

// Track is an input track as read from a file
type Track struct {
	Name   string
	Events []SourceEvent
}

// Event is one scheduled occurrence in the playback buffer
type Event struct {
	Tick    uint64
	Track   int
	Channel int // -1 when not a channel message
	Kind    midi.Kind
	Payload []byte // nil for tempo changes

	// Tempo is the new value for a tempo change and the tempo in force for
	// everything else.
	Tempo uint32
}

func (e Event) IsTempo() bool { return e.Kind == midi.KindTempo }

// BPM converts microseconds per quarter note to beats per minute
func BPM(usPerQuarter uint32) float64 {
	if usPerQuarter == 0 {
		return 0
	}
	return 60_000_000 / float64(usPerQuarter)
}

// TempoFromBPM converts beats per minute to microseconds per quarter note
func TempoFromBPM(bpm float64) uint32 {
	if bpm <= 0 {
		return 0
	}
	return uint32(60_000_000/bpm + 0.5)
}
