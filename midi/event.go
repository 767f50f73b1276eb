package midi

import (
	gomidi "gitlab.com/gomidi/midi/v2"
)

// MIDI status bytes used outside the channel-message helpers
const (
	NoteOn   uint8 = 0x90
	NoteOff  uint8 = 0x80
	CC       uint8 = 0xB0
	Program  uint8 = 0xC0
	Start    uint8 = 0xFA
	Continue uint8 = 0xFB
	Stop     uint8 = 0xFC
)

// Kind is the scheduling category of a playback event
type Kind uint8

const (
	KindOther Kind = iota
	KindNote
	KindControlChange
	KindProgramChange
	KindTempo
	KindMeta // non-tempo meta; never scheduled
)

func (k Kind) String() string {
	switch k {
	case KindNote:
		return "note"
	case KindControlChange:
		return "cc"
	case KindProgramChange:
		return "program"
	case KindTempo:
		return "tempo"
	case KindMeta:
		return "meta"
	default:
		return "other"
	}
}

// Classify returns the kind of a raw (non-meta) MIDI message and its channel,
// or -1 when it is not a channel message.
func Classify(b []byte) (Kind, int) {
	if len(b) == 0 {
		return KindOther, -1
	}
	msg := gomidi.Message(b)

	channel := -1
	var ch uint8
	if msg.GetChannel(&ch) {
		channel = int(ch)
	}

	switch {
	case msg.Is(gomidi.NoteOnMsg), msg.Is(gomidi.NoteOffMsg):
		return KindNote, channel
	case msg.Is(gomidi.ControlChangeMsg):
		return KindControlChange, channel
	case msg.Is(gomidi.ProgramChangeMsg):
		return KindProgramChange, channel
	}
	return KindOther, channel
}

// NoteState reports whether b starts or ends a note.
// start is true for note-on with velocity > 0; ok is false for non-note messages.
func NoteState(b []byte) (channel, key uint8, start, ok bool) {
	msg := gomidi.Message(b)
	var vel uint8
	if msg.GetNoteStart(&channel, &key, &vel) {
		return channel, key, true, true
	}
	if msg.GetNoteEnd(&channel, &key) {
		return channel, key, false, true
	}
	return 0, 0, false, false
}

// NoteOffBytes builds a note-off message
func NoteOffBytes(channel, key uint8) []byte {
	return gomidi.NoteOff(channel, key).Bytes()
}
