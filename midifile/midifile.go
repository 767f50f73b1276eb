// Package midifile reads Standard MIDI Files into sequencer tracks.
package midifile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"jdxi-player/midi"
	"jdxi-player/sequencer"

	"gitlab.com/gomidi/midi/v2/smf"
)

var (
	// ErrSMPTE is returned for files with SMPTE time division
	ErrSMPTE = errors.New("SMPTE time division is not supported")
	// ErrNoTracks is returned for files without tracks
	ErrNoTracks = errors.New("file has no tracks")
	// ErrMalformed wraps decoder failures on corrupt track data
	ErrMalformed = errors.New("malformed SMF")
)

// File is a parsed SMF ready for sequencer.BuildBuffer
type File struct {
	Path         string
	TicksPerBeat uint16
	Tracks       []sequencer.Track
}

// Load reads the file at path
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// Read parses an SMF from r
func Read(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read smf: %w", err)
	}
	return Parse(data)
}

// Parse converts a complete SMF image. SMPTE division is rejected from the
// header before the track data is decoded.
func Parse(data []byte) (*File, error) {
	if smpteDivision(data) {
		return nil, ErrSMPTE
	}
	s, err := readSMF(data)
	if err != nil {
		return nil, fmt.Errorf("read smf: %w", err)
	}
	return FromSMF(s)
}

// smpteDivision reports whether the MThd division word has its high bit set
func smpteDivision(data []byte) bool {
	if len(data) < 14 || !bytes.Equal(data[:4], []byte("MThd")) {
		return false
	}
	return data[12]&0x80 != 0
}

// readSMF turns decoder panics on malformed input into errors
func readSMF(data []byte) (s *smf.SMF, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, err = nil, fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()
	return smf.ReadFrom(bytes.NewReader(data))
}

// FromSMF converts parsed tracks. Meta events are kept as KindMeta so their
// delta times still count.
func FromSMF(s *smf.SMF) (*File, error) {
	ticks, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, ErrSMPTE
	}
	if ticks == 0 {
		return nil, sequencer.ErrTicksPerBeat
	}
	if len(s.Tracks) == 0 {
		return nil, ErrNoTracks
	}

	f := &File{TicksPerBeat: uint16(ticks)}
	for _, tr := range s.Tracks {
		f.Tracks = append(f.Tracks, convertTrack(tr))
	}
	return f, nil
}

func convertTrack(tr smf.Track) sequencer.Track {
	var out sequencer.Track
	for _, ev := range tr {
		msg := ev.Message
		se := sequencer.SourceEvent{Delta: ev.Delta}

		var name string
		switch {
		case msg.Is(smf.MetaTempoMsg):
			se.Kind = midi.KindTempo
			se.Tempo = decodeTempo(msg)
		case msg.GetMetaTrackName(&name):
			if out.Name == "" {
				out.Name = name
			}
			se.Kind = midi.KindMeta
		case msg.IsMeta():
			se.Kind = midi.KindMeta
		default:
			se.Payload = []byte(msg)
			se.Kind, _ = midi.Classify(se.Payload)
		}
		out.Events = append(out.Events, se)
	}
	return out
}

// decodeTempo reads the exact µs per quarter from FF 51 03 tt tt tt
func decodeTempo(msg smf.Message) uint32 {
	b := []byte(msg)
	if len(b) >= 6 && b[2] == 3 {
		return uint32(b[3])<<16 | uint32(b[4])<<8 | uint32(b[5])
	}
	var bpm float64
	if msg.GetMetaTempo(&bpm) {
		return sequencer.TempoFromBPM(bpm)
	}
	return sequencer.DefaultTempo
}

// Buffer builds the playback buffer for f
func (f *File) Buffer() (*sequencer.Buffer, error) {
	return sequencer.BuildBuffer(f.Tracks, f.TicksPerBeat)
}
