package midifile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"jdxi-player/midi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rawEvent struct {
	delta int
	data  []byte
}

// buildSMF writes a format 1 file with the given division and tracks. An
// end-of-track meta is appended to every track.
func buildSMF(division uint16, tracks ...[]rawEvent) []byte {
	var buf bytes.Buffer
	buf.WriteString("MThd")
	buf.Write([]byte{0, 0, 0, 6})
	buf.Write([]byte{0, 1})
	buf.Write([]byte{byte(len(tracks) >> 8), byte(len(tracks))})
	buf.Write([]byte{byte(division >> 8), byte(division)})

	for _, tr := range tracks {
		var data bytes.Buffer
		for _, ev := range tr {
			data.Write(encodeVarInt(ev.delta))
			data.Write(ev.data)
		}
		data.Write([]byte{0x00, 0xFF, 0x2F, 0x00})

		buf.WriteString("MTrk")
		n := data.Len()
		buf.Write([]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
		buf.Write(data.Bytes())
	}
	return buf.Bytes()
}

func encodeVarInt(value int) []byte {
	if value == 0 {
		return []byte{0}
	}
	var result []byte
	for value > 0 {
		b := byte(value & 0x7F)
		value >>= 7
		if len(result) > 0 {
			b |= 0x80
		}
		result = append([]byte{b}, result...)
	}
	return result
}

func tempoMeta(us uint32) []byte {
	return []byte{0xFF, 0x51, 0x03, byte(us >> 16), byte(us >> 8), byte(us)}
}

func trackName(name string) []byte {
	return append([]byte{0xFF, 0x03, byte(len(name))}, name...)
}

func scenarioFile() []byte {
	return buildSMF(480,
		[]rawEvent{
			{0, trackName("Tempo")},
			{0, tempoMeta(967745)},
			{49920, tempoMeta(483870)},
		},
		[]rawEvent{
			{0, []byte{0xC0, 0x05}},
			{0, []byte{0x90, 60, 100}},
			{49919, []byte{0x80, 60, 0}},
			{1, []byte{0xB0, 7, 90}},
		},
	)
}

func TestReadTempoAndNames(t *testing.T) {
	f, err := Read(bytes.NewReader(scenarioFile()))
	require.NoError(t, err)

	assert.Equal(t, uint16(480), f.TicksPerBeat)
	require.Len(t, f.Tracks, 2)
	assert.Equal(t, "Tempo", f.Tracks[0].Name)
	assert.Empty(t, f.Tracks[1].Name)

	var tempos []uint32
	for _, ev := range f.Tracks[0].Events {
		if ev.Kind == midi.KindTempo {
			tempos = append(tempos, ev.Tempo)
		}
	}
	assert.Equal(t, []uint32{967745, 483870}, tempos)

	kinds := []midi.Kind{}
	for _, ev := range f.Tracks[1].Events {
		kinds = append(kinds, ev.Kind)
	}
	require.GreaterOrEqual(t, len(kinds), 4)
	assert.Equal(t, []midi.Kind{midi.KindProgramChange, midi.KindNote, midi.KindNote, midi.KindControlChange}, kinds[:4])
}

func TestFileBuffer(t *testing.T) {
	f, err := Read(bytes.NewReader(scenarioFile()))
	require.NoError(t, err)

	buf, err := f.Buffer()
	require.NoError(t, err)
	assert.InDelta(t, 100.65, buf.Tempo.SecondsForTick(49920), 0.01)
	assert.InDelta(t, 100.65, buf.Duration(), 0.01)
	assert.Equal(t, "Track 2", buf.Tracks[1].Label())

	for _, e := range buf.Events {
		if e.IsTempo() {
			continue
		}
		if e.Tick < 49920 {
			assert.Equal(t, uint32(967745), e.Tempo)
		} else {
			assert.Equal(t, uint32(483870), e.Tempo)
		}
	}
	// names, end-of-track and other metas are not scheduled
	assert.Equal(t, 6, buf.Len())
}

func TestReadWithoutTempo(t *testing.T) {
	data := buildSMF(96, []rawEvent{{0, []byte{0x90, 60, 100}}, {96, []byte{0x80, 60, 0}}})
	f, err := Read(bytes.NewReader(data))
	require.NoError(t, err)

	buf, err := f.Buffer()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, buf.Duration(), 1e-12)
	assert.Len(t, buf.Tempo.Checkpoints(), 1)
}

func TestReadSMPTE(t *testing.T) {
	data := buildSMF(0xE728, []rawEvent{{0, []byte{0x90, 60, 100}}})
	_, err := Read(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrSMPTE)
}

func TestLoadSMPTE(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smpte.mid")
	require.NoError(t, os.WriteFile(path, buildSMF(0xE250, []rawEvent{{0, []byte{0x90, 60, 100}}}), 0644))

	var f *File
	var err error
	require.NotPanics(t, func() { f, err = Load(path) })
	assert.Nil(t, f)
	assert.ErrorIs(t, err, ErrSMPTE)
	assert.Contains(t, err.Error(), path)
}

func TestSMPTEDivision(t *testing.T) {
	assert.True(t, smpteDivision(buildSMF(0xE728)))
	assert.False(t, smpteDivision(buildSMF(480)))
	assert.False(t, smpteDivision([]byte("MThd")))
	assert.False(t, smpteDivision([]byte("RIFF\x00\x00\x00\x06\x00\x00\x00\x01\xe7\x28")))
}

func TestReadGarbage(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("not a midi file")))
	assert.Error(t, err)
}

func TestReadNoTracks(t *testing.T) {
	_, err := Read(bytes.NewReader(buildSMF(480)))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.mid")
	require.NoError(t, os.WriteFile(path, scenarioFile(), 0644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, f.Path)
	assert.Len(t, f.Tracks, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.mid"))
	assert.Error(t, err)
}
