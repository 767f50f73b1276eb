package sequencer

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Mix is the per-file playback setup: what is muted, what is suppressed
// and whether the tempo is held
type Mix struct {
	MutedTracks            []int  `json:"mutedTracks,omitempty"`
	MutedChannels          []int  `json:"mutedChannels,omitempty"`
	SuppressControlChanges bool   `json:"suppressControlChanges"`
	SuppressProgramChanges bool   `json:"suppressProgramChanges"`
	ManualTempo            uint32 `json:"manualTempo,omitempty"`
}

// Mix extracts the playback setup from a snapshot
func (s Snapshot) Mix() Mix {
	return Mix{
		MutedTracks:            s.MutedTracks,
		MutedChannels:          s.MutedChannels,
		SuppressControlChanges: s.SuppressControlChanges,
		SuppressProgramChanges: s.SuppressProgramChanges,
		ManualTempo:            s.ManualTempo,
	}
}

// ApplyMix replaces mutes, suppression and tempo override in one step
func (m *Manager) ApplyMix(mix Mix) error {
	return m.do(func(now time.Time) {
		w := m.worker
		st := w.PlaybackState()
		for _, t := range sortedKeys(st.MutedTracks) {
			w.MuteTrack(t, false)
		}
		for _, ch := range sortedKeys(st.MutedChannels) {
			w.MuteChannel(ch, false)
		}
		for _, t := range mix.MutedTracks {
			w.MuteTrack(t, true)
		}
		for _, ch := range mix.MutedChannels {
			w.MuteChannel(ch, true)
		}
		w.SetSuppressControlChanges(mix.SuppressControlChanges)
		w.SetSuppressProgramChanges(mix.SuppressProgramChanges)
		w.SetManualTempo(now, mix.ManualTempo)
	})
}

// MixesDir returns the mixes directory path
func MixesDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "jdxi-player", "mixes"), nil
}

// MixPath returns where the mix for a song file is stored in dir
func MixPath(dir, song string) string {
	name := strings.TrimSuffix(filepath.Base(song), filepath.Ext(song))
	return filepath.Join(dir, sanitizeFilename(name)+".json")
}

// SaveMix writes the mix for song into dir
func SaveMix(dir, song string, mix Mix) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(mix, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(MixPath(dir, song), data, 0644)
}

// LoadMix reads the mix for song from dir. ok is false when none was saved.
func LoadMix(dir, song string) (mix Mix, ok bool, err error) {
	data, err := os.ReadFile(MixPath(dir, song))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Mix{}, false, nil
		}
		return Mix{}, false, err
	}
	if err := json.Unmarshal(data, &mix); err != nil {
		return Mix{}, false, err
	}
	return mix, true, nil
}

// sanitizeFilename removes/replaces characters that are problematic in filenames
func sanitizeFilename(name string) string {
	name = strings.NewReplacer(
		" ", "-", "/", "-", "\\", "-", ":", "-",
		"*", "", "?", "", "\"", "", "<", "", ">", "", "|", "",
	).Replace(name)
	if name == "" {
		return "untitled"
	}
	return name
}
