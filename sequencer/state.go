package sequencer

import (
	"sort"
	"time"

	"jdxi-player/midi"
)

// State is the transport state of a PlaybackWorker
type State int

const (
	StateIdle  State = iota // nothing loaded
	StateArmed              // loaded, not started
	StateRunning
	StatePaused
	StateStopped
	StateCompleted // cursor reached the end of the buffer
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

// Active reports whether a wall-clock anchor exists
func (s State) Active() bool {
	return s == StateRunning || s == StatePaused
}

// PlaybackState is the mutable data of one loaded file. It is owned by a
// single goroutine.
type PlaybackState struct {
	Buffer *Buffer
	Cursor int

	StartWallTime time.Time // zero until started
	PausedAt      time.Time // zero unless paused

	CurrentTempo uint32 // set by the last dispatched tempo change
	ManualTempo  uint32 // 0 = follow the file

	MutedTracks            map[int]bool
	MutedChannels          map[int]bool
	SuppressControlChanges bool
	SuppressProgramChanges bool
}

// NewPlaybackState creates state for buf with the cursor at 0
func NewPlaybackState(buf *Buffer) *PlaybackState {
	return &PlaybackState{
		Buffer:        buf,
		CurrentTempo:  DefaultTempo,
		MutedTracks:   make(map[int]bool),
		MutedChannels: make(map[int]bool),
	}
}

// Filtered reports whether e must not reach the sink. Tempo changes are
// never sent, so they are not subject to filtering.
func (s *PlaybackState) Filtered(e Event) bool {
	if e.IsTempo() {
		return false
	}
	if s.MutedTracks[e.Track] {
		return true
	}
	if e.Channel >= 0 && s.MutedChannels[e.Channel] {
		return true
	}
	if e.Kind == midi.KindControlChange && s.SuppressControlChanges {
		return true
	}
	if e.Kind == midi.KindProgramChange && s.SuppressProgramChanges {
		return true
	}
	return false
}

// EffectiveTempo is the manual override when set, else the current tempo
func (s *PlaybackState) EffectiveTempo() uint32 {
	if s.ManualTempo != 0 {
		return s.ManualTempo
	}
	return s.CurrentTempo
}

func sortedKeys(m map[int]bool) []int {
	keys := make([]int, 0, len(m))
	for k, on := range m {
		if on {
			keys = append(keys, k)
		}
	}
	sort.Ints(keys)
	return keys
}
