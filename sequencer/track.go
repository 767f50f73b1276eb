package sequencer

import (
	"fmt"
	"sort"
)

// TrackInfo describes one input track for mute-by-track display
type TrackInfo struct {
	Index    int
	Name     string
	Events   int   // scheduled events, tempo changes included
	Channels []int // channels used, ascending
}

// Label returns the track name, or "Track N" (1-based) when unnamed
func (t TrackInfo) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("Track %d", t.Index+1)
}

func trackInfos(tracks []Track, events []Event) []TrackInfo {
	infos := make([]TrackInfo, len(tracks))
	seen := make([]map[int]bool, len(tracks))
	for i, tr := range tracks {
		infos[i] = TrackInfo{Index: i, Name: tr.Name}
		seen[i] = make(map[int]bool)
	}
	for _, e := range events {
		infos[e.Track].Events++
		if e.Channel >= 0 && !seen[e.Track][e.Channel] {
			seen[e.Track][e.Channel] = true
			infos[e.Track].Channels = append(infos[e.Track].Channels, e.Channel)
		}
	}
	for i := range infos {
		sort.Ints(infos[i].Channels)
	}
	return infos
}
