package widgets

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// FormatTime renders seconds as m:ss.t
func FormatTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	tenths := int(seconds*10 + 0.5)
	return fmt.Sprintf("%d:%02d.%d", tenths/600, (tenths/10)%60, tenths%10)
}

// ProgressCells returns how many of width cells are filled for pos/total
func ProgressCells(pos, total float64, width int) int {
	if width <= 0 || total <= 0 || pos <= 0 {
		return 0
	}
	if pos >= total {
		return width
	}
	return int(pos / total * float64(width))
}

// RenderProgress renders a horizontal bar, filled up to pos/total
func RenderProgress(pos, total float64, width int, full, empty rune, fill, track lipgloss.Color) string {
	n := ProgressCells(pos, total, width)
	filled := lipgloss.NewStyle().Foreground(fill).Render(strings.Repeat(string(full), n))
	rest := lipgloss.NewStyle().Foreground(track).Render(strings.Repeat(string(empty), width-n))
	return filled + rest
}

// TrackRow is one line of the track list
type TrackRow struct {
	Label    string
	Events   int
	Channels []int // 0-15
	Muted    bool
	Selected bool
}

// RenderTrackRow renders "› ● Lead         412 ev  ch 1,2"
func RenderTrackRow(r TrackRow, selected, muted, audible rune, color, dim lipgloss.Color) string {
	cursor := ' '
	if r.Selected {
		cursor = selected
	}
	mark := audible
	style := lipgloss.NewStyle().Foreground(color)
	if r.Muted {
		mark = muted
		style = lipgloss.NewStyle().Foreground(dim)
	}
	line := fmt.Sprintf("%c %c %-16s %5d ev  %s", cursor, mark, truncate(r.Label, 16), r.Events, formatChannels(r.Channels))
	return style.Render(line)
}

// RenderChannelStrip renders 16 channel cells, muted ones dimmed
func RenderChannelStrip(muted func(ch int) bool, on, off lipgloss.Color) string {
	var out strings.Builder
	for ch := 0; ch < 16; ch++ {
		if ch > 0 {
			out.WriteString(" ")
		}
		color := on
		if muted(ch) {
			color = off
		}
		out.WriteString(lipgloss.NewStyle().Foreground(color).Render(fmt.Sprintf("%X", ch)))
	}
	return out.String()
}

func formatChannels(chs []int) string {
	if len(chs) == 0 {
		return "-"
	}
	parts := make([]string, len(chs))
	for i, ch := range chs {
		parts[i] = fmt.Sprintf("%d", ch+1)
	}
	return "ch " + strings.Join(parts, ",")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
