package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"jdxi-player/debug"
	"jdxi-player/midi"
	"jdxi-player/sequencer"
	"jdxi-player/theme"
	"jdxi-player/widgets"
)

const (
	barWidth  = 48
	tempoStep = 5.0 // BPM per +/- press
	minBPM    = 20.0
	maxBPM    = 300.0
)

// output is shared by value copies of Model
type output struct {
	name string
	sink *midi.AsyncSink
}

type Model struct {
	Manager  *sequencer.Manager
	Ports    *midi.PortWatcher // may be nil
	Remote   *midi.Remote      // may be nil
	Theme    *theme.Theme
	Title    string
	Song     string // file path, names the saved mix
	MixDir   string // mix saving is off when empty
	SeekStep float64
	Logger   *zap.Logger

	out      *output
	selected int
	status   string
	showHelp bool
	quitting bool
}

type UpdateMsg struct{}

type DeviceEventMsg midi.DeviceEvent

type RemoteMsg midi.Command

func NewModel(manager *sequencer.Manager, ports *midi.PortWatcher, th *theme.Theme) Model {
	return Model{
		Manager:  manager,
		Ports:    ports,
		Theme:    th,
		SeekStep: 5,
		Logger:   zap.NewNop(),
		out:      &output{},
	}
}

func ListenForUpdates(manager *sequencer.Manager) tea.Cmd {
	return func() tea.Msg {
		<-manager.UpdateChan
		return UpdateMsg{}
	}
}

func ListenForDevices(ports *midi.PortWatcher) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-ports.Events()
		if !ok {
			return nil
		}
		return DeviceEventMsg(event)
	}
}

func ListenForRemote(remote *midi.Remote) tea.Cmd {
	return func() tea.Msg {
		cmd, ok := <-remote.Commands()
		if !ok {
			return nil
		}
		return RemoteMsg(cmd)
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{ListenForUpdates(m.Manager)}
	if m.Ports != nil {
		cmds = append(cmds, ListenForDevices(m.Ports))
	}
	if m.Remote != nil {
		cmds = append(cmds, ListenForRemote(m.Remote))
	}
	return tea.Batch(cmds...)
}

// OutputName is the port the player currently sends to
func (m Model) OutputName() string { return m.out.name }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg.String())

	case UpdateMsg:
		debug.LogEvery(300, "tui", "update")
		return m, ListenForUpdates(m.Manager)

	case DeviceEventMsg:
		debug.Log("tui", "device %s: %s", msg.Type, msg.Name)
		m.handleDevice(midi.DeviceEvent(msg))
		if m.Ports == nil {
			return m, nil
		}
		return m, ListenForDevices(m.Ports)

	case RemoteMsg:
		switch midi.Command(msg) {
		case midi.CommandStart:
			m.Manager.Start()
		case midi.CommandContinue:
			m.Manager.Resume()
		case midi.CommandStop:
			m.Manager.Stop()
		}
		if m.Remote == nil {
			return m, nil
		}
		return m, ListenForRemote(m.Remote)
	}

	return m, nil
}

func (m Model) handleKey(key string) (tea.Model, tea.Cmd) {
	snap := m.Manager.Snapshot()

	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		m.Manager.Stop()
		m.closeOutput()
		return m, tea.Quit

	case " ":
		m.Manager.TogglePause()

	case "s":
		m.Manager.Stop()

	case "left", "h":
		m.Manager.Seek(snap.PositionSeconds - m.SeekStep)

	case "right", "l":
		m.Manager.Seek(snap.PositionSeconds + m.SeekStep)

	case "home":
		m.Manager.Seek(0)

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}

	case "down", "j":
		if m.selected < len(snap.Tracks)-1 {
			m.selected++
		}

	case "m", "enter":
		if m.selected < len(snap.Tracks) {
			m.Manager.MuteTrack(m.selected, !snap.TrackMuted(m.selected))
		}

	case "1", "2", "3", "4", "5", "6", "7", "8", "9", "0":
		// 0 is channel 10 (drums)
		ch := int(key[0] - '1')
		if key == "0" {
			ch = 9
		}
		m.Manager.MuteChannel(ch, !snap.ChannelMuted(ch))

	case "x":
		m.Manager.SetSuppressControlChanges(!snap.SuppressControlChanges)

	case "p":
		m.Manager.SetSuppressProgramChanges(!snap.SuppressProgramChanges)

	case "t":
		if snap.ManualTempo != 0 {
			m.Manager.SetManualTempoOverride(false, 0)
		} else {
			m.Manager.SetManualTempoOverride(true, snap.Tempo)
		}

	case "+", "=":
		m.nudgeTempo(snap, tempoStep)

	case "-", "_":
		m.nudgeTempo(snap, -tempoStep)

	case "?":
		m.showHelp = !m.showHelp

	case "w":
		if m.MixDir == "" {
			break
		}
		if err := sequencer.SaveMix(m.MixDir, m.Song, snap.Mix()); err != nil {
			m.status = "save mix: " + err.Error()
		} else {
			m.status = "mix saved"
		}
	}

	return m, nil
}

func (m Model) nudgeTempo(snap sequencer.Snapshot, delta float64) {
	bpm := snap.BPM() + delta
	if bpm < minBPM {
		bpm = minBPM
	}
	if bpm > maxBPM {
		bpm = maxBPM
	}
	m.Manager.SetManualTempoOverride(true, sequencer.TempoFromBPM(bpm))
}

// handleDevice routes playback to the most recently connected port
func (m Model) handleDevice(ev midi.DeviceEvent) {
	switch ev.Type {
	case midi.DeviceConnected:
		prev := m.out.sink
		m.out.name = ev.Name
		m.out.sink = midi.NewAsyncSink(ev.Sink, 0, m.Logger)
		m.Manager.SetSink(m.out.sink)
		if prev != nil {
			prev.Close()
		}
	case midi.DeviceDisconnected:
		if ev.Name == m.out.name {
			m.Manager.SetSink(nil)
			m.closeOutput()
		}
	}
}

func (m Model) closeOutput() {
	if m.out.sink != nil {
		m.out.sink.Close()
	}
	m.out.sink = nil
	m.out.name = ""
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	snap := m.Manager.Snapshot()
	sym := m.Theme.Symbols

	// Styles
	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent())
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	warnStyle := lipgloss.NewStyle().Foreground(m.Theme.Warning())

	// Header with port status
	port := "no output"
	if m.out.name != "" {
		port = "out:" + m.out.name
	}
	header := headerStyle.Render(fmt.Sprintf("jdxi-player  %c %-9s %6.1fbpm  %s",
		stateSymbol(sym, snap.State), strings.ToUpper(snap.State.String()), snap.BPM(), port))

	title := m.Title
	if title == "" {
		title = "(no file)"
	}

	progress := fmt.Sprintf("%s %s %s",
		widgets.FormatTime(snap.PositionSeconds),
		widgets.RenderProgress(snap.PositionSeconds, snap.DurationSeconds, barWidth,
			sym.BarFull, sym.BarEmpty, m.Theme.Active(), m.Theme.Muted()),
		widgets.FormatTime(snap.DurationSeconds))

	var flags []string
	if snap.SuppressControlChanges {
		flags = append(flags, "CC off")
	}
	if snap.SuppressProgramChanges {
		flags = append(flags, "PC off")
	}
	if snap.ManualTempo != 0 {
		flags = append(flags, fmt.Sprintf("tempo fixed %.1f", sequencer.BPM(snap.ManualTempo)))
	}
	flagLine := dimStyle.Render(fmt.Sprintf("tick %d  event %d/%d", snap.PositionTick, snap.Cursor, snap.Len))
	if len(flags) > 0 {
		flagLine += "  " + warnStyle.Render(strings.Join(flags, "  "))
	}

	channels := "ch " + widgets.RenderChannelStrip(snap.ChannelMuted, m.Theme.FG(), m.Theme.Surface())

	var tracks []string
	for i, info := range snap.Tracks {
		color := m.Theme.TrackColor(i)
		if i == m.selected {
			color = m.Theme.Cursor()
		}
		tracks = append(tracks, widgets.RenderTrackRow(widgets.TrackRow{
			Label:    info.Label(),
			Events:   info.Events,
			Channels: info.Channels,
			Muted:    snap.TrackMuted(i),
			Selected: i == m.selected,
		}, sym.Selected, sym.Muted, sym.Audible, color, m.Theme.Muted()))
	}

	// Help line
	help := dimStyle.Render(widgets.RenderKeyLine([]widgets.KeyBinding{
		{Key: "space", Desc: "play/pause"},
		{Key: "s", Desc: "stop"},
		{Key: "←/→", Desc: "seek"},
		{Key: "m", Desc: "mute track"},
		{Key: "w", Desc: "save mix"},
		{Key: "?", Desc: "help"},
		{Key: "q", Desc: "quit"},
	}))
	if m.showHelp {
		help = dimStyle.Render(widgets.RenderKeyHelp(keyHelp))
	}
	if m.status != "" {
		help = warnStyle.Render(m.status) + "\n" + help
	}

	// Build output
	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n")
	out.WriteString(title)
	out.WriteString("\n\n")
	out.WriteString(progress)
	out.WriteString("\n")
	out.WriteString(flagLine)
	out.WriteString("\n\n")
	out.WriteString(channels)
	out.WriteString("\n\n")
	out.WriteString(strings.Join(tracks, "\n"))
	out.WriteString("\n\n")
	out.WriteString(help)

	return out.String()
}

var keyHelp = []widgets.KeySection{
	{Title: "Transport", Keys: []widgets.KeyBinding{
		{Key: "space", Desc: "play / pause"},
		{Key: "s", Desc: "stop and rewind"},
		{Key: "←/→ h/l", Desc: "seek back / forward"},
		{Key: "home", Desc: "seek to start"},
	}},
	{Title: "Mix", Keys: []widgets.KeyBinding{
		{Key: "j/k", Desc: "select track"},
		{Key: "m enter", Desc: "mute track"},
		{Key: "1-9 0", Desc: "mute channel 1-9, 10"},
		{Key: "x", Desc: "suppress control changes"},
		{Key: "p", Desc: "suppress program changes"},
		{Key: "w", Desc: "save mix for this file"},
	}},
	{Title: "Tempo", Keys: []widgets.KeyBinding{
		{Key: "t", Desc: "hold current tempo / follow file"},
		{Key: "+/-", Desc: "held tempo ±5 bpm"},
	}},
	{Keys: []widgets.KeyBinding{
		{Key: "?", Desc: "toggle help"},
		{Key: "q", Desc: "quit"},
	}},
}

func stateSymbol(sym theme.Symbols, s sequencer.State) rune {
	switch s {
	case sequencer.StateRunning:
		return sym.Playing
	case sequencer.StatePaused:
		return sym.Paused
	case sequencer.StateCompleted:
		return sym.Completed
	}
	return sym.Stopped
}
