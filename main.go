package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.uber.org/zap"

	"jdxi-player/config"
	"jdxi-player/debug"
	"jdxi-player/midi"
	"jdxi-player/midifile"
	"jdxi-player/sequencer"
	"jdxi-player/theme"
	"jdxi-player/tui"
)

func main() {
	portFlag := flag.String("port", "", "output port name or substring (default from config, JD-Xi)")
	remoteFlag := flag.String("remote", "", "input port that sends Start/Continue/Stop")
	configFlag := flag.String("config", "", "config file (default ~/.config/jdxi-player/config.json)")
	debugFlag := flag.Bool("debug", false, "log to ~/.config/jdxi-player/debug.log")
	pollFlag := flag.Int("poll", 0, "poll interval in ms (1-10)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: jdxi-player [flags] FILE.mid\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *debugFlag {
		if err := debug.Enable(); err != nil {
			fmt.Printf("Error enabling debug log: %v\n", err)
		}
		defer debug.Disable()
	}
	logger := debug.Logger()

	// Load config
	cfg, err := loadConfig(*configFlag)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	saved := *cfg
	if *portFlag != "" {
		cfg.Output.PortName = *portFlag
	}
	if *remoteFlag != "" {
		cfg.Remote.PortName = *remoteFlag
		cfg.Remote.Enabled = true
	}
	if *pollFlag > 0 {
		cfg.Playback.PollIntervalMs = *pollFlag
	}

	path := flag.Arg(0)
	if path == "" {
		path = cfg.UI.LastFile
	}
	if path == "" {
		flag.Usage()
		os.Exit(2)
	}

	file, err := midifile.Load(path)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	// Load theme, built-in palette on failure
	palette, err := theme.LoadOrDefault(cfg.UI.Palette)
	if err != nil {
		logger.Warn("palette", zap.Error(err))
	}
	th := theme.New(palette)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create transport manager
	manager := sequencer.NewManager(
		sequencer.WithLogger(logger),
		sequencer.WithPollInterval(cfg.PollInterval()),
		sequencer.WithReleaseNotes(cfg.Playback.ReleaseNotes),
	)
	go manager.Run(ctx)

	if err := manager.Load(file.Tracks, file.TicksPerBeat); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	manager.SetSuppressControlChanges(cfg.Playback.SuppressControlChanges)
	manager.SetSuppressProgramChanges(cfg.Playback.SuppressProgramChanges)

	// Saved mix for this file wins over config defaults
	mixDir, err := sequencer.MixesDir()
	if err != nil {
		logger.Warn("mixes dir", zap.Error(err))
	} else if mix, ok, err := sequencer.LoadMix(mixDir, path); err != nil {
		logger.Warn("load mix", zap.Error(err))
	} else if ok {
		manager.ApplyMix(mix)
	}

	// Output hot-plug
	ports := midi.NewPortWatcher(cfg.OutputMatch(), midi.WithLogger(logger))
	go ports.Run(ctx)

	m := tui.NewModel(manager, ports, th)
	m.Title = filepath.Base(path)
	m.Song = path
	m.MixDir = mixDir
	m.SeekStep = cfg.SeekStep()
	m.Logger = logger

	if cfg.Remote.Enabled && cfg.Remote.PortName != "" {
		remote, err := midi.NewRemoteByName(cfg.Remote.PortName)
		if err != nil {
			logger.Warn("remote", zap.String("port", cfg.Remote.PortName), zap.Error(err))
		} else {
			defer remote.Close()
			m.Remote = remote
		}
	}

	// flag overrides are not persisted
	saved.UI.LastFile = path
	if err := saveConfig(&saved, *configFlag); err != nil {
		logger.Warn("save config", zap.Error(err))
	}

	fmt.Println("jdxi-player")
	fmt.Printf("Waiting for an output port matching %q - it will be picked up automatically\n", cfg.OutputMatch())

	// Create and run TUI
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFrom(path)
}

func saveConfig(cfg *config.Config, path string) error {
	if path == "" {
		return cfg.Save()
	}
	return cfg.SaveTo(path)
}
