package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.uber.org/zap"

	jmidi "jdxi-player/midi"
	"jdxi-player/midifile"
	"jdxi-player/sequencer"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "list":
		listPorts()
	case "detect":
		detect(argOr(2, "JD-Xi"))
	case "dump":
		if len(os.Args) < 3 {
			usage()
			return
		}
		dump(os.Args[2])
	case "play":
		if len(os.Args) < 3 {
			usage()
			return
		}
		play(os.Args[2], argOr(3, "JD-Xi"))
	case "poll":
		pollDevices(argOr(2, "JD-Xi"))
	default:
		usage()
	}
}

func usage() {
	fmt.Println("MIDI Test Scripts")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list             - List all MIDI ports")
	fmt.Println("  detect [MATCH]   - Find the synth ports (default JD-Xi)")
	fmt.Println("  dump FILE        - Print the scheduled event buffer")
	fmt.Println("  play FILE [PORT] - Play a file without the TUI")
	fmt.Println("  poll [MATCH]     - Watch for output port changes")
}

func argOr(i int, def string) string {
	if len(os.Args) > i {
		return os.Args[i]
	}
	return def
}

func listPorts() {
	fmt.Println("=== MIDI Input Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")

	type result struct {
		ins  []drivers.In
		outs []drivers.Out
	}
	ch := make(chan result, 1)
	go func() {
		ins := midi.GetInPorts()
		outs := midi.GetOutPorts()
		ch <- result{ins: ins, outs: outs}
	}()

	select {
	case r := <-ch:
		for i, p := range r.ins {
			fmt.Printf("  %d: %s\n", i, p.String())
		}
		fmt.Println("\n=== MIDI Output Ports ===")
		for i, p := range r.outs {
			fmt.Printf("  %d: %s\n", i, p.String())
		}
	case <-time.After(3 * time.Second):
		fmt.Println("\nTIMEOUT! CoreMIDI is hung.")
		fmt.Println("Fix: sudo killall coreaudiod midiserver")
	}
}

func detect(match string) {
	fmt.Printf("Looking for %s...\n", match)
	match = strings.ToLower(match)

	found := 0
	for i, p := range midi.GetInPorts() {
		if strings.Contains(strings.ToLower(p.String()), match) {
			fmt.Printf("Found input: %d: %s\n", i, p.String())
			found++
		}
	}
	for i, p := range midi.GetOutPorts() {
		if strings.Contains(strings.ToLower(p.String()), match) {
			fmt.Printf("Found output: %d: %s\n", i, p.String())
			found++
		}
	}

	if found == 0 {
		fmt.Println("\nNot found")
	}
}

func dump(path string) {
	f, err := midifile.Load(path)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	buf, err := f.Buffer()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s: %d ticks/beat, %d tracks, %d events, %.3fs\n",
		path, buf.TicksPerBeat, len(buf.Tracks), buf.Len(), buf.Duration())
	for _, tr := range buf.Tracks {
		fmt.Printf("  track %d %-20s %d events\n", tr.Index, tr.Label(), tr.Events)
	}
	for _, cp := range buf.Tempo.Checkpoints() {
		fmt.Printf("  tempo @%d: %d us/q (%.2f bpm)\n", cp.Tick, cp.Tempo, sequencer.BPM(cp.Tempo))
	}
	fmt.Println()

	fmt.Printf("%6s %8s %10s %5s %3s %-14s %8s  %s\n", "#", "tick", "seconds", "track", "ch", "kind", "bpm", "bytes")
	for i, e := range buf.Events {
		ch := "-"
		if e.Channel >= 0 {
			ch = fmt.Sprintf("%d", e.Channel+1)
		}
		fmt.Printf("%6d %8d %10.3f %5d %3s %-14s %8.2f  % X\n",
			i, e.Tick, buf.DueSeconds(i), e.Track, ch, e.Kind, sequencer.BPM(e.Tempo), e.Payload)
	}
}

func play(path, port string) {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	f, err := midifile.Load(path)
	if err != nil {
		logger.Fatal("load", zap.Error(err))
	}

	out, err := openOutput(port)
	if err != nil {
		logger.Fatal("open output", zap.Error(err))
	}
	sink := jmidi.NewAsyncSink(out, 0, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	manager := sequencer.NewManager(
		sequencer.WithLogger(logger),
		sequencer.WithSink(sink),
	)
	done := make(chan struct{})
	go func() {
		manager.Run(ctx)
		close(done)
	}()

	if err := manager.Load(f.Tracks, f.TicksPerBeat); err != nil {
		logger.Fatal("build buffer", zap.Error(err))
	}
	fmt.Printf("Playing %s on %s (%.1fs)\n", path, out.Name(), manager.DurationSeconds())
	manager.Start()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-manager.UpdateChan:
			if manager.State() == sequencer.StateCompleted {
				break loop
			}
		case <-ticker.C:
			fmt.Printf("\r%7.1fs  %6.1f bpm", manager.PositionSeconds(), manager.CurrentTempoBPM())
		}
	}

	stats := manager.Snapshot().Stats
	cancel()
	<-done
	sink.Close()
	out.Close()

	sent, dropped, failed := sink.Stats()
	fmt.Printf("\nDispatched %d, filtered %d, tempo changes %d; sent %d, dropped %d, failed %d\n",
		stats.Dispatched, stats.Filtered, stats.TempoChanges, sent, dropped, failed)
}

// openOutput takes an exact port name, or the first port containing it
func openOutput(name string) (*jmidi.PortSink, error) {
	var match drivers.Out
	for _, p := range midi.GetOutPorts() {
		if p.String() == name {
			return jmidi.OpenPortSink(p)
		}
		if match == nil && strings.Contains(strings.ToLower(p.String()), strings.ToLower(name)) {
			match = p
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no output port matching %q", name)
	}
	return jmidi.OpenPortSink(match)
}

func pollDevices(match string) {
	fmt.Printf("Watching output ports matching %q (Ctrl-C to stop)...\n", match)

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	watcher := jmidi.NewPortWatcher(match, jmidi.WithLogger(logger))
	go watcher.Run(ctx)

	for ev := range watcher.Events() {
		fmt.Printf("%s %s: %s\n", time.Now().Format("15:04:05"), ev.Type, ev.Name)
	}
}
