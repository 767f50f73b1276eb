package sequencer

import "sort"

// Checkpoint is a tempo change at an absolute tick
type Checkpoint struct {
	Tick  uint64
	Tempo uint32 // µs per quarter
}

// TempoMap converts between ticks and seconds across tempo changes. It
// always has a checkpoint at tick 0.
type TempoMap struct {
	ticksPerBeat float64
	points       []Checkpoint
	seconds      []float64 // seconds elapsed at each checkpoint
}

// NewTempoMap sorts changes by tick; for duplicate ticks the later entry wins.
// Without a change at tick 0 the map starts at DefaultTempo.
func NewTempoMap(ticksPerBeat uint16, changes []Checkpoint) *TempoMap {
	sorted := make([]Checkpoint, len(changes))
	copy(sorted, changes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Tick < sorted[j].Tick })

	points := []Checkpoint{{Tick: 0, Tempo: DefaultTempo}}
	for _, c := range sorted {
		if c.Tempo == 0 {
			continue
		}
		last := &points[len(points)-1]
		if last.Tick == c.Tick {
			last.Tempo = c.Tempo
			continue
		}
		points = append(points, c)
	}

	tm := &TempoMap{
		ticksPerBeat: float64(ticksPerBeat),
		points:       points,
		seconds:      make([]float64, len(points)),
	}
	for i := 1; i < len(points); i++ {
		tm.seconds[i] = tm.seconds[i-1] + tm.span(points[i].Tick-points[i-1].Tick, points[i-1].Tempo)
	}
	return tm
}

func (tm *TempoMap) span(ticks uint64, tempo uint32) float64 {
	return float64(ticks) / tm.ticksPerBeat * float64(tempo) / 1e6
}

// Checkpoints returns a copy of the tempo checkpoints
func (tm *TempoMap) Checkpoints() []Checkpoint {
	out := make([]Checkpoint, len(tm.points))
	copy(out, tm.points)
	return out
}

// segment returns the index of the checkpoint in force at tick
func (tm *TempoMap) segment(tick float64) int {
	i := sort.Search(len(tm.points), func(i int) bool { return float64(tm.points[i].Tick) > tick })
	if i == 0 {
		return 0
	}
	return i - 1
}

// TempoAt returns the tempo in force at tick
func (tm *TempoMap) TempoAt(tick uint64) uint32 {
	return tm.points[tm.segment(float64(tick))].Tempo
}

// SecondsForTick returns the seconds elapsed from tick 0 to tick
func (tm *TempoMap) SecondsForTick(tick uint64) float64 {
	return tm.secondsAt(float64(tick))
}

func (tm *TempoMap) secondsAt(tick float64) float64 {
	if tick <= 0 || tm.ticksPerBeat == 0 {
		return 0
	}
	i := tm.segment(tick)
	p := tm.points[i]
	return tm.seconds[i] + (tick-float64(p.Tick))/tm.ticksPerBeat*float64(p.Tempo)/1e6
}

// TickAt returns the tick reached after the given number of seconds
func (tm *TempoMap) TickAt(seconds float64) uint64 {
	return uint64(tm.tickAt(seconds))
}

func (tm *TempoMap) tickAt(seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	i := sort.Search(len(tm.seconds), func(i int) bool { return tm.seconds[i] > seconds })
	if i > 0 {
		i--
	}
	p := tm.points[i]
	return float64(p.Tick) + (seconds-tm.seconds[i])*1e6/float64(p.Tempo)*tm.ticksPerBeat
}

// SecondsForTick integrates the tempo map from tick 0 without precomputed
// offsets. points must be sorted by tick.
func SecondsForTick(tick uint64, ticksPerBeat uint16, points []Checkpoint) float64 {
	if ticksPerBeat == 0 {
		return 0
	}
	tempo := DefaultTempo
	var from uint64
	var seconds float64
	for _, p := range points {
		if p.Tick >= tick {
			break
		}
		seconds += float64(p.Tick-from) / float64(ticksPerBeat) * float64(tempo) / 1e6
		from = p.Tick
		tempo = p.Tempo
	}
	return seconds + float64(tick-from)/float64(ticksPerBeat)*float64(tempo)/1e6
}
