package sequencer

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestTempoMapTwoSegmentFile(t *testing.T) {
	changes := []Checkpoint{{Tick: 0, Tempo: 967745}, {Tick: 49920, Tempo: 483870}}
	tm := NewTempoMap(480, changes)

	assert.InDelta(t, 100.65, tm.SecondsForTick(49920), 0.01)
	assert.InDelta(t, 100.65, SecondsForTick(49920, 480, changes), 0.01)
	// one beat after the change runs at 124 BPM
	assert.InDelta(t, 0.48387, tm.SecondsForTick(50400)-tm.SecondsForTick(49920), 1e-9)
	assert.Equal(t, uint32(967745), tm.TempoAt(49919))
	assert.Equal(t, uint32(483870), tm.TempoAt(49920))
}

func TestTempoMapDefaultTempo(t *testing.T) {
	tm := NewTempoMap(480, nil)
	assert.Equal(t, []Checkpoint{{Tick: 0, Tempo: DefaultTempo}}, tm.Checkpoints())
	assert.InDelta(t, 1.0, tm.SecondsForTick(960), 1e-12)
	assert.Zero(t, tm.SecondsForTick(0))
}

func TestTempoMapChangeAtTickZeroReplacesDefault(t *testing.T) {
	tm := NewTempoMap(480, []Checkpoint{{Tick: 0, Tempo: 1_000_000}})
	assert.Len(t, tm.Checkpoints(), 1)
	assert.InDelta(t, 1.0, tm.SecondsForTick(480), 1e-12)
}

func TestTempoMapDuplicateTickLastWins(t *testing.T) {
	tm := NewTempoMap(480, []Checkpoint{
		{Tick: 480, Tempo: 400000},
		{Tick: 480, Tempo: 600000},
	})
	assert.Equal(t, []Checkpoint{{0, DefaultTempo}, {480, 600000}}, tm.Checkpoints())
}

func TestTempoMapUnsortedInput(t *testing.T) {
	tm := NewTempoMap(96, []Checkpoint{{Tick: 192, Tempo: 250000}, {Tick: 96, Tempo: 1_000_000}})
	assert.Equal(t, []Checkpoint{{0, DefaultTempo}, {96, 1_000_000}, {192, 250000}}, tm.Checkpoints())
	assert.InDelta(t, 0.5+1.0+0.25, tm.SecondsForTick(288), 1e-12)
}

func TestTempoMapTickAt(t *testing.T) {
	tm := NewTempoMap(480, []Checkpoint{{Tick: 960, Tempo: 1_000_000}})
	assert.Equal(t, uint64(0), tm.TickAt(-1))
	assert.Equal(t, uint64(480), tm.TickAt(0.5))
	assert.Equal(t, uint64(960), tm.TickAt(1.0))
	assert.Equal(t, uint64(1440), tm.TickAt(2.0))
}

func TestTempoMapZeroResolution(t *testing.T) {
	tm := NewTempoMap(0, nil)
	assert.Zero(t, tm.SecondsForTick(1000))
	assert.Zero(t, SecondsForTick(1000, 0, nil))
}

// randomCheckpoints builds a sorted tempo map from a seed
func randomCheckpoints(seed int64) []Checkpoint {
	r := rand.New(rand.NewSource(seed))
	n := r.Intn(12)
	points := make([]Checkpoint, n)
	for i := range points {
		points[i] = Checkpoint{Tick: uint64(r.Intn(100_000)), Tempo: uint32(200_000 + r.Intn(1_800_000))}
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Tick < points[j].Tick })
	return points
}

func TestPropertySecondsForTickMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("secondsForTick never decreases", prop.ForAll(
		func(seed int, a, b int) bool {
			tm := NewTempoMap(480, randomCheckpoints(int64(seed)))
			if a > b {
				a, b = b, a
			}
			return tm.SecondsForTick(uint64(a)) <= tm.SecondsForTick(uint64(b))
		},
		gen.IntRange(0, 1<<30),
		gen.IntRange(0, 200_000),
		gen.IntRange(0, 200_000),
	))

	properties.Property("precomputed and direct integration agree", prop.ForAll(
		func(seed int, tick int) bool {
			points := randomCheckpoints(int64(seed))
			tm := NewTempoMap(480, points)
			direct := SecondsForTick(uint64(tick), 480, tm.Checkpoints())
			diff := tm.SecondsForTick(uint64(tick)) - direct
			return diff < 1e-9 && diff > -1e-9
		},
		gen.IntRange(0, 1<<30),
		gen.IntRange(0, 200_000),
	))

	properties.Property("tickAt inverts secondsForTick", prop.ForAll(
		func(seed int, tick int) bool {
			tm := NewTempoMap(480, randomCheckpoints(int64(seed)))
			back := tm.tickAt(tm.SecondsForTick(uint64(tick)))
			diff := back - float64(tick)
			return diff < 1e-6 && diff > -1e-6
		},
		gen.IntRange(0, 1<<30),
		gen.IntRange(0, 200_000),
	))

	properties.TestingRun(t)
}
