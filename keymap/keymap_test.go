package keymap_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/Alia5/MicroKB/debounce"
	"github.com/Alia5/MicroKB/hid"
	"github.com/Alia5/MicroKB/keymap"
	"github.com/Alia5/MicroKB/matrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	cols     = 8
	layerKey = 0
	posA     = 2*cols + 3
)

var t0 = time.Unix(1_700_000_000, 0)

// twoLayers maps (2,3) to A on the base layer and B on layer 1. Position 0
// holds layer 1 while pressed.
func twoLayers(t *testing.T) *keymap.Table {
	t.Helper()
	tbl, err := keymap.NewTable(2, 4*cols)
	require.NoError(t, err)
	require.NoError(t, tbl.Set(0, layerKey, keymap.MomentaryLayer(1)))
	require.NoError(t, tbl.Set(0, posA, keymap.Key(hid.KeyA)))
	require.NoError(t, tbl.Set(1, posA, keymap.Key(hid.KeyB)))
	require.NoError(t, tbl.Set(0, 1, keymap.Key(hid.KeyLeftShift)))
	return tbl
}

func press(pos int) debounce.Transition {
	return debounce.Transition{Pos: pos, Edge: debounce.Press, At: t0}
}

func release(pos int) debounce.Transition {
	return debounce.Transition{Pos: pos, Edge: debounce.Release, At: t0}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    keymap.Action
		wantErr bool
	}{
		{in: "A", want: keymap.Key(hid.KeyA)},
		{in: "enter", want: keymap.Key(hid.KeyEnter)},
		{in: "LeftShift", want: keymap.Key(hid.KeyLeftShift)},
		{in: "lshift", want: keymap.Key(hid.KeyLeftShift)},
		{in: "F13", want: keymap.Key(hid.KeyF13)},
		{in: "cc(VolumeUp)", want: keymap.Consumer(hid.ConsumerVolumeUp)},
		{in: "mo(1)", want: keymap.MomentaryLayer(1)},
		{in: "TG( 2 )", want: keymap.ToggleLayer(2)},
		{in: "macro(hello)", want: keymap.Macro("hello")},
		{in: "fn(Pair)", want: keymap.Custom("pair")},
		{in: "none", want: keymap.None()},
		{in: "_", want: keymap.Action{}},
		{in: "trns", want: keymap.Action{}},
		{in: "", want: keymap.Action{}},
		{in: "mo(x)", wantErr: true},
		{in: "mo(-1)", wantErr: true},
		{in: "cc(Nope)", wantErr: true},
		{in: "zz(1)", wantErr: true},
		{in: "macro()", wantErr: true},
		{in: "NotAKey", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := keymap.ParseAction(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestActionString(t *testing.T) {
	for _, s := range []string{"A", "cc(VolumeUp)", "mo(1)", "tg(3)", "macro(x)", "fn(pair)", "none", "_"} {
		a, err := keymap.ParseAction(s)
		require.NoError(t, err)
		assert.Equal(t, s, a.String())
	}
}

func TestTableSet(t *testing.T) {
	_, err := keymap.NewTable(0, 4)
	assert.Error(t, err)
	_, err = keymap.NewTable(keymap.MaxLayers+1, 4)
	assert.Error(t, err)

	tbl, err := keymap.NewTable(2, 4)
	require.NoError(t, err)
	assert.Error(t, tbl.Set(2, 0, keymap.Key(hid.KeyA)))
	assert.Error(t, tbl.Set(0, 4, keymap.Key(hid.KeyA)))
	assert.Error(t, tbl.Set(0, 0, keymap.MomentaryLayer(5)))
	require.NoError(t, tbl.Set(1, 2, keymap.Key(hid.KeyA)))
	assert.Equal(t, []bool{false, false, true, false}, tbl.Used())
	assert.Equal(t, keymap.Action{}, tbl.At(9, 9))

	tbl.SetName(1, "fn")
	assert.Equal(t, "fn", tbl.Name(1))
	assert.Equal(t, "layer0", tbl.Name(0))
}

func TestResolveBaseLayer(t *testing.T) {
	r := keymap.NewResolver(twoLayers(t))

	ev, ok := r.Resolve(press(posA))
	require.True(t, ok)
	assert.Equal(t, keymap.Key(hid.KeyA), ev.Action)
	assert.True(t, ev.Pressed())

	ev, ok = r.Resolve(release(posA))
	require.True(t, ok)
	assert.Equal(t, keymap.Key(hid.KeyA), ev.Action)
	assert.Equal(t, debounce.Release, ev.Edge)

	// fully transparent column
	ev, ok = r.Resolve(press(5))
	require.True(t, ok)
	assert.Equal(t, keymap.None(), ev.Action)
}

func TestReleaseUsesActionPinnedAtPress(t *testing.T) {
	r := keymap.NewResolver(twoLayers(t))

	// layer key held, then (2,3) pressed: B
	_, ok := r.Resolve(press(layerKey))
	assert.False(t, ok, "layer actions are not forwarded")
	assert.True(t, r.Snapshot().IsActive(1))
	assert.Equal(t, 1, r.Snapshot().Top)

	ev, ok := r.Resolve(press(posA))
	require.True(t, ok)
	assert.Equal(t, keymap.Key(hid.KeyB), ev.Action)

	// layer key released before (2,3): the release still resolves to B
	_, ok = r.Resolve(release(layerKey))
	assert.False(t, ok)
	assert.False(t, r.Snapshot().IsActive(1))

	ev, ok = r.Resolve(release(posA))
	require.True(t, ok)
	assert.Equal(t, keymap.Key(hid.KeyB), ev.Action)
	assert.Equal(t, debounce.Release, ev.Edge)

	// and the next press is back on the base layer
	ev, ok = r.Resolve(press(posA))
	require.True(t, ok)
	assert.Equal(t, keymap.Key(hid.KeyA), ev.Action)
}

// stackedLayers holds layer 1 on position 0 and layer 2 on position 1.
// Position 2 is A/B/C on layers 0/1/2, position 3 is D/E and transparent on
// layer 2, position 4 is F on the base layer only.
func stackedLayers(t *testing.T) *keymap.Table {
	t.Helper()
	tbl, err := keymap.NewTable(3, 5)
	require.NoError(t, err)
	require.NoError(t, tbl.Set(0, 0, keymap.MomentaryLayer(1)))
	require.NoError(t, tbl.Set(0, 1, keymap.MomentaryLayer(2)))
	require.NoError(t, tbl.Set(0, 2, keymap.Key(hid.KeyA)))
	require.NoError(t, tbl.Set(1, 2, keymap.Key(hid.KeyB)))
	require.NoError(t, tbl.Set(2, 2, keymap.Key(hid.KeyC)))
	require.NoError(t, tbl.Set(0, 3, keymap.Key(hid.KeyD)))
	require.NoError(t, tbl.Set(1, 3, keymap.Key(hid.KeyE)))
	require.NoError(t, tbl.Set(0, 4, keymap.Key(hid.KeyF)))
	return tbl
}

func TestStackedMomentaryLayers(t *testing.T) {
	tests := []struct {
		name    string
		hold    []int
		release []int
		top     int
		want    map[int]keymap.Action
	}{
		{
			name: "base",
			top:  0,
			want: map[int]keymap.Action{2: keymap.Key(hid.KeyA), 3: keymap.Key(hid.KeyD)},
		},
		{
			name: "mo(1)",
			hold: []int{0},
			top:  1,
			want: map[int]keymap.Action{2: keymap.Key(hid.KeyB), 3: keymap.Key(hid.KeyE), 4: keymap.Key(hid.KeyF)},
		},
		{
			name: "mo(1) and mo(2) highest wins",
			hold: []int{0, 1},
			top:  2,
			want: map[int]keymap.Action{2: keymap.Key(hid.KeyC)},
		},
		{
			name: "transparent on layer 2 falls through to layer 1",
			hold: []int{0, 1},
			top:  2,
			want: map[int]keymap.Action{3: keymap.Key(hid.KeyE), 4: keymap.Key(hid.KeyF)},
		},
		{
			name: "mo(2) alone skips inactive layer 1",
			hold: []int{1},
			top:  2,
			want: map[int]keymap.Action{2: keymap.Key(hid.KeyC), 3: keymap.Key(hid.KeyD)},
		},
		{
			name:    "releasing the upper layer",
			hold:    []int{0, 1},
			release: []int{1},
			top:     1,
			want:    map[int]keymap.Action{2: keymap.Key(hid.KeyB), 3: keymap.Key(hid.KeyE)},
		},
		{
			name:    "releasing the lower layer",
			hold:    []int{0, 1},
			release: []int{0},
			top:     2,
			want:    map[int]keymap.Action{2: keymap.Key(hid.KeyC), 3: keymap.Key(hid.KeyD)},
		},
		{
			name:    "releasing both",
			hold:    []int{0, 1},
			release: []int{1, 0},
			top:     0,
			want:    map[int]keymap.Action{2: keymap.Key(hid.KeyA), 3: keymap.Key(hid.KeyD)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := keymap.NewResolver(stackedLayers(t))
			for _, pos := range tt.hold {
				_, ok := r.Resolve(press(pos))
				require.False(t, ok)
			}
			for _, pos := range tt.release {
				_, ok := r.Resolve(release(pos))
				require.False(t, ok)
			}
			assert.Equal(t, tt.top, r.Snapshot().Top)

			for pos, want := range tt.want {
				ev, ok := r.Resolve(press(pos))
				require.True(t, ok)
				assert.Equal(t, want, ev.Action, "pos %d", pos)
				ev, ok = r.Resolve(release(pos))
				require.True(t, ok)
				assert.Equal(t, want, ev.Action, "pos %d release", pos)
			}
		})
	}
}

func TestLayerKeyPinnedAcrossToggle(t *testing.T) {
	tbl, err := keymap.NewTable(3, 4)
	require.NoError(t, err)
	require.NoError(t, tbl.Set(0, 0, keymap.MomentaryLayer(1)))
	require.NoError(t, tbl.Set(0, 1, keymap.ToggleLayer(2)))
	// layer 2 remaps the momentary key; its release must still undo layer 1
	require.NoError(t, tbl.Set(2, 0, keymap.Key(hid.KeyZ)))
	r := keymap.NewResolver(tbl)

	r.Resolve(press(0))
	r.Resolve(press(1))
	r.Resolve(release(1))
	assert.Equal(t, uint32(0b111), r.Snapshot().Active)

	_, ok := r.Resolve(release(0))
	assert.False(t, ok)
	assert.Equal(t, uint32(0b101), r.Snapshot().Active)

	// toggle again turns layer 2 off
	r.Resolve(press(1))
	r.Resolve(release(1))
	assert.Equal(t, uint32(0b001), r.Snapshot().Active)
}

func TestDuplicateAndOrphanEdgesAreDropped(t *testing.T) {
	r := keymap.NewResolver(twoLayers(t))

	_, ok := r.Resolve(release(posA))
	assert.False(t, ok)

	_, ok = r.Resolve(press(posA))
	assert.True(t, ok)
	_, ok = r.Resolve(press(posA))
	assert.False(t, ok)
	assert.Equal(t, 1, r.Held())

	_, ok = r.Resolve(press(999))
	assert.False(t, ok)
}

func TestModifierPositionsInSnapshot(t *testing.T) {
	r := keymap.NewResolver(twoLayers(t))
	before := r.Snapshot()

	r.Resolve(press(1))
	assert.Equal(t, []int{1}, r.Snapshot().Modifiers)
	assert.Empty(t, before.Modifiers, "published snapshots are immutable")

	r.Resolve(release(1))
	assert.Empty(t, r.Snapshot().Modifiers)
}

func TestEventCountExcludesLayerTransitions(t *testing.T) {
	tbl, err := keymap.NewTable(3, 16)
	require.NoError(t, err)
	require.NoError(t, tbl.Set(0, 0, keymap.MomentaryLayer(1)))
	require.NoError(t, tbl.Set(0, 1, keymap.ToggleLayer(2)))
	for pos := 2; pos < 16; pos++ {
		require.NoError(t, tbl.Set(0, pos, keymap.Key(uint8(hid.KeyA+pos))))
		require.NoError(t, tbl.Set(1, pos, keymap.Key(uint8(hid.Key1+pos%10))))
	}
	r := keymap.NewResolver(tbl)

	rng := rand.New(rand.NewSource(11))
	held := make([]bool, 16)
	var transitions, layerTransitions, events int
	for i := 0; i < 5000; i++ {
		pos := rng.Intn(16)
		edge := debounce.Press
		if held[pos] {
			edge = debounce.Release
		}
		held[pos] = !held[pos]
		transitions++
		if pos < 2 {
			layerTransitions++
		}
		if _, ok := r.Resolve(debounce.Transition{Pos: pos, Edge: edge, At: t0}); ok {
			events++
		}
	}
	assert.Equal(t, transitions-layerTransitions, events)
}

// TestScanToEvent drives the scan, debounce and resolve stages together at
// 1ms per scan with a 5ms debounce window.
func TestScanToEvent(t *testing.T) {
	tbl := twoLayers(t)
	tests := []struct {
		name   string
		holdMS int
		want   []debounce.Edge
	}{
		{name: "2ms tap is absorbed", holdMS: 2, want: nil},
		{name: "10ms hold", holdMS: 10, want: []debounce.Edge{debounce.Press, debounce.Release}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := matrix.NewSimChain(4 * cols)
			now := t0
			scanner := matrix.New(chain, 4*cols, matrix.WithClock(func() time.Time { return now }))
			engine := debounce.New(4*cols, 5*time.Millisecond)
			r := keymap.NewResolver(tbl)

			var events []keymap.Event
			var trs []debounce.Transition
			for ms := 0; ms < 40; ms++ {
				now = t0.Add(time.Duration(ms) * time.Millisecond)
				chain.Set(posA, ms < tt.holdMS)
				trs = engine.Process(scanner.Scan(), trs[:0])
				for _, tr := range trs {
					if ev, ok := r.Resolve(tr); ok {
						events = append(events, ev)
					}
				}
			}

			require.Len(t, events, len(tt.want))
			for i, ev := range events {
				assert.Equal(t, tt.want[i], ev.Edge)
				assert.Equal(t, keymap.Key(hid.KeyA), ev.Action)
				assert.Equal(t, posA, ev.Pos)
			}
		})
	}
}

func TestCapabilities(t *testing.T) {
	caps := keymap.NewCapabilities()
	var pressed, all int
	caps.Register("Pair", keymap.OnPress(func(ctx context.Context) error {
		pressed++
		return nil
	}))
	caps.Register("count", keymap.CapabilityFunc(func(ctx context.Context, ev keymap.Event) error {
		all++
		return nil
	}))
	boom := errors.New("boom")
	caps.Register("broken", keymap.OnPress(func(ctx context.Context) error { return boom }))

	ctx := context.Background()
	pairPress := keymap.Event{Action: keymap.Custom("pair"), Edge: debounce.Press}
	pairRelease := keymap.Event{Action: keymap.Custom("pair"), Edge: debounce.Release}
	require.NoError(t, caps.Dispatch(ctx, pairPress))
	require.NoError(t, caps.Dispatch(ctx, pairRelease))
	assert.Equal(t, 1, pressed)

	require.NoError(t, caps.Dispatch(ctx, keymap.Event{Action: keymap.Custom("count"), Edge: debounce.Release}))
	assert.Equal(t, 1, all)

	assert.NoError(t, caps.Dispatch(ctx, keymap.Event{Action: keymap.Key(hid.KeyA), Edge: debounce.Press}))

	err := caps.Dispatch(ctx, keymap.Event{Action: keymap.Custom("missing"), Edge: debounce.Press})
	assert.ErrorIs(t, err, keymap.ErrUnknownCapability)

	err = caps.Dispatch(ctx, keymap.Event{Action: keymap.Custom("broken"), Edge: debounce.Press})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, []string{"broken", "count", "pair"}, caps.Names())
}
