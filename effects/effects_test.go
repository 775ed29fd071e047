package effects_test

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/MicroKB/debounce"
	"github.com/Alia5/MicroKB/effects"
	"github.com/Alia5/MicroKB/eventbus"
	"github.com/Alia5/MicroKB/hid"
	"github.com/Alia5/MicroKB/keymap"
	"github.com/Alia5/MicroKB/link"
)

var t0 = time.Unix(1_700_000_000, 0)

type links struct{ snap link.Snapshot }

func (l *links) Snapshot() link.Snapshot { return l.snap }

type recorder struct{ states []effects.State }

func (r *recorder) Render(s effects.State) error {
	r.states = append(r.states, s)
	return nil
}

type fixture struct {
	bus    *eventbus.Bus[keymap.Event]
	links  *links
	out    *recorder
	engine *effects.Engine
}

func newFixture(t *testing.T, cfg effects.Config) *fixture {
	t.Helper()
	tbl, err := keymap.NewTable(2, 8)
	require.NoError(t, err)
	tbl.SetName(0, "base")
	tbl.SetName(1, "fn")
	f := &fixture{
		bus:   eventbus.New[keymap.Event](32),
		links: &links{},
		out:   &recorder{},
	}
	f.engine = effects.New(f.bus.Subscribe("effects", nil), f.links, keymap.NewResolver(tbl), f.out, cfg)
	return f
}

func (f *fixture) key(pos int, edge debounce.Edge) {
	f.bus.Publish(keymap.Event{Action: keymap.Key(hid.KeyA), Pos: pos, Edge: edge, At: t0})
}

func TestRendersOnlyOnChange(t *testing.T) {
	f := newFixture(t, effects.Config{Count: 2, Indicator: -1})
	assert.True(t, f.engine.Tick(t0))
	assert.False(t, f.engine.Tick(t0.Add(time.Millisecond)))
	assert.False(t, f.engine.Tick(t0.Add(2*time.Millisecond)))

	f.key(3, debounce.Press)
	assert.True(t, f.engine.Tick(t0.Add(3*time.Millisecond)))
	require.Len(t, f.out.states, 2)
	assert.Equal(t, uint64(2), f.out.states[1].Frame)
	assert.Equal(t, 1, f.out.states[1].Display.Held)
	assert.Equal(t, "A", f.out.states[1].Display.LastKey)
}

func TestKeyHeatFades(t *testing.T) {
	f := newFixture(t, effects.Config{
		Count:     2,
		Indicator: -1,
		Map:       map[int]int{3: 1},
		Base:      effects.RGB{B: 10},
		Highlight: effects.RGB{R: 200, B: 10},
		Fade:      100 * time.Millisecond,
	})

	f.key(3, debounce.Press)
	f.engine.Tick(t0)
	last := f.out.states[len(f.out.states)-1]
	assert.Equal(t, effects.RGB{R: 200, B: 10}, last.LEDs[1])
	assert.Equal(t, effects.RGB{B: 10}, last.LEDs[0])

	f.key(3, debounce.Release)
	f.engine.Tick(t0.Add(10 * time.Millisecond))
	f.engine.Tick(t0.Add(60 * time.Millisecond))
	last = f.out.states[len(f.out.states)-1]
	assert.Equal(t, effects.RGB{R: 100, B: 10}, last.LEDs[1])

	f.engine.Tick(t0.Add(200 * time.Millisecond))
	last = f.out.states[len(f.out.states)-1]
	assert.Equal(t, effects.RGB{B: 10}, last.LEDs[1])
	assert.Equal(t, 0, last.Display.Held)
}

func TestMaxBrightnessAndPower(t *testing.T) {
	f := newFixture(t, effects.Config{
		Count:         3,
		Indicator:     -1,
		Base:          effects.RGB{R: 0xFF, G: 0xFF, B: 0xFF},
		MaxBrightness: 0x80,
	})
	f.engine.Tick(t0)
	for _, c := range f.out.states[0].LEDs {
		assert.Equal(t, effects.RGB{R: 0x80, G: 0x80, B: 0x80}, c)
	}

	assert.False(t, f.engine.TogglePower())
	assert.True(t, f.engine.Tick(t0.Add(time.Millisecond)))
	last := f.out.states[len(f.out.states)-1]
	assert.Equal(t, []effects.RGB{{}, {}, {}}, last.LEDs)
	assert.False(t, last.Display.Power)

	f.engine.SetPower(true)
	assert.True(t, f.engine.Power())
}

func TestLinkIndicator(t *testing.T) {
	tests := []struct {
		name string
		snap link.Snapshot
		at   time.Time
		want effects.RGB
	}{
		{
			name: "nothing connected",
			snap: link.Snapshot{Links: []link.LinkState{{Name: "usb", Kind: link.Wired}}},
			at:   t0,
			want: effects.Red,
		},
		{
			name: "wired active",
			snap: link.Snapshot{Active: "usb", Links: []link.LinkState{{Name: "usb", Kind: link.Wired, State: link.Connected}}},
			at:   t0,
			want: effects.Green,
		},
		{
			name: "wireless active",
			snap: link.Snapshot{Active: "ble", Links: []link.LinkState{{Name: "ble", Kind: link.Wireless, State: link.Connected}}},
			at:   t0,
			want: effects.Blue,
		},
		{
			name: "advertising blink on",
			snap: link.Snapshot{Links: []link.LinkState{{Name: "ble", Kind: link.Wireless, State: link.Advertising}}},
			at:   t0.Add(100 * time.Millisecond),
			want: effects.Blue,
		},
		{
			name: "pairing blink off",
			snap: link.Snapshot{Links: []link.LinkState{{Name: "ble", Kind: link.Wireless, State: link.Pairing}}},
			at:   t0.Add(600 * time.Millisecond),
			want: effects.Off,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, effects.Config{Count: 1, Indicator: 0})
			f.links.snap = tt.snap
			f.engine.Tick(tt.at)
			require.Len(t, f.out.states, 1)
			assert.Equal(t, tt.want, f.out.states[0].LEDs[0])
		})
	}
}

func TestDisplay(t *testing.T) {
	f := newFixture(t, effects.Config{Indicator: -1})
	f.links.snap = link.Snapshot{
		Active: "usb",
		Links: []link.LinkState{
			{Name: "usb", Kind: link.Wired, State: link.Connected},
			{Name: "ble", Kind: link.Wireless, State: link.Pairing, Passkey: "042042"},
		},
	}
	f.engine.SetHostLEDs(hid.LEDState{CapsLock: true})
	f.key(1, debounce.Press)
	f.engine.Tick(t0)

	d := f.out.states[0].Display
	assert.Equal(t, "base", d.Layer)
	assert.Equal(t, "usb", d.Active)
	assert.Equal(t, "042042", d.Passkey)
	assert.True(t, d.CapsLock)
	assert.Equal(t, []effects.LinkLine{
		{Name: "usb", Kind: link.Wired, State: link.Connected},
		{Name: "ble", Kind: link.Wireless, State: link.Pairing},
	}, d.Links)

	line := effects.StatusLine(f.out.states[0])
	assert.Equal(t, "layer=base active=usb usb:connected ble:pairing passkey=042042 CAPS held=1 last=A", line)
}

func TestRenderers(t *testing.T) {
	var buf bytes.Buffer
	r := effects.NewConsoleRenderer(&buf)
	st := effects.State{Display: effects.Display{Layer: "base", Power: true}}
	require.NoError(t, r.Render(st))
	assert.Equal(t, "layer=base active=none held=0\n", buf.String())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.NoError(t, effects.LogRenderer{Log: logger}.Render(st))

	called := false
	fn := effects.RendererFunc(func(effects.State) error {
		called = true
		return nil
	})
	require.NoError(t, fn.Render(st))
	assert.True(t, called)
}
