package cmd

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Alia5/MicroKB/board"
	"github.com/Alia5/MicroKB/firmware"
	"github.com/Alia5/MicroKB/hid"
	"github.com/Alia5/MicroKB/matrix"
	"github.com/Alia5/MicroKB/transport/sim"
	"github.com/Alia5/MicroKB/transport/wireless"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yaml "gopkg.in/yaml.v3"
)

func TestParseLEDs(t *testing.T) {
	tests := []struct {
		in      string
		want    hid.LEDState
		wantErr bool
	}{
		{"", hid.LEDState{}, false},
		{"caps", hid.LEDState{CapsLock: true}, false},
		{"Caps,num scroll", hid.LEDState{CapsLock: true, NumLock: true, ScrollLock: true}, false},
		{"compose,kana", hid.LEDState{Compose: true, Kana: true}, false},
		{"caps,shift", hid.LEDState{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLEDs(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDescribeFrame(t *testing.T) {
	assert.Equal(t, "-", describeFrame(hid.Frame{}))

	f := hid.Build([]hid.Usage{
		{Page: hid.PageKeyboard, Code: hid.KeyA},
		{Page: hid.PageConsumer, Code: hid.ConsumerVolumeUp},
	})
	assert.Equal(t, "A VolumeUp", describeFrame(f))
}

func TestRenderTemplate(t *testing.T) {
	data, err := renderTemplate("run", "yaml")
	require.NoError(t, err)
	var run map[string]any
	require.NoError(t, yaml.Unmarshal(data, &run))
	assert.Equal(t, "board.yaml", run["board"])
	assert.Equal(t, false, run["sim"])

	data, err = renderTemplate("receive", "json")
	require.NoError(t, err)
	var recv map[string]any
	require.NoError(t, json.Unmarshal(data, &recv))
	assert.Contains(t, recv, "addr")
	assert.Contains(t, recv, "leds")
	assert.Equal(t, "0s", recv["retry"])

	for _, format := range []string{"yaml", "json"} {
		data, err = renderTemplate("board", format)
		require.NoError(t, err)
		b, err := board.Decode(data, board.Format(format))
		require.NoError(t, err, format)
		assert.NoError(t, b.Validate(), format)
	}

	_, err = renderTemplate("server", "yaml")
	assert.Error(t, err)
}

func TestConfigInit(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "conf", "run.toml")
	c := &ConfigInit{Command: "run", Format: "toml", Output: dest}
	require.NoError(t, c.Run())
	assert.FileExists(t, dest)

	assert.Error(t, c.Run(), "existing files are kept without --force")
	c.Force = true
	assert.NoError(t, c.Run())

	bad := &ConfigInit{Command: "run", Format: "ini", Output: dest, Force: true}
	assert.Error(t, bad.Run())
}

func TestBondsClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bonds.yaml")
	store, err := wireless.OpenStore(path)
	require.NoError(t, err)
	key, err := wireless.NewBondKey()
	require.NoError(t, err)
	require.NoError(t, store.Put(wireless.Bond{Peer: uuid.New(), Key: hex.EncodeToString(key), Created: time.Now()}))

	require.NoError(t, (&BondsList{File: path}).Run())
	require.NoError(t, (&BondsClear{File: path}).Run(slog.New(slog.NewTextHandler(io.Discard, nil))))

	reopened, err := wireless.OpenStore(path)
	require.NoError(t, err)
	assert.Zero(t, reopened.Len())
	assert.Equal(t, store.ID(), reopened.ID())
}

func TestDescriptorWritesFile(t *testing.T) {
	dir := t.TempDir()
	kbd := filepath.Join(dir, "kbd.bin")
	cons := filepath.Join(dir, "cons.bin")
	require.NoError(t, (&Descriptor{Output: kbd}).Run())
	require.NoError(t, (&Descriptor{Output: cons, Consumer: true}).Run())

	got, err := os.ReadFile(kbd)
	require.NoError(t, err)
	assert.Equal(t, hid.KeyboardDescriptor.Bytes(), got)
	got, err = os.ReadFile(cons)
	require.NoError(t, err)
	assert.Equal(t, hid.ConsumerDescriptor.Bytes(), got)
}

func TestBoardCheck(t *testing.T) {
	dir := t.TempDir()
	data, err := board.Encode(board.Example(), board.FormatYAML)
	require.NoError(t, err)
	good := filepath.Join(dir, "board.yaml")
	require.NoError(t, os.WriteFile(good, data, 0o644))
	assert.NoError(t, (&BoardCheck{File: good}).Run())

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: x\nmatrix: {rows: 0, cols: 0}\n"), 0o644))
	assert.ErrorIs(t, (&BoardCheck{File: bad}).Run(), board.ErrInvalidConfig)
}

const simBoard = `
name: sim
matrix: {rows: 1, cols: 2}
keys: {a: [0, 0], b: [0, 1]}
layers:
  - name: base
    keys: {a: A, b: B}
transports:
  wired: {}
`

func TestSimInput(t *testing.T) {
	b, err := board.Decode([]byte(simBoard), board.FormatYAML)
	require.NoError(t, err)
	chain := matrix.NewSimChain(8)
	now := time.Unix(1_700_000_000, 0)
	fw, err := firmware.New(b, chain,
		firmware.WithDrivers(sim.New("usb", nil)),
		firmware.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = fw.Dispatcher().Close() })

	in := &simInput{fw: fw, chain: chain, hold: time.Millisecond, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	ctx := context.Background()
	step := func() {
		for i := 0; i < 10; i++ {
			now = now.Add(time.Millisecond)
			fw.Step(now)
		}
	}

	require.NoError(t, in.apply(ctx, "+a"))
	step()
	assert.Equal(t, uint64(1), fw.Stats().Bus.Published)
	require.NoError(t, in.apply(ctx, "-a"))
	step()
	assert.Equal(t, uint64(2), fw.Stats().Bus.Published)

	assert.NoError(t, in.apply(ctx, ""))
	assert.NoError(t, in.apply(ctx, "leds caps"))
	assert.Error(t, in.apply(ctx, "leds shift"))
	assert.Error(t, in.apply(ctx, "nope"))
}
