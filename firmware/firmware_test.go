package firmware_test

import (
	"context"
	"testing"
	"time"

	"github.com/Alia5/MicroKB/board"
	"github.com/Alia5/MicroKB/firmware"
	"github.com/Alia5/MicroKB/hid"
	"github.com/Alia5/MicroKB/link"
	"github.com/Alia5/MicroKB/matrix"
	"github.com/Alia5/MicroKB/transport/sim"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBoard = `
name: rig
matrix: {rows: 2, cols: 2}
keys:
  a: [0, 0]
  b: [0, 1]
  fn: [1, 0]
  x: [1, 1]
layers:
  - name: base
    keys: {a: A, b: B, fn: "mo(1)", x: "fn(leds)"}
  - name: fn
    keys: {a: "cc(VolumeUp)", x: "fn(pair)"}
transports:
  wired: {}
`

const (
	posA  = 0
	posB  = 1
	posFn = 2
	posX  = 3
)

type rig struct {
	t     *testing.T
	fw    *firmware.Firmware
	chain *matrix.SimChain
	usb   *sim.Driver
	now   time.Time
}

func newRig(t *testing.T) *rig {
	t.Helper()
	b, err := board.Decode([]byte(testBoard), board.FormatYAML)
	require.NoError(t, err)

	r := &rig{t: t, chain: matrix.NewSimChain(8), usb: sim.New("usb", nil), now: time.Unix(1_700_000_000, 0)}
	r.fw, err = firmware.New(b, r.chain,
		firmware.WithDrivers(r.usb),
		firmware.WithClock(func() time.Time { return r.now }),
		firmware.WithLinkOptions(link.WithBackoff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) })),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.fw.Links().Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = r.fw.Dispatcher().Close()
	})
	require.Eventually(t, func() bool {
		return len(r.fw.Links().Snapshot().Connected()) == 1
	}, 2*time.Second, time.Millisecond)
	return r
}

// hold sets pos and steps the pipeline for ms milliseconds.
func (r *rig) hold(pos int, pressed bool, ms int) {
	r.chain.Set(pos, pressed)
	for i := 0; i < ms; i++ {
		r.now = r.now.Add(time.Millisecond)
		r.fw.Step(r.now)
	}
}

func (r *rig) waitFrame(want hid.Frame) {
	r.t.Helper()
	require.Eventually(r.t, func() bool {
		f, _ := r.usb.Last()
		return f == want
	}, 2*time.Second, time.Millisecond, "host never saw %+v", want)
}

func TestKeyReachesHost(t *testing.T) {
	r := newRig(t)

	r.hold(posA, true, 10)
	r.waitFrame(hid.Frame{Keyboard: hid.KeyboardReport{Keys: [6]uint8{hid.KeyA}}})

	r.hold(posA, false, 10)
	r.waitFrame(hid.Frame{})
}

func TestBounceNeverReachesHost(t *testing.T) {
	r := newRig(t)
	r.hold(posB, true, 2)
	r.hold(posB, false, 10)

	assert.Zero(t, r.fw.Stats().Bus.Published)
	f, _ := r.usb.Last()
	assert.True(t, f.Empty())
}

func TestLayerKeySendsConsumerUsage(t *testing.T) {
	r := newRig(t)

	r.hold(posFn, true, 10)
	assert.True(t, r.fw.Resolver().Snapshot().IsActive(1))

	r.hold(posA, true, 10)
	r.waitFrame(hid.Frame{Consumer: hid.ConsumerReport{Usage: hid.ConsumerVolumeUp}})

	// releasing the layer key first must still release the consumer usage
	r.hold(posFn, false, 10)
	r.hold(posA, false, 10)
	r.waitFrame(hid.Frame{})
	assert.False(t, r.fw.Resolver().Snapshot().IsActive(1))
}

func TestBuiltinCapabilities(t *testing.T) {
	r := newRig(t)
	require.True(t, r.fw.Effects().Power())

	r.hold(posX, true, 10)
	r.hold(posX, false, 10)
	assert.False(t, r.fw.Effects().Power())

	r.hold(posX, true, 10)
	r.hold(posX, false, 10)
	assert.True(t, r.fw.Effects().Power())

	// fn(pair) without a wireless transport fails without affecting anything
	r.hold(posFn, true, 10)
	r.hold(posX, true, 10)
	r.hold(posX, false, 10)
	r.hold(posFn, false, 10)
	assert.True(t, r.fw.Effects().Power())

	for _, name := range []string{firmware.CapPair, firmware.CapClearBonds, firmware.CapUseWired, firmware.CapUseWireless, firmware.CapLEDs} {
		_, ok := r.fw.Capabilities().Lookup(name)
		assert.True(t, ok, name)
	}
	assert.Equal(t, uint64(0), r.fw.Stats().Tasks["actions"].Panics)
}

func TestUnpluggedHostReconnects(t *testing.T) {
	r := newRig(t)
	r.hold(posA, true, 10)
	r.waitFrame(hid.Frame{Keyboard: hid.KeyboardReport{Keys: [6]uint8{hid.KeyA}}})

	before := r.fw.Links().Snapshot().Links[0].Session
	r.usb.Unplug()
	require.Eventually(t, func() bool {
		st := r.fw.Links().Snapshot().Links[0]
		return st.State == link.Connected && st.Session > before
	}, 2*time.Second, time.Millisecond)

	// the held key is resent to the new session
	_, sentBefore := r.usb.Last()
	r.hold(posA, true, 2)
	require.Eventually(t, func() bool {
		f, sent := r.usb.Last()
		return sent > sentBefore && f.Keyboard.Keys[0] == hid.KeyA
	}, 2*time.Second, time.Millisecond)
}

func TestNewRejectsInvalidBoard(t *testing.T) {
	b, err := board.Decode([]byte(testBoard), board.FormatYAML)
	require.NoError(t, err)
	b.Layers[0].Keys["a"] = "mo(9)"
	_, err = firmware.New(b, matrix.NewSimChain(8), firmware.WithDrivers(sim.New("usb", nil)))
	assert.ErrorIs(t, err, board.ErrInvalidConfig)
}

func TestRunStopsOnCancel(t *testing.T) {
	b, err := board.Decode([]byte(testBoard), board.FormatYAML)
	require.NoError(t, err)
	usb := sim.New("usb", nil)
	fw, err := firmware.New(b, matrix.NewSimChain(8), firmware.WithDrivers(usb))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fw.Run(ctx) }()

	require.Eventually(t, func() bool {
		return fw.Stats().Scans > 10
	}, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Positive(t, fw.Stats().Tasks["dispatch"].Runs)
}
