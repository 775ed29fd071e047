package sim

import (
	"context"
	"testing"

	"github.com/Alia5/MicroKB/board"
	"github.com/Alia5/MicroKB/hid"
	"github.com/Alia5/MicroKB/link"
	"github.com/Alia5/MicroKB/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriver(t *testing.T) {
	d := New("usb", nil)
	ctx := context.Background()
	f := hid.Frame{Keyboard: hid.KeyboardReport{Keys: [hid.KeySlots]uint8{hid.KeyA}}}

	assert.ErrorIs(t, d.Transmit(ctx, f), link.ErrLinkDown)

	s, err := d.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Transmit(ctx, f))
	last, sent := d.Last()
	assert.Equal(t, f, last)
	assert.Equal(t, 1, sent)

	d.Unplug()
	select {
	case <-s.Done():
	default:
		t.Fatal("unplug did not end the session")
	}
	assert.ErrorIs(t, d.Transmit(ctx, f), link.ErrLinkDown)
}

func TestRegistrationUsesWiredName(t *testing.T) {
	var got hid.LEDState
	reg := transport.Lookup(transport.Sim)
	require.NotNil(t, reg)
	drv, err := reg.Build(&board.Board{Transports: board.Transports{Wired: &board.Wired{Name: "desk"}}},
		transport.Options{HostLEDs: func(st hid.LEDState) { got = st }})
	require.NoError(t, err)
	assert.Equal(t, "desk", drv.Name())
	assert.Equal(t, link.Wired, drv.Kind())

	drv.(*Driver).SetHostLEDs(hid.LEDState{NumLock: true})
	assert.True(t, got.NumLock)
}
