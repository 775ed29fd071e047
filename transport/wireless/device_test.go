package wireless

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/Alia5/MicroKB/hid"
	"github.com/Alia5/MicroKB/link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	s   link.Session
	err error
}

func newTestDevice(t *testing.T, leds func(hid.LEDState)) (*Device, string) {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "keyboard.yaml"))
	require.NoError(t, err)
	d := NewDevice(DeviceConfig{Name: "radio", Listen: "127.0.0.1:0", HostLEDs: leds}, store)
	addr, err := d.Listen()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, addr.String()
}

func newHostStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "host.yaml"))
	require.NoError(t, err)
	return s
}

func async(fn func() (link.Session, error)) <-chan result {
	ch := make(chan result, 1)
	go func() {
		s, err := fn()
		ch <- result{s, err}
	}()
	return ch
}

func wait(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for keyboard side")
		return result{}
	}
}

func ctxTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestConnectWithoutBondsIsNotPaired(t *testing.T) {
	d, _ := newTestDevice(t, nil)
	_, err := d.Connect(context.Background())
	assert.ErrorIs(t, err, link.ErrNotPaired)
	assert.False(t, d.Paired())
}

func TestPairTransmitAndReconnect(t *testing.T) {
	leds := make(chan hid.LEDState, 1)
	d, addr := newTestDevice(t, func(st hid.LEDState) { leds <- st })
	hostStore := newHostStore(t)
	ctx := ctxTimeout(t)

	pairing := async(func() (link.Session, error) { return d.Pair(ctx, "123456") })
	hc, err := Dial(ctx, addr, hostStore, "123456")
	require.NoError(t, err)
	r := wait(t, pairing)
	require.NoError(t, r.err)

	assert.True(t, d.Paired())
	assert.Equal(t, d.Store().ID(), hc.Peer())
	hostBond, ok := hostStore.LookupAddr(addr)
	require.True(t, ok)
	kbBond, ok := d.Store().Lookup(hostStore.ID())
	require.True(t, ok)
	assert.Equal(t, kbBond.Key, hostBond.Key)

	f := hid.Build([]hid.Usage{
		{Page: hid.PageKeyboard, Code: hid.KeyA},
		{Page: hid.PageConsumer, Code: hid.ConsumerVolumeUp},
	})
	require.NoError(t, d.Transmit(ctx, f))
	got, err := hc.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, f, got)
	assert.Equal(t, f, hc.Frame())

	require.NoError(t, hc.SendLEDs(hid.LEDState{CapsLock: true}))
	select {
	case st := <-leds:
		assert.True(t, st.CapsLock)
	case <-time.After(5 * time.Second):
		t.Fatal("LED report not delivered")
	}

	require.NoError(t, hc.Close())
	select {
	case <-r.s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end when host left")
	}
	assert.ErrorIs(t, d.Transmit(ctx, f), link.ErrLinkDown)

	connecting := async(func() (link.Session, error) { return d.Connect(ctx) })
	hc, err = Dial(ctx, addr, hostStore, "")
	require.NoError(t, err)
	defer hc.Close()
	r = wait(t, connecting)
	require.NoError(t, r.err)

	require.NoError(t, d.Transmit(ctx, hid.Frame{}))
	got, err = hc.ReadFrame()
	require.NoError(t, err)
	assert.True(t, got.Empty())

	require.NoError(t, d.ClearBonds())
	assert.False(t, d.Paired())
	select {
	case <-r.s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("clearing bonds did not end the session")
	}
}

func TestRejections(t *testing.T) {
	d, addr := newTestDevice(t, nil)

	t.Run("wrong passkey", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctxTimeout(t))
		pairing := async(func() (link.Session, error) { return d.Pair(ctx, "111111") })
		_, err := Dial(ctxTimeout(t), addr, newHostStore(t), "222222")
		var rej *RejectError
		require.ErrorAs(t, err, &rej)
		assert.Equal(t, ReasonAuth, rej.Reason)
		cancel()
		assert.ErrorIs(t, wait(t, pairing).err, context.Canceled)
		assert.False(t, d.Paired())
	})

	t.Run("unknown host", func(t *testing.T) {
		// the keyboard needs one bond to advertise at all
		key, err := NewBondKey()
		require.NoError(t, err)
		other := newHostStore(t)
		require.NoError(t, d.Store().Put(Bond{Peer: other.ID(), Key: hex.EncodeToString(key)}))

		stranger := newHostStore(t)
		require.NoError(t, stranger.Put(Bond{Peer: d.Store().ID(), Key: hex.EncodeToString(key), Addr: addr}))

		ctx, cancel := context.WithCancel(ctxTimeout(t))
		connecting := async(func() (link.Session, error) { return d.Connect(ctx) })
		_, err = Dial(ctxTimeout(t), addr, stranger, "")
		assert.ErrorIs(t, err, link.ErrNotPaired)
		cancel()
		assert.ErrorIs(t, wait(t, connecting).err, context.Canceled)
	})

	t.Run("pair while not pairing", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctxTimeout(t))
		connecting := async(func() (link.Session, error) { return d.Connect(ctx) })
		_, err := Dial(ctxTimeout(t), addr, newHostStore(t), "123456")
		var rej *RejectError
		require.ErrorAs(t, err, &rej)
		assert.Equal(t, ReasonNotPairing, rej.Reason)
		cancel()
		assert.ErrorIs(t, wait(t, connecting).err, context.Canceled)
	})

	t.Run("host without bond", func(t *testing.T) {
		_, err := Dial(ctxTimeout(t), addr, newHostStore(t), "")
		assert.ErrorIs(t, err, link.ErrNotPaired)
	})
}
