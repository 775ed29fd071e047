package matrix_test

import (
	"errors"
	"testing"
	"time"

	"github.com/Alia5/MicroKB/matrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingChain struct {
	loadErr error
	readErr error
}

func (c failingChain) Load() error               { return c.loadErr }
func (c failingChain) ReadInto(buf []byte) error { return c.readErr }

func TestScan(t *testing.T) {
	base := time.Unix(100, 0)
	chain := matrix.NewSimChain(12)
	s := matrix.New(chain, 12, matrix.WithClock(func() time.Time { return base }))

	f := s.Scan()
	require.True(t, f.Valid)
	assert.Equal(t, 12, f.Width)
	assert.Len(t, f.Bits, 2)
	assert.Equal(t, base, f.At)
	for pos := 0; pos < 12; pos++ {
		assert.False(t, f.Pressed(pos), "position %d", pos)
	}
	// released active-low inputs read 1; the tail beyond width must be masked
	assert.Equal(t, byte(0x00), f.Bits[1]&0xF0)

	chain.Set(0, true)
	chain.Set(11, true)
	f = s.Scan()
	require.True(t, f.Valid)
	assert.True(t, f.Pressed(0))
	assert.True(t, f.Pressed(11))
	assert.False(t, f.Pressed(5))
	assert.False(t, f.Pressed(12), "out of range positions are never pressed")
	assert.False(t, f.Pressed(-1))
}

func TestScanActiveHigh(t *testing.T) {
	chain := matrix.NewSimChain(8)
	s := matrix.New(chain, 8, matrix.WithActiveLow(false))
	f := s.Scan()
	require.True(t, f.Valid)
	// without inversion every released (high) input looks pressed
	assert.True(t, f.Pressed(3))
}

func TestScanErrors(t *testing.T) {
	type testCase struct {
		name  string
		chain matrix.Chain
		op    string
	}
	boom := errors.New("bus stuck")
	cases := []testCase{
		{name: "load fails", chain: failingChain{loadErr: boom}, op: "load"},
		{name: "read fails", chain: failingChain{readErr: boom}, op: "read"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := matrix.New(tc.chain, 16)
			f := s.Scan()
			assert.False(t, f.Valid)
			assert.Nil(t, f.Bits)
			assert.False(t, f.Pressed(0))

			var hwErr *matrix.HardwareReadError
			require.ErrorAs(t, f.Err, &hwErr)
			assert.Equal(t, tc.op, hwErr.Op)
			assert.ErrorIs(t, f.Err, boom)

			s.Scan()
			assert.Equal(t, 2, s.ErrorStreak())
			scans, failed := s.Stats()
			assert.Equal(t, uint64(2), scans)
			assert.Equal(t, uint64(2), failed)
		})
	}
}

func TestScanRecoversAfterFault(t *testing.T) {
	chain := matrix.NewSimChain(8)
	s := matrix.New(chain, 8)
	chain.FailNext(1)

	f := s.Scan()
	assert.False(t, f.Valid)
	assert.ErrorIs(t, f.Err, matrix.ErrInjected)
	assert.Equal(t, 1, s.ErrorStreak())

	f = s.Scan()
	assert.True(t, f.Valid)
	assert.Equal(t, 0, s.ErrorStreak())
}
