package wireless

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBond(t *testing.T, addr string) Bond {
	t.Helper()
	key, err := NewBondKey()
	require.NoError(t, err)
	return Bond{Peer: uuid.New(), Key: hex.EncodeToString(key), Addr: addr, Created: time.Unix(1_700_000_000, 0).UTC()}
}

func TestStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "bonds.yaml")
	s, err := OpenStore(path)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, s.ID())
	assert.Zero(t, s.Len())

	b := testBond(t, "10.0.0.2:3250")
	require.NoError(t, s.Put(b))

	reopened, err := OpenStore(path)
	require.NoError(t, err)
	assert.Equal(t, s.ID(), reopened.ID())
	got, ok := reopened.Lookup(b.Peer)
	require.True(t, ok)
	assert.Equal(t, b.Key, got.Key)
	assert.Equal(t, b.Addr, got.Addr)
	assert.True(t, b.Created.Equal(got.Created))

	got, ok = reopened.LookupAddr("10.0.0.2:3250")
	require.True(t, ok)
	assert.Equal(t, b.Peer, got.Peer)
}

func TestStorePutReplacesPeer(t *testing.T) {
	s, err := OpenStore(filepath.Join(t.TempDir(), "bonds.yaml"))
	require.NoError(t, err)

	first := testBond(t, "a:1")
	second := testBond(t, "b:2")
	again := testBond(t, "c:3")
	again.Peer = first.Peer

	require.NoError(t, s.Put(first))
	require.NoError(t, s.Put(second))
	require.NoError(t, s.Put(again))

	bonds := s.Bonds()
	require.Len(t, bonds, 2)
	assert.Equal(t, second.Peer, bonds[0].Peer)
	assert.Equal(t, "c:3", bonds[1].Addr)

	_, ok := s.LookupAddr("a:1")
	assert.False(t, ok)
}

func TestStoreClearKeepsIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bonds.yaml")
	s, err := OpenStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(testBond(t, "")))
	id := s.ID()

	require.NoError(t, s.Clear())
	assert.Zero(t, s.Len())

	reopened, err := OpenStore(path)
	require.NoError(t, err)
	assert.Equal(t, id, reopened.ID())
	assert.Zero(t, reopened.Len())
}

func TestStoreRejectsBadKeys(t *testing.T) {
	s, err := OpenStore(filepath.Join(t.TempDir(), "bonds.yaml"))
	require.NoError(t, err)

	b := testBond(t, "")
	b.Key = "abcd"
	assert.Error(t, s.Put(b))

	path := filepath.Join(t.TempDir(), "broken.yaml")
	content := "id: " + uuid.NewString() + "\nbonds:\n  - peer: " + uuid.NewString() + "\n    key: " + strings.Repeat("z", 64) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	_, err = OpenStore(path)
	assert.Error(t, err)
}
