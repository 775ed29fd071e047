package wireless

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	yaml "gopkg.in/yaml.v3"
)

// Bond is a remembered peer and the long term key shared with it.
type Bond struct {
	Peer    uuid.UUID `yaml:"peer"`
	Key     string    `yaml:"key"`
	Addr    string    `yaml:"addr,omitempty"`
	Created time.Time `yaml:"created"`
}

// KeyBytes decodes the hex key.
func (b Bond) KeyBytes() ([]byte, error) {
	k, err := hex.DecodeString(b.Key)
	if err != nil {
		return nil, fmt.Errorf("bond %s: %w", b.Peer, err)
	}
	if len(k) != KeySize {
		return nil, fmt.Errorf("bond %s: key is %d bytes, want %d", b.Peer, len(k), KeySize)
	}
	return k, nil
}

type bondFile struct {
	ID    uuid.UUID `yaml:"id"`
	Bonds []Bond    `yaml:"bonds"`
}

// Store persists this side's identity and its bonds in a YAML file. Both the
// keyboard and the host receiver use the same format.
type Store struct {
	path string

	mu   sync.RWMutex
	file bondFile
}

// OpenStore loads path. A missing file yields an empty store with a fresh
// identity, written on the first change.
func OpenStore(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.file.ID = uuid.New()
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read bonds: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.file); err != nil {
		return nil, fmt.Errorf("parse bonds %s: %w", path, err)
	}
	if s.file.ID == uuid.Nil {
		s.file.ID = uuid.New()
	}
	for _, b := range s.file.Bonds {
		if _, err := b.KeyBytes(); err != nil {
			return nil, fmt.Errorf("parse bonds %s: %w", path, err)
		}
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// ID is this side's identity.
func (s *Store) ID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.ID
}

// Bonds returns a copy of all bonds, oldest first.
func (s *Store) Bonds() []Bond {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.file.Bonds)
}

// Len returns the number of bonds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.file.Bonds)
}

// Lookup finds the bond with peer.
func (s *Store) Lookup(peer uuid.UUID) (Bond, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := slices.IndexFunc(s.file.Bonds, func(b Bond) bool { return b.Peer == peer })
	if i < 0 {
		return Bond{}, false
	}
	return s.file.Bonds[i], true
}

// LookupAddr finds the most recent bond made with a peer at addr.
func (s *Store) LookupAddr(addr string) (Bond, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.file.Bonds) - 1; i >= 0; i-- {
		if s.file.Bonds[i].Addr == addr {
			return s.file.Bonds[i], true
		}
	}
	return Bond{}, false
}

// Put adds b, replacing any bond with the same peer, and saves.
func (s *Store) Put(b Bond) error {
	if _, err := b.KeyBytes(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.Bonds = slices.DeleteFunc(s.file.Bonds, func(o Bond) bool { return o.Peer == b.Peer })
	s.file.Bonds = append(s.file.Bonds, b)
	return s.saveLocked()
}

// Clear forgets every bond and saves. The identity is kept.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.Bonds = nil
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := yaml.Marshal(&s.file)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("save bonds: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("save bonds: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("save bonds: %w", err)
	}
	return nil
}
