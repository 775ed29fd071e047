package testing

import (
	"testing"

	"github.com/Alia5/MicroKB/board"
	"github.com/Alia5/MicroKB/link"
	"github.com/Alia5/MicroKB/transport"
)

type mockRegistration struct {
	kind      link.Kind
	buildFunc func(b *board.Board, o transport.Options) (link.Driver, error)
	builds    int
}

func (m *mockRegistration) Kind() link.Kind { return m.kind }

func (m *mockRegistration) Build(b *board.Board, o transport.Options) (link.Driver, error) {
	m.builds++
	return m.buildFunc(b, o)
}

// CreateMockRegistration returns a transport registration of kind whose
// drivers come from bf.
func CreateMockRegistration(
	t *testing.T,
	kind link.Kind,
	bf func(b *board.Board, o transport.Options) (link.Driver, error),
) transport.Registration {
	t.Helper()
	return &mockRegistration{
		kind:      kind,
		buildFunc: bf,
	}
}

// Builds reports how often a registration from CreateMockRegistration built a
// driver.
func Builds(reg transport.Registration) int {
	if m, ok := reg.(*mockRegistration); ok {
		return m.builds
	}
	return 0
}
