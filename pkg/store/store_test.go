package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenAt(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadUnknownDestinationIsEmpty(t *testing.T) {
	s := openTestStore(t)

	forwards, err := s.Load("alice@db.internal:22")
	require.NoError(t, err)
	assert.Empty(t, forwards)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	saved := []PersistedForward{
		{RemotePort: 8080, LocalPort: 8080},
		{RemotePort: 5432, LocalPort: 15432},
	}
	require.NoError(t, s.Save("alice@db.internal:22", saved))

	forwards, err := s.Load("alice@db.internal:22")
	require.NoError(t, err)
	// Ordered by remote port regardless of save order.
	require.Len(t, forwards, 2)
	assert.Equal(t, PersistedForward{RemotePort: 5432, LocalPort: 15432}, forwards[0])
	assert.Equal(t, PersistedForward{RemotePort: 8080, LocalPort: 8080}, forwards[1])
}

func TestSaveReplacesWholesale(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save("host", []PersistedForward{
		{RemotePort: 80, LocalPort: 8080},
		{RemotePort: 443, LocalPort: 8443},
	}))
	require.NoError(t, s.Save("host", []PersistedForward{
		{RemotePort: 443, LocalPort: 9443},
	}))

	forwards, err := s.Load("host")
	require.NoError(t, err)
	require.Len(t, forwards, 1)
	assert.Equal(t, PersistedForward{RemotePort: 443, LocalPort: 9443}, forwards[0])
}

func TestDestinationsAreIsolated(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save("alpha", []PersistedForward{{RemotePort: 80, LocalPort: 8080}}))
	require.NoError(t, s.Save("beta", []PersistedForward{{RemotePort: 22, LocalPort: 2222}}))

	alpha, err := s.Load("alpha")
	require.NoError(t, err)
	require.Len(t, alpha, 1)
	assert.Equal(t, uint16(80), alpha[0].RemotePort)

	require.NoError(t, s.Save("alpha", nil))

	alpha, err = s.Load("alpha")
	require.NoError(t, err)
	assert.Empty(t, alpha)

	beta, err := s.Load("beta")
	require.NoError(t, err)
	assert.Len(t, beta, 1)
}
