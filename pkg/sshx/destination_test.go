package sshx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDestinationFull(t *testing.T) {
	target, err := ParseDestination("deploy@db.internal:2222")
	require.NoError(t, err)
	assert.Equal(t, "deploy", target.User)
	assert.Equal(t, "db.internal", target.Host)
	assert.Equal(t, 2222, target.Port)
	assert.Equal(t, "db.internal:2222", target.Addr())
}

func TestParseDestinationDefaultPort(t *testing.T) {
	target, err := ParseDestination("deploy@db.internal")
	require.NoError(t, err)
	assert.Equal(t, 22, target.Port)
}

func TestParseDestinationUserFromEnv(t *testing.T) {
	t.Setenv("USER", "fallback")
	target, err := ParseDestination("db.internal")
	require.NoError(t, err)
	assert.Equal(t, "fallback", target.User)
}

func TestParseDestinationInvalid(t *testing.T) {
	for _, dest := range []string{"", "@host", "user@", "user@host:0", "user@host:notaport", "user@host:70000"} {
		_, err := ParseDestination(dest)
		assert.ErrorIs(t, err, ErrBadDestination, "destination %q", dest)
	}
}
