package crispyerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatsWithAndWithoutCause(t *testing.T) {
	bare := New(Compile, "gcc exited 1")
	assert.Equal(t, "compile: gcc exited 1", bare.Error())

	wrapped := Wrap(IO, "write temp source", errors.New("disk full"))
	assert.Equal(t, "io: write temp source: disk full", wrapped.Error())
}

func TestErrorUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Cache, "purge failed", cause)

	require.True(t, errors.Is(err, cause))
}

func TestIsMatchesKind(t *testing.T) {
	err := New(Plugin, "aborted")
	assert.True(t, Is(err, Plugin))
	assert.False(t, Is(err, Config))
	assert.False(t, Is(errors.New("plain"), Plugin))
}

func TestKindStringCoversAllValues(t *testing.T) {
	kinds := []Kind{Compile, Load, NoEntry, IO, Params, Cache, ToolchainNotFound, Plugin, Config}
	seen := make(map[string]bool)
	for _, k := range kinds {
		s := k.String()
		assert.NotEqual(t, "unknown", s)
		assert.False(t, seen[s], "duplicate Kind string %q", s)
		seen[s] = true
	}
}
