package pluginengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetSetRoundTrip(t *testing.T) {
	s := newStore()
	s.Set("k", 42, nil)

	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestStoreGetMissingKey(t *testing.T) {
	s := newStore()
	_, ok := s.Get("missing")
	assert.False(t, ok)
}

func TestStoreSetReplaceRunsOldDestructor(t *testing.T) {
	s := newStore()
	freed := false
	s.Set("k", "first", func(any) { freed = true })
	s.Set("k", "second", nil)

	assert.True(t, freed)
	v, _ := s.Get("k")
	assert.Equal(t, "second", v)
}

func TestStoreDeleteRunsDestructor(t *testing.T) {
	s := newStore()
	freed := false
	s.Set("k", "v", func(any) { freed = true })
	s.Delete("k")

	assert.True(t, freed)
	_, ok := s.Get("k")
	assert.False(t, ok)
}

func TestStoreCloseAllFreesEverything(t *testing.T) {
	s := newStore()
	var freedKeys []string
	s.Set("a", 1, func(any) { freedKeys = append(freedKeys, "a") })
	s.Set("b", 2, func(any) { freedKeys = append(freedKeys, "b") })

	s.closeAll()

	assert.Len(t, freedKeys, 2)
	_, ok := s.Get("a")
	assert.False(t, ok)
}
