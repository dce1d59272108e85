package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStopsAtFirstPositional(t *testing.T) {
	self, script, stdin, err := Split([]string{"--verbose", "demo.go", "one", "two"})
	require.NoError(t, err)
	assert.False(t, stdin)
	assert.Equal(t, []string{"--verbose"}, self)
	assert.Equal(t, []string{"demo.go", "one", "two"}, script)
}

func TestSplitValueConsumingFlagSwallowsNextArg(t *testing.T) {
	self, script, stdin, err := Split([]string{"-f", "demo.go", "arg"})
	require.NoError(t, err)
	assert.False(t, stdin)
	assert.Equal(t, []string{"-f", "demo.go"}, self)
	assert.Equal(t, []string{"arg"}, script)
}

func TestSplitValueConsumingFlagEvenIfValueLooksLikeFlag(t *testing.T) {
	self, script, _, err := Split([]string{"--config", "--not-really-a-flag", "rest"})
	require.NoError(t, err)
	assert.Equal(t, []string{"--config", "--not-really-a-flag"}, self)
	assert.Equal(t, []string{"rest"}, script)
}

func TestSplitDashSelectsStdinMode(t *testing.T) {
	self, script, stdin, err := Split([]string{"--verbose", "-", "a", "b"})
	require.NoError(t, err)
	assert.True(t, stdin)
	assert.Equal(t, []string{"--verbose"}, self)
	assert.Equal(t, []string{"a", "b"}, script)
}

func TestSplitDoubleDashEndsSelfOptionParsing(t *testing.T) {
	self, script, stdin, err := Split([]string{"--verbose", "--", "--looks-like-a-flag"})
	require.NoError(t, err)
	assert.False(t, stdin)
	assert.Equal(t, []string{"--verbose"}, self)
	assert.Equal(t, []string{"--looks-like-a-flag"}, script)
}

func TestSplitUnknownLeadingDashAtPositionalIsError(t *testing.T) {
	_, _, _, err := Split([]string{"--verbose", "--bogus"})
	require.Error(t, err)
}

func TestSplitValueConsumingFlagMissingValueIsError(t *testing.T) {
	_, _, _, err := Split([]string{"-f"})
	require.Error(t, err)
}

func TestSplitEmptyArgvIsEmptyEverything(t *testing.T) {
	self, script, stdin, err := Split(nil)
	require.NoError(t, err)
	assert.Empty(t, self)
	assert.Empty(t, script)
	assert.False(t, stdin)
}
