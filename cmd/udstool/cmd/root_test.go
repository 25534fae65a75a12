package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	for _, in := range []string{"7E0", "0x7E0", " 7e0 "} {
		id, err := parseTarget(in)
		require.NoError(t, err, in)
		assert.Equal(t, uint32(0x7E0), id)
	}
	_, err := parseTarget("800")
	assert.Error(t, err)
	_, err = parseTarget("zz")
	assert.Error(t, err)
	_, err = parseTarget("")
	assert.Error(t, err)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, n := range []string{"exchange", "scan", "adapters", "ports"} {
		assert.True(t, names[n], n)
	}
}
