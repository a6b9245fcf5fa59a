package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"synthfeed/internal/model"
	"synthfeed/internal/synth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_JSONIsDeterministic(t *testing.T) {
	opts := generateOptions{symbol: "XAU/USD", seed: 42, ticks: 10, base: 2640, size: 24, format: "json"}

	var a, b bytes.Buffer
	require.NoError(t, generate(&a, opts))
	require.NoError(t, generate(&b, opts))
	assert.Equal(t, a.String(), b.String())

	var snap model.Snapshot
	require.NoError(t, json.Unmarshal(a.Bytes(), &snap))
	require.Len(t, snap.Candles, 24)
	assert.Equal(t, int64(10), snap.Seq)
	assert.Equal(t, "10:00", snap.Candles[0].Time)
	assert.Equal(t, "09:00", snap.Candles[23].Time)
	assert.Equal(t, snap.Candles[23].Close, snap.LastPrice)

	opts.seed = 43
	var c bytes.Buffer
	require.NoError(t, generate(&c, opts))
	assert.NotEqual(t, a.String(), c.String())
}

func TestGenerate_Table(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, generate(&out, generateOptions{symbol: "XAU/USD", seed: 1, base: 100, size: 3, format: "table"}))

	text := out.String()
	for _, want := range []string{"TIME", "VOLUME", "00:00", "01:00", "02:00", "XAU/USD  last"} {
		assert.Contains(t, text, want)
	}
	assert.NotContains(t, text, "03:00")
	assert.Regexp(t, `change [+-][0-9]+\.[0-9]{2}%\n$`, text, "no colour codes outside a terminal")
}

func TestGenerate_RejectsBadInput(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, generate(&out, generateOptions{seed: 1, base: 100, size: 3, format: "xml"}))
	assert.Error(t, generate(&out, generateOptions{seed: 1, base: 100, size: 3, ticks: -1, format: "json"}))
	assert.ErrorIs(t, generate(&out, generateOptions{seed: 1, base: 100, size: 0, format: "json"}), synth.ErrInvalidArgument)
	assert.ErrorIs(t, generate(&out, generateOptions{seed: 1, base: -5, size: 3, format: "json"}), synth.ErrInvalidArgument)
}

func TestSources_SeededAreIndependent(t *testing.T) {
	e1, g1, _ := sources(7)
	e2, _, _ := sources(7)
	assert.Equal(t, e1(), e2())
	assert.NotEqual(t, e1(), g1())
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{"serve", "relay", "generate", "version"} {
		assert.Contains(t, joined, want)
	}
}
