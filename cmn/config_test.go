/*
 * Copyright (c) 2022-2026, 7Ji. All rights reserved.
 */
package cmn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseThreshold(t *testing.T) {
	tests := []struct {
		in   string
		kind ThresholdKind
		val  uint64
	}{
		{"12345", ThresholdBlocks, 12345},
		{"0", ThresholdBlocks, 0},
		{"10%", ThresholdPercent, 10},
		{"100%", ThresholdPercent, 100},
		{"1k", ThresholdBytes, 1 << 10},
		{"1kb", ThresholdBytes, 1 << 10},
		{"8m", ThresholdBytes, 8 << 20},
		{"1g", ThresholdBytes, 1 << 30},
		{"1G", ThresholdBytes, 1 << 30},
		{"2tb", ThresholdBytes, 2 << 40},
	}
	for _, tc := range tests {
		th, err := ParseThreshold(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.kind, th.Kind, tc.in)
		assert.Equal(t, tc.val, th.Value, tc.in)
	}

	for _, bad := range []string{"", "101%", "x", "%", "g", "10q", "-5"} {
		_, err := ParseThreshold(bad)
		assert.Error(t, err, bad)
	}
}

func TestThresholdBlocks(t *testing.T) {
	// 10% on a 1,000,000-block volume
	th, err := ParseThreshold("10%")
	require.NoError(t, err)
	assert.EqualValues(t, 100_000, th.Blocks(1_000_000, 4096))

	// 1g with 4096-byte blocks
	th, err = ParseThreshold("1g")
	require.NoError(t, err)
	assert.EqualValues(t, 262_144, th.Blocks(1_000_000, 4096))

	// bare value is already a block count
	th, err = ParseThreshold("777")
	require.NoError(t, err)
	assert.EqualValues(t, 777, th.Blocks(1_000_000, 4096))
}

func TestParseStorageDef(t *testing.T) {
	def, err := ParseStorageDef("hot:10%:90%")
	require.NoError(t, err)
	assert.Equal(t, "hot", def.Path)
	assert.Equal(t, Threshold{Kind: ThresholdPercent, Value: 10}, def.From)
	assert.Equal(t, Threshold{Kind: ThresholdPercent, Value: 90}, def.To)
	assert.False(t, def.HalfDuplex)

	def, err = ParseStorageDef("/mnt/cold:5%:10%:half_duplex")
	require.NoError(t, err)
	assert.Equal(t, "/mnt/cold", def.Path)
	assert.True(t, def.HalfDuplex)

	def, err = ParseStorageDef("hot:1000:1g")
	require.NoError(t, err)
	assert.Equal(t, ThresholdBlocks, def.From.Kind)
	assert.Equal(t, ThresholdBytes, def.To.Kind)

	for _, bad := range []string{
		"",
		"hot",
		"hot:10%",
		":10%:90%",
		"hot:90%:10%",  // from >= to
		"hot:50%:50%",  // ditto
		"hot:10%:90%:duplex",
		"hot:10%:90%:half_duplex:extra",
		"hot:x:90%",
	} {
		_, err := ParseStorageDef(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseCameraDef(t *testing.T) {
	def, err := ParseCameraDef("front::rtsp://x/y")
	require.NoError(t, err)
	assert.Equal(t, "front", def.Name)
	assert.Equal(t, "front_%Y%m%d_%H%M%S", def.Pattern)
	assert.Equal(t, "rtsp://x/y", def.URL)

	// URL keeps its colons
	def, err = ParseCameraDef("gate:cams/%Y/gate_%H%M%S:rtsp://host:554/path")
	require.NoError(t, err)
	assert.Equal(t, "cams/%Y/gate_%H%M%S", def.Pattern)
	assert.Equal(t, "rtsp://host:554/path", def.URL)

	// nameless is fine as long as a pattern is given
	def, err = ParseCameraDef(":cam_%H%M%S:rtsp://x/y")
	require.NoError(t, err)
	assert.Equal(t, "cam_%H%M%S", def.Pattern)

	for _, bad := range []string{
		"",
		"front",
		"front:pat",
		"front:pat:", // empty url
		"::rtsp://x/y",
	} {
		_, err := ParseCameraDef(bad)
		assert.Error(t, err, bad)
	}
}

func TestConfigValidate(t *testing.T) {
	var c Config
	assert.Error(t, c.Validate())
	c.Storages = []StorageDef{{Path: "hot"}}
	assert.Error(t, c.Validate())
	c.Cameras = []CameraDef{{Name: "front", URL: "rtsp://x/y"}}
	assert.NoError(t, c.Validate())

	assert.False(t, c.Oneshot())
	c.MaxCleaners = 2
	assert.True(t, c.Oneshot())
}
