package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
Debug = true

[Serial]
Device = "/dev/ttyUSB0"

[Reset]
Pin = "GPIO17"

[Mqtt]
Host = "localhost"
Port = 1883
Prefix = "yc600"

[[Inverters]]
Name = "roof-east"
Serial = "AABBCCDDEEFF"
Panels = 2
`

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTemp(t, sampleTOML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Device)
	assert.Equal(t, 115200, cfg.Serial.Baud) // defaulted
	assert.Equal(t, "GPIO17", cfg.Reset.Pin)
	assert.Equal(t, "localhost", cfg.Mqtt.Host)
	require.Len(t, cfg.Inverters, 1)
	assert.Equal(t, 2, cfg.Inverters[0].Panels)
}

func TestLoadRequiresSerialDevice(t *testing.T) {
	path := writeTemp(t, `Debug = false`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadPanelCount(t *testing.T) {
	path := writeTemp(t, `
[Serial]
Device = "/dev/ttyUSB0"

[[Inverters]]
Name = "bad"
Serial = "AABBCCDDEEFF"
Panels = 3
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
