package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dueldanov/packscript/internal/packscript"
)

func TestDefaultParametersAreValid(t *testing.T) {
	p := DefaultParameters()
	require.NoError(t, p.Validate())

	cfg := p.EngineConfig()
	assert.Equal(t, packscript.ModeVM, cfg.Mode)
	assert.Equal(t, packscript.DefaultEngineConfig().GasLimit, cfg.GasLimit)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packscript.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  mode: interpreter
  executionTimeout: 2s
  gasLimit: 5000
storage:
  keyFile: /tmp/store.key
http:
  requestsPerSecond: 0
`), 0600))

	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "interpreter", p.Engine.Mode)
	assert.Equal(t, 2*time.Second, p.Engine.ExecutionTimeout)
	assert.Equal(t, int64(5000), p.Engine.GasLimit)
	assert.Equal(t, "/tmp/store.key", p.Storage.KeyFile)
	assert.Equal(t, 0.0, p.HTTP.RequestsPerSecond)

	// untouched keys keep their defaults
	assert.Equal(t, "packscript", p.Storage.Realm)
	assert.Equal(t, 20, p.HTTP.Burst)

	assert.Equal(t, packscript.ModeInterpreter, p.EngineConfig().Mode)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown mode", "engine:\n  mode: jit\n"},
		{"unknown key", "engine:\n  turbo: true\n"},
		{"negative gas", "engine:\n  gasLimit: -1\n"},
		{"empty realm", "storage:\n  realm: \"\"\n"},
		{"zero timeout", "engine:\n  executionTimeout: 0s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, Parse([]byte(tt.yaml), DefaultParameters()))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultParameters(), p)
}
