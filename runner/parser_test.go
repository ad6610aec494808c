package runner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ci.env"), []byte("EMULATOR_LOC=/opt/emulator\n"), 0o644))
	path := writeConfig(t, dir, `
name: zarr
env_file: ci.env
install:
  - name: upgrade pip
    run: python -m pip install -U pip
  - run: pip install -r requirements_dev.txt
build:
  run: pip install -e .
service:
  path: ${EMULATOR_LOC}/emulator
  stop_timeout: 45s
  probe:
    kind: tcp
    address: 127.0.0.1:10000
test:
  name: pytest
  run: pytest -v --pyargs zarr
matrix:
  - name: py37
    interpreter_path: /opt/python37
    interpreter_version: "3.7"
    executable: python
    sdk: true
    env:
      NUMPY_VERSION: "1.16"
schedules:
  - every: 6h
    entries: [py37]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "zarr", cfg.Name)
	assert.Equal(t, dir, cfg.Dir)
	assert.Equal(t, []string{"bash", "-c"}, cfg.Shell)
	assert.Equal(t, map[string]string{"EMULATOR_LOC": "/opt/emulator"}, cfg.FileEnv)
	require.Len(t, cfg.Install, 2)
	assert.Equal(t, "upgrade pip", cfg.Install[0].Name)
	assert.Equal(t, "install 2", cfg.Install[1].Name)
	assert.Equal(t, "build", cfg.Build.Name)
	assert.Equal(t, 45*time.Second, cfg.Service.StopTimeout)
	require.NotNil(t, cfg.Service.Probe)
	assert.Equal(t, 30*time.Second, cfg.Service.Probe.Timeout)
	require.Len(t, cfg.Matrix, 1)
	assert.True(t, cfg.Matrix[0].SDK)
	assert.Equal(t, "python", cfg.Matrix[0].Executable)
	assert.Equal(t, "1.16", cfg.Matrix[0].Env["NUMPY_VERSION"])
	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, "6h", cfg.Schedules[0].Every)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"missing test", "build:\n  run: make\n", "test.run is required"},
		{"empty install step", "test:\n  run: t\ninstall:\n  - name: x\n", "install[0] (x): run is required"},
		{"duplicate entry", "test:\n  run: t\nmatrix:\n  - {name: a, interpreter_path: /a}\n  - {name: a, interpreter_path: /b}\n", `matrix entry "a" is defined twice`},
		{"missing interpreter", "test:\n  run: t\nmatrix:\n  - name: a\n", `matrix entry "a": interpreter_path is required`},
		{"bad probe", "test:\n  run: t\nservice:\n  path: /e\n  probe:\n    kind: http\n", `service.probe.kind "http" is not supported`},
		{"ambiguous schedule", "test:\n  run: t\nschedules:\n  - {at: \"02:00\", every: 1h}\n", "schedules[0]: exactly one of at or every is required"},
		{"bad schedule hour", "test:\n  run: t\nschedules:\n  - {at: \"25:00\"}\n", `schedules[0]: at "25:00": invalid hour`},
		{"bad schedule format", "test:\n  run: t\nschedules:\n  - {at: \"0200\"}\n", `schedules[0]: at "0200": invalid time format`},
		{"negative interval", "test:\n  run: t\nschedules:\n  - {every: \"-1h\"}\n", `schedules[0]: every "-1h": interval must be positive`},
		{"unparsable interval", "test:\n  run: t\nschedules:\n  - {every: daily}\n", `schedules[0]: every "daily": invalid duration format`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.True(t, IsRuntimeError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), ConfigFileName))
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
}

func TestSelectEntries(t *testing.T) {
	cfg := &Config{Matrix: []MatrixEntry{{Name: "py36"}, {Name: "py37"}, {Name: "py38"}}}

	all, err := cfg.SelectEntries(nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := cfg.SelectEntries([]string{"py38", "py36"})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "py36", some[0].Name)
	assert.Equal(t, "py38", some[1].Name)

	_, err = cfg.SelectEntries([]string{"py27"})
	assert.EqualError(t, err, `runtime error: matrix entry "py27" not found`)
}
