package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjects(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, "zarr"), 0o755))
	writeConfig(t, filepath.Join(base, "zarr"), "test:\n  run: pytest\n")
	require.NoError(t, os.Mkdir(filepath.Join(base, "empty"), 0o755))

	projectsPath := filepath.Join(base, "projects.yml")
	require.NoError(t, os.WriteFile(projectsPath, []byte(`
projects:
  - name: zarr
    path: zarr
    description: chunked arrays
  - name: empty
    path: empty
  - name: gone
    path: /does/not/exist
`), 0o644))

	pc, err := LoadProjects(projectsPath)
	require.NoError(t, err)
	require.Len(t, pc.Projects, 3)

	zarr, err := pc.GetProject("zarr")
	require.NoError(t, err)
	assert.NoError(t, zarr.Validate(base))
	assert.Equal(t, filepath.Join(base, "zarr", ConfigFileName), zarr.ConfigPath(base))

	empty, err := pc.GetProject("empty")
	require.NoError(t, err)
	assert.EqualError(t, empty.Validate(base), ConfigFileName+" not found in project directory")

	gone, err := pc.GetProject("gone")
	require.NoError(t, err)
	assert.Error(t, gone.Validate(base))
	assert.Equal(t, filepath.Join("/does/not/exist", ConfigFileName), gone.ConfigPath(base))

	_, err = pc.GetProject("missing")
	assert.Error(t, err)
}
