package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcaron/Tfs2010QueryHistoryPerfExp/internal/harness"
)

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(`{"paths": ["$/P/a.cs"], "server": "https://tfs"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"$/P/a.cs"}, m.Paths)
	assert.Equal(t, "https://tfs", m.Server)

	m, err = ParseManifest([]byte(`{"paths": []}`))
	require.NoError(t, err)
	assert.Empty(t, m.Paths)
}

func TestParseManifestRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"missing paths":   `{}`,
		"paths not array": `{"paths": "$/P/a.cs"}`,
		"empty path":      `{"paths": [""]}`,
		"bad server":      `{"paths": [], "server": "tfs:8080"}`,
		"unknown field":   `{"paths": [], "repetitions": 3}`,
		"not json":        `paths: [a]`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseManifest([]byte(doc))
			require.Error(t, err)
			assert.True(t, harness.IsConfigError(err), "err = %v", err)
		})
	}
}

func TestWriteManifestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "paths.json")
	require.NoError(t, WriteManifest(path, &Manifest{Paths: []string{"$/P/a.cs", "$/P/b.cs"}}))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"$/P/a.cs", "$/P/b.cs"}, m.Paths)
	assert.False(t, m.GeneratedAt.IsZero())
}
