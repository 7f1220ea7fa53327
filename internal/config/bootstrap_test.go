package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBootstrap(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "bootstrap.yaml",
			content: `discussion_id: d1
current_user:
  id: u1
  name: Ada
preferences:
  default_sort: popularity
`,
		},
		{
			name:    "json",
			file:    "bootstrap.json",
			content: `{"discussion_id": "d1", "current_user": {"@id": "u1", "name": "Ada"}, "preferences": {"default_sort": "popularity"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			b, err := LoadBootstrap(path)
			require.NoError(t, err)
			assert.Equal(t, "d1", b.DiscussionID)
			require.NotNil(t, b.CurrentUser)
			assert.Equal(t, "u1", b.CurrentUser.ID)
			assert.Equal(t, "Ada", b.CurrentUser.Name)
			assert.Equal(t, "popularity", b.Preferences["default_sort"])
		})
	}
}

func TestLoadBootstrap_Errors(t *testing.T) {
	_, err := LoadBootstrap(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read bootstrap")

	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"discussion_id": `), 0o644))
	_, err = LoadBootstrap(path)
	assert.ErrorContains(t, err, "decode bootstrap broken.json")
}
