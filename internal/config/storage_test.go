package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage_SaveLoadRoundtrip(t *testing.T) {
	storage := NewStorageWithPath(t.TempDir())

	data := []byte("accessToken: abc\nrefreshToken: def\n")
	require.NoError(t, storage.Save(OAuthDir, "github", data))

	loaded, err := storage.Load(OAuthDir, "github")
	require.NoError(t, err)
	assert.Equal(t, data, loaded)
}

func TestStorage_LoadMissing(t *testing.T) {
	storage := NewStorageWithPath(t.TempDir())

	_, err := storage.Load(OAuthDir, "nope")
	assert.ErrorContains(t, err, "not found")
}

func TestStorage_Delete(t *testing.T) {
	storage := NewStorageWithPath(t.TempDir())

	require.NoError(t, storage.Save(UpstreamsDir, "srv", []byte("name: srv\n")))
	require.NoError(t, storage.Delete(UpstreamsDir, "srv"))

	_, err := storage.Load(UpstreamsDir, "srv")
	assert.Error(t, err)

	assert.ErrorContains(t, storage.Delete(UpstreamsDir, "srv"), "not found")
}

func TestStorage_List(t *testing.T) {
	dir := t.TempDir()
	storage := NewStorageWithPath(dir)

	require.NoError(t, storage.Save(GroupsDir, "alpha", []byte("name: alpha\n")))
	require.NoError(t, storage.Save(GroupsDir, "beta", []byte("name: beta\n")))
	// A .yml file placed directly is also picked up.
	writeFile(t, filepath.Join(dir, GroupsDir, "gamma.yml"), "name: gamma\n")

	names, err := storage.List(GroupsDir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta", "gamma"}, names)
}

func TestStorage_ListMissingDir(t *testing.T) {
	storage := NewStorageWithPath(t.TempDir())

	names, err := storage.List("upstreams")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestStorage_EmptyArgs(t *testing.T) {
	storage := NewStorageWithPath(t.TempDir())

	assert.Error(t, storage.Save("", "x", nil))
	assert.Error(t, storage.Save("oauth", "", nil))
	_, err := storage.Load("", "x")
	assert.Error(t, err)
	assert.Error(t, storage.Delete("oauth", ""))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"simple", "simple"},
		{"with/slash", "with_slash"},
		{"many***stars", "many_stars"},
		{"  spaced out  ", "spaced_out"},
		{"dots.in.name", "dots_in_name"},
		{"", "unnamed"},
		{"///", "unnamed"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), "input %q", tt.in)
	}
}
