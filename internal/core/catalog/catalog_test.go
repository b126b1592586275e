package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_ParsesWorldsDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "index.toml"), `home = "https://example.com"`)
	writeFile(t, filepath.Join(dir, "worlds", "minecraft.toml"), `
name = "Minecraft"
home = "https://example.com/minecraft"
default_url = "https://example.com/minecraft/{{version}}/mc.apworld"
default_version = "latest"

[versions."1.0.0"]
url = "https://example.com/minecraft/1.0.0/mc.apworld"

[versions."1.1.0"]
path = "worlds/minecraft"
`)

	snap, err := Load(dir)
	require.NoError(t, err)

	world, ok := snap.World("minecraft")
	require.True(t, ok)
	assert.Equal(t, "Minecraft", world.DisplayName)
	assert.Equal(t, "latest", world.DefaultVersion)
	require.Len(t, world.Versions, 2)
	assert.NotNil(t, world.Versions["1.0.0"].Unsupported)
	assert.NotNil(t, world.Versions["1.1.0"].Supported)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "worlds", "bad.toml"), `
name = "Bad"
default_version = "disabled"
unexpected_field = "oops"
`)

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidSemverKey(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "worlds", "bad.toml"), `
name = "Bad"
default_version = "disabled"

[versions."not-a-version"]
url = "https://example.com/bad.apworld"
`)

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_RejectsDefaultVersionNotDeclared(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "worlds", "bad.toml"), `
name = "Bad"
default_version = "9.9.9"

[versions."1.0.0"]
url = "https://example.com/bad.apworld"
`)

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestSnapshot_SortedWorldIDs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "worlds", "zelda.toml"), `name = "Zelda"
default_version = "disabled"`)
	writeFile(t, filepath.Join(dir, "worlds", "alttp.toml"), `name = "ALTTP"
default_version = "disabled"`)

	snap, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"alttp", "zelda"}, snap.SortedWorldIDs())
}
