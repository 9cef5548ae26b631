package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	LocationID string `json:"location_id"`
	Cap        int    `json:"cap"`
	DataDir    string `json:"data_dir"`
}

func write(t *testing.T, path, contents string) {
	t.Helper()
	err := os.WriteFile(path, []byte(contents), 0o644)
	if err != nil {
		t.Fatal(err)
	}
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	write(t, path, `{
		// json5 comments are allowed
		location_id: "17989",
		cap: 2500,
	}`)

	cfg, err := ReadConfig[testConfig](path)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "17989", cfg.LocationID)
	require.Equal(t, 2500, cfg.Cap)
}

func TestReadConfigMergesLocalOverride(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "config.json5"), `{
		location_id: "17989",
		cap: 2500,
		data_dir: "data",
	}`)
	write(t, filepath.Join(dir, "config.local.json5"), `{
		data_dir: "/tmp/scratch",
	}`)

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "17989", cfg.LocationID)
	require.Equal(t, 2500, cfg.Cap)
	require.Equal(t, "/tmp/scratch", cfg.DataDir)
}

func TestReadConfigLocalOnly(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "config.local.json5"), `{ cap: 100 }`)

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 100, cfg.Cap)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "config.json5"))
	require.True(t, os.IsNotExist(err))
}
