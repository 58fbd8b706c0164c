package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitMissingFileKeepsDefaults(t *testing.T) {
	Keys = Config{DataDir: "./var/tsdb", HTTPAddr: ":4242"}
	err := Init(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	require.Equal(t, "./var/tsdb", Keys.DataDir)
}

func TestInitDecodesOverrides(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(fp, []byte(`{"data_dir":"/tmp/tsdb-data","http_addr":":9090","page_size":8192}`), 0o644))

	Keys = Config{}
	require.NoError(t, Init(fp))
	require.Equal(t, "/tmp/tsdb-data", Keys.DataDir)
	require.Equal(t, ":9090", Keys.HTTPAddr)
	require.Equal(t, 8192, Keys.PageSize)
}

func TestInitRejectsMissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(fp, []byte(`{"http_addr":":9090"}`), 0o644))

	err := Init(fp)
	require.Error(t, err)
}

func TestInitRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(fp, []byte(`{"data_dir":"/tmp","bogus_field":1}`), 0o644))

	err := Init(fp)
	require.Error(t, err)
}
