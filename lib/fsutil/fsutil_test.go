package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	err := WriteAtomic(path, []byte(`{"version":1}`), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, `{"version":1}`, string(contents))

	// replacing an existing file leaves no temp artifacts behind
	err = WriteAtomic(path, []byte(`{"version":2}`), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	contents, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, `{"version":2}`, string(contents))

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, entries, 1)
}

func TestWriteAtomicSetsPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	err := WriteAtomic(path, []byte("secret"), 0o600)
	if err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
