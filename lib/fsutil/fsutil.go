package fsutil

import (
	"os"
	"path/filepath"
)

// WriteAtomic writes contents to a temp file in the target's directory,
// fsyncs it, then renames it over the target. A crash mid-write leaves the
// previous file intact.
func WriteAtomic(path string, contents []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(contents)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	err = tmp.Sync()
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	err = tmp.Close()
	if err != nil {
		os.Remove(tmpName)
		return err
	}
	err = os.Chmod(tmpName, perm)
	if err != nil {
		os.Remove(tmpName)
		return err
	}
	err = os.Rename(tmpName, path)
	if err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
