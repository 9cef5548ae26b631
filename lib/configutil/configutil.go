package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// ReadConfig reads a json5 configuration file. `name` should come with a
// file extension; a sibling `<name>.local.<ext>` is merged on top of it when
// present, so machine-local overrides never have to touch the checked-in
// config.
func ReadConfig[T any](name string) (T, error) {
	var out T
	found := false

	dir := filepath.Dir(name)
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	contents, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(contents) > 0 {
		err = json5.Unmarshal(contents, &out)
		if err != nil {
			return out, fmt.Errorf("parse %s: %w", name, err)
		}
		found = true
	}

	localPath := filepath.Join(dir, stem+".local"+ext)
	localContents, err := os.ReadFile(localPath)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(localContents) > 0 {
		var override T
		err = json5.Unmarshal(localContents, &override)
		if err != nil {
			return out, fmt.Errorf("parse %s: %w", localPath, err)
		}
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, err
		}
		slog.Info("merging config with local overrides", "local", localPath)
		found = true
	}

	if !found {
		return out, os.ErrNotExist
	}
	return out, nil
}

// ReadRecursively walks up from the working directory until it finds a
// config file matching the name, then reads it with ReadConfig.
func ReadRecursively[T any](name string) (T, error) {
	var zero T

	current, err := os.Getwd()
	if err != nil {
		return zero, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if os.IsNotExist(err) {
			parent := filepath.Dir(current)
			if parent == current {
				return zero, os.ErrNotExist
			}
			current = parent
			continue
		}
		if err != nil {
			return zero, err
		}
		return config, nil
	}
}
