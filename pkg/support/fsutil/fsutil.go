// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system.
package fsutil

import (
	"os"
	"os/user"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// FileExists returns whether the file or directory exists or an error if something went wrong in the filesystem.
func FileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to FileExists(%q)", filePath)
}

// ReplaceTildeInDir by the current user's home directory. Returns dir if it doesn't start with "~/" (or is "~").
//
// Other users' home directories ("~someone/...") are not supported and returned unchanged.
func ReplaceTildeInDir(dir string) (string, error) {
	if dir != "~" && !strings.HasPrefix(dir, "~/") {
		return dir, nil
	}
	usr, err := user.Current()
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for path %q", dir)
	}
	return path.Join(usr.HomeDir, dir[1:]), nil
}

// PrepareFilePath expands "~" in filePath and creates its parent directory if missing.
// It returns the expanded path.
func PrepareFilePath(filePath string) (string, error) {
	filePath, err := ReplaceTildeInDir(filePath)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(filePath)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create directory %q for %q", dir, filePath)
	}
	return filePath, nil
}
