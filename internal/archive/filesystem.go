// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// Compile-time interface check.
var _ Writer = (*FileWriter)(nil)

// FileWriter stores archive objects under a local directory.
type FileWriter struct {
	root string
}

// NewFileWriter creates the root directory if needed.
func NewFileWriter(root string) (*FileWriter, error) {
	if root == "" {
		return nil, strataerr.New(strataerr.CodeArchiveConfigInvalid, "archive directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, strataerr.Wrapf(err, strataerr.CodeArchiveConfigInvalid, "resolving archive directory %s", root)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, strataerr.Wrapf(err, strataerr.CodeArchiveWriteFailure, "creating archive directory %s", abs)
	}
	return &FileWriter{root: abs}, nil
}

// Write stores data at root/name via a temp file and rename, so readers
// never observe a partial object.
func (w *FileWriter) Write(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", strataerr.Wrapf(err, strataerr.CodeArchiveWriteFailure, "writing %s", name)
	}

	key := joinObjectKey(name)
	if key == "" || strings.Contains(key, "..") {
		return "", strataerr.Errorf(strataerr.CodeArchiveWriteFailure, "invalid archive object name %q", name)
	}
	path := filepath.Join(w.root, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", strataerr.Wrapf(err, strataerr.CodeArchiveWriteFailure, "creating directory for %s", key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".archive-*")
	if err != nil {
		return "", strataerr.Wrapf(err, strataerr.CodeArchiveWriteFailure, "creating temp file for %s", key)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", strataerr.Wrapf(err, strataerr.CodeArchiveWriteFailure, "writing %s", key)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", strataerr.Wrapf(err, strataerr.CodeArchiveWriteFailure, "syncing %s", key)
	}
	if err := tmp.Close(); err != nil {
		return "", strataerr.Wrapf(err, strataerr.CodeArchiveWriteFailure, "closing %s", key)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", strataerr.Wrapf(err, strataerr.CodeArchiveWriteFailure, "renaming %s", key)
	}

	return "file://" + filepath.ToSlash(path), nil
}
