// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"fmt"
	"os"
)

// Source adapts an open file to the reads the codec needs, with
// explicit ownership of the underlying handle. Before a successful
// [OpenImage] the caller owns the file and must close it on failure
// paths; on success, ownership transfers to the image and the
// wrapper closes the handle exactly once, on its own close. Exactly
// one of {caller, wrapper} owns the handle at any time.
type Source struct {
	file *os.File
	owns bool
}

// NewSource wraps an open file without taking ownership.
func NewSource(file *os.File) *Source {
	return &Source{file: file}
}

// ReadAt implements io.ReaderAt against the underlying file.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

// Size returns the current size of the underlying file.
func (s *Source) Size() (int64, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat container file: %w", err)
	}
	return info.Size(), nil
}

// Name returns the underlying file's path.
func (s *Source) Name() string {
	return s.file.Name()
}

// takeOwnership transfers the file handle to the wrapper. Called by
// OpenImage on success, never by external code.
func (s *Source) takeOwnership() {
	s.owns = true
}

// Close releases the underlying file if the wrapper owns it. Safe
// to call more than once; only the first call closes.
func (s *Source) Close() error {
	if !s.owns || s.file == nil {
		return nil
	}
	file := s.file
	s.file = nil
	return file.Close()
}
