// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package disc

import (
	"errors"
	"fmt"
)

// ErrTooManyParents is returned when a parent chain exceeds the
// recursion bound — a cyclic or pathological chain, not a missing
// file.
var ErrTooManyParents = errors.New("too many parent images")

// OpenError reports a hard codec failure while opening a container
// (anything other than a parent requirement).
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("opening disc image %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// HeaderReadError reports a failed header-only read of a container
// that declared a parent requirement. Without the header there is no
// fingerprint to resolve, so this is a hard failure.
type HeaderReadError struct {
	Path string
	Err  error
}

func (e *HeaderReadError) Error() string {
	return fmt.Sprintf("reading disc image header %s: %v", e.Path, e.Err)
}

func (e *HeaderReadError) Unwrap() error { return e.Err }

// ParentNotFoundError reports that no usable parent image was found
// for a differential image. Dir is the directory that was searched;
// parents must live alongside their children.
type ParentNotFoundError struct {
	Path string
	Dir  string
	Err  error // nil when no candidate matched at all
}

func (e *ParentNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no usable parent image for %s in %s: %v", e.Path, e.Dir, e.Err)
	}
	return fmt.Sprintf("no parent image for %s found in %s", e.Path, e.Dir)
}

func (e *ParentNotFoundError) Unwrap() error { return e.Err }

// MetadataParseError reports a track metadata record whose text does
// not match its schema. Malformed metadata aborts extent computation
// entirely — a record that parses wrong is corruption, not a record
// to skip.
type MetadataParseError struct {
	Text string
}

func (e *MetadataParseError) Error() string {
	return fmt.Sprintf("invalid track metadata: %q", e.Text)
}

// ChunkReadError reports a codec failure while reading one chunk.
// The handle remains open and later chunks may still read fine.
type ChunkReadError struct {
	ID  int64
	Err error
}

func (e *ChunkReadError) Error() string {
	return fmt.Sprintf("reading chunk %d: %v", e.ID, e.Err)
}

func (e *ChunkReadError) Unwrap() error { return e.Err }

// InsufficientMemoryError reports that precaching was refused
// because the image's compressed size does not fit the memory
// budget.
type InsufficientMemoryError struct {
	Required  int64
	Available int64
}

func (e *InsufficientMemoryError) Error() string {
	return fmt.Sprintf("insufficient memory to precache: need %d bytes, %d available",
		e.Required, e.Available)
}

// errNoTracks signals an empty track table to the open path, which
// falls back to the raw unit count for the extent.
var errNoTracks = errors.New("no track metadata")
