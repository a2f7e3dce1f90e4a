// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import "errors"

var (
	// ErrNotContainer is returned when a file does not start with
	// the container magic bytes.
	ErrNotContainer = errors.New("not a Bureau disc container (invalid magic bytes)")

	// ErrUnsupportedVersion is returned when the magic bytes match
	// but the embedded format version is newer than this code
	// understands.
	ErrUnsupportedVersion = errors.New("unsupported disc container version")

	// ErrRequiresParent is returned by [OpenImage] when the header
	// records a parent fingerprint and no matching parent image was
	// supplied. The caller is expected to locate the parent and
	// retry the open bound to it.
	ErrRequiresParent = errors.New("container requires a parent image")

	// ErrMetadataNotFound is returned by [Image.Metadata] when no
	// entry with the requested tag exists at the requested index.
	// It marks end-of-table, not a malformed container.
	ErrMetadataNotFound = errors.New("metadata entry not found")

	// ErrHunkOutOfRange is returned by [Image.ReadHunk] for hunk
	// ids at or beyond the container's hunk count.
	ErrHunkOutOfRange = errors.New("hunk id out of range")

	// ErrCorrupt wraps structural damage found while parsing or
	// reading a container: truncated regions, invalid map entries,
	// hunk hash mismatches.
	ErrCorrupt = errors.New("corrupt disc container")
)
