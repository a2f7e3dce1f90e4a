// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package disc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bureau-foundation/discimage/lib/container"
)

// Config tunes a Reader. The zero value is valid.
type Config struct {
	// Logger receives open diagnostics, track table details, and
	// chunk read failures. Nil discards everything.
	Logger *slog.Logger

	// PrecacheMemoryLimit caps the compressed size [Reader.Precache]
	// will load, in bytes. Zero means "check against available
	// system memory" (and allow everything on platforms where that
	// is unknown).
	PrecacheMemoryLimit int64
}

// Chunk locates one fixed-size read unit within the image. The
// external paging reader asks for a chunk by byte offset, then
// materializes it by ID.
type Chunk struct {
	// ID is the chunk index, or -1 past the end of the image.
	ID int64

	// Offset is the chunk-aligned byte offset of the chunk's start.
	Offset int64

	// Length is the chunk's byte length (always the full hunk size;
	// clamping at the logical extent is the paging reader's job).
	Length int
}

// ProgressFunc reports precache progress in bytes.
type ProgressFunc = container.ProgressFunc

// Reader provides random-access chunked reads over a disc container
// and its resolved parent chain as one flat byte address space.
//
// A Reader has no internal locking: the paging reader that drives
// it serializes access per handle. Distinct Readers are independent
// and may be used concurrently.
type Reader struct {
	path       string
	logger     *slog.Logger
	image      *container.Image
	hunkBytes  uint32
	unitBytes  uint32
	byteLength int64
	memLimit   int64
	closed     bool
}

// Open opens the disc image at path, resolving differential parent
// chains by fingerprint from the image's directory.
func Open(path string) (*Reader, error) {
	return OpenWith(path, Config{})
}

// OpenWith is [Open] with explicit configuration.
func OpenWith(path string, config Config) (*Reader, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening disc image: %w", err)
	}

	image, err := openImageFile(path, file, nil, 0, logger)
	if err != nil {
		// Ownership never transferred; the file is still ours to
		// close.
		file.Close()
		return nil, err
	}

	reader := &Reader{
		path:      path,
		logger:    logger,
		image:     image,
		hunkBytes: image.HunkBytes(),
		unitBytes: image.UnitBytes(),
		memLimit:  config.PrecacheMemoryLimit,
	}

	// The logical extent comes from the track table, not the
	// header: writers pad tracks to allocation boundaries, so the
	// raw unit count over-reports what is actually playable.
	frames, err := logicalFrameCount(image, logger)
	switch {
	case err == nil:
		reader.byteLength = int64(frames) * int64(reader.unitBytes)
	case errors.Is(err, errNoTracks):
		logger.Warn("image has no track metadata, extent may be inaccurate", "path", path)
		reader.byteLength = int64(image.Header().UnitCount) * int64(reader.unitBytes)
	default:
		image.Close()
		return nil, err
	}

	return reader, nil
}

// Path returns the path the image was opened from.
func (r *Reader) Path() string {
	return r.path
}

// HunkSize returns the fixed chunk size in bytes.
func (r *Reader) HunkSize() uint32 {
	return r.hunkBytes
}

// UnitSize returns the native storage unit size in bytes (one raw
// disc frame).
func (r *Reader) UnitSize() uint32 {
	return r.unitBytes
}

// ByteLength returns the logical extent: the externally visible
// readable length of the image. Fixed at open time.
func (r *Reader) ByteLength() int64 {
	return r.byteLength
}

// UnitCount returns the number of whole storage units within the
// logical extent.
func (r *Reader) UnitCount() int64 {
	return r.byteLength / int64(r.unitBytes)
}

// Metadata returns the index-th embedded metadata record carrying
// tag, for inspection tooling. container.ErrMetadataNotFound marks
// the end of the table.
func (r *Reader) Metadata(tag string, index int) (string, error) {
	return r.image.Metadata(tag, index)
}

// CompressedSize returns the on-disk size of the container and its
// parent chain — the memory cost of [Reader.Precache].
func (r *Reader) CompressedSize() int64 {
	return r.image.CompressedSize()
}

// LocateChunk maps an absolute byte offset to the chunk containing
// it. Offsets at or beyond the logical extent (or negative) return
// the end-of-stream sentinel, ID -1.
func (r *Reader) LocateChunk(offset int64) Chunk {
	if offset < 0 || offset >= r.byteLength {
		return Chunk{ID: -1}
	}
	id := offset / int64(r.hunkBytes)
	return Chunk{
		ID:     id,
		Offset: id * int64(r.hunkBytes),
		Length: int(r.hunkBytes),
	}
}

// ReadChunk decompresses chunk id into dst, which must hold at
// least HunkSize bytes, and returns the byte count written. A
// negative id (the [LocateChunk] sentinel) reads nothing and is not
// an error. A codec failure returns a [ChunkReadError] and zero
// bytes; the handle stays open and other chunks remain readable.
func (r *Reader) ReadChunk(dst []byte, id int64) (int, error) {
	if id < 0 {
		return 0, nil
	}
	if err := r.image.ReadHunk(id, dst); err != nil {
		r.logger.Error("chunk read failed", "path", r.path, "chunk", id, "error", err)
		return 0, &ChunkReadError{ID: id, Err: err}
	}
	return int(r.hunkBytes), nil
}

// Precache loads the image's raw bytes (whole parent chain) into
// memory so steady-state chunk reads stop touching disk. The
// compressed size is checked against the memory budget first. A
// cancelled context aborts mid-way with ctx.Err() — the reader
// remains fully usable, partially cached.
func (r *Reader) Precache(ctx context.Context, progress ProgressFunc) error {
	required := r.image.CompressedSize()

	if r.memLimit > 0 {
		if required > r.memLimit {
			return &InsufficientMemoryError{Required: required, Available: r.memLimit}
		}
	} else if available, err := availableMemory(); err == nil && required > available {
		return &InsufficientMemoryError{Required: required, Available: available}
	}

	if err := r.image.Precache(ctx, progress); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("precaching %s: %w", r.path, err)
	}
	return nil
}

// Close releases the image and its parent chain. The underlying
// files are closed exactly once; repeated calls are no-ops.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.image.Close()
}
