// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

// hunkKind classifies a hunk map entry.
type hunkKind uint8

const (
	// hunkStored: the hunk's compressed bytes live in this file.
	hunkStored hunkKind = 0

	// hunkParent: the hunk is unchanged from the parent image and
	// is read from it by the same hunk id.
	hunkParent hunkKind = 1

	// hunkZero: the hunk is implicitly all zeroes; nothing is
	// stored.
	hunkZero hunkKind = 2
)

// mapEntry is one parsed hunk map entry.
type mapEntry struct {
	kind           hunkKind
	tag            CompressionTag
	compressedSize uint32
	dataOffset     uint64
	hash           Hash
}

// Image is an opened container. It resolves hunk reads against its
// own stored data, its parent chain, or implicit zero fill, and
// serves the metadata table.
//
// An Image is not internally synchronized: callers serialize access
// to a single image, while distinct images may be used from
// different goroutines freely.
type Image struct {
	source   *Source
	data     io.ReaderAt // source, or an in-memory copy after Precache
	fileSize int64
	header   Header
	hunks    []mapEntry
	metadata []MetadataEntry
	parent   *Image
	closed   bool
}

// OpenImage opens a container from src, optionally bound to a
// parent image. Ownership of src's file handle transfers to the
// returned image only on success; on any error the caller still
// owns the handle and must close it.
//
// A differential container opened without a parent (or with a
// non-matching one) fails with [ErrRequiresParent]; the caller
// resolves the parent by fingerprint and retries.
func OpenImage(src *Source, parent *Image) (*Image, error) {
	header, err := ReadHeader(src)
	if err != nil {
		return nil, err
	}

	if header.Fingerprint.HasParent() {
		if parent == nil {
			return nil, ErrRequiresParent
		}
		if !header.Fingerprint.MatchesParent(parent.Fingerprint()) {
			return nil, fmt.Errorf("%w: supplied parent %s does not match required %s",
				ErrRequiresParent, parent.Fingerprint().ImageHash, header.Fingerprint.ParentHash)
		}
	} else if parent != nil {
		return nil, fmt.Errorf("container is standalone but a parent image was supplied")
	}

	fileSize, err := src.Size()
	if err != nil {
		return nil, err
	}

	hunks, err := parseHunkMap(src, header, fileSize)
	if err != nil {
		return nil, err
	}

	var metadata []MetadataEntry
	if header.MetaLength > 0 {
		if header.MetaOffset+uint64(header.MetaLength) > uint64(fileSize) {
			return nil, fmt.Errorf("%w: metadata region [%d,+%d) exceeds file size %d",
				ErrCorrupt, header.MetaOffset, header.MetaLength, fileSize)
		}
		region := make([]byte, header.MetaLength)
		if _, err := src.ReadAt(region, int64(header.MetaOffset)); err != nil {
			return nil, fmt.Errorf("reading metadata region: %w", err)
		}
		if metadata, err = parseMetadata(region); err != nil {
			return nil, err
		}
	}

	src.takeOwnership()
	return &Image{
		source:   src,
		data:     src,
		fileSize: fileSize,
		header:   header,
		hunks:    hunks,
		metadata: metadata,
		parent:   parent,
	}, nil
}

// parseHunkMap reads and validates the hunk map that follows the
// header.
func parseHunkMap(r io.ReaderAt, header Header, fileSize int64) ([]mapEntry, error) {
	mapBytes := int64(header.HunkCount) * MapEntrySize
	mapEnd := int64(HeaderSize) + mapBytes
	if mapEnd > fileSize {
		return nil, fmt.Errorf("%w: hunk map [%d,%d) exceeds file size %d",
			ErrCorrupt, HeaderSize, mapEnd, fileSize)
	}

	raw := make([]byte, mapBytes)
	if _, err := r.ReadAt(raw, HeaderSize); err != nil {
		return nil, fmt.Errorf("reading hunk map: %w", err)
	}

	hunks := make([]mapEntry, header.HunkCount)
	for i := range hunks {
		entry := raw[i*MapEntrySize : (i+1)*MapEntrySize]
		hunks[i] = mapEntry{
			kind:           hunkKind(entry[0]),
			tag:            CompressionTag(entry[1]),
			compressedSize: binary.LittleEndian.Uint32(entry[4:8]),
			dataOffset:     binary.LittleEndian.Uint64(entry[8:16]),
		}
		copy(hunks[i].hash[:], entry[16:48])

		switch hunks[i].kind {
		case hunkStored:
			if !hunks[i].tag.valid() {
				return nil, fmt.Errorf("%w: hunk %d has unknown compression tag %d",
					ErrCorrupt, i, entry[1])
			}
			if hunks[i].compressedSize == 0 {
				return nil, fmt.Errorf("%w: hunk %d is stored with zero compressed size", ErrCorrupt, i)
			}
			end := hunks[i].dataOffset + uint64(hunks[i].compressedSize)
			if hunks[i].dataOffset < uint64(mapEnd) || end > uint64(fileSize) {
				return nil, fmt.Errorf("%w: hunk %d data [%d,%d) outside file body",
					ErrCorrupt, i, hunks[i].dataOffset, end)
			}
		case hunkParent:
			if !header.Fingerprint.HasParent() {
				return nil, fmt.Errorf("%w: hunk %d references a parent but the container is standalone",
					ErrCorrupt, i)
			}
		case hunkZero:
			// Nothing stored.
		default:
			return nil, fmt.Errorf("%w: hunk %d has unknown kind %d", ErrCorrupt, i, entry[0])
		}
	}
	return hunks, nil
}

// Header returns the parsed container header.
func (img *Image) Header() Header {
	return img.header
}

// Fingerprint returns the image's content identity block.
func (img *Image) Fingerprint() Fingerprint {
	return img.header.Fingerprint
}

// HunkBytes returns the fixed decompressed hunk size.
func (img *Image) HunkBytes() uint32 {
	return img.header.HunkBytes
}

// UnitBytes returns the native storage unit size.
func (img *Image) UnitBytes() uint32 {
	return img.header.UnitBytes
}

// HunkCount returns the number of hunks in this container.
func (img *Image) HunkCount() uint32 {
	return img.header.HunkCount
}

// CompressedSize returns the on-disk byte size of this container
// plus its parent chain. This is the memory cost of a full
// [Image.Precache].
func (img *Image) CompressedSize() int64 {
	total := img.fileSize
	if img.parent != nil {
		total += img.parent.CompressedSize()
	}
	return total
}

// Metadata returns the index-th metadata record carrying the given
// tag. Returns [ErrMetadataNotFound] past the last such record —
// that is end-of-table, not an error in the container.
func (img *Image) Metadata(tag string, index int) (string, error) {
	seen := 0
	for _, entry := range img.metadata {
		if entry.Tag != tag {
			continue
		}
		if seen == index {
			return entry.Text, nil
		}
		seen++
	}
	return "", ErrMetadataNotFound
}

// ReadHunk decompresses hunk id into dst, which must hold at least
// HunkBytes. Stored hunks are hash-verified after decompression;
// parent hunks delegate to the parent image; zero hunks are filled
// without touching storage.
func (img *Image) ReadHunk(id int64, dst []byte) error {
	if id < 0 || id >= int64(img.header.HunkCount) {
		return fmt.Errorf("%w: hunk %d of %d", ErrHunkOutOfRange, id, img.header.HunkCount)
	}
	hunkBytes := int(img.header.HunkBytes)
	if len(dst) < hunkBytes {
		return fmt.Errorf("destination buffer %d bytes, hunk is %d", len(dst), hunkBytes)
	}
	dst = dst[:hunkBytes]

	entry := img.hunks[id]
	switch entry.kind {
	case hunkZero:
		clear(dst)
		return nil

	case hunkParent:
		if img.parent == nil {
			return fmt.Errorf("%w: hunk %d needs a parent image", ErrCorrupt, id)
		}
		return img.parent.ReadHunk(id, dst)

	default: // hunkStored, validated at open
		compressed := make([]byte, entry.compressedSize)
		if _, err := img.data.ReadAt(compressed, int64(entry.dataOffset)); err != nil {
			return fmt.Errorf("reading hunk %d (%d bytes at %d): %w",
				id, entry.compressedSize, entry.dataOffset, err)
		}
		if err := DecompressHunkInto(dst, compressed, entry.tag); err != nil {
			return fmt.Errorf("decompressing hunk %d: %w", id, err)
		}
		if actual := HashHunk(dst); actual != entry.hash {
			return fmt.Errorf("%w: hunk %d hash mismatch: expected %s, got %s",
				ErrCorrupt, id, entry.hash, actual)
		}
		return nil
	}
}

// precacheStep is the read granularity for Precache: large enough
// to keep sequential throughput, small enough for responsive
// progress and cancellation.
const precacheStep = 8 * 1024 * 1024

// ProgressFunc reports precache progress. done grows monotonically
// up to total (both in bytes across the whole parent chain).
type ProgressFunc func(done, total int64)

// Precache loads the raw container bytes of this image and its
// parent chain into memory, so subsequent hunk reads decompress
// from memory instead of disk. The file handles stay open and
// owned; an aborted precache leaves the image fully usable.
//
// Cancellation is checked between read steps; a cancelled precache
// returns ctx.Err() (context.Canceled is a caller request, not a
// failure).
func (img *Image) Precache(ctx context.Context, progress ProgressFunc) error {
	total := img.CompressedSize()
	var done int64
	return img.precache(ctx, progress, &done, total)
}

func (img *Image) precache(ctx context.Context, progress ProgressFunc, done *int64, total int64) error {
	if img.parent != nil {
		if err := img.parent.precache(ctx, progress, done, total); err != nil {
			return err
		}
	}

	// Already in memory from an earlier pass.
	if _, ok := img.data.(*bytes.Reader); ok {
		*done += img.fileSize
		if progress != nil {
			progress(*done, total)
		}
		return nil
	}

	buf := make([]byte, img.fileSize)
	for off := int64(0); off < img.fileSize; off += precacheStep {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+precacheStep, img.fileSize)
		if _, err := img.source.ReadAt(buf[off:end], off); err != nil {
			return fmt.Errorf("precaching %s at offset %d: %w", img.source.Name(), off, err)
		}
		*done += end - off
		if progress != nil {
			progress(*done, total)
		}
	}

	img.data = bytes.NewReader(buf)
	return nil
}

// Close releases the image and its parent chain. The underlying
// file handle is closed exactly once; repeated Close calls are
// no-ops.
func (img *Image) Close() error {
	if img.closed {
		return nil
	}
	img.closed = true

	err := img.source.Close()
	if img.parent != nil {
		if parentErr := img.parent.Close(); err == nil {
			err = parentErr
		}
	}
	return err
}
