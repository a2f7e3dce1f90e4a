// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Format layout constants. All multi-byte fields are little-endian.
const (
	// containerVersion is the format version byte embedded in the
	// magic. Version 1 is the initial format.
	containerVersion = 1

	// HeaderSize is the fixed header length in bytes.
	HeaderSize = 160

	// MapEntrySize is the size of each hunk map entry: kind(1) +
	// compression tag(1) + reserved(2) + compressed size(4) +
	// data offset(8) + hunk hash(32).
	MapEntrySize = 48
)

// FileExtension is the conventional file extension for disc
// containers. Parent resolution scans directories for it
// case-insensitively.
const FileExtension = ".bdisc"

// containerMagic is the 8-byte container file signature:
// "BUDISC" + version byte + reserved byte.
var containerMagic = [8]byte{'B', 'U', 'D', 'I', 'S', 'C', containerVersion, 0}

// Fingerprint is the fixed-size digest block read directly from a
// container's header region. It identifies the image content and,
// for differential images, the required parent.
type Fingerprint struct {
	// ImageHash is the image-domain digest over the hunk hash list.
	ImageHash Hash

	// RawHash is the raw-domain digest over the same list. Kept
	// separately so the parent predicate can match on either field.
	RawHash Hash

	// ParentHash is the digest of the required parent image, or
	// zero for a standalone image.
	ParentHash Hash
}

// HasParent reports whether this image is differential and needs a
// parent to be readable.
func (f Fingerprint) HasParent() bool {
	return !f.ParentHash.IsZero()
}

// MatchesParent reports whether candidate is an acceptable parent
// for the image carrying this fingerprint. The match is deliberately
// not struct equality: the candidate qualifies when either of its
// content digests equals the child's parent reference, so a parent
// whose metadata was re-tagged (same hunks, different image hash)
// still resolves via its raw digest.
func (f Fingerprint) MatchesParent(candidate Fingerprint) bool {
	if !f.HasParent() {
		return false
	}
	return candidate.ImageHash == f.ParentHash || candidate.RawHash == f.ParentHash
}

// Header is the parsed fixed-layout container header.
type Header struct {
	// HunkBytes is the fixed decompression unit size. Every hunk,
	// including the last one, decompresses to exactly this many
	// bytes.
	HunkBytes uint32

	// UnitBytes is the native storage unit size (one raw disc
	// frame, e.g. 2448 bytes). HunkBytes is a whole multiple of it.
	UnitBytes uint32

	// HunkCount is the number of entries in the hunk map.
	HunkCount uint32

	// UnitCount is the raw unit count recorded by the container
	// writer. Writers pad tracks to allocation boundaries, so this
	// over-reports the playable extent; readers derive the logical
	// extent from track metadata instead and fall back to
	// UnitCount only when no track metadata exists.
	UnitCount uint64

	// MetaOffset and MetaLength locate the CBOR metadata region.
	// MetaLength of zero means the container carries no metadata.
	MetaOffset uint64
	MetaLength uint32

	// Fingerprint is the content identity block.
	Fingerprint Fingerprint
}

// ReadHeader reads and validates a container header from the start
// of r. It needs nothing but the raw file: this is the header-only
// read used to learn a child's required parent fingerprint before
// any image is opened, and to fingerprint parent candidates during
// resolution.
func ReadHeader(r io.ReaderAt) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := r.ReadAt(buf[:], 0); err != nil {
		return Header{}, fmt.Errorf("reading container header: %w", err)
	}

	var magic [8]byte
	copy(magic[:], buf[0:8])
	if magic != containerMagic {
		if magic[0] == 'B' && magic[1] == 'U' && magic[2] == 'D' &&
			magic[3] == 'I' && magic[4] == 'S' && magic[5] == 'C' {
			return Header{}, fmt.Errorf("%w: version %d (this code supports version %d)",
				ErrUnsupportedVersion, magic[6], containerVersion)
		}
		return Header{}, ErrNotContainer
	}

	if headerSize := binary.LittleEndian.Uint32(buf[8:12]); headerSize != HeaderSize {
		return Header{}, fmt.Errorf("%w: header size %d, expected %d", ErrCorrupt, headerSize, HeaderSize)
	}
	if flags := binary.LittleEndian.Uint32(buf[12:16]); flags != 0 {
		return Header{}, fmt.Errorf("%w: non-zero header flags %#x", ErrCorrupt, flags)
	}

	header := Header{
		HunkBytes:  binary.LittleEndian.Uint32(buf[16:20]),
		UnitBytes:  binary.LittleEndian.Uint32(buf[20:24]),
		HunkCount:  binary.LittleEndian.Uint32(buf[24:28]),
		UnitCount:  binary.LittleEndian.Uint64(buf[32:40]),
		MetaOffset: binary.LittleEndian.Uint64(buf[40:48]),
		MetaLength: binary.LittleEndian.Uint32(buf[48:52]),
	}
	copy(header.Fingerprint.ImageHash[:], buf[64:96])
	copy(header.Fingerprint.RawHash[:], buf[96:128])
	copy(header.Fingerprint.ParentHash[:], buf[128:160])

	if header.HunkBytes == 0 || header.UnitBytes == 0 {
		return Header{}, fmt.Errorf("%w: zero hunk or unit size", ErrCorrupt)
	}
	if header.HunkBytes%header.UnitBytes != 0 {
		return Header{}, fmt.Errorf("%w: hunk size %d is not a multiple of unit size %d",
			ErrCorrupt, header.HunkBytes, header.UnitBytes)
	}

	// The hunk map must cover the declared raw extent.
	rawBytes := header.UnitCount * uint64(header.UnitBytes)
	hunksNeeded := (rawBytes + uint64(header.HunkBytes) - 1) / uint64(header.HunkBytes)
	if uint64(header.HunkCount) < hunksNeeded {
		return Header{}, fmt.Errorf("%w: %d hunks cannot cover %d raw bytes",
			ErrCorrupt, header.HunkCount, rawBytes)
	}

	return header, nil
}
