// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package containertest builds disc container files for tests. The
// shipped container package is read-only; every fixture a test
// needs — standalone images, differential chains, padded raw
// extents, malformed metadata — is written through this package.
package containertest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/bureau-foundation/discimage/lib/container"
)

// Track describes one track metadata record.
type Track struct {
	Number  int
	Type    string // defaults to "MODE2_RAW"
	Subtype string // defaults to "NONE"
	Frames  int
	Pregap  int
	Postgap int

	// OldSchema emits the 4-field TRKS record instead of TRK2.
	// Pregap and Postgap are dropped in that schema.
	OldSchema bool
}

// Entry renders the track as a metadata entry in its schema's text
// format.
func (t Track) Entry() container.MetadataEntry {
	trackType := t.Type
	if trackType == "" {
		trackType = "MODE2_RAW"
	}
	subtype := t.Subtype
	if subtype == "" {
		subtype = "NONE"
	}
	if t.OldSchema {
		return container.MetadataEntry{
			Tag:  container.TrackMetadataTag,
			Text: fmt.Sprintf(container.TrackMetadataFormat, t.Number, trackType, subtype, t.Frames),
		}
	}
	return container.MetadataEntry{
		Tag: container.TrackMetadata2Tag,
		Text: fmt.Sprintf(container.TrackMetadata2Format,
			t.Number, trackType, subtype, t.Frames, t.Pregap, "NONE", "NONE", t.Postgap),
	}
}

// Spec describes a container to build.
type Spec struct {
	// HunkBytes and UnitBytes control the chunk geometry. Both are
	// required; HunkBytes must be a multiple of UnitBytes.
	HunkBytes uint32
	UnitBytes uint32

	// Data is the raw image content. It is zero-padded to a whole
	// number of hunks.
	Data []byte

	// UnitCount overrides the raw unit count recorded in the
	// header. Zero derives it from len(Data). Writers pad tracks,
	// so real containers record more units than the playable
	// extent — set this to model that.
	UnitCount uint64

	// Metadata entries, in table order. Use [Track.Entry] for track
	// records.
	Metadata []container.MetadataEntry

	// Compression for stored hunks. Incompressible hunks fall back
	// to none automatically. Defaults to lz4.
	Compression container.CompressionTag

	// Parent makes this a differential image: hunks identical to
	// the parent's become parent references, and the header records
	// the parent's image hash.
	Parent *Built

	// ParentHash forces a parent reference in the header without
	// diffing against an actual parent (for missing-parent tests).
	// Ignored when Parent is set.
	ParentHash container.Hash
}

// Built describes a container written to disk.
type Built struct {
	Path        string
	Fingerprint container.Fingerprint

	hunks [][]byte // uncompressed hunks, kept to diff children
}

// Write builds the container described by spec at path.
func Write(path string, spec Spec) (*Built, error) {
	if spec.HunkBytes == 0 || spec.UnitBytes == 0 || spec.HunkBytes%spec.UnitBytes != 0 {
		return nil, fmt.Errorf("invalid geometry: hunk %d, unit %d", spec.HunkBytes, spec.UnitBytes)
	}
	if spec.Compression == container.CompressionNone {
		spec.Compression = container.CompressionLZ4
	}

	unitCount := spec.UnitCount
	if unitCount == 0 {
		unitCount = (uint64(len(spec.Data)) + uint64(spec.UnitBytes) - 1) / uint64(spec.UnitBytes)
	}
	rawBytes := unitCount * uint64(spec.UnitBytes)
	if uint64(len(spec.Data)) > rawBytes {
		return nil, fmt.Errorf("data %d bytes exceeds %d declared units", len(spec.Data), unitCount)
	}
	hunkCount := (rawBytes + uint64(spec.HunkBytes) - 1) / uint64(spec.HunkBytes)

	// Split padded data into hunks and hash them.
	padded := make([]byte, hunkCount*uint64(spec.HunkBytes))
	copy(padded, spec.Data)
	hunks := make([][]byte, hunkCount)
	hunkHashes := make([]container.Hash, hunkCount)
	for i := range hunks {
		hunks[i] = padded[uint64(i)*uint64(spec.HunkBytes) : uint64(i+1)*uint64(spec.HunkBytes)]
		hunkHashes[i] = container.HashHunk(hunks[i])
	}

	fingerprint := container.Fingerprint{
		ImageHash: container.ImageFingerprintHash(hunkHashes),
		RawHash:   container.RawFingerprintHash(hunkHashes),
	}
	switch {
	case spec.Parent != nil:
		fingerprint.ParentHash = spec.Parent.Fingerprint.ImageHash
	default:
		fingerprint.ParentHash = spec.ParentHash
	}

	// Build the hunk map and data section.
	mapEnd := uint64(container.HeaderSize) + hunkCount*container.MapEntrySize
	hunkMap := make([]byte, hunkCount*container.MapEntrySize)
	var dataSection bytes.Buffer
	zeroHunk := make([]byte, spec.HunkBytes)

	for i, hunk := range hunks {
		entry := hunkMap[uint64(i)*container.MapEntrySize : (uint64(i)+1)*container.MapEntrySize]

		if spec.Parent != nil && i < len(spec.Parent.hunks) && bytes.Equal(hunk, spec.Parent.hunks[i]) {
			entry[0] = 1 // parent
			continue
		}
		if bytes.Equal(hunk, zeroHunk) {
			entry[0] = 2 // zero
			continue
		}

		tag := spec.Compression
		compressed, err := container.CompressHunk(hunk, tag)
		if container.IsIncompressible(err) {
			tag, compressed, err = container.CompressionNone, hunk, nil
		}
		if err != nil {
			return nil, fmt.Errorf("compressing hunk %d: %w", i, err)
		}

		entry[0] = 0 // stored
		entry[1] = byte(tag)
		binary.LittleEndian.PutUint32(entry[4:8], uint32(len(compressed)))
		binary.LittleEndian.PutUint64(entry[8:16], mapEnd+uint64(dataSection.Len()))
		copy(entry[16:48], hunkHashes[i][:])
		dataSection.Write(compressed)
	}

	// Metadata region, if any, goes after the data section.
	var metaRegion []byte
	var metaOffset uint64
	if len(spec.Metadata) > 0 {
		encOptions := cbor.CoreDetEncOptions()
		encMode, err := encOptions.EncMode()
		if err != nil {
			return nil, fmt.Errorf("CBOR encoder: %w", err)
		}
		if metaRegion, err = encMode.Marshal(spec.Metadata); err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}
		metaOffset = mapEnd + uint64(dataSection.Len())
	}

	header := make([]byte, container.HeaderSize)
	copy(header[0:8], []byte{'B', 'U', 'D', 'I', 'S', 'C', 1, 0})
	binary.LittleEndian.PutUint32(header[8:12], container.HeaderSize)
	binary.LittleEndian.PutUint32(header[16:20], spec.HunkBytes)
	binary.LittleEndian.PutUint32(header[20:24], spec.UnitBytes)
	binary.LittleEndian.PutUint32(header[24:28], uint32(hunkCount))
	binary.LittleEndian.PutUint64(header[32:40], unitCount)
	binary.LittleEndian.PutUint64(header[40:48], metaOffset)
	binary.LittleEndian.PutUint32(header[48:52], uint32(len(metaRegion)))
	copy(header[64:96], fingerprint.ImageHash[:])
	copy(header[96:128], fingerprint.RawHash[:])
	copy(header[128:160], fingerprint.ParentHash[:])

	var file bytes.Buffer
	file.Write(header)
	file.Write(hunkMap)
	file.Write(dataSection.Bytes())
	file.Write(metaRegion)

	if err := os.WriteFile(path, file.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("writing container: %w", err)
	}

	return &Built{Path: path, Fingerprint: fingerprint, hunks: hunks}, nil
}

// MustWrite is Write for tests; failures end the test.
func MustWrite(t *testing.T, path string, spec Spec) *Built {
	t.Helper()
	built, err := Write(path, spec)
	if err != nil {
		t.Fatalf("containertest.Write(%s): %v", path, err)
	}
	return built
}

// WriteChain writes a base image plus depth differential images in
// dir, each child referencing the previous image as its parent. The
// child data differs from its parent by one byte, so every delta
// stores exactly one hunk. Returns the images in order — the
// deepest child is last.
func WriteChain(t *testing.T, dir string, depth int, spec Spec) []*Built {
	t.Helper()

	images := make([]*Built, 0, depth+1)
	data := bytes.Clone(spec.Data)

	base := spec
	base.Data = data
	images = append(images, MustWrite(t, filepath.Join(dir, "base.bdisc"), base))

	for level := 1; level <= depth; level++ {
		data = bytes.Clone(data)
		data[level%len(data)] ^= 0xff

		child := spec
		child.Data = data
		child.Parent = images[level-1]
		name := fmt.Sprintf("delta-%03d.bdisc", level)
		images = append(images, MustWrite(t, filepath.Join(dir, name), child))
	}
	return images
}
