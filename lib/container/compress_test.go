// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestCompressRoundtrip(t *testing.T) {
	hunk := bytes.Repeat([]byte("disc sector payload "), 512) // 10KB, compressible

	for _, tag := range []CompressionTag{CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			compressed, err := CompressHunk(hunk, tag)
			if err != nil {
				t.Fatalf("CompressHunk failed: %v", err)
			}
			if len(compressed) >= len(hunk) {
				t.Fatalf("compressed %d bytes, expected smaller than %d", len(compressed), len(hunk))
			}

			dst := make([]byte, len(hunk))
			if err := DecompressHunkInto(dst, compressed, tag); err != nil {
				t.Fatalf("DecompressHunkInto failed: %v", err)
			}
			if !bytes.Equal(dst, hunk) {
				t.Error("decompressed hunk does not match original")
			}
		})
	}
}

func TestCompressIncompressible(t *testing.T) {
	hunk := make([]byte, 8192)
	if _, err := rand.Read(hunk); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	for _, tag := range []CompressionTag{CompressionLZ4, CompressionZstd} {
		if _, err := CompressHunk(hunk, tag); !IsIncompressible(err) {
			t.Errorf("%s: expected incompressible error, got %v", tag, err)
		}
	}
}

func TestDecompressSizeMismatch(t *testing.T) {
	hunk := bytes.Repeat([]byte("abcd"), 1024)
	compressed, err := CompressHunk(hunk, CompressionLZ4)
	if err != nil {
		t.Fatalf("CompressHunk failed: %v", err)
	}

	// Destination one byte short of the real uncompressed size.
	dst := make([]byte, len(hunk)-1)
	if err := DecompressHunkInto(dst, compressed, CompressionLZ4); err == nil {
		t.Error("expected error for short destination")
	}

	// Uncompressed hunk with a size mismatch.
	if err := DecompressHunkInto(make([]byte, 16), []byte("too short"), CompressionNone); err == nil {
		t.Error("expected error for uncompressed size mismatch")
	}
}

func TestCompressionTagString(t *testing.T) {
	cases := map[CompressionTag]string{
		CompressionNone:   "none",
		CompressionLZ4:    "lz4",
		CompressionZstd:   "zstd",
		CompressionTag(9): "unknown(9)",
	}
	for tag, want := range cases {
		if got := tag.String(); got != want {
			t.Errorf("tag %d: String() = %q, want %q", tag, got, want)
		}
	}
}
