// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression algorithm used for a
// stored hunk. Tags are stored in hunk map entries (1 byte each).
// These values are format constants — changing them breaks
// container compatibility.
type CompressionTag uint8

const (
	// CompressionNone indicates an uncompressed hunk. Used for
	// already-compressed content (audio tracks, video sectors)
	// where compression adds CPU cost without reducing size.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 indicates LZ4 block compression. Fast default
	// for mixed disc data (~4 GB/s decode), cheap enough that
	// steady-state hunk reads stay I/O bound.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd indicates zstd compression at the default
	// level. Better ratios for data-mode tracks with structured
	// content (filesystems, executables).
	CompressionZstd CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// valid reports whether the tag is a known format value.
func (tag CompressionTag) valid() bool {
	return tag <= CompressionZstd
}

// zstdEncoder and zstdDecoder are reused across calls to avoid
// repeated initialization overhead. zstd.Encoder and zstd.Decoder
// are safe for concurrent use with EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("container: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("container: zstd decoder initialization failed: " + err.Error())
	}
}

// CompressHunk compresses one hunk with the given algorithm.
// Returns [errIncompressible] (test with [IsIncompressible]) when
// the output would not be smaller than the input; the caller should
// fall back to CompressionNone.
func CompressHunk(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil

	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock returns 0 when it determines the data is
		// incompressible.
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// DecompressHunkInto decompresses one stored hunk into dst. The
// destination length is the exact uncompressed hunk size; a length
// mismatch after decompression is an error.
func DecompressHunkInto(dst, compressed []byte, tag CompressionTag) error {
	switch tag {
	case CompressionNone:
		if len(compressed) != len(dst) {
			return fmt.Errorf("uncompressed hunk: size %d does not match expected %d",
				len(compressed), len(dst))
		}
		copy(dst, compressed)
		return nil

	case CompressionLZ4:
		read, err := lz4.UncompressBlock(compressed, dst)
		if err != nil {
			return fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != len(dst) {
			return fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, len(dst))
		}
		return nil

	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(compressed, dst[:0])
		if err != nil {
			return fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != len(dst) {
			return fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), len(dst))
		}
		// DecodeAll appends into dst's backing array when capacity
		// allows; copy covers the reallocation case.
		if &result[0] != &dst[0] {
			copy(dst, result)
		}
		return nil

	default:
		return fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// errIncompressible is returned by CompressHunk when the compressed
// output is not smaller than the input.
var errIncompressible = fmt.Errorf("data is incompressible")

// IsIncompressible returns true if the error indicates that data
// could not be compressed smaller than its original size.
func IsIncompressible(err error) bool {
	return err == errIncompressible
}
