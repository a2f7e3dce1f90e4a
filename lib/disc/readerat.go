// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package disc

import (
	"io"
	"sync"
)

// ReaderAt returns an io.ReaderAt view of the image's logical byte
// space, for callers that want plain byte-addressed reads instead
// of driving the chunk contract themselves. The view serializes its
// access to the underlying Reader (the chunk contract is
// single-caller per handle) and keeps the most recently
// materialized chunk buffered, so sequential reads decompress each
// chunk once.
func (r *Reader) ReaderAt() io.ReaderAt {
	return &chunkReaderAt{reader: r, bufferedID: -1}
}

type chunkReaderAt struct {
	reader     *Reader
	mu         sync.Mutex
	buffer     []byte
	bufferedID int64
}

func (ra *chunkReaderAt) ReadAt(p []byte, off int64) (int, error) {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	total := 0
	for len(p) > total {
		chunk := ra.reader.LocateChunk(off)
		if chunk.ID < 0 {
			return total, io.EOF
		}

		if ra.bufferedID != chunk.ID {
			if ra.buffer == nil {
				ra.buffer = make([]byte, ra.reader.HunkSize())
			}
			if _, err := ra.reader.ReadChunk(ra.buffer, chunk.ID); err != nil {
				ra.bufferedID = -1
				return total, err
			}
			ra.bufferedID = chunk.ID
		}

		// Copy out of the buffered chunk, clamped to the logical
		// extent (the final chunk may extend past it).
		withinChunk := off - chunk.Offset
		available := int64(chunk.Length) - withinChunk
		if remaining := ra.reader.ByteLength() - off; available > remaining {
			available = remaining
		}
		n := copy(p[total:], ra.buffer[withinChunk:withinChunk+available])
		total += n
		off += int64(n)
	}
	return total, nil
}
