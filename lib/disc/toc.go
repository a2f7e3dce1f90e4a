// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package disc

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/discimage/lib/container"
)

// logicalFrameCount derives the playable frame count from the track
// table. Container writers pad tracks to allocation boundaries, so
// the header's raw unit count over-reports the extent; the track
// records carry the real frame counts.
//
// Records are read by increasing index. At each index the newer
// TRK2 schema is preferred, falling back to the older TRKS schema;
// the first index where neither exists ends the table. A record
// whose text does not match its schema's field count is a
// [MetadataParseError] — parsing aborts rather than skipping the
// record.
//
// Only track 1 accumulates (pregap + frames + postgap); records for
// other tracks are valid but excluded, since a single logical track
// is all the emulated drive exposes. Returns errNoTracks when no
// track 1 record was seen.
func logicalFrameCount(image *container.Image, logger *slog.Logger) (uint64, error) {
	var totalFrames uint64
	sawTrackOne := false

	for index := 0; ; index++ {
		var (
			trackNumber, frames, pregapFrames, postgapFrames int
			trackType, subtype, pregapType, pregapSubtype    string
		)

		text, err := image.Metadata(container.TrackMetadata2Tag, index)
		if err == nil {
			n, scanErr := fmt.Sscanf(text, container.TrackMetadata2Format,
				&trackNumber, &trackType, &subtype, &frames,
				&pregapFrames, &pregapType, &pregapSubtype, &postgapFrames)
			if scanErr != nil || n != 8 {
				return 0, &MetadataParseError{Text: text}
			}
		} else if !errors.Is(err, container.ErrMetadataNotFound) {
			return 0, err
		} else {
			text, err = image.Metadata(container.TrackMetadataTag, index)
			if err != nil {
				// Neither schema at this index: end of table.
				break
			}
			n, scanErr := fmt.Sscanf(text, container.TrackMetadataFormat,
				&trackNumber, &trackType, &subtype, &frames)
			if scanErr != nil || n != 4 {
				return 0, &MetadataParseError{Text: text}
			}
		}

		logger.Debug("track metadata",
			"track", trackNumber, "frames", frames,
			"pregap", pregapFrames, "postgap", postgapFrames,
			"type", trackType, "subtype", subtype)

		// Only a single logical track is honored.
		if trackNumber != 1 {
			logger.Warn("ignoring additional track in image", "track", trackNumber)
			continue
		}

		totalFrames += uint64(pregapFrames) + uint64(frames) + uint64(postgapFrames)
		sawTrackOne = true
	}

	if !sawTrackOne {
		return 0, errNoTracks
	}
	return totalFrames, nil
}
