// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Track metadata tags and text schemas. Track records are stored as
// formatted text rather than binary fields so containers stay
// inspectable with generic tooling; the schemas are format constants.
const (
	// TrackMetadata2Tag marks the newer track record schema,
	// including pregap/postgap detail.
	TrackMetadata2Tag = "TRK2"

	// TrackMetadataTag marks the older schema without gap detail.
	// Readers prefer TRK2 at each index and fall back to this.
	TrackMetadataTag = "TRKS"

	// TrackMetadata2Format is the TRK2 text schema (8 fields).
	TrackMetadata2Format = "TRACK:%d TYPE:%s SUBTYPE:%s FRAMES:%d PREGAP:%d PGTYPE:%s PGSUB:%s POSTGAP:%d"

	// TrackMetadataFormat is the TRKS text schema (4 fields).
	TrackMetadataFormat = "TRACK:%d TYPE:%s SUBTYPE:%s FRAMES:%d"
)

// MetadataEntry is one record in the container's metadata region.
// The region is a CBOR array of these entries; multiple entries may
// share a tag and are addressed by (tag, index).
type MetadataEntry struct {
	Tag  string `cbor:"tag"`
	Text string `cbor:"text"`
}

// decMode accepts standard CBOR. Unknown fields are ignored for
// forward compatibility with newer writers.
var decMode cbor.DecMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("container: CBOR decoder initialization failed: " + err.Error())
	}
}

// parseMetadata decodes the metadata region. A zero-length region is
// a valid empty table.
func parseMetadata(region []byte) ([]MetadataEntry, error) {
	if len(region) == 0 {
		return nil, nil
	}
	var entries []MetadataEntry
	if err := decMode.Unmarshal(region, &entries); err != nil {
		return nil, fmt.Errorf("%w: decoding metadata region: %v", ErrCorrupt, err)
	}
	return entries, nil
}
