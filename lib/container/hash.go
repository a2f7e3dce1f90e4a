// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest. Hunk hashes and image
// fingerprint digests are all this size.
type Hash [32]byte

// IsZero reports whether the hash is all zeroes. A zero hash marks
// "absent" in the container format (no parent reference, no stored
// hunk hash).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the full lowercase hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures the same input bytes produce different hashes
// in different contexts, preventing cross-domain collisions.
type domainKey [32]byte

// Domain separation keys. These are fixed format constants —
// changing them invalidates every existing container. The byte
// values are the ASCII encoding of the domain name, zero-padded to
// 32 bytes, so the keys are inspectable in hex dumps.
var (
	hunkDomainKey = domainKey{
		'b', 'u', 'r', 'e', 'a', 'u', '.', 'd', 'i', 's', 'c', '.',
		'h', 'u', 'n', 'k', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	imageDomainKey = domainKey{
		'b', 'u', 'r', 'e', 'a', 'u', '.', 'd', 'i', 's', 'c', '.',
		'i', 'm', 'a', 'g', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	rawDomainKey = domainKey{
		'b', 'u', 'r', 'e', 'a', 'u', '.', 'd', 'i', 's', 'c', '.',
		'r', 'a', 'w', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// HashHunk computes the hunk-domain BLAKE3 keyed hash of one
// uncompressed hunk. This is the hash stored in hunk map entries and
// verified after every stored-hunk decompression.
func HashHunk(data []byte) Hash {
	return keyedHash(hunkDomainKey, data)
}

// ImageFingerprintHash computes the image-domain digest over the
// ordered list of hunk hashes. This is the primary identity a child
// container records as its parent reference.
func ImageFingerprintHash(hunkHashes []Hash) Hash {
	return hashList(imageDomainKey, hunkHashes)
}

// RawFingerprintHash computes the raw-domain digest over the same
// hunk hash list. It identifies the image content independently of
// metadata, so a child can still match a parent that was re-tagged
// (the parent predicate accepts either digest).
func RawFingerprintHash(hunkHashes []Hash) Hash {
	return hashList(rawDomainKey, hunkHashes)
}

func keyedHash(key domainKey, data []byte) Hash {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("container: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result
}

func hashList(key domainKey, hashes []Hash) Hash {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("container: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	for _, h := range hashes {
		hasher.Write(h[:])
	}
	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result
}
