// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package container reads Bureau disc containers: compressed,
// chunked disc images that may be differential against a parent
// image identified by content fingerprint rather than filename.
//
// The package is the codec layer. It opens a single container file
// (optionally bound to an already-opened parent), serves
// fixed-size hunk reads with per-hunk hash verification, exposes
// the embedded metadata table, and can precache the raw file into
// memory. Locating parent images, deriving the logical extent from
// track metadata, and the chunk-addressed read contract live one
// layer up in lib/disc.
//
// Write support is deliberately absent; test fixtures are built
// with the containertest subpackage.
package container
