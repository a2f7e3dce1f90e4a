// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package disc exposes a compressed, optionally differential disc
// container as a single flat, seekable byte address space for an
// emulated optical drive.
//
// Opening an image resolves its parent chain: a differential
// container names its parent by content fingerprint, not filename,
// so the opener searches the image's directory (via a process-wide
// fingerprint cache, then a directory scan) for a matching base and
// recursively opens it, up to a fixed depth bound. The logical
// extent is derived from embedded track metadata rather than the
// container's padded raw sizing. Steady-state access is the
// two-call chunk contract — [Reader.LocateChunk] and
// [Reader.ReadChunk] — driven by an external paging reader;
// [Reader.ReaderAt] adapts it to io.ReaderAt for direct use.
package disc
