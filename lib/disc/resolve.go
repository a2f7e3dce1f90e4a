// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package disc

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bureau-foundation/discimage/lib/container"
)

// maxParents bounds the parent chain depth. Surely nobody layers
// more differential images than this; the bound exists to turn a
// cyclic chain into an error instead of unbounded recursion.
const maxParents = 32

// fingerprintCache memoizes which fingerprints came from which
// files, so resolving many siblings against few distinct bases does
// not re-read every candidate's header each time. Entries are
// inserted or refreshed in place, never removed; at most one entry
// per path. Process lifetime, in-memory only.
type fingerprintCache struct {
	entries map[string]container.Fingerprint
}

func (c *fingerprintCache) put(path string, fingerprint container.Fingerprint) {
	c.entries[path] = fingerprint
}

// resolveMu serializes parent resolution process-wide and guards
// processCache. It is locked once at the top-level open that first
// needs resolution; the recursion below it carries the held lock as
// a capability via *resolutionContext instead of re-locking.
// Resolution is a rare one-time-per-open cost, so losing resolution
// parallelism is a fine trade for not needing a re-entrant lock.
var (
	resolveMu    sync.Mutex
	processCache = fingerprintCache{entries: make(map[string]container.Fingerprint)}
)

// resolutionContext threads the shared cache through recursive
// opens. Holding a *resolutionContext means resolveMu is held.
type resolutionContext struct {
	cache *fingerprintCache
}

// openImageFile opens the container at path from an already-open
// file, resolving the parent chain as needed. The caller owns file
// and must close it if an error is returned; on success ownership
// has moved into the returned image.
//
// rctx is nil at the top level; it is created (and resolveMu taken)
// only when parent resolution actually starts.
func openImageFile(path string, file *os.File, rctx *resolutionContext, level int, logger *slog.Logger) (*container.Image, error) {
	source := container.NewSource(file)

	image, err := container.OpenImage(source, nil)
	if err == nil {
		return image, nil
	}
	if !errors.Is(err, container.ErrRequiresParent) {
		return nil, &OpenError{Path: path, Err: err}
	}

	if level >= maxParents {
		logger.Error("parent chain too deep", "path", path, "limit", maxParents)
		return nil, ErrTooManyParents
	}

	// Re-read the header to learn which parent fingerprint to look
	// for. This read needs no opened image, just the raw file.
	header, err := container.ReadHeader(file)
	if err != nil {
		return nil, &HeaderReadError{Path: path, Err: err}
	}

	if rctx == nil {
		resolveMu.Lock()
		defer resolveMu.Unlock()
		rctx = &resolutionContext{cache: &processCache}
	}

	dir := filepath.Dir(path)
	parent, err := findParent(rctx, header.Fingerprint, dir, level, logger)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		logger.Error("no parent image found", "path", path, "dir", dir)
		return nil, &ParentNotFoundError{Path: path, Dir: dir}
	}

	// Retry the open bound to the resolved parent.
	image, err = container.OpenImage(source, parent)
	if err != nil {
		parent.Close()
		return nil, &ParentNotFoundError{Path: path, Dir: dir, Err: err}
	}
	return image, nil
}

// findParent locates and opens a parent image whose fingerprint is
// compatible with child, searching dir. Two phases, first match
// wins: cache-guided, then a full directory scan only if the cache
// yielded no usable parent. Returns (nil, nil) when neither phase
// finds an openable parent; a non-nil error aborts resolution
// entirely (the chain depth bound was hit somewhere below).
func findParent(rctx *resolutionContext, child container.Fingerprint, dir string, level int, logger *slog.Logger) (*container.Image, error) {
	// Cache-guided phase: take the first cached candidate in this
	// directory that matches. The candidate path is snapshotted and
	// the scan never resumes after recursion — deliberately
	// scan-once, since the recursive open below may grow the cache
	// under us.
	var candidatePath string
	for path, fingerprint := range rctx.cache.entries {
		if !strings.EqualFold(filepath.Dir(path), dir) {
			continue
		}
		if !child.MatchesParent(fingerprint) {
			continue
		}
		candidatePath = path
		break
	}
	if candidatePath != "" {
		image, err := openCandidate(rctx, child, candidatePath, level, logger, false)
		if err != nil {
			return nil, err
		}
		if image != nil {
			logger.Info("using parent image from cache",
				"parent", filepath.Base(candidatePath))
			return image, nil
		}
	}

	// Directory scan: every container in dir, hidden files
	// included, extension matched case-insensitively. Headers read
	// here refresh the cache whether or not they match.
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("cannot scan directory for parent images", "dir", dir, "error", err)
		return nil, nil
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), container.FileExtension) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		image, err := openCandidate(rctx, child, path, level, logger, true)
		if err != nil {
			return nil, err
		}
		if image != nil {
			logger.Info("using parent image", "parent", entry.Name())
			return image, nil
		}
	}
	return nil, nil
}

// openCandidate reads a candidate's current header (the file may
// have changed since it was cached), optionally refreshes the
// cache, and on a fingerprint match opens it as a parent via the
// recursive open. A candidate that does not match or fails to open
// yields (nil, nil) so the search continues — except a depth-bound
// failure, which aborts the whole resolution. All failure paths
// close the candidate file.
func openCandidate(rctx *resolutionContext, child container.Fingerprint, path string, level int, logger *slog.Logger, refreshCache bool) (*container.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil
	}
	header, err := container.ReadHeader(file)
	if err != nil {
		file.Close()
		return nil, nil
	}
	if refreshCache {
		rctx.cache.put(path, header.Fingerprint)
	}
	if !child.MatchesParent(header.Fingerprint) {
		file.Close()
		return nil, nil
	}

	image, err := openImageFile(path, file, rctx, level+1, logger)
	if err != nil {
		file.Close()
		if errors.Is(err, ErrTooManyParents) {
			return nil, err
		}
		logger.Warn("matching parent image failed to open", "path", path, "error", err)
		return nil, nil
	}
	return image, nil
}
