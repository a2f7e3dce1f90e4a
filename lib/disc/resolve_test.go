// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package disc

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bureau-foundation/discimage/lib/container"
	"github.com/bureau-foundation/discimage/lib/container/containertest"
)

// chainSpec is the base geometry for differential chain fixtures.
func chainSpec() containertest.Spec {
	return containertest.Spec{
		HunkBytes: testHunkBytes,
		UnitBytes: testUnitBytes,
		Data:      testData(1024),
	}
}

// chainData reproduces the data of the depth-th image produced by
// [containertest.WriteChain]: each level flips one byte of its
// parent's content.
func chainData(base []byte, depth int) []byte {
	data := bytes.Clone(base)
	for level := 1; level <= depth; level++ {
		data[level%len(data)] ^= 0xff
	}
	return data
}

func TestResolveDifferentialChain(t *testing.T) {
	resetFingerprintCache()
	dir := t.TempDir()
	spec := chainSpec()
	images := containertest.WriteChain(t, dir, 5, spec)

	reader := openReader(t, images[len(images)-1].Path)

	want := chainData(spec.Data, 5)
	got, err := io.ReadAll(io.NewSectionReader(reader.ReaderAt(), 0, reader.ByteLength()))
	if err != nil {
		t.Fatalf("reading resolved chain: %v", err)
	}
	if !bytes.Equal(got, want[:reader.ByteLength()]) {
		t.Fatal("resolved chain content does not match expected data")
	}

	// The chain's compressed size spans all six files.
	var diskSize int64
	for _, image := range images {
		info, err := os.Stat(image.Path)
		if err != nil {
			t.Fatal(err)
		}
		diskSize += info.Size()
	}
	if reader.CompressedSize() != diskSize {
		t.Errorf("CompressedSize = %d, want %d", reader.CompressedSize(), diskSize)
	}
}

func TestResolveIntermediateImage(t *testing.T) {
	resetFingerprintCache()
	dir := t.TempDir()
	spec := chainSpec()
	images := containertest.WriteChain(t, dir, 4, spec)

	// Opening a middle image resolves only its own ancestry; the
	// deeper siblings in the directory are ignored.
	reader := openReader(t, images[2].Path)
	want := chainData(spec.Data, 2)
	got, err := io.ReadAll(io.NewSectionReader(reader.ReaderAt(), 0, reader.ByteLength()))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want[:reader.ByteLength()]) {
		t.Fatal("intermediate image content does not match its own chain")
	}
}

func TestResolveChainDepthLimit(t *testing.T) {
	resetFingerprintCache()
	dir := t.TempDir()
	// 31 deltas over a base is the deepest chain that still opens.
	images := containertest.WriteChain(t, dir, 31, chainSpec())
	reader := openReader(t, images[len(images)-1].Path)
	dst := make([]byte, testHunkBytes)
	if _, err := reader.ReadChunk(dst, 0); err != nil {
		t.Fatalf("reading depth-31 chain: %v", err)
	}
}

func TestResolveChainTooDeep(t *testing.T) {
	resetFingerprintCache()
	dir := t.TempDir()
	images := containertest.WriteChain(t, dir, 33, chainSpec())

	_, err := Open(images[len(images)-1].Path)
	if !errors.Is(err, ErrTooManyParents) {
		t.Fatalf("Open of depth-33 chain = %v, want ErrTooManyParents", err)
	}
}

func TestResolveParentNotFound(t *testing.T) {
	resetFingerprintCache()
	dir := t.TempDir()
	var absent container.Hash
	absent[0] = 0x42

	path := filepath.Join(dir, "orphan.bdisc")
	containertest.MustWrite(t, path, containertest.Spec{
		HunkBytes:  testHunkBytes,
		UnitBytes:  testUnitBytes,
		Data:       testData(512),
		ParentHash: absent,
	})

	_, err := Open(path)
	var notFound *ParentNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Open of orphan = %v, want ParentNotFoundError", err)
	}
	if notFound.Dir != dir {
		t.Errorf("searched dir = %q, want %q", notFound.Dir, dir)
	}
}

func TestFingerprintCacheAcrossOpens(t *testing.T) {
	resetFingerprintCache()
	dir := t.TempDir()
	data := testData(1024)
	base := containertest.MustWrite(t, filepath.Join(dir, "base.bdisc"), containertest.Spec{
		HunkBytes: testHunkBytes,
		UnitBytes: testUnitBytes,
		Data:      data,
	})

	// Two siblings of the same base.
	for _, name := range []string{"a.bdisc", "b.bdisc"} {
		child := bytes.Clone(data)
		child[0] ^= byte(name[0])
		containertest.MustWrite(t, filepath.Join(dir, name), containertest.Spec{
			HunkBytes: testHunkBytes,
			UnitBytes: testUnitBytes,
			Data:      child,
			Parent:    base,
		})
	}

	first := openReader(t, filepath.Join(dir, "a.bdisc"))
	first.Close()

	// The scan that resolved the first sibling cached the base's
	// fingerprint under its path.
	resolveMu.Lock()
	cached, ok := processCache.entries[base.Path]
	entryCount := len(processCache.entries)
	resolveMu.Unlock()
	if !ok {
		t.Fatal("base image fingerprint not cached after resolution")
	}
	if cached != base.Fingerprint {
		t.Error("cached fingerprint differs from the base image's")
	}

	// Resolving the second sibling works off the cache; no new
	// entries appear since the cache-guided phase short-circuits
	// the directory scan.
	second := openReader(t, filepath.Join(dir, "b.bdisc"))
	dst := make([]byte, testHunkBytes)
	if _, err := second.ReadChunk(dst, 0); err != nil {
		t.Fatalf("reading cache-resolved sibling: %v", err)
	}
	resolveMu.Lock()
	after := len(processCache.entries)
	resolveMu.Unlock()
	if after != entryCount {
		t.Errorf("cache grew from %d to %d entries on a cache hit", entryCount, after)
	}
}

func TestFingerprintCacheRefreshOnChange(t *testing.T) {
	resetFingerprintCache()
	dir := t.TempDir()
	data := testData(1024)
	base := containertest.MustWrite(t, filepath.Join(dir, "base.bdisc"), containertest.Spec{
		HunkBytes: testHunkBytes,
		UnitBytes: testUnitBytes,
		Data:      data,
	})
	child := bytes.Clone(data)
	child[0] ^= 0xff
	childPath := filepath.Join(dir, "delta.bdisc")
	containertest.MustWrite(t, childPath, containertest.Spec{
		HunkBytes: testHunkBytes,
		UnitBytes: testUnitBytes,
		Data:      child,
		Parent:    base,
	})

	// Poison the cache with a stale fingerprint for the base path,
	// as if the file had been replaced since it was cached. The
	// stale entry matches nothing, so resolution falls through to
	// the directory scan, which re-reads the real header and
	// refreshes the entry in place.
	var stale container.Fingerprint
	stale.ImageHash[0] = 0x99
	resolveMu.Lock()
	processCache.put(base.Path, stale)
	resolveMu.Unlock()

	reader := openReader(t, childPath)
	dst := make([]byte, testHunkBytes)
	if _, err := reader.ReadChunk(dst, 0); err != nil {
		t.Fatalf("reading after stale cache entry: %v", err)
	}

	resolveMu.Lock()
	cached := processCache.entries[base.Path]
	resolveMu.Unlock()
	if cached != base.Fingerprint {
		t.Error("stale cache entry was not refreshed from the file")
	}
}

func TestResolveConcurrent(t *testing.T) {
	resetFingerprintCache()
	spec := chainSpec()

	// Independent chains in separate directories, opened
	// concurrently. Resolution serializes internally; this must
	// not deadlock or cross-wire the chains.
	dirs := []string{t.TempDir(), t.TempDir()}
	var paths [2]string
	for i, dir := range dirs {
		images := containertest.WriteChain(t, dir, 3, spec)
		paths[i] = images[len(images)-1].Path
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range paths {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			reader, err := Open(paths[i])
			if err != nil {
				errs[i] = err
				return
			}
			defer reader.Close()
			dst := make([]byte, testHunkBytes)
			_, errs[i] = reader.ReadChunk(dst, 0)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("concurrent open %d: %v", i, err)
		}
	}
}
