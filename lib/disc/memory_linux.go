// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package disc

import "golang.org/x/sys/unix"

// availableMemory returns the bytes of memory that could be claimed
// without swapping: free pages plus reclaimable buffer cache.
func availableMemory() (int64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	return int64(info.Freeram+info.Bufferram) * int64(info.Unit), nil
}
