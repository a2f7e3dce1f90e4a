// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package disc

import "errors"

// availableMemory is unknown off Linux; Precache skips the system
// memory check and relies on Config.PrecacheMemoryLimit.
func availableMemory() (int64, error) {
	return 0, errors.New("available memory unknown on this platform")
}
