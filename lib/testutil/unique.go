// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-N" with a process-wide monotonically
// increasing N. Use it when a test needs identifiers that stay
// distinguishable across subtests sharing one store.
//
//	alice := testutil.UniqueID("participant") // "participant-1"
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
