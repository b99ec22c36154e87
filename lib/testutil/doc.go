// Copyright 2026 The Crossfire Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with a time.After fallback) so
// individual tests never hang on a channel that is wired wrong. These
// helpers are the only place in the test suite where real wall-clock
// timeouts appear; everything else runs on lib/clock fakes.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation, for values that must stay distinguishable when
// multiple fixtures share a store.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
