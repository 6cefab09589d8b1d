//go:build race

package tools

import "testing"

// skipRace skips tests that pass SDUs through the lfq SPSC receive queue across goroutines.
// The race detector tracks per-variable happens-before and cannot see the queue's cross-variable
// memory ordering (store-release on data, load-acquire on index), producing false positives.
func skipRace(tb testing.TB) {
	tb.Helper()
	tb.Skip("skip: SPSC uses cross-variable memory ordering")
}
