//go:build !race

package tools

import "testing"

func skipRace(tb testing.TB) {}
