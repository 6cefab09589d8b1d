//go:build !race

package ipcp

import "testing"

func skipRace(tb testing.TB) {}
