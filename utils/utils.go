/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package utils

import "golang.org/x/exp/constraints"

// CeilPowerOfTwo returns the smallest power of two that is at least v, and 1 for v < 1.
func CeilPowerOfTwo[V constraints.Integer](v V) V {
	var p V = 1
	for p < v {
		p <<= 1
	}
	return p
}

// Recover runs f and passes the value of a panic raised by f to onPanic.
func Recover(f func(), onPanic func(r interface{})) {
	defer func() {
		if r := recover(); r != nil {
			onPanic(r)
		}
	}()
	f()
}
