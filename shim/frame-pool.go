/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package shim

import (
	"github.com/Link512/stealthpool"
	"github.com/rysavy-ondrej/RINASharp-sub000/core"
)

// framePool hands out receive buffers of the maximum frame size from off-heap memory.
type framePool struct {
	pool      *stealthpool.Pool
	blockSize int
}

func newFramePool(count int, blockSize int) *framePool {
	p := &framePool{blockSize: blockSize}
	if count <= 0 {
		return p
	}
	pool, err := stealthpool.New(count, stealthpool.WithBlockSize(blockSize))
	if err != nil {
		core.LogError("FramePool", "Failed to allocate stealthpool: ", err)
		return p
	}
	p.pool = pool
	return p
}

// get returns a pooled buffer, or a heap buffer when the pool is exhausted.
func (p *framePool) get() []byte {
	if p.pool != nil {
		if buf, err := p.pool.Get(); err == nil {
			return buf
		}
		core.LogDebug("FramePool", "Pool exhausted, allocating receive buffer")
	}
	return make([]byte, p.blockSize)
}

func (p *framePool) put(buf []byte) {
	if p.pool == nil {
		return
	}
	// Heap buffers are rejected by the pool and left to the garbage collector
	_ = p.pool.Return(buf)
}

func (p *framePool) close() {
	if p.pool != nil {
		if err := p.pool.Close(); err != nil {
			core.LogWarn("FramePool", "Unable to release pool: ", err)
		}
		p.pool = nil
	}
}
