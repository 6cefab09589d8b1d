/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package ipcp

import (
	"errors"
	"io"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
	"github.com/rysavy-ondrej/RINASharp-sub000/utils"
)

var errReceiveTimeout = errors.New("no data before receive timeout")

// receiveBuffer queues received SDUs of one connection. The receive loop of the connection's channel is
// the only producer; readers are serialized by readLock.
type receiveBuffer struct {
	queue    lfq.SPSC[[]byte]
	capacity int64
	actual   atomix.Int64
	notify   chan struct{}
	done     chan struct{}
	doneOnce sync.Once

	readLock sync.Mutex
	head     []byte
}

func newReceiveBuffer(capacity int, depth int) *receiveBuffer {
	b := &receiveBuffer{
		capacity: int64(capacity),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	b.queue.Init(utils.CeilPowerOfTwo(depth))
	return b
}

// fits returns whether a chunk of n bytes stays strictly below the buffer capacity.
func (b *receiveBuffer) fits(n int) bool {
	return b.actual.Load()+int64(n) < b.capacity
}

// post enqueues a non-empty chunk. It returns iox.ErrWouldBlock when the queue is full.
func (b *receiveBuffer) post(chunk []byte) error {
	b.actual.Add(int64(len(chunk)))
	if err := b.queue.Enqueue(&chunk); err != nil {
		b.actual.Add(-int64(len(chunk)))
		return err
	}
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// available returns the number of unread bytes.
func (b *receiveBuffer) available() int {
	return int(b.actual.Load())
}

// close wakes up waiting readers. Unread data stays readable.
func (b *receiveBuffer) close() {
	b.doneOnce.Do(func() { close(b.done) })
}

func (b *receiveBuffer) isClosed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// peek returns the unread part of the oldest chunk, or nil. readLock must be held.
func (b *receiveBuffer) peek() []byte {
	if len(b.head) > 0 {
		return b.head
	}
	chunk, err := b.queue.Dequeue()
	if err != nil {
		b.head = nil
		return nil
	}
	b.head = chunk
	return chunk
}

// consume marks n bytes of the oldest chunk as read. readLock must be held.
func (b *receiveBuffer) consume(n int) {
	b.head = b.head[n:]
	b.actual.Add(-int64(n))
}

// drain copies unread bytes into p, crossing chunk boundaries. readLock must be held.
func (b *receiveBuffer) drain(p []byte) int {
	n := 0
	for n < len(p) {
		chunk := b.peek()
		if chunk == nil {
			break
		}
		k := copy(p[n:], chunk)
		b.consume(k)
		n += k
	}
	return n
}

// await calls try until it succeeds. Without blocking it fails with WouldBlock, otherwise it waits up
// to timeout for new data. A closed and empty buffer yields io.EOF.
func (b *receiveBuffer) await(blocking bool, timeout time.Duration, try func() bool) error {
	var timer *time.Timer
	for {
		if try() {
			return nil
		}
		if b.isClosed() {
			return io.EOF
		}
		if !blocking {
			return defn.MakePortError(defn.WouldBlock, iox.ErrWouldBlock)
		}
		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}
		select {
		case <-b.notify:
		case <-b.done:
		case <-timer.C:
			return defn.MakePortError(defn.TimedOut, errReceiveTimeout)
		}
	}
}

// read copies up to len(p) unread bytes into p.
func (b *receiveBuffer) read(p []byte, blocking bool, timeout time.Duration) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b.readLock.Lock()
	defer b.readLock.Unlock()
	n := 0
	err := b.await(blocking, timeout, func() bool {
		n = b.drain(p)
		return n > 0
	})
	return n, err
}

// tryRead copies whatever is available into p without waiting.
func (b *receiveBuffer) tryRead(p []byte) int {
	b.readLock.Lock()
	defer b.readLock.Unlock()
	return b.drain(p)
}

// receive returns the oldest SDU, or its unread remainder after partial reads.
func (b *receiveBuffer) receive(blocking bool, timeout time.Duration) ([]byte, error) {
	b.readLock.Lock()
	defer b.readLock.Unlock()
	var sdu []byte
	err := b.await(blocking, timeout, func() bool {
		sdu = b.peek()
		if sdu == nil {
			return false
		}
		b.consume(len(sdu))
		b.head = nil
		return true
	})
	return sdu, err
}
