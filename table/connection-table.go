/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package table

import (
	"errors"
	"sync"

	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
)

// Error definitions
var (
	ErrDuplicateCepId   = errors.New("connection endpoint id already indexed")
	ErrUnknownCepId     = errors.New("connection endpoint id not indexed")
	ErrDuplicateBinding = errors.New("remote connection endpoint already bound")
)

type remoteKey struct {
	peer  defn.Address
	cepId defn.CepId
}

type connectionEntry[T any] struct {
	value  T
	remote *remoteKey
}

// ConnectionTable indexes active connection endpoints by local id and, once bound, by peer address and
// remote id.
type ConnectionTable[T any] struct {
	lock     sync.RWMutex
	byLocal  map[defn.CepId]*connectionEntry[T]
	byRemote map[remoteKey]defn.CepId
}

// NewConnectionTable creates an empty connection table.
func NewConnectionTable[T any]() *ConnectionTable[T] {
	return &ConnectionTable[T]{
		byLocal:  make(map[defn.CepId]*connectionEntry[T]),
		byRemote: make(map[remoteKey]defn.CepId),
	}
}

// Insert indexes value under local.
func (t *ConnectionTable[T]) Insert(local defn.CepId, value T) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, ok := t.byLocal[local]; ok {
		return ErrDuplicateCepId
	}
	t.byLocal[local] = &connectionEntry[T]{value: value}
	return nil
}

// Bind records the remote id of the connection indexed under local.
func (t *ConnectionTable[T]) Bind(local defn.CepId, peer defn.Address, remote defn.CepId) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	entry, ok := t.byLocal[local]
	if !ok {
		return ErrUnknownCepId
	}
	key := remoteKey{peer: peer, cepId: remote}
	if existing, ok := t.byRemote[key]; ok && existing != local {
		return ErrDuplicateBinding
	}
	if entry.remote != nil {
		delete(t.byRemote, *entry.remote)
	}
	entry.remote = &key
	t.byRemote[key] = local
	return nil
}

// Get returns the value indexed under local.
func (t *ConnectionTable[T]) Get(local defn.CepId) (T, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	entry, ok := t.byLocal[local]
	if !ok {
		var zero T
		return zero, false
	}
	return entry.value, true
}

// GetByRemote returns the value bound to the remote id at peer.
func (t *ConnectionTable[T]) GetByRemote(peer defn.Address, remote defn.CepId) (T, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	local, ok := t.byRemote[remoteKey{peer: peer, cepId: remote}]
	if !ok {
		var zero T
		return zero, false
	}
	return t.byLocal[local].value, true
}

// Remove drops the value indexed under local together with its remote binding.
func (t *ConnectionTable[T]) Remove(local defn.CepId) (T, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	entry, ok := t.byLocal[local]
	if !ok {
		var zero T
		return zero, false
	}
	if entry.remote != nil {
		delete(t.byRemote, *entry.remote)
	}
	delete(t.byLocal, local)
	return entry.value, true
}

// Len returns the number of indexed connections.
func (t *ConnectionTable[T]) Len() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.byLocal)
}

// Values returns a snapshot of all indexed values.
func (t *ConnectionTable[T]) Values() []T {
	t.lock.RLock()
	defer t.lock.RUnlock()
	values := make([]T, 0, len(t.byLocal))
	for _, entry := range t.byLocal {
		values = append(values, entry.value)
	}
	return values
}
