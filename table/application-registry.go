/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package table

import (
	"errors"
	"strings"
	"sync"

	"github.com/cespare/xxhash"
	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
)

// ErrAlreadyRegistered is returned when the exact naming info is already registered.
var ErrAlreadyRegistered = errors.New("application already registered")

type registration[H any] struct {
	name    defn.ApplicationNamingInfo
	handler H
}

// ApplicationRegistry maps registered application names to their request handlers.
type ApplicationRegistry[H any] struct {
	lock    sync.RWMutex
	buckets map[uint64][]registration[H]
	count   int
}

// NewApplicationRegistry creates an empty registry.
func NewApplicationRegistry[H any]() *ApplicationRegistry[H] {
	return &ApplicationRegistry[H]{buckets: make(map[uint64][]registration[H])}
}

// bucketKey hashes the application name case-insensitively. Registrations without an application name
// share bucket 0 and match any request.
func bucketKey(applicationName string) uint64 {
	if applicationName == "" {
		return 0
	}
	return xxhash.Sum64String(strings.ToLower(applicationName))
}

// Register adds name with its handler.
func (r *ApplicationRegistry[H]) Register(name defn.ApplicationNamingInfo, handler H) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	key := bucketKey(name.ApplicationName)
	for _, existing := range r.buckets[key] {
		if existing.name.Equal(name) {
			return ErrAlreadyRegistered
		}
	}
	r.buckets[key] = append(r.buckets[key], registration[H]{name: name, handler: handler})
	r.count++
	return nil
}

// Deregister removes name and returns whether it was registered.
func (r *ApplicationRegistry[H]) Deregister(name defn.ApplicationNamingInfo) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	key := bucketKey(name.ApplicationName)
	bucket := r.buckets[key]
	for i, existing := range bucket {
		if existing.name.Equal(name) {
			bucket = append(bucket[:i], bucket[i+1:]...)
			if len(bucket) == 0 {
				delete(r.buckets, key)
			} else {
				r.buckets[key] = bucket
			}
			r.count--
			return true
		}
	}
	return false
}

// Lookup finds the registration matching the requested name. Registrations are patterns: empty
// components match anything and the rest compare case-insensitively.
func (r *ApplicationRegistry[H]) Lookup(requested defn.ApplicationNamingInfo) (defn.ApplicationNamingInfo, H, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	for _, key := range []uint64{bucketKey(requested.ApplicationName), 0} {
		for _, existing := range r.buckets[key] {
			if existing.name.Matches(requested) {
				return existing.name, existing.handler, true
			}
		}
	}
	var zero H
	return defn.ApplicationNamingInfo{}, zero, false
}

// Len returns the number of registrations.
func (r *ApplicationRegistry[H]) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.count
}
