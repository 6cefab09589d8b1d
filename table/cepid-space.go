/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package table

import (
	"math/rand/v2"
	"sync"

	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
)

// CepIdSpace hands out connection endpoint ids that are unique among the ids it currently holds.
type CepIdSpace struct {
	lock     sync.Mutex
	occupied map[defn.CepId]struct{}
	draw     func() uint64
}

// NewCepIdSpace creates an id space drawing uniformly random 64-bit values.
func NewCepIdSpace() *CepIdSpace {
	return NewCepIdSpaceWithSource(rand.Uint64)
}

// NewCepIdSpaceWithSource creates an id space drawing candidate values from draw.
func NewCepIdSpaceWithSource(draw func() uint64) *CepIdSpace {
	return &CepIdSpace{
		occupied: make(map[defn.CepId]struct{}),
		draw:     draw,
	}
}

// Next draws an id that is neither NoCepId nor currently held and marks it as held.
func (s *CepIdSpace) Next() defn.CepId {
	s.lock.Lock()
	defer s.lock.Unlock()
	for {
		id := defn.CepId(s.draw())
		if id == defn.NoCepId {
			continue
		}
		if _, ok := s.occupied[id]; ok {
			continue
		}
		s.occupied[id] = struct{}{}
		return id
	}
}

// Release makes id eligible for reuse. It returns false if id was not held.
func (s *CepIdSpace) Release(id defn.CepId) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.occupied[id]; !ok {
		return false
	}
	delete(s.occupied, id)
	return true
}

// Occupied returns whether id is currently held.
func (s *CepIdSpace) Occupied(id defn.CepId) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, ok := s.occupied[id]
	return ok
}

// Len returns the number of held ids.
func (s *CepIdSpace) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.occupied)
}
