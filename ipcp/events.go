/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package ipcp

import (
	"sync"
	"time"

	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
)

// EventsCacheSize is the number of recent events an engine keeps.
const EventsCacheSize = 100

// EventKind represents the type of an engine event.
type EventKind int

// Engine event kinds.
const (
	EventFlowAllocated EventKind = iota + 1
	EventFlowDeallocated
	EventMessageDropped
	EventInvalidMessage
	EventChannelUp
	EventChannelDown
)

func (k EventKind) String() string {
	switch k {
	case EventFlowAllocated:
		return "FlowAllocated"
	case EventFlowDeallocated:
		return "FlowDeallocated"
	case EventMessageDropped:
		return "MessageDropped"
	case EventInvalidMessage:
		return "InvalidMessage"
	case EventChannelUp:
		return "ChannelUp"
	case EventChannelDown:
		return "ChannelDown"
	default:
		return "Unknown"
	}
}

// Event records something that happened in an engine.
type Event struct {
	Id          uint64
	Kind        EventKind
	Time        time.Time
	LocalCepId  defn.CepId
	RemoteCepId defn.CepId
	Address     defn.Address
	// Length is the size of a dropped SDU.
	Length int
	Err    error
}

// EventHandler is notified of engine events. It is called on the goroutine that caused the event and
// must not block.
type EventHandler func(event Event)

// Events caches the most recent events of an engine.
type Events struct {
	lock    sync.Mutex
	events  [EventsCacheSize]Event
	idx     uint
	nextId  uint64
	handler EventHandler
}

func (e *Events) emit(event Event) {
	e.lock.Lock()
	event.Id = e.nextId
	e.nextId++
	event.Time = time.Now()
	e.events[e.idx] = event
	e.idx = (e.idx + 1) % EventsCacheSize
	handler := e.handler
	e.lock.Unlock()

	if handler != nil {
		handler(event)
	}
}

// Get returns the event with the given id, unless it was discarded or does not exist.
func (e *Events) Get(id uint64) (Event, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if id >= e.nextId || id+EventsCacheSize < e.nextId {
		return Event{}, false
	}
	idx := (e.idx + uint(id+EventsCacheSize-e.nextId)) % EventsCacheSize
	return e.events[idx], true
}

// Last returns the id of the last event, if there was any.
func (e *Events) Last() (uint64, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.nextId == 0 {
		return 0, false
	}
	return e.nextId - 1, true
}

// Count returns the number of events emitted so far.
func (e *Events) Count() uint64 {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.nextId
}

// CountKind returns how many of the cached events are of the given kind.
func (e *Events) CountKind(kind EventKind) int {
	e.lock.Lock()
	defer e.lock.Unlock()
	n := 0
	cached := e.nextId
	if cached > EventsCacheSize {
		cached = EventsCacheSize
	}
	for i := uint64(0); i < cached; i++ {
		if e.events[(e.idx+EventsCacheSize-1-uint(i))%EventsCacheSize].Kind == kind {
			n++
		}
	}
	return n
}
