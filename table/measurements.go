/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package table

import (
	"github.com/cornelk/hashmap"
)

// Measurements is a lock-free table of counters and averages.
type Measurements struct {
	table *hashmap.HashMap
}

// NewMeasurements creates an empty measurements table.
func NewMeasurements() *Measurements {
	return &Measurements{table: hashmap.New(32)}
}

// Get returns the measurement table value at the specified key or nil if it does not exist.
func (m *Measurements) Get(key string) interface{} {
	value, isOk := m.table.GetStringKey(key)
	if !isOk {
		return nil
	}
	return value
}

// Int returns the integer counter at key, or 0 if it was never set.
func (m *Measurements) Int(key string) int {
	if value, ok := m.Get(key).(int); ok {
		return value
	}
	return 0
}

// Float returns the float measurement at key, or 0 if it was never set.
func (m *Measurements) Float(key string) float64 {
	if value, ok := m.Get(key).(float64); ok {
		return value
	}
	return 0
}

// Set atomically sets the value of key only if it is equal to expected, returning whether the operation was successful.
func (m *Measurements) Set(key string, expected interface{}, value interface{}) bool {
	return m.table.Cas(key, expected, value)
}

// AddToInt adds value to the counter at key, setting it to value if uninitialized.
func (m *Measurements) AddToInt(key string, value int) {
	wasSet := false
	for !wasSet {
		expected := m.Get(key)
		if expected != nil {
			wasSet = m.Set(key, expected, expected.(int)+value)
		} else {
			// GetOrInsert reports true when the key was already present
			_, loaded := m.table.GetOrInsert(key, value)
			wasSet = !loaded
		}
	}
}

// AddSampleToEWMA folds a sample into the exponentially weighted moving average at key.
func (m *Measurements) AddSampleToEWMA(key string, sample float64, alpha float64) {
	wasSet := false
	for !wasSet {
		expected := m.Get(key)
		if expected != nil {
			average := expected.(float64)
			wasSet = m.Set(key, expected, average+alpha*(sample-average))
		} else {
			_, loaded := m.table.GetOrInsert(key, sample)
			wasSet = !loaded
		}
	}
}
