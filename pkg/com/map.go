package com

import (
	"errors"
	"sync"
)

// Map defines a concurrent-safe map structure.
// Keep in mind that the map elements are not thread-safe.
type Map[K comparable, V any] struct {
	m  map[K]V
	mu sync.Mutex
}

var ErrNotFound = errors.New("not found")

func NewMap[K comparable, V any]() *Map[K, V] { return &Map[K, V]{m: make(map[K]V, 10)} }

func (m *Map[K, _]) Has(key K) bool      { _, err := m.Find(key); return err == nil }
func (m *Map[_, _]) IsEmpty() bool       { return m.Len() == 0 }
func (m *Map[_, _]) Len() int            { m.mu.Lock(); defer m.mu.Unlock(); return len(m.m) }
func (m *Map[K, V]) Put(key K, value V)  { m.mu.Lock(); m.init(); m.m[key] = value; m.mu.Unlock() }
func (m *Map[K, _]) RemoveByKey(key K)   { m.mu.Lock(); delete(m.m, key); m.mu.Unlock() }

func (m *Map[K, V]) init() {
	if m.m == nil {
		m.m = make(map[K]V, 10)
	}
}

// Find returns the value by its key or ErrNotFound.
func (m *Map[K, V]) Find(key K) (value V, err error) {
	var empty K
	if key == empty {
		return value, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.m[key]; ok {
		return v, nil
	}
	return value, ErrNotFound
}

// Pop removes and returns the value by its key.
func (m *Map[K, V]) Pop(key K) (value V, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok = m.m[key]
	delete(m.m, key)
	return
}

// CompareAndRemove removes the key only if its value passes the check.
func (m *Map[K, V]) CompareAndRemove(key K, fn func(v V) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.m[key]; ok && fn(v) {
		delete(m.m, key)
		return true
	}
	return false
}

// FindBy searches the first key-value with the provided predicate function.
func (m *Map[K, V]) FindBy(fn func(v V) bool) (value V, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.m {
		if fn(v) {
			return v, nil
		}
	}
	return value, ErrNotFound
}

// ForEach processes every element with the provided callback function.
// The callback should not call the map.
func (m *Map[K, V]) ForEach(fn func(v V)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.m {
		fn(v)
	}
}

// Values returns a snapshot of all the values.
func (m *Map[K, V]) Values() []V {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]V, 0, len(m.m))
	for _, v := range m.m {
		out = append(out, v)
	}
	return out
}
