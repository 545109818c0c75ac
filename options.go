// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package indexmap

import (
	"log/slog"
	"unsafe"
)

// option provide an interface to do work on Map while it is being created.
type option[K comparable, T any] interface {
	apply(m *Map[K, T])
}

type hashOption[K comparable, T any] struct {
	hash func(key *K, seed uintptr) uintptr
}

func (op hashOption[K, T]) apply(m *Map[K, T]) {
	m.hash = *(*hashFn)(noescape(unsafe.Pointer(&op.hash)))
}

// WithHash is an option to specify the hash function to use for a Map[K,T].
// The function must return equal values for equal keys; its uniformity only
// affects performance.
func WithHash[K comparable, T any](hash func(key *K, seed uintptr) uintptr) option[K, T] {
	return hashOption[K, T]{hash}
}

// Allocator specifies an interface for allocating and releasing the slots
// of a Map. The default allocator utilizes Go's builtin make() and allows
// the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that slots be
// freed then Map.Close must be called in order to ensure FreeSlots is
// called for the final table.
type Allocator interface {
	// AllocSlots should return a slice equivalent to make([]Slot, n).
	AllocSlots(n int) []Slot

	// FreeSlots can optional release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by AllocSlots.
	FreeSlots(v []Slot)
}

type defaultAllocator struct{}

func (defaultAllocator) AllocSlots(n int) []Slot {
	return make([]Slot, n)
}

func (defaultAllocator) FreeSlots(v []Slot) {
}

type allocatorOption[K comparable, T any] struct {
	allocator Allocator
}

func (op allocatorOption[K, T]) apply(m *Map[K, T]) {
	m.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Map[K,T].
func WithAllocator[K comparable, T any](allocator Allocator) option[K, T] {
	return allocatorOption[K, T]{allocator}
}

var discardLogger = slog.New(slog.DiscardHandler)

type loggerOption[K comparable, T any] struct {
	logger *slog.Logger
}

func (op loggerOption[K, T]) apply(m *Map[K, T]) {
	if op.logger == nil {
		m.logger = discardLogger
		return
	}
	m.logger = op.logger
}

// WithLogger is an option to specify a logger that receives a Debug record
// every time the table is rebuilt. Passing nil disables logging.
func WithLogger[K comparable, T any](logger *slog.Logger) option[K, T] {
	return loggerOption[K, T]{logger}
}
