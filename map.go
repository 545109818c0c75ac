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

// Package indexmap implements an open-addressing hash index over an array
// owned by the caller. The index maps the key of every item it knows about
// to that item's position in the array, without storing keys or items
// itself: a slot in the table holds only an integer index, and the key is
// re-derived on demand by reading the array at that index and applying a
// key extractor. This makes the index a good companion for dense, growable
// arrays that need O(1) lookup by key (sets of values, maps keyed by a field
// of the stored item) while keeping iteration over the array itself cheap
// and cache friendly.
//
// # Slots
//
// Every slot of the table is in one of three states: empty, deleted (a
// tombstone) or full. A full slot records the index of an item in the
// external array. Tombstones are required so that a probe sequence passing
// through a removed entry does not terminate early. Tombstones are only
// reclaimed when the table is rebuilt.
//
// # Probing
//
// The table size is always a power of two. The first slot probed for a key
// is hash(key)&mask. Subsequent slots are generated by
//
//	slot = mask & (5*slot + 1 + perturb)
//	perturb >>= 5
//
// where perturb starts out as the full hash value. Folding in the upper bits
// of the hash reduces clustering for keys that share their low bits. Once
// perturb has been shifted down to zero the recurrence is a full period
// linear congruential generator modulo the table size, so every slot is
// eventually visited. Because the load factor keeps at least one slot empty,
// every probe terminates.
//
// # Growth
//
// At most 60% of the slots may be full or deleted. When an insertion would
// exceed that budget the table is rebuilt: a new table is allocated (double
// the size, or larger if a batched insertion requires it), and every full
// slot is re-inserted by reading its key from the array. A rebuild is the
// only operation that reclaims tombstones. When tombstones alone make up a
// third of the table, the rebuild keeps the current size.
//
// # Caller obligations
//
// The array is passed to every operation that needs to read keys and is
// never retained. The caller is responsible for keeping the index in sync
// with the array: AddNew after appending, UpdateIndex after moving an item,
// Remove before discarding an item. AddNew does not check for duplicate
// keys. Building with the "invariants" tag turns these obligations into
// assertions.
package indexmap

import (
	"context"
	"fmt"
	"log/slog"
	"math/bits"
	"math/rand/v2"
	"strings"
	"unsafe"
)

const (
	debug = false

	// defaultCapacity is the table size used when New is passed a
	// non-positive initial capacity.
	defaultCapacity = 8

	// The maximum load factor, 3/5, applies to full and deleted slots.
	maxLoadNum = 3
	maxLoadDen = 5

	perturbShift = 5

	// maxCapacity is the largest table size. maxLoad(maxCapacity) does not
	// overflow.
	maxCapacity = uintptr(1) << (bits.UintSize - 2)

	ctrlEmpty   ctrl = 0
	ctrlDeleted ctrl = 1
	ctrlFull    ctrl = 2
)

// NotFound is the index returned by Find when a key is not present.
const NotFound = -1

// ctrl is the state of a slot.
type ctrl uint8

func (c ctrl) String() string {
	switch c {
	case ctrlEmpty:
		return "empty"
	case ctrlDeleted:
		return "deleted"
	case ctrlFull:
		return "full"
	default:
		return fmt.Sprintf("ctrl(%d)", uint8(c))
	}
}

// Slot is a single entry of the mapping table. The index is only
// meaningful when the slot is full.
type Slot struct {
	ctrl  ctrl
	index int
}

// Map is an index from keys to positions in a caller-owned array of items
// of type T. The key of an item is computed by the key extractor supplied
// to New. By default a Map[K,T] hashes keys with hash/maphash, though a
// different hash function can be specified using the WithHash option.
//
// A Map is NOT goroutine-safe.
type Map[K comparable, T any] struct {
	// The hash function for keys of type K.
	hash hashFn
	seed uintptr
	// key extracts the key of an item stored in the external array.
	key func(item *T) K
	// The allocator to use for the slots slice.
	allocator Allocator
	logger    *slog.Logger
	// slots is capacity in length.
	slots unsafeSlice[Slot]
	// The total number of slots (always 2^N). capacity-1 is used as a mask
	// to compute i%capacity.
	capacity uintptr
	// The number of full slots.
	used int
	// The number of tombstones.
	deleted int
	// The number of slots we can still fill without needing to rebuild.
	// Tombstones are included in the budget so that an empty slot always
	// remains to terminate probing.
	growthLeft int
}

// New constructs a new Map with the specified initial capacity, rounded up
// to a power of two. If initialCapacity is <= 0 the map starts out with 8
// slots. The key function extracts the key of an item in the external
// array; it must be pure. The zero value for a Map is not usable until Init
// is called.
func New[K comparable, T any](
	initialCapacity int, key func(item *T) K, options ...option[K, T],
) *Map[K, T] {
	m := &Map[K, T]{}
	m.Init(initialCapacity, key, options...)
	return m
}

// NewSet constructs a Map for an array whose items are their own keys.
func NewSet[K comparable](initialCapacity int, options ...option[K, K]) *Map[K, K] {
	return New[K, K](initialCapacity, identity[K], options...)
}

func identity[K any](item *K) K {
	return *item
}

// Init initializes a Map with the specified initial capacity. If the Map
// was previously initialized its slots are first released to its
// allocator. Init can be used to avoid a heap allocation for the Map itself
// when it is embedded in another structure.
func (m *Map[K, T]) Init(initialCapacity int, key func(item *T) K, options ...option[K, T]) {
	if key == nil {
		panic("indexmap: nil key function")
	}
	if m.allocator != nil && m.capacity > 0 {
		m.allocator.FreeSlots(m.slots.Slice(0, m.capacity))
	}

	*m = Map[K, T]{
		hash:      comparableHash[K],
		seed:      uintptr(rand.Uint64()),
		key:       key,
		allocator: defaultAllocator{},
		logger:    discardLogger,
	}

	for _, op := range options {
		op.apply(m)
	}

	if initialCapacity <= 0 {
		initialCapacity = defaultCapacity
	}
	if uint(initialCapacity) > uint(maxCapacity) {
		panic(fmt.Sprintf("indexmap: initial capacity %d exceeds maximum table size %d",
			initialCapacity, maxCapacity))
	}
	// targetCapacity is the smallest power of 2 that is >= initialCapacity.
	targetCapacity := uintptr(1) << bits.Len(uint(initialCapacity-1))
	m.resize(nil, targetCapacity)
}

// Close releases the slots back to the configured allocator. It is
// unnecessary to close a map using the default allocator. It is invalid to
// use a Map after it has been closed, though Close itself is idempotent.
func (m *Map[K, T]) Close() {
	if m.allocator != nil && m.capacity > 0 {
		m.allocator.FreeSlots(m.slots.Slice(0, m.capacity))
	}
	m.slots = makeUnsafeSlice([]Slot(nil))
	m.capacity = 0
	m.used = 0
	m.deleted = 0
	m.growthLeft = 0
	m.allocator = nil
}

// EnsureCapacity makes room for additional insertions without a rebuild.
// If the remaining budget is already sufficient it does nothing, otherwise
// the table is rebuilt, reading the keys of all recorded items from array.
// The rebuild usually doubles the capacity. When tombstones make up at least
// a third of the table and discarding them frees enough room, the table is
// rebuilt at its current capacity instead, so Capacity may not change.
// EnsureCapacity panics if the request cannot fit in the largest table.
func (m *Map[K, T]) EnsureCapacity(array []T, additional int) {
	if additional < 0 {
		panic(fmt.Sprintf("indexmap: negative capacity request %d", additional))
	}
	if m.growthLeft >= additional {
		return
	}
	m.rehash(array, additional)
}

// Contains returns true if an item with the specified key is recorded.
func (m *Map[K, T]) Contains(array []T, key K) bool {
	_, ok := m.Find(array, key)
	return ok
}

// Find returns the array index of the item with the specified key,
// returning (NotFound, false) if the key is not present.
func (m *Map[K, T]) Find(array []T, key K) (index int, ok bool) {
	h := m.hash(noescape(unsafe.Pointer(&key)), m.seed)
	seq := makeProbeSeq(h, m.capacity-1)
	if debug {
		fmt.Printf("find(%v): %s\n", key, seq)
	}

	for ; ; seq = seq.next() {
		s := m.slots.At(seq.offset)
		switch s.ctrl {
		case ctrlEmpty:
			if debug {
				fmt.Printf("find(not-found): offset=%d\n", seq.offset)
			}
			return NotFound, false
		case ctrlFull:
			if debug {
				fmt.Printf("find(checking): offset=%d index=%d\n", seq.offset, s.index)
			}
			if m.key(&array[s.index]) == key {
				return s.index, true
			}
		}
	}
}

// AddNew records array[index]. No item with an equal key may already be
// recorded; violating this leaves two entries for the same key and Find
// will return either of them.
func (m *Map[K, T]) AddNew(array []T, index int) {
	m.EnsureCapacity(array, 1)
	key := m.key(&array[index])
	m.checkAbsent(array, key, index)
	m.uncheckedPut(m.hash(noescape(unsafe.Pointer(&key)), m.seed), index)
	m.used++
	m.growthLeft--
	m.checkInvariants(array)
}

// AddNewRange records array[start:end]. Capacity is reserved once for the
// whole range. The same restriction on duplicate keys as AddNew applies.
func (m *Map[K, T]) AddNewRange(array []T, start, end int) {
	if start < 0 || start > end {
		panic(fmt.Sprintf("indexmap: invalid range [%d, %d)", start, end))
	}
	amount := end - start
	m.EnsureCapacity(array, amount)
	for i := start; i < end; i++ {
		key := m.key(&array[i])
		m.checkAbsent(array, key, i)
		m.uncheckedPut(m.hash(noescape(unsafe.Pointer(&key)), m.seed), i)
	}
	m.used += amount
	m.growthLeft -= amount
	m.checkInvariants(array)
}

// Remove removes the entry recording index, locating it via the probe
// sequence of key. The caller must pass the key of the item at index; the
// slot is matched on the index alone. Returns false if no such entry was
// found.
func (m *Map[K, T]) Remove(key K, index int) bool {
	s := m.lookupIndex(key, index)
	if s == nil {
		if invariants {
			panic(fmt.Sprintf("invariant failed: remove(%v): index %d not found\n%s",
				key, index, m.debugString()))
		}
		return false
	}
	s.ctrl = ctrlDeleted
	s.index = 0
	m.used--
	m.deleted++
	if debug {
		fmt.Printf("remove(%v): index=%d used=%d deleted=%d\n", key, index, m.used, m.deleted)
	}
	m.checkInvariants(nil)
	return true
}

// UpdateIndex replaces the entry recording oldIndex with newIndex in
// place. It is used after the caller has moved the item with the specified
// key within the array. Returns false if no such entry was found.
func (m *Map[K, T]) UpdateIndex(key K, oldIndex, newIndex int) bool {
	s := m.lookupIndex(key, oldIndex)
	if s == nil {
		if invariants {
			panic(fmt.Sprintf("invariant failed: update(%v): index %d not found\n%s",
				key, oldIndex, m.debugString()))
		}
		return false
	}
	s.index = newIndex
	m.checkInvariants(nil)
	return true
}

// All calls yield sequentially for each array index recorded in the map.
// If yield returns false, iteration stops. The order is unspecified.
func (m *Map[K, T]) All(yield func(index int) bool) {
	// Snapshot the capacity and slots so that iteration remains valid if the
	// map is rebuilt during iteration.
	capacity := m.capacity
	slots := m.slots

	for i := uintptr(0); i < capacity; i++ {
		s := slots.At(i)
		if s.ctrl == ctrlFull {
			if !yield(s.index) {
				return
			}
		}
	}
}

// Clear removes every entry, retaining the current capacity.
func (m *Map[K, T]) Clear() {
	for i := uintptr(0); i < m.capacity; i++ {
		*m.slots.At(i) = Slot{}
	}
	m.used = 0
	m.deleted = 0
	m.growthLeft = maxLoad(m.capacity)
	m.checkInvariants(nil)
}

// Len returns the number of entries in the map.
func (m *Map[K, T]) Len() int {
	return m.used
}

// Capacity returns the number of slots in the mapping table.
func (m *Map[K, T]) Capacity() int {
	return int(m.capacity)
}

// UsableSlots returns the number of insertions that can be performed
// before the table is rebuilt.
func (m *Map[K, T]) UsableSlots() int {
	return m.growthLeft
}

// lookupIndex walks the probe sequence for key and returns the full slot
// recording index, or nil if an empty slot is reached first.
func (m *Map[K, T]) lookupIndex(key K, index int) *Slot {
	h := m.hash(noescape(unsafe.Pointer(&key)), m.seed)
	seq := makeProbeSeq(h, m.capacity-1)
	for ; ; seq = seq.next() {
		s := m.slots.At(seq.offset)
		switch {
		case s.ctrl == ctrlEmpty:
			return nil
		case s.ctrl == ctrlFull && s.index == index:
			return s
		}
	}
}

// uncheckedPut records index in the first empty slot of the probe sequence
// for hash h. The caller accounts for used and growthLeft.
func (m *Map[K, T]) uncheckedPut(h uintptr, index int) {
	seq := makeProbeSeq(h, m.capacity-1)
	for ; ; seq = seq.next() {
		s := m.slots.At(seq.offset)
		if s.ctrl == ctrlEmpty {
			s.ctrl = ctrlFull
			s.index = index
			if debug {
				fmt.Printf("put(inserting): offset=%d index=%d\n", seq.offset, index)
			}
			return
		}
	}
}

// rehash rebuilds the table so that at least additional more entries can
// be inserted. If the tombstones make up at least a third of the table and
// dropping them frees enough room, the table is rebuilt at its current
// size. Otherwise it grows to the smallest power of 2 that is at least
// double the current size and fits the request.
func (m *Map[K, T]) rehash(array []T, additional int) {
	if limit := maxLoad(maxCapacity); additional > limit-m.used {
		panic(fmt.Sprintf("indexmap: cannot hold %d more entries: %d entries recorded, at most %d fit in the largest table",
			additional, m.used, limit))
	}
	required := m.used + additional
	if m.deleted > 0 && uintptr(m.deleted) >= m.capacity/3 && maxLoad(m.capacity) >= required {
		m.resize(array, m.capacity)
		return
	}

	newCapacity := min(2*m.capacity, maxCapacity)
	for newCapacity < maxCapacity && maxLoad(newCapacity) < required {
		newCapacity *= 2
	}
	m.resize(array, newCapacity)
}

// resize allocates a table of newCapacity slots and re-inserts every full
// slot of the current table, re-deriving its key from array. Tombstones are
// dropped.
func (m *Map[K, T]) resize(array []T, newCapacity uintptr) {
	if bits.OnesCount64(uint64(newCapacity)) != 1 {
		panic(fmt.Sprintf("indexmap: capacity %d is not a power of 2", newCapacity))
	}

	oldSlots, oldCapacity, reclaimed := m.slots, m.capacity, m.deleted
	m.slots = makeUnsafeSlice(m.allocator.AllocSlots(int(newCapacity)))
	for i := uintptr(0); i < newCapacity; i++ {
		*m.slots.At(i) = Slot{}
	}
	m.capacity = newCapacity
	m.deleted = 0
	m.growthLeft = maxLoad(newCapacity) - m.used

	if debug {
		fmt.Printf("resize: capacity=%d->%d  growth-left=%d\n",
			oldCapacity, newCapacity, m.growthLeft)
	}

	for i := uintptr(0); i < oldCapacity; i++ {
		s := oldSlots.At(i)
		if s.ctrl != ctrlFull {
			continue
		}
		key := m.key(&array[s.index])
		m.uncheckedPut(m.hash(noescape(unsafe.Pointer(&key)), m.seed), s.index)
	}

	if oldCapacity > 0 {
		m.allocator.FreeSlots(oldSlots.Slice(0, oldCapacity))
		if m.logger.Enabled(context.Background(), slog.LevelDebug) {
			m.logger.Debug("indexmap: rebuilt table",
				"old-capacity", oldCapacity,
				"new-capacity", newCapacity,
				"len", m.used,
				"reclaimed", reclaimed,
			)
		}
	}

	m.checkInvariants(array)
}

// checkAbsent asserts that no entry is recorded for key when built with
// invariants.
func (m *Map[K, T]) checkAbsent(array []T, key K, index int) {
	if invariants {
		if existing, ok := m.Find(array, key); ok {
			panic(fmt.Sprintf("invariant failed: add(%v): index %d duplicates index %d\n%s",
				key, index, existing, m.debugString()))
		}
	}
}

// checkInvariants verifies the slot counters and, if array is non-nil,
// that every recorded index can be found by its key.
func (m *Map[K, T]) checkInvariants(array []T) {
	if invariants {
		if bits.OnesCount64(uint64(m.capacity)) != 1 {
			panic(fmt.Sprintf("invariant failed: capacity %d is not a power of 2", m.capacity))
		}

		var used, deleted int
		for i := uintptr(0); i < m.capacity; i++ {
			s := m.slots.At(i)
			switch s.ctrl {
			case ctrlEmpty:
			case ctrlDeleted:
				deleted++
			case ctrlFull:
				used++
				if array != nil {
					key := m.key(&array[s.index])
					if j, ok := m.Find(array, key); !ok || j != s.index {
						panic(fmt.Sprintf("invariant failed: slot(%d): %v at index %d not found\n%s",
							i, key, s.index, m.debugString()))
					}
				}
			default:
				panic(fmt.Sprintf("invariant failed: slot(%d): unexpected %s", i, s.ctrl))
			}
		}

		if used != m.used {
			panic(fmt.Sprintf("invariant failed: found %d used slots, but used count is %d\n%s",
				used, m.used, m.debugString()))
		}
		if deleted != m.deleted {
			panic(fmt.Sprintf("invariant failed: found %d deleted slots, but deleted count is %d\n%s",
				deleted, m.deleted, m.debugString()))
		}
		if growthLeft := maxLoad(m.capacity) - used - deleted; growthLeft != m.growthLeft {
			panic(fmt.Sprintf("invariant failed: found %d growthLeft, but expected %d\n%s",
				m.growthLeft, growthLeft, m.debugString()))
		}
	}
}

func (m *Map[K, T]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  deleted=%d  growth-left=%d\n",
		m.capacity, m.used, m.deleted, m.growthLeft)
	for i := uintptr(0); i < m.capacity; i++ {
		switch s := m.slots.At(i); s.ctrl {
		case ctrlFull:
			fmt.Fprintf(&buf, "  %4d: %d\n", i, s.index)
		default:
			fmt.Fprintf(&buf, "  %4d: %s\n", i, s.ctrl)
		}
	}
	return buf.String()
}

// maxLoad returns the number of slots of a table with the specified
// capacity that may be full or deleted.
func maxLoad(capacity uintptr) int {
	return int(capacity * maxLoadNum / maxLoadDen)
}

// probeSeq maintains the state for a probe sequence. The sequence starts at
// hash&mask and continues with
//
//	offset = mask & (5*offset + 1 + perturb)
//	perturb >>= perturbShift
//
// While perturb is non-zero the upper hash bits steer the sequence. Once it
// reaches zero the recurrence offset -> 5*offset+1 (mod mask+1) has full
// period for any power of two table size (Hull-Dobell: the increment is odd
// and the multiplier minus one is divisible by 4), so every slot is visited.
type probeSeq struct {
	mask    uintptr
	offset  uintptr
	perturb uintptr
}

func makeProbeSeq(hash, mask uintptr) probeSeq {
	return probeSeq{
		mask:    mask,
		offset:  hash & mask,
		perturb: hash,
	}
}

func (s probeSeq) next() probeSeq {
	s.offset = s.mask & (5*s.offset + 1 + s.perturb)
	s.perturb >>= perturbShift
	return s
}

func (s probeSeq) String() string {
	return fmt.Sprintf("mask=%d offset=%d perturb=%x", s.mask, s.offset, s.perturb)
}

// noescape hides a pointer from escape analysis.  noescape is
// the identity function but escape analysis doesn't think the
// output depends on the input.  noescape is inlined and currently
// compiles down to zero instructions.
// USE CAREFULLY!
//
//go:nosplit
//go:nocheckptr
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}

// unsafeSlice provides semi-ergonomic limited slice-like functionality
// without bounds checking for fixed sized slices.
type unsafeSlice[T any] struct {
	ptr unsafe.Pointer
}

func makeUnsafeSlice[T any](s []T) unsafeSlice[T] {
	return unsafeSlice[T]{ptr: unsafe.Pointer(unsafe.SliceData(s))}
}

// At returns a pointer to the element at index i.
func (s unsafeSlice[T]) At(i uintptr) *T {
	var t T
	return (*T)(unsafe.Add(s.ptr, unsafe.Sizeof(t)*i))
}

// Slice returns a Go slice akin to slice[start:end] for a Go builtin slice.
func (s unsafeSlice[T]) Slice(start, end uintptr) []T {
	return unsafe.Slice((*T)(s.ptr), end)[start:end]
}
