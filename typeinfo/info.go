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

// Package typeinfo describes the memory layout and lifecycle of a Go type so
// that generic containers can manage buffers of values whose type is not
// known at compile time. An Info is created once per concrete type by New
// (or memoized by Of and Registry) and exposes a uniform operation table
// over raw memory: default construction, destruction, copy and relocation,
// each into initialized or uninitialized destinations.
//
// # Lifecycle
//
// Memory handed to an operation is either uninitialized or holds a valid
// value. Operations do not validate which; passing the wrong kind of memory
// is a caller error.
//
//   - ConstructDefault: uninitialized -> valid (the zero value, followed by
//     SetDefault if the type implements Defaulter).
//   - Destruct: valid -> uninitialized (Destroy if the type implements
//     Destroyer, then the memory is zeroed so the GC can reclaim referenced
//     objects).
//   - CopyToInitialized/CopyToUninitialized: the destination becomes a copy
//     of the source (Clone if the type implements Cloner, otherwise
//     assignment). A valid destination is destroyed first.
//   - RelocateToInitialized/RelocateToUninitialized: the source value is
//     moved into the destination and the source is zeroed. No hook runs on
//     the moved value and the source must not be destructed afterwards.
//
// Each operation has a batched N variant operating on n contiguous values.
// The batched variants behave exactly like n unbatched calls in increasing
// address order.
//
// Memory holding values with pointers must be visible to the garbage
// collector as typed memory. Allocate such buffers with AllocN (or take the
// address of elements of a []T) rather than reinterpreting a []byte.
package typeinfo

import (
	"fmt"
	"reflect"
	"unsafe"
)

// Ops is the operation table of a type. All pointers address values of the
// described type; n is the number of contiguous values.
type Ops interface {
	ConstructDefault(ptr unsafe.Pointer)
	ConstructDefaultN(ptr unsafe.Pointer, n int)

	Destruct(ptr unsafe.Pointer)
	DestructN(ptr unsafe.Pointer, n int)

	CopyToInitialized(src, dst unsafe.Pointer)
	CopyToInitializedN(src, dst unsafe.Pointer, n int)

	CopyToUninitialized(src, dst unsafe.Pointer)
	CopyToUninitializedN(src, dst unsafe.Pointer, n int)

	RelocateToInitialized(src, dst unsafe.Pointer)
	RelocateToInitializedN(src, dst unsafe.Pointer, n int)

	RelocateToUninitialized(src, dst unsafe.Pointer)
	RelocateToUninitializedN(src, dst unsafe.Pointer, n int)

	// AllocN returns GC-visible memory for n uninitialized values.
	AllocN(n int) unsafe.Pointer
}

var _ Ops = (*Info)(nil)

// Info is the immutable descriptor of a type. It implements Ops by
// forwarding to the operation table created with it. It is safe to share
// between goroutines; operations carry no state beyond the memory passed to
// them.
type Info struct {
	ops Ops

	typ                   reflect.Type
	size                  uintptr
	alignment             uintptr
	triviallyDestructible bool
}

// Type returns the described type.
func (i *Info) Type() reflect.Type {
	return i.typ
}

// Name returns the name of the described type.
func (i *Info) Name() string {
	return i.typ.String()
}

// Size returns the size of the type in bytes.
func (i *Info) Size() uintptr {
	return i.size
}

// Alignment returns the alignment requirement of the type in bytes.
func (i *Info) Alignment() uintptr {
	return i.alignment
}

// TriviallyDestructible returns true if destructing a value does nothing
// that matters: the type has no Destroy hook and holds no pointers. It is
// only a hint; calling Destruct anyway is always correct.
func (i *Info) TriviallyDestructible() bool {
	return i.triviallyDestructible
}

// Offset returns the address of the element at index idx of a buffer
// starting at ptr.
func (i *Info) Offset(ptr unsafe.Pointer, idx int) unsafe.Pointer {
	return unsafe.Add(ptr, uintptr(idx)*i.size)
}

// ConstructDefault initializes the value at ptr to the default value.
func (i *Info) ConstructDefault(ptr unsafe.Pointer) { i.ops.ConstructDefault(ptr) }

// ConstructDefaultN initializes n values starting at ptr.
func (i *Info) ConstructDefaultN(ptr unsafe.Pointer, n int) { i.ops.ConstructDefaultN(ptr, n) }

// Destruct destroys the value at ptr, leaving uninitialized memory.
func (i *Info) Destruct(ptr unsafe.Pointer) { i.ops.Destruct(ptr) }

// DestructN destroys n values starting at ptr.
func (i *Info) DestructN(ptr unsafe.Pointer, n int) { i.ops.DestructN(ptr, n) }

// CopyToInitialized copies the value at src over the valid value at dst.
func (i *Info) CopyToInitialized(src, dst unsafe.Pointer) { i.ops.CopyToInitialized(src, dst) }

func (i *Info) CopyToInitializedN(src, dst unsafe.Pointer, n int) {
	i.ops.CopyToInitializedN(src, dst, n)
}

// CopyToUninitialized copies the value at src into uninitialized memory at
// dst.
func (i *Info) CopyToUninitialized(src, dst unsafe.Pointer) { i.ops.CopyToUninitialized(src, dst) }

func (i *Info) CopyToUninitializedN(src, dst unsafe.Pointer, n int) {
	i.ops.CopyToUninitializedN(src, dst, n)
}

// RelocateToInitialized moves the value at src over the valid value at dst.
// The source is left uninitialized.
func (i *Info) RelocateToInitialized(src, dst unsafe.Pointer) { i.ops.RelocateToInitialized(src, dst) }

func (i *Info) RelocateToInitializedN(src, dst unsafe.Pointer, n int) {
	i.ops.RelocateToInitializedN(src, dst, n)
}

// RelocateToUninitialized moves the value at src into uninitialized memory
// at dst. The source is left uninitialized.
func (i *Info) RelocateToUninitialized(src, dst unsafe.Pointer) {
	i.ops.RelocateToUninitialized(src, dst)
}

func (i *Info) RelocateToUninitializedN(src, dst unsafe.Pointer, n int) {
	i.ops.RelocateToUninitializedN(src, dst, n)
}

// AllocN returns GC-visible memory for n uninitialized values.
func (i *Info) AllocN(n int) unsafe.Pointer { return i.ops.AllocN(n) }

func (i *Info) String() string {
	return fmt.Sprintf("%s(size=%d align=%d trivial=%t)",
		i.Name(), i.size, i.alignment, i.triviallyDestructible)
}
