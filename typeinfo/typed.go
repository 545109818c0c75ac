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

package typeinfo

import (
	"reflect"
	"unsafe"
)

// Defaulter is implemented by types whose default value is not the zero
// value. SetDefault is called on zeroed memory.
type Defaulter interface {
	SetDefault()
}

// Destroyer is implemented by types that need cleanup before their memory
// is reused.
type Destroyer interface {
	Destroy()
}

// Cloner is implemented by types whose copies must not share state with
// the original.
type Cloner[T any] interface {
	Clone() T
}

// New creates the descriptor for T. The hooks T implements through *T are
// resolved once, here. Most callers should use Of or a Registry, which
// memoize descriptors.
func New[T any]() *Info {
	var zero T
	typ := reflect.TypeFor[T]()
	ops := newTypedOps[T]()
	return &Info{
		ops:                   ops,
		typ:                   typ,
		size:                  unsafe.Sizeof(zero),
		alignment:             unsafe.Alignof(zero),
		triviallyDestructible: ops.destroy == nil && !hasPointers(typ),
	}
}

// typedOps implements Ops for a concrete type T.
type typedOps[T any] struct {
	setDefault func(*T)
	destroy    func(*T)
	clone      func(*T) T
}

func newTypedOps[T any]() *typedOps[T] {
	o := &typedOps[T]{}
	if _, ok := any((*T)(nil)).(Defaulter); ok {
		o.setDefault = func(p *T) { any(p).(Defaulter).SetDefault() }
	}
	if _, ok := any((*T)(nil)).(Destroyer); ok {
		o.destroy = func(p *T) { any(p).(Destroyer).Destroy() }
	}
	if _, ok := any((*T)(nil)).(Cloner[T]); ok {
		o.clone = func(p *T) T { return any(p).(Cloner[T]).Clone() }
	}
	return o
}

func (o *typedOps[T]) copyOf(p *T) T {
	if o.clone != nil {
		return o.clone(p)
	}
	return *p
}

func (o *typedOps[T]) ConstructDefault(ptr unsafe.Pointer) {
	p := (*T)(ptr)
	var zero T
	*p = zero
	if o.setDefault != nil {
		o.setDefault(p)
	}
}

func (o *typedOps[T]) ConstructDefaultN(ptr unsafe.Pointer, n int) {
	if o.setDefault == nil {
		clear(unsafe.Slice((*T)(ptr), n))
		return
	}
	for i := 0; i < n; i++ {
		o.ConstructDefault(elem[T](ptr, i))
	}
}

func (o *typedOps[T]) Destruct(ptr unsafe.Pointer) {
	p := (*T)(ptr)
	if o.destroy != nil {
		o.destroy(p)
	}
	var zero T
	*p = zero
}

func (o *typedOps[T]) DestructN(ptr unsafe.Pointer, n int) {
	if o.destroy == nil {
		clear(unsafe.Slice((*T)(ptr), n))
		return
	}
	for i := 0; i < n; i++ {
		o.Destruct(elem[T](ptr, i))
	}
}

func (o *typedOps[T]) CopyToInitialized(src, dst unsafe.Pointer) {
	s, d := (*T)(src), (*T)(dst)
	if s == d {
		return
	}
	if o.destroy != nil {
		o.destroy(d)
	}
	*d = o.copyOf(s)
}

func (o *typedOps[T]) CopyToInitializedN(src, dst unsafe.Pointer, n int) {
	for i := 0; i < n; i++ {
		o.CopyToInitialized(elem[T](src, i), elem[T](dst, i))
	}
}

func (o *typedOps[T]) CopyToUninitialized(src, dst unsafe.Pointer) {
	*(*T)(dst) = o.copyOf((*T)(src))
}

func (o *typedOps[T]) CopyToUninitializedN(src, dst unsafe.Pointer, n int) {
	if o.clone == nil {
		for i := 0; i < n; i++ {
			*(*T)(elem[T](dst, i)) = *(*T)(elem[T](src, i))
		}
		return
	}
	for i := 0; i < n; i++ {
		*(*T)(elem[T](dst, i)) = o.clone((*T)(elem[T](src, i)))
	}
}

func (o *typedOps[T]) RelocateToInitialized(src, dst unsafe.Pointer) {
	s, d := (*T)(src), (*T)(dst)
	if s == d {
		return
	}
	if o.destroy != nil {
		o.destroy(d)
	}
	var zero T
	*d = *s
	*s = zero
}

func (o *typedOps[T]) RelocateToInitializedN(src, dst unsafe.Pointer, n int) {
	for i := 0; i < n; i++ {
		o.RelocateToInitialized(elem[T](src, i), elem[T](dst, i))
	}
}

func (o *typedOps[T]) RelocateToUninitialized(src, dst unsafe.Pointer) {
	s, d := (*T)(src), (*T)(dst)
	if s == d {
		return
	}
	var zero T
	*d = *s
	*s = zero
}

func (o *typedOps[T]) RelocateToUninitializedN(src, dst unsafe.Pointer, n int) {
	for i := 0; i < n; i++ {
		o.RelocateToUninitialized(elem[T](src, i), elem[T](dst, i))
	}
}

func (o *typedOps[T]) AllocN(n int) unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(make([]T, n)))
}

// elem returns the address of the i'th T starting at ptr.
func elem[T any](ptr unsafe.Pointer, i int) unsafe.Pointer {
	var t T
	return unsafe.Add(ptr, unsafe.Sizeof(t)*uintptr(i))
}

// hasPointers reports whether values of type t contain pointers the GC
// must trace.
func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return true
	}
}
