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
	"hash/maphash"
	"unsafe"

	"github.com/zeebo/xxh3"
)

// hashFn is the type-erased form of func(key *K, seed uintptr) uintptr.
type hashFn func(key unsafe.Pointer, seed uintptr) uintptr

var processSeed = maphash.MakeSeed()

// comparableHash hashes any comparable K with maphash.Comparable. The
// per-map seed is mixed into the result.
func comparableHash[K comparable](key unsafe.Pointer, seed uintptr) uintptr {
	return uintptr(maphash.Comparable(processSeed, *(*K)(key))) ^ seed
}

// StringHash hashes string keys with XXH3. It is usually faster than the
// default hash function for long keys:
//
//	m := indexmap.New[string, item](0, itemName,
//		indexmap.WithHash[string, item](indexmap.StringHash))
func StringHash(key *string, seed uintptr) uintptr {
	return uintptr(xxh3.HashStringSeed(*key, uint64(seed)))
}
