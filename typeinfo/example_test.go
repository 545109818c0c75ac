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

package typeinfo_test

import (
	"fmt"
	"unsafe"

	"github.com/cockroachdb/indexmap/typeinfo"
)

// growBuffer moves n values into a buffer of twice the size using only the
// descriptor of their type.
func growBuffer(info *typeinfo.Info, ptr unsafe.Pointer, n int) unsafe.Pointer {
	next := info.AllocN(2 * n)
	info.RelocateToUninitializedN(ptr, next, n)
	info.ConstructDefaultN(info.Offset(next, n), n)
	return next
}

func Example() {
	info := typeinfo.Of[string]()
	fmt.Println(info)

	buf := []string{"a", "b"}
	p := growBuffer(info, unsafe.Pointer(&buf[0]), len(buf))
	fmt.Printf("%q %q\n", unsafe.Slice((*string)(p), 4), buf)
	// Output:
	// string(size=16 align=8 trivial=false)
	// ["a" "b" "" ""] ["" ""]
}
