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

package indexmap_test

import (
	"fmt"

	"github.com/cockroachdb/indexmap"
)

type user struct {
	id   int
	name string
}

func userID(u *user) int {
	return u.id
}

func Example() {
	users := []user{{7, "ada"}, {3, "bob"}, {9, "cy"}}
	m := indexmap.New[int, user](0, userID)
	m.AddNewRange(users, 0, len(users))

	i, _ := m.Find(users, 3)
	fmt.Println(users[i].name)

	// Remove bob by moving the last user into his position.
	last := len(users) - 1
	m.Remove(3, i)
	users[i] = users[last]
	m.UpdateIndex(users[i].id, last, i)
	users = users[:last]

	_, ok := m.Find(users, 3)
	j, _ := m.Find(users, 9)
	fmt.Println(ok, j, m.Len())
	// Output:
	// bob
	// false 1 2
}

func ExampleNewSet() {
	words := []string{"red", "green", "blue"}
	m := indexmap.NewSet[string](0)
	for i := range words {
		m.AddNew(words, i)
	}

	words = append(words, "cyan")
	m.AddNew(words, len(words)-1)

	fmt.Println(m.Contains(words, "blue"), m.Contains(words, "black"))
	i, _ := m.Find(words, "cyan")
	fmt.Println(i)
	// Output:
	// true false
	// 3
}
