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
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrExtensionExists is returned when an extension slot of a type is
	// already occupied.
	ErrExtensionExists = errors.New("typeinfo: extension already registered")
	// ErrNilExtension is returned when registering a nil extension.
	ErrNilExtension = errors.New("typeinfo: nil extension")
	// ErrInfoMismatch is returned when the extension registered at
	// InfoExtensionID is not an *Info describing the type.
	ErrInfoMismatch = errors.New("typeinfo: info extension does not describe type")
)

// ExtensionConflictError indicates an attempt to replace a registered
// extension. It unwraps to ErrExtensionExists.
type ExtensionConflictError struct {
	Type reflect.Type
	ID   ExtensionID
}

func (e *ExtensionConflictError) Error() string {
	return fmt.Sprintf("typeinfo: extension %d of %s already registered", e.ID, e.Type)
}

func (e *ExtensionConflictError) Unwrap() error { return ErrExtensionExists }
