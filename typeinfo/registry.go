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
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/kamstrup/intmap"
)

// ExtensionID identifies a slot in the per-type extension table.
type ExtensionID uint32

// InfoExtensionID is the slot reserved for a type's *Info.
const InfoExtensionID ExtensionID = 0

// Registry associates types with extensions stored in numbered slots. The
// slot InfoExtensionID holds the type's *Info; other slots are free for
// other subsystems. A Registry is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	types  map[reflect.Type]*intmap.Map[ExtensionID, any]
	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger that receives a Debug record for every
// registration. Passing nil disables logging.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger == nil {
			logger = slog.New(slog.DiscardHandler)
		}
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(options ...RegistryOption) *Registry {
	r := &Registry{
		types:  make(map[reflect.Type]*intmap.Map[ExtensionID, any]),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

var defaultRegistry = NewRegistry()

// Of returns the process-wide descriptor for T, creating it on first use.
// Repeated calls return the same *Info.
func Of[T any]() *Info {
	return Register[T](defaultRegistry)
}

// Register returns the descriptor of T stored in r, creating and storing it
// if T has not been registered yet.
func Register[T any](r *Registry) *Info {
	t := reflect.TypeFor[T]()

	r.mu.Lock()
	defer r.mu.Unlock()

	exts := r.extensionsLocked(t)
	if v, ok := exts.Get(InfoExtensionID); ok {
		return v.(*Info)
	}
	info := New[T]()
	exts.Put(InfoExtensionID, info)
	r.logRegistration(t, InfoExtensionID)
	return info
}

// InfoOf returns the descriptor registered for t.
func (r *Registry) InfoOf(t reflect.Type) (*Info, bool) {
	v, ok := r.Extension(t, InfoExtensionID)
	if !ok {
		return nil, false
	}
	return v.(*Info), true
}

// Extension returns the extension registered for t in slot id.
func (r *Registry) Extension(t reflect.Type, id ExtensionID) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	exts, ok := r.types[t]
	if !ok {
		return nil, false
	}
	return exts.Get(id)
}

// SetExtension stores ext in slot id of t. Registered extensions cannot be
// replaced. The InfoExtensionID slot only accepts an *Info describing t.
func (r *Registry) SetExtension(t reflect.Type, id ExtensionID, ext any) error {
	if ext == nil {
		return ErrNilExtension
	}
	if id == InfoExtensionID {
		info, ok := ext.(*Info)
		switch {
		case ok && info == nil:
			return ErrNilExtension
		case !ok || info.Type() != t:
			return fmt.Errorf("%w: %s got %T", ErrInfoMismatch, t, ext)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	exts := r.extensionsLocked(t)
	if _, ok := exts.Get(id); ok {
		return &ExtensionConflictError{Type: t, ID: id}
	}
	exts.Put(id, ext)
	r.logRegistration(t, id)
	return nil
}

// Len returns the number of types with at least one extension.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.types)
}

func (r *Registry) extensionsLocked(t reflect.Type) *intmap.Map[ExtensionID, any] {
	exts, ok := r.types[t]
	if !ok {
		exts = intmap.New[ExtensionID, any](1)
		r.types[t] = exts
	}
	return exts
}

func (r *Registry) logRegistration(t reflect.Type, id ExtensionID) {
	if r.logger.Enabled(context.Background(), slog.LevelDebug) {
		r.logger.Debug("typeinfo: registered extension",
			"type", t.String(),
			"id", uint32(id),
			"extensions", r.types[t].Len(),
		)
	}
}
