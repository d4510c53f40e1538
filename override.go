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

package hv

// Override replaces the storage behind a table. Once installed with
// SetOverride, every public operation of the table is delegated to it and
// the table's own chains are left untouched. Keys are passed as supplied by
// the caller, before canonicalization. MarkRestricted and the bucket reports
// are delegated through the optional OverrideRestricter and OverrideReporter
// interfaces, and Presize does nothing.
type Override[V any] interface {
	Store(k RawKey, value V)
	Fetch(k RawKey) (V, bool)
	Exists(k RawKey) bool
	Delete(k RawKey, discard bool) (V, bool)
	Clear()
	Len() int
	// IterInit restarts the traversal of the override's keys.
	IterInit()
	// IterNext returns the next key and value, or ok=false at the end of
	// the traversal.
	IterNext() (k RawKey, value V, ok bool)
}

// OverrideRestricter is implemented by overrides that support
// MarkRestricted. Without it, MarkRestricted on an overridden table does
// nothing.
type OverrideRestricter interface {
	MarkRestricted()
}

// OverrideReporter is implemented by overrides that can describe their bucket
// usage. Without it, an overridden table reports no buckets.
type OverrideReporter interface {
	BucketReport() (used, total int)
}

// SetOverride installs o as the storage of the table. A nil o restores the
// table's own storage.
func (t *Table[V]) SetOverride(o Override[V]) {
	t.override = o
}

// HasOverride reports whether an Override is installed.
func (t *Table[V]) HasOverride() bool {
	return t.override != nil
}
