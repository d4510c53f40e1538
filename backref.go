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

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// ReferrerID identifies an object holding a non-owning reference to a
// table, such as a weak reference or a symbol that names it.
type ReferrerID uint64

// Backrefs records, per table, the referrers that must be told when the
// table goes away. Unlike tables, a Backrefs registry is goroutine-safe.
type Backrefs struct {
	m      *xsync.MapOf[TableID, []ReferrerID]
	onKill func(table TableID, referrers []ReferrerID)
}

// NewBackrefs returns an empty registry. onKill, if not nil, is called with
// the referrers of a table when it is closed.
func NewBackrefs(onKill func(table TableID, referrers []ReferrerID)) *Backrefs {
	return &Backrefs{
		m:      xsync.NewMapOf[TableID, []ReferrerID](),
		onKill: onKill,
	}
}

var defaultBackrefs struct {
	once sync.Once
	b    *Backrefs
}

// DefaultBackrefs returns the process-wide registry used by tables not given
// an explicit one.
func DefaultBackrefs() *Backrefs {
	defaultBackrefs.once.Do(func() {
		defaultBackrefs.b = NewBackrefs(nil)
	})
	return defaultBackrefs.b
}

// Add records that ref refers to table.
func (b *Backrefs) Add(table TableID, ref ReferrerID) {
	b.m.Compute(table, func(old []ReferrerID, loaded bool) ([]ReferrerID, bool) {
		refs := make([]ReferrerID, len(old), len(old)+1)
		copy(refs, old)
		return append(refs, ref), false
	})
}

// Remove forgets one reference from ref to table.
func (b *Backrefs) Remove(table TableID, ref ReferrerID) {
	b.m.Compute(table, func(old []ReferrerID, loaded bool) ([]ReferrerID, bool) {
		for i, r := range old {
			if r != ref {
				continue
			}
			if len(old) == 1 {
				return nil, true
			}
			refs := make([]ReferrerID, 0, len(old)-1)
			refs = append(refs, old[:i]...)
			return append(refs, old[i+1:]...), false
		}
		return old, !loaded
	})
}

// Referrers returns the referrers recorded for table.
func (b *Backrefs) Referrers(table TableID) []ReferrerID {
	refs, _ := b.m.Load(table)
	return refs
}

// Kill removes every reference recorded for table, hands them to the onKill
// callback and returns them.
func (b *Backrefs) Kill(table TableID) []ReferrerID {
	refs, ok := b.m.LoadAndDelete(table)
	if !ok {
		return nil
	}
	if b.onKill != nil {
		b.onKill(table, refs)
	}
	return refs
}

// AddBackref records that ref refers to the table.
func (t *Table[V]) AddBackref(ref ReferrerID) {
	t.backrefs.Add(t.id, ref)
}

// RemoveBackref forgets one reference from ref to the table.
func (t *Table[V]) RemoveBackref(ref ReferrerID) {
	t.backrefs.Remove(t.id, ref)
}

// Backrefs returns the referrers recorded for the table.
func (t *Table[V]) Backrefs() []ReferrerID {
	return t.backrefs.Referrers(t.id)
}
