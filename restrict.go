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
	"github.com/cockroachdb/errors"
)

// MarkRestricted freezes the key set of the table. Values may still be
// replaced, but new keys are refused and deleted keys become placeholders.
func (t *Table[V]) MarkRestricted() {
	if t.override != nil {
		if r, ok := t.override.(OverrideRestricter); ok {
			r.MarkRestricted()
		}
		return
	}
	if t.strtab {
		fatalf(ErrStringTableModified, "restrict")
	}
	t.restricted = true
}

// Restricted reports whether the key set of the table is frozen.
func (t *Table[V]) Restricted() bool {
	return t.restricted
}

// Unrestrict lifts the restriction placed by MarkRestricted. Placeholders
// remain until ClearPlaceholders is called or the next split.
func (t *Table[V]) Unrestrict() {
	t.restricted = false
}

// Placeholders returns the number of placeholder entries.
func (t *Table[V]) Placeholders() int {
	return t.placeholders
}

// ClearPlaceholders physically removes every placeholder entry, releasing
// its key.
func (t *Table[V]) ClearPlaceholders() {
	if t.placeholders > 0 {
		t.clearPlaceholders()
	}
	t.checkInvariants()
}

func (t *Table[V]) clearPlaceholders() {
	toFind := t.placeholders
	for i := len(t.buckets) - 1; i >= 0 && toFind > 0; i-- {
		link := &t.buckets[i]
		for e := *link; e != nil; e = *link {
			if e.state != statePlaceholder {
				link = &e.next
				continue
			}
			*link = e.next
			t.dropUnlinked(e)
			toFind--
		}
	}
	t.keys -= t.placeholders - toFind
	t.placeholders = toFind
	if toFind != 0 {
		panic(errors.AssertionFailedf("%d placeholders not found", toFind))
	}
}
