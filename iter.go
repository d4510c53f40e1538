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

// iterState is the cursor of a table. Buckets are visited in the order
// (riter ^ rand) & max for riter = 0, 1, ..., which is a permutation of the
// bucket indexes for any rand.
type iterState[V any] struct {
	// riter is the cursor position, -1 when no traversal is in progress.
	riter int
	// eiter is the entry last returned by IterNext.
	eiter *Entry[V]
	// lazyDel is set when eiter was deleted while under the cursor. It has
	// been unlinked and is freed when the cursor moves on.
	lazyDel bool
	// rand permutes the bucket order. It changes after inserts made outside
	// of a traversal.
	rand uint32
}

func (t *Table[V]) iterating() bool {
	return t.iter != nil && t.iter.riter != -1
}

// IterInit resets the cursor of the table to before the first entry and
// returns the number of keys, placeholders included. An entry deleted while
// under the cursor is freed now.
func (t *Table[V]) IterInit() int {
	if t.override != nil {
		t.override.IterInit()
		return t.override.Len()
	}
	t.ensureBuckets()
	if t.iter == nil {
		t.iter = &iterState[V]{riter: -1, rand: t.policy.TraversalSeed()}
		return t.keys
	}
	t.resetIter()
	return t.keys
}

func (t *Table[V]) resetIter() {
	it := t.iter
	if it == nil {
		return
	}
	if it.eiter != nil && it.lazyDel {
		it.lazyDel = false
		t.freeEntry(it.eiter)
	}
	it.eiter = nil
	it.riter = -1
}

// IterNext advances the cursor and returns the entry under it, or nil at the
// end of the traversal, after which the cursor is reset. Placeholders are
// skipped unless wantPlaceholders is set.
//
// Every entry present for the whole traversal is returned exactly once,
// provided the table is only modified by deleting the entry just returned.
func (t *Table[V]) IterNext(wantPlaceholders bool) *Entry[V] {
	if t.override != nil {
		return t.overrideIterNext()
	}
	if t.iter == nil {
		t.IterInit()
	}
	t.ensureBuckets()
	it := t.iter

	old := it.eiter
	e := old
	if e != nil {
		e = e.next
		if !wantPlaceholders {
			for e != nil && e.state == statePlaceholder {
				e = e.next
			}
		}
	}

	n := t.keys
	if !wantPlaceholders {
		n -= t.placeholders
	}
	if n > 0 {
		for e == nil {
			it.riter++
			if it.riter > int(t.max) {
				it.riter = -1
				break
			}
			e = t.buckets[(uint32(it.riter)^it.rand)&t.max]
			if !wantPlaceholders {
				for e != nil && e.state == statePlaceholder {
					e = e.next
				}
			}
		}
	} else {
		e = nil
		it.riter = -1
	}

	if old != nil && it.lazyDel {
		it.lazyDel = false
		t.freeEntry(old)
	}
	it.eiter = e
	return e
}

func (t *Table[V]) overrideIterNext() *Entry[V] {
	k, v, ok := t.override.IterNext()
	if !ok {
		return nil
	}
	return t.overrideEntry(k, v)
}

// overrideEntry wraps a key and value held by the override in a detached
// entry with a private key.
func (t *Table[V]) overrideEntry(k RawKey, v V) *Entry[V] {
	c := canonicalize(k, t.hash, t.seed)
	flags := c.flags | FlagNotShared
	return &Entry[V]{
		key:   &Key{str: c.s, hash: c.hash, flags: c.flags&storageMask | FlagNotShared},
		flags: flags,
		value: v,
	}
}

// All calls yield for every live entry of the table, using the table's
// cursor. yield may delete the key it was passed. Stopping early resets the
// cursor.
func (t *Table[V]) All(yield func(key *Key, value V) bool) {
	t.IterInit()
	for e := t.IterNext(false); e != nil; e = t.IterNext(false) {
		if !yield(e.key, e.value) {
			t.IterInit()
			return
		}
	}
}
