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

// Package hv implements the associative array storage engine of a dynamic
// language runtime: a chained hash table from byte-string keys to values,
// with keys deduplicated across every table of the process by a shared,
// reference counted intern table.
//
// # Tables
//
// A Table is an array of 2^N buckets, each heading a singly linked chain of
// entries whose hash satisfies hash&(2^N-1) == bucket index. The bucket
// array is allocated lazily, on the first insert or iterator
// initialization. When an insertion leaves the table with
//
//	keys + keys/2 > buckets
//
// the array is doubled ("split"). Because the size stays a power of two an
// entry either stays at its index i or moves to i+oldSize, decided by one
// extra hash bit, so a split never recomputes a hash. Splitting stops once
// the array reaches 2^26 buckets; chains simply grow longer after that.
//
// New entries are linked at the head of their chain or, on a coin flip, in
// second position (see ChainPolicy). This hides collisions from anyone
// watching iteration order.
//
// # Keys
//
// Keys are canonicalized before hashing: a UTF-8 key whose code points all
// fit in one byte is stored in its Latin-1 form (see internal/keycodec).
// Stored keys are normally taken from an Intern, the process-wide table of
// shared keys, so identical keys in different tables are the same *Key. A
// plain table that splits while holding more than 42 keys stops interning
// new keys: large lookup tables rarely share keys with anything else.
//
// # Iteration
//
// Each table carries a single cursor (IterInit, IterNext). Deleting the
// entry under the cursor is safe: the entry is unlinked immediately but only
// freed when the cursor moves on. Any other mutation during a traversal is
// allowed but leaves the visitation order undefined.
//
// # Restricted tables
//
// A restricted table (MarkRestricted) has a frozen key set. Deleting a key
// replaces its value with a placeholder, which hides the entry from lookups
// and iteration while keeping the key "approved" for a later Store.
//
// A Table is NOT goroutine-safe, and neither is an Intern. Embeddings that
// use tables from several goroutines must either serialize access or give
// each goroutine its own Intern (see WithIntern).
package hv

import (
	"fmt"
	"hash/maphash"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hv/internal/keycodec"
	"github.com/lni/dragonboat/v4/logger"
)

const (
	debug = false

	// defaultBuckets is the bucket count of a table that has not been
	// presized.
	defaultBuckets = 8
	// maxBucketMax is the largest bucket mask a table splits to.
	maxBucketMax = 1<<26 - 1
	// largeTableKeys is the key count above which a plain table stops
	// interning new keys. It is only checked when the table splits, so
	// sharing stops at the first split that finds more keys than this
	// (the 44th key of a table that started with 8 buckets).
	largeTableKeys = 42
)

// Kind describes what a table is used for. It only affects the large table
// heuristic: objects and symbol tables share their keys widely and keep
// interning them regardless of size.
type Kind uint8

const (
	// KindPlain is an ordinary associative array.
	KindPlain Kind = iota
	// KindObject is a table backing an object instance.
	KindObject
	// KindSymbolTable is a table mapping names to symbols.
	KindSymbolTable
)

// Releaser is implemented by values that track references. A table calls
// Release whenever it drops the reference it held to a value. Release must
// tolerate being called on a nil receiver if nil values are stored.
type Releaser interface {
	Release()
}

// Retainer is implemented by values that track references. Clone calls
// Retain for every value it copies.
type Retainer interface {
	Retain()
}

// ReadOnlyValue is implemented by values that may refuse to be dropped. A
// restricted table panics with ErrReadOnlyKey instead of deleting a value
// whose ReadOnly method returns true.
type ReadOnlyValue interface {
	ReadOnly() bool
}

type entryState uint8

const (
	stateLive entryState = iota
	// statePlaceholder entries sit in restricted tables in place of a
	// deleted value.
	statePlaceholder
	// stateDeleted entries have been unlinked and their value handed back
	// to the caller; they only await freeing by the iterator.
	stateDeleted
)

// Entry is one key/value slot in a collision chain.
type Entry[V any] struct {
	next  *Entry[V]
	key   *Key
	flags KeyFlags
	value V
	state entryState
}

// Key returns the key of the entry.
func (e *Entry[V]) Key() *Key { return e.key }

// Value returns the value of the entry. It is the zero value for a
// placeholder.
func (e *Entry[V]) Value() V { return e.value }

// Flags returns the entry's key flags, including FlagWasUTF8 and
// FlagNotShared.
func (e *Entry[V]) Flags() KeyFlags { return e.flags }

// IsPlaceholder reports whether the entry is a placeholder in a restricted
// table.
func (e *Entry[V]) IsPlaceholder() bool { return e.state == statePlaceholder }

// KeyString returns the key in the form it was supplied in: keys stored in
// Latin-1 after being supplied as UTF-8 are converted back.
func (e *Entry[V]) KeyString() string {
	if e.flags&FlagWasUTF8 != 0 {
		return keycodec.Upgrade(e.key.str)
	}
	return e.key.str
}

// TableID identifies a table in the back-reference registry.
type TableID uint64

var lastTableID atomic.Uint64

// Table is an unordered map from byte-string keys to values with Store,
// Fetch, Delete and iteration operations, implemented as a chained hash
// table over a power-of-two bucket array.
//
// A Table is NOT goroutine-safe.
type Table[V any] struct {
	// The hash function applied to canonical key octets, and its seed. The
	// seed is the one of the intern table so that a key hashes the same in
	// every table sharing it.
	hash HashFunc
	seed maphash.Seed
	// The allocator to use for bucket arrays.
	allocator Allocator[V]
	// intern hands out shared keys.
	intern *Intern
	policy ChainPolicy
	// buckets is nil until the first insert or iterator initialization.
	buckets []*Entry[V]
	// max is the bucket mask: the bucket count minus one. It is valid even
	// while buckets is nil.
	max uint32
	// keys counts every entry in the chains, placeholders included.
	keys int
	// placeholders counts the entries in statePlaceholder.
	placeholders int
	// shareKeys is cleared by the large table heuristic or WithSharedKeys.
	shareKeys      bool
	largeHeuristic bool
	kind           Kind
	restricted     bool
	// strtab is set on the table backing an Intern. Such a table may only
	// be modified by the Intern itself.
	strtab bool
	// iter is allocated on first use of the cursor.
	iter     *iterState[V]
	override Override[V]
	id       TableID
	backrefs *Backrefs
	metrics  *tableMetrics
	log      logger.ILogger
}

// New constructs a new Table with room for initialCapacity keys before the
// first split. The bucket array itself is only allocated on first use.
func New[V any](initialCapacity int, options ...Option[V]) *Table[V] {
	t := &Table[V]{
		hash:           defaultHash,
		allocator:      defaultAllocator[V]{},
		max:            defaultBuckets - 1,
		shareKeys:      true,
		largeHeuristic: true,
		id:             TableID(lastTableID.Add(1)),
	}

	for _, op := range options {
		op.apply(t)
	}

	if t.intern == nil {
		t.intern = DefaultIntern()
	}
	t.seed = t.intern.seed
	if t.policy == nil {
		t.policy = NewRandomChainPolicy(0)
	}
	if t.backrefs == nil {
		t.backrefs = DefaultBackrefs()
	}
	if initialCapacity > 0 {
		t.Presize(initialCapacity)
	}
	return t
}

// ID returns the identity of the table in the back-reference registry.
func (t *Table[V]) ID() TableID {
	return t.id
}

// Close releases every entry, key and value of the table and returns the
// bucket array to the configured allocator. It is invalid to use a Table
// after it has been closed, though Close itself is idempotent.
func (t *Table[V]) Close() {
	if t.strtab {
		fatalf(ErrStringTableModified, "hv_undef")
	}
	t.resetIter()
	t.freeEntries()
	if t.buckets != nil {
		t.allocator.FreeBuckets(t.buckets)
		t.buckets = nil
	}
	t.placeholders = 0
	t.iter = nil
	if t.backrefs != nil {
		t.backrefs.Kill(t.id)
	}
}

// Store inserts an entry into the table, overwriting the value of an
// existing entry with the same key. The previous value is released. Storing
// a key that is a placeholder in a restricted table brings the key back;
// storing a key the restricted table has never held panics with
// ErrDisallowedKey.
func (t *Table[V]) Store(k RawKey, value V) {
	if t.override != nil {
		t.override.Store(k, value)
		return
	}
	if t.strtab {
		fatalf(ErrStringTableModified, "hv_store")
	}
	c := canonicalize(k, t.hash, t.seed)
	t.store(&c, value)
	t.checkInvariants()
}

func (t *Table[V]) store(c *canonical, value V) *Entry[V] {
	t.metrics.incStore()
	t.ensureBuckets()

	if _, e := t.find(c); e != nil {
		if debug {
			fmt.Printf("store(updating): key=%q bucket=%d\n", c.s, c.hash&t.max)
		}
		if e.state == statePlaceholder {
			e.state = stateLive
			t.placeholders--
		} else {
			release(e.value)
		}
		e.value = value
		e.flags = e.flags&^FlagWasUTF8 | c.flags&FlagWasUTF8
		return e
	}

	if t.restricted {
		fatalf(ErrDisallowedKey, "key %q", c.s)
	}
	if t.iterating() {
		t.logger().Warningf("insertion into table %d during traversal results in undefined iteration order", t.id)
	}

	e := &Entry[V]{value: value, flags: c.flags}
	if t.shareKeys {
		e.key = t.intern.share(c.s, c.hash, c.flags)
	} else {
		e.key = &Key{str: c.s, hash: c.hash, flags: c.flags&storageMask | FlagNotShared}
		e.flags |= FlagNotShared
	}
	if debug {
		fmt.Printf("store(inserting): key=%q bucket=%d shared=%t\n", c.s, c.hash&t.max, e.key.Shared())
	}
	t.metrics.incInsert()
	t.insertEntry(e)
	if it := t.iter; it != nil && it.riter == -1 && it.eiter == nil {
		// Not traversing: pick a new bucket permutation for the next pass.
		it.rand = t.policy.TraversalSeed()
	}
	return e
}

// insertEntry links an entry known not to be in the table and splits the
// table if it has become too crowded.
func (t *Table[V]) insertEntry(e *Entry[V]) {
	t.link(t.buckets, t.max, e)
	t.keys++
	if !t.needsSplit() {
		return
	}
	if t.placeholders > 0 && !t.restricted {
		// The table used to be restricted. Its placeholders no longer
		// serve any purpose, and dropping them may make the split
		// unnecessary.
		t.clearPlaceholders()
		if !t.needsSplit() {
			return
		}
	}
	oldSize := t.max + 1
	t.split(oldSize, oldSize*2)
}

// link inserts e into the chain of the given bucket array selected by its
// hash, at the head or in second position as decided by the chain policy.
func (t *Table[V]) link(buckets []*Entry[V], mask uint32, e *Entry[V]) {
	head := &buckets[e.key.hash&mask]
	if *head != nil && t.policy.InsertSecond() {
		e.next = (*head).next
		(*head).next = e
		return
	}
	e.next = *head
	*head = e
}

func (t *Table[V]) needsSplit() bool {
	return t.keys+t.keys>>1 > int(t.max)+1 && t.max < maxBucketMax
}

// Fetch retrieves the value stored for k, returning ok=false if the key is
// not present or is a placeholder.
func (t *Table[V]) Fetch(k RawKey) (value V, ok bool) {
	if t.override != nil {
		return t.override.Fetch(k)
	}
	c := canonicalize(k, t.hash, t.seed)
	if _, e := t.find(&c); e != nil && e.state == stateLive {
		return e.value, true
	}
	return value, false
}

// Exists reports whether k is present and not a placeholder.
func (t *Table[V]) Exists(k RawKey) bool {
	if t.override != nil {
		return t.override.Exists(k)
	}
	c := canonicalize(k, t.hash, t.seed)
	_, e := t.find(&c)
	return e != nil && e.state == stateLive
}

// Lookup returns the live entry for k, or nil. With an Override installed
// the entry is built from the override's value and carries a private key.
func (t *Table[V]) Lookup(k RawKey) *Entry[V] {
	if t.override != nil {
		v, ok := t.override.Fetch(k)
		if !ok {
			return nil
		}
		return t.overrideEntry(k, v)
	}
	c := canonicalize(k, t.hash, t.seed)
	if _, e := t.find(&c); e != nil && e.state == stateLive {
		return e
	}
	return nil
}

// Delete removes the entry for k. If discard is false the value is returned
// and the caller takes over the table's reference to it; otherwise the value
// is released and the zero value returned. Deleting a missing key (or a
// placeholder) returns ok=false.
//
// In a restricted table the entry stays and its value becomes a
// placeholder. Deleting the entry under the iterator cursor is safe: the
// entry is freed once the cursor moves on.
func (t *Table[V]) Delete(k RawKey, discard bool) (value V, ok bool) {
	if t.override != nil {
		return t.override.Delete(k, discard)
	}
	if t.strtab {
		fatalf(ErrStringTableModified, "hv_delete")
	}
	c := canonicalize(k, t.hash, t.seed)
	link, e := t.find(&c)
	if e == nil || e.state != stateLive {
		return value, false
	}

	var zero V
	value = e.value
	if t.restricted {
		if isReadOnly(value) {
			fatalf(ErrReadOnlyKey, "key %q", c.s)
		}
		e.value = zero
		e.state = statePlaceholder
		t.placeholders++
		t.metrics.incPlaceholder()
	} else {
		if t.iterating() && e != t.iter.eiter {
			t.logger().Warningf("deletion from table %d during traversal results in undefined iteration order", t.id)
		}
		e.value = zero
		e.state = stateDeleted
		*link = e.next
		t.keys--
		t.dropUnlinked(e)
	}
	t.metrics.incDelete()
	t.checkInvariants()

	if discard {
		release(value)
		return zero, true
	}
	return value, true
}

// dropUnlinked frees an entry that was just removed from its chain, unless
// it is under the iterator cursor, in which case freeing is deferred.
func (t *Table[V]) dropUnlinked(e *Entry[V]) {
	if it := t.iter; it != nil && it.eiter != nil {
		if e == it.eiter {
			it.lazyDel = true
			t.metrics.incLazyDelete()
			return
		}
		if it.lazyDel && e == it.eiter.next {
			// The cursor was deleted earlier and still points into the
			// chain it was removed from. Keep it pointing at live entries.
			it.eiter.next = e.next
		}
	}
	t.freeEntry(e)
}

// find returns the entry for c and the link referencing it, or nils.
func (t *Table[V]) find(c *canonical) (**Entry[V], *Entry[V]) {
	if t.buckets == nil {
		return nil, nil
	}
	first := &t.buckets[c.hash&t.max]

	if c.shared != nil {
		// An entry using the caller's interned key matches by identity. A
		// miss proves nothing: the key may have been released and
		// re-interned since, or come from another Intern.
		for link := first; *link != nil; link = &(*link).next {
			if e := *link; e.key == c.shared {
				return link, e
			}
		}
	}

	for link := first; *link != nil; link = &(*link).next {
		e := *link
		if e.key.hash != c.hash {
			continue
		}
		if len(e.key.str) != len(c.s) {
			continue
		}
		if (e.key.flags^c.flags)&FlagUTF8 != 0 {
			continue
		}
		if e.key.str != c.s {
			continue
		}
		return link, e
	}
	return nil, nil
}

// Clear removes every entry from the table but keeps the bucket array. In
// a restricted table every value is replaced by a placeholder instead.
func (t *Table[V]) Clear() {
	if t.override != nil {
		t.override.Clear()
		return
	}
	if t.strtab {
		fatalf(ErrStringTableModified, "hv_clear")
	}
	t.resetIter()
	if t.restricted && t.keys > 0 {
		var zero V
		for _, e := range t.buckets {
			for ; e != nil; e = e.next {
				if e.state != stateLive {
					continue
				}
				if isReadOnly(e.value) {
					fatalf(ErrReadOnlyKey, "key %q", e.key.str)
				}
				release(e.value)
				e.value = zero
				e.state = statePlaceholder
				t.placeholders++
				t.metrics.incPlaceholder()
			}
		}
	} else {
		t.freeEntries()
		t.placeholders = 0
	}
	t.checkInvariants()
}

// freeEntries frees every entry in the chains, leaving the bucket array
// empty.
func (t *Table[V]) freeEntries() {
	for i, e := range t.buckets {
		for e != nil {
			next := e.next
			t.freeEntry(e)
			e = next
		}
		t.buckets[i] = nil
	}
	t.keys = 0
}

// freeEntry releases the value (if still owned) and the key of an entry
// that is no longer reachable from the chains.
func (t *Table[V]) freeEntry(e *Entry[V]) {
	if e.state == stateLive {
		release(e.value)
	}
	if e.key.Shared() {
		t.intern.release(e.key)
	}
	*e = Entry[V]{}
}

// Len returns the number of keys in the table, placeholders included.
func (t *Table[V]) Len() int {
	if t.override != nil {
		return t.override.Len()
	}
	return t.keys
}

// UsedKeys returns the number of keys in the table that are not
// placeholders.
func (t *Table[V]) UsedKeys() int {
	if t.override != nil {
		return t.override.Len()
	}
	return t.keys - t.placeholders
}

// Presize grows the bucket array so that n keys fit without a split. It
// never shrinks the table.
func (t *Table[V]) Presize(n int) {
	if n <= 0 || t.override != nil {
		return
	}
	want := n + n>>1
	if want < n {
		return
	}
	oldSize := int(t.max) + 1
	newSize := oldSize
	for want > newSize && newSize <= maxBucketMax {
		newSize <<= 1
	}
	if newSize <= oldSize {
		return
	}
	if t.buckets == nil {
		if t.largeTable(n) {
			t.shareKeys = false
		}
		t.max = uint32(newSize - 1)
		return
	}
	t.split(uint32(oldSize), uint32(newSize))
}

func (t *Table[V]) largeTable(n int) bool {
	return t.largeHeuristic && t.kind == KindPlain && !t.strtab && n > largeTableKeys
}

// ensureBuckets allocates the bucket array on first use.
func (t *Table[V]) ensureBuckets() {
	if t.buckets == nil {
		t.buckets = t.allocator.AllocBuckets(int(t.max) + 1)
	}
}

// split grows the bucket array from oldSize to newSize buckets (both powers
// of two) and moves every entry whose additional hash bits select a new
// bucket. Hashes are never recomputed.
func (t *Table[V]) split(oldSize, newSize uint32) {
	if newSize > maxBucketMax+1 {
		return
	}
	if debug {
		fmt.Printf("split: buckets=%d->%d keys=%d\n", oldSize, newSize, t.keys)
	}

	oldBuckets := t.buckets
	buckets := t.allocator.AllocBuckets(int(newSize))
	copy(buckets, oldBuckets)
	t.buckets = buckets
	t.max = newSize - 1
	if oldBuckets != nil {
		t.allocator.FreeBuckets(oldBuckets)
	}
	t.metrics.incSplit()

	if t.keys == 0 {
		return
	}
	if t.largeTable(t.keys) {
		t.shareKeys = false
	}

	for i := uint32(0); i < oldSize; i++ {
		link := &buckets[i]
		for e := *link; e != nil; e = *link {
			j := e.key.hash & t.max
			if j == i {
				link = &e.next
				continue
			}
			*link = e.next
			t.link(buckets, t.max, e)
		}
	}
	t.checkInvariants()
}

// Clone returns a new table holding the same live keys and values. Shared
// keys gain a reference, values implementing Retainer are retained.
// Placeholders are not copied and the clone is not restricted.
func (t *Table[V]) Clone() *Table[V] {
	if t.strtab {
		fatalf(ErrStringTableModified, "hv_clone")
	}
	c := &Table[V]{
		hash:           t.hash,
		seed:           t.seed,
		allocator:      t.allocator,
		intern:         t.intern,
		policy:         NewRandomChainPolicy(0),
		max:            t.max,
		shareKeys:      t.shareKeys,
		largeHeuristic: t.largeHeuristic,
		kind:           t.kind,
		id:             TableID(lastTableID.Add(1)),
		backrefs:       t.backrefs,
		log:            t.log,
	}
	if _, ok := t.policy.(HeadChainPolicy); ok {
		c.policy = HeadChainPolicy{}
	}
	if t.buckets == nil {
		return c
	}
	c.ensureBuckets()
	for i, e := range t.buckets {
		// Append to keep the chain order of the source.
		tail := &c.buckets[i]
		for ; e != nil; e = e.next {
			if e.state != stateLive {
				continue
			}
			if e.key.Shared() {
				t.intern.retain(e.key)
			}
			key := e.key
			if !key.Shared() {
				kc := *key
				key = &kc
			}
			retain(e.value)
			ce := &Entry[V]{key: key, flags: e.flags, value: e.value}
			*tail = ce
			tail = &ce.next
			c.keys++
		}
	}
	return c
}

func (t *Table[V]) logger() logger.ILogger {
	if t.log != nil {
		return t.log
	}
	return logger.GetLogger("hv")
}

func release[V any](v V) {
	if r, ok := any(v).(Releaser); ok {
		r.Release()
	}
}

func retain[V any](v V) {
	if r, ok := any(v).(Retainer); ok {
		r.Retain()
	}
}

func isReadOnly[V any](v V) bool {
	r, ok := any(v).(ReadOnlyValue)
	return ok && r.ReadOnly()
}

func (t *Table[V]) checkInvariants() {
	if invariants {
		if t.buckets == nil {
			return
		}
		size := uint32(len(t.buckets))
		if size&(size-1) != 0 || size != t.max+1 {
			panic(errors.AssertionFailedf("bucket count %d does not match mask %d\n%s", size, t.max, t.debugString()))
		}
		var keys, placeholders int
		for i, e := range t.buckets {
			for ; e != nil; e = e.next {
				if j := e.key.hash & t.max; j != uint32(i) {
					panic(errors.AssertionFailedf("key %q with hash %08x found in bucket %d, expected %d\n%s",
						e.key.str, e.key.hash, i, j, t.debugString()))
				}
				switch e.state {
				case statePlaceholder:
					placeholders++
				case stateDeleted:
					panic(errors.AssertionFailedf("deleted entry %q still linked\n%s", e.key.str, t.debugString()))
				}
				if e.key.Shared() && !t.strtab && t.intern.Refcount(e.key) <= 0 {
					panic(errors.AssertionFailedf("shared key %q has no intern reference", e.key.str))
				}
				keys++
			}
		}
		if keys != t.keys {
			panic(errors.AssertionFailedf("found %d keys, but key count is %d\n%s", keys, t.keys, t.debugString()))
		}
		if placeholders != t.placeholders {
			panic(errors.AssertionFailedf("found %d placeholders, but placeholder count is %d\n%s",
				placeholders, t.placeholders, t.debugString()))
		}
	}
}

func (t *Table[V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "buckets=%d  keys=%d  placeholders=%d  restricted=%t  shared=%t\n",
		t.max+1, t.keys, t.placeholders, t.restricted, t.shareKeys)
	for i, e := range t.buckets {
		if e == nil {
			continue
		}
		fmt.Fprintf(&buf, "  %4d:", i)
		for ; e != nil; e = e.next {
			switch e.state {
			case statePlaceholder:
				fmt.Fprintf(&buf, " %#v(placeholder)", e.key)
			default:
				fmt.Fprintf(&buf, " %#v", e.key)
			}
		}
		buf.WriteString("\n")
	}
	return buf.String()
}
