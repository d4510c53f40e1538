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
	"hash/maphash"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/hv/internal/keycodec"
	"github.com/lni/dragonboat/v4/logger"
)

// Intern is a table of shared keys. Every shared *Key handed out carries a
// reference count equal to the number of entries, across all tables, that
// use it. A key is removed from the intern table when its count drops to
// zero.
//
// The intern table is itself a Table whose values are the reference counts.
// That table refuses modification through the public Table API.
//
// An Intern is NOT goroutine-safe.
type Intern struct {
	tab     *Table[int64]
	seed    maphash.Seed
	metrics *internMetrics
	log     logger.ILogger
}

// NewIntern returns an empty intern table. Tables using it (WithIntern) hash
// keys with its seed.
func NewIntern() *Intern {
	return newIntern(keycodec.ProcessSeed())
}

func newIntern(seed maphash.Seed) *Intern {
	i := &Intern{seed: seed}
	i.tab = &Table[int64]{
		hash:      defaultHash,
		seed:      seed,
		allocator: defaultAllocator[int64]{},
		policy:    HeadChainPolicy{},
		max:       defaultBuckets - 1,
		strtab:    true,
		id:        TableID(lastTableID.Add(1)),
		backrefs:  DefaultBackrefs(),
	}
	return i
}

var defaultIntern struct {
	once sync.Once
	i    *Intern
}

// DefaultIntern returns the process-wide intern table, creating it on first
// use. It is used by every table not given an explicit one.
func DefaultIntern() *Intern {
	defaultIntern.once.Do(func() {
		defaultIntern.i = NewIntern()
	})
	return defaultIntern.i
}

// Hash computes the hash value of canonical key octets with the intern
// table's seed, as a table using the default hash function would.
func (i *Intern) Hash(s string) uint32 {
	return defaultHash(s, i.seed)
}

// Share returns the shared key for s with the given hash and flags, creating
// it if needed, and takes a reference to it. Only FlagUTF8 is significant in
// flags.
func (i *Intern) Share(s string, hash uint32, flags KeyFlags) *Key {
	checkKeyLen(uint64(len(s)))
	return i.share(s, hash, flags)
}

func (i *Intern) share(s string, hash uint32, flags KeyFlags) *Key {
	flags &= storageMask
	t := i.tab
	t.ensureBuckets()
	for e := t.buckets[hash&t.max]; e != nil; e = e.next {
		k := e.key
		if k.hash != hash || len(k.str) != len(s) || k.flags != flags || k.str != s {
			continue
		}
		e.value++
		i.metrics.incHit()
		return k
	}

	k := &Key{str: s, hash: hash, flags: flags}
	t.insertEntry(&Entry[int64]{key: k, flags: flags, value: 1})
	i.metrics.incMiss()
	return k
}

// Find returns the shared key for s without taking a reference, or nil if
// the intern table does not hold it.
func (i *Intern) Find(s string, hash uint32, flags KeyFlags) *Key {
	flags &= storageMask
	t := i.tab
	if t.buckets == nil {
		return nil
	}
	for e := t.buckets[hash&t.max]; e != nil; e = e.next {
		k := e.key
		if k.hash == hash && k.flags == flags && k.str == s {
			return k
		}
	}
	return nil
}

// Release drops a reference to k. The key is removed from the intern table
// once its last reference is gone; it must not be used by the caller after
// that. Releasing a key the intern table does not hold logs a warning.
func (i *Intern) Release(k *Key) {
	i.release(k)
}

func (i *Intern) release(k *Key) {
	t := i.tab
	if link, e := i.findKey(k); e != nil {
		e.value--
		i.metrics.incRelease()
		if e.value == 0 {
			*link = e.next
			t.keys--
			*e = Entry[int64]{}
		}
		return
	}
	i.logger().Warningf("attempt to free nonexistent shared string %q", k.str)
}

// retain takes another reference to a key known to be held by the intern
// table.
func (i *Intern) retain(k *Key) {
	if _, e := i.findKey(k); e != nil {
		e.value++
		return
	}
	i.logger().Warningf("attempt to share nonexistent shared string %q", k.str)
}

// findKey locates the entry for k by identity.
func (i *Intern) findKey(k *Key) (**Entry[int64], *Entry[int64]) {
	t := i.tab
	if t.buckets == nil {
		return nil, nil
	}
	for link := &t.buckets[k.hash&t.max]; *link != nil; link = &(*link).next {
		if e := *link; e.key == k {
			return link, e
		}
	}
	return nil, nil
}

// Refcount returns the number of references held on k, or 0 if the intern
// table does not hold it.
func (i *Intern) Refcount(k *Key) int {
	if _, e := i.findKey(k); e != nil {
		return int(e.value)
	}
	return 0
}

// Len returns the number of distinct shared keys.
func (i *Intern) Len() int {
	return i.tab.keys
}

// Table returns the table backing the intern table. It may be read and
// iterated, but any attempt to modify it panics with
// ErrStringTableModified.
func (i *Intern) Table() *Table[int64] {
	return i.tab
}

// RegisterMetrics exports the size of the intern table and counters for
// share hits, misses and releases to set. The gauge reads the intern table
// when metrics are written, which must not race with its use.
func (i *Intern) RegisterMetrics(set *metrics.Set, name string) {
	i.metrics = newInternMetrics(set, name, i.Len)
}

// SetLogger sets where the intern table reports warnings.
func (i *Intern) SetLogger(l logger.ILogger) {
	i.log = l
}

func (i *Intern) logger() logger.ILogger {
	if i.log != nil {
		return i.log
	}
	return logger.GetLogger("hv")
}
