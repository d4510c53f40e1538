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
	"fmt"
	"hash/maphash"

	"github.com/cockroachdb/hv/internal/keycodec"
)

// KeyFlags describe how the octets of a key are to be interpreted.
type KeyFlags uint8

const (
	// FlagUTF8 marks the key octets as UTF-8. It takes part in key
	// comparison: a UTF-8 key never matches a Latin-1 key.
	FlagUTF8 KeyFlags = 1 << iota
	// FlagWasUTF8 marks a key that was supplied as UTF-8 but stored in its
	// Latin-1 form. It is ignored by lookups.
	FlagWasUTF8
	// FlagNotShared marks a key owned by a single entry rather than by the
	// intern table. It is ignored by lookups.
	FlagNotShared

	// storageMask selects the flags that distinguish keys in the intern
	// table.
	storageMask = FlagUTF8
)

func (f KeyFlags) String() string {
	var s string
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if f&FlagUTF8 != 0 {
		add("utf8")
	}
	if f&FlagWasUTF8 != 0 {
		add("wasutf8")
	}
	if f&FlagNotShared != 0 {
		add("notshared")
	}
	if s == "" {
		return "bytes"
	}
	return s
}

// Key is an immutable, hashed key. Keys handed out by an Intern are shared
// between every entry that uses the same octets and storage flags, so two
// shared keys are equal iff they are the same pointer.
type Key struct {
	str   string
	hash  uint32
	flags KeyFlags
}

// String returns the key octets.
func (k *Key) String() string { return k.str }

// Len returns the key length in bytes.
func (k *Key) Len() int { return len(k.str) }

// Hash returns the hash value the key was stored under.
func (k *Key) Hash() uint32 { return k.hash }

// Flags returns the storage flags of the key.
func (k *Key) Flags() KeyFlags { return k.flags }

// Shared reports whether the key is owned by an intern table.
func (k *Key) Shared() bool { return k.flags&FlagNotShared == 0 }

// GoString is used by %#v and shows the flags alongside the key.
func (k *Key) GoString() string {
	return fmt.Sprintf("%q[%s h=%08x]", k.str, k.flags, k.hash)
}

// RawKey is a key as supplied by a caller: octets, an encoding flag and
// optionally a hash value computed earlier.
type RawKey struct {
	s      string
	flags  KeyFlags
	hash   uint32
	hashed bool
	// shared is set when the caller already holds an interned key for
	// these octets. It allows lookups to match by identity.
	shared *Key
}

// Bytes returns a RawKey for a sequence of Latin-1 octets.
func Bytes(s string) RawKey {
	return RawKey{s: s}
}

// UTF8 returns a RawKey for a UTF-8 encoded string.
func UTF8(s string) RawKey {
	return RawKey{s: s, flags: FlagUTF8}
}

// FromKey returns a RawKey addressing the same entry as k. When k is
// shared, lookups first try to match by pointer identity.
func FromKey(k *Key) RawKey {
	r := RawKey{s: k.str, flags: k.flags & storageMask, hash: k.hash, hashed: true}
	if k.Shared() {
		r.shared = k
	}
	return r
}

// WithHash returns a copy of r that carries a precomputed hash value. The
// hash must have been produced by the hash function of the table the key is
// used with.
func (r RawKey) WithHash(h uint32) RawKey {
	r.hash = h
	r.hashed = true
	return r
}

// String returns the key octets as supplied.
func (r RawKey) String() string { return r.s }

// canonical is a RawKey after normalization: the form that is hashed,
// compared and stored.
type canonical struct {
	s      string
	flags  KeyFlags // FlagUTF8 and FlagWasUTF8 only
	hash   uint32
	shared *Key
}

// HashFunc computes the hash value of canonical key octets.
type HashFunc func(key string, seed maphash.Seed) uint32

func defaultHash(key string, seed maphash.Seed) uint32 {
	return keycodec.Sum32(seed, key)
}

func checkKeyLen(n uint64) {
	if n > keycodec.MaxKeyLen {
		fatalf(ErrKeyTooLong, "key of %d bytes", n)
	}
}

// canonicalize normalizes r and computes its hash unless a usable one was
// supplied. A precomputed hash is discarded when the octets change.
func canonicalize(r RawKey, hash HashFunc, seed maphash.Seed) canonical {
	checkKeyLen(uint64(len(r.s)))
	c := canonical{s: r.s, hash: r.hash, shared: r.shared}
	s, isUTF8, downgraded := keycodec.Canonicalize(r.s, r.flags&FlagUTF8 != 0)
	if isUTF8 {
		c.flags |= FlagUTF8
	}
	if downgraded {
		c.s = s
		c.flags |= FlagWasUTF8
		c.shared = nil
		r.hashed = false
	}
	if !r.hashed {
		c.hash = hash(c.s, seed)
	}
	return c
}
