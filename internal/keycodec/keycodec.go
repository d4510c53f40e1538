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

// Package keycodec canonicalizes hash keys and computes their hash values.
//
// Keys are flat octet sequences carrying a flag that says whether the octets
// are UTF-8 or Latin-1. To make lookups cheap, a UTF-8 key whose code points
// all fit in a single byte is normalized to its Latin-1 form before it is
// hashed or compared. The caller records that the key was downgraded so the
// original form can be handed back on iteration (see Upgrade).
//
// Normalization is opportunistic: a key containing any code point above 0xFF
// stays UTF-8, so the same logical string may be stored under two different
// encodings depending on how it was supplied.
package keycodec

import (
	"hash/maphash"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// MaxKeyLen is the largest key length, in bytes, accepted by a table.
const MaxKeyLen = 1<<31 - 1

// processSeed is chosen once per process. Hash values are only meaningful
// within a single run.
var processSeed = maphash.MakeSeed()

// ProcessSeed returns the seed used by Sum32 when no other seed is supplied.
func ProcessSeed() maphash.Seed {
	return processSeed
}

// Sum32 hashes s with the given seed and folds the result to 32 bits.
func Sum32(seed maphash.Seed, s string) uint32 {
	h := maphash.String(seed, s)
	return uint32(h) ^ uint32(h>>32)
}

// Canonicalize returns the canonical form of a key. For a key flagged as
// UTF-8 (isUTF8) it attempts to downgrade to Latin-1:
//
//   - pure ASCII input is returned unchanged and reported as not UTF-8, with
//     downgraded false since no byte changed;
//   - input whose code points are all <= 0xFF is converted, reported as not
//     UTF-8 and downgraded;
//   - anything else, including malformed UTF-8, is returned unchanged and
//     still UTF-8.
//
// Keys not flagged as UTF-8 are already canonical.
func Canonicalize(s string, isUTF8 bool) (out string, outUTF8 bool, downgraded bool) {
	if !isUTF8 {
		return s, false, false
	}
	if isASCII(s) {
		return s, false, false
	}
	if !utf8.ValidString(s) {
		return s, true, false
	}
	b, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil {
		// At least one code point above 0xFF.
		return s, true, false
	}
	return b, false, true
}

// Upgrade converts a Latin-1 key back to UTF-8. It is the inverse of a
// downgrading Canonicalize.
func Upgrade(s string) string {
	if isASCII(s) {
		return s
	}
	out, err := charmap.ISO8859_1.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
