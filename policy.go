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
	crand "crypto/rand"
	"encoding/binary"
	"time"

	"golang.org/x/exp/rand"
)

// ChainPolicy decides where a new entry is linked into an occupied chain and
// how the iterator permutes bucket order. Randomizing both makes it harder
// for an observer of iteration order to detect collisions.
type ChainPolicy interface {
	// InsertSecond reports whether an entry joining a non-empty chain is
	// linked after the current head instead of before it.
	InsertSecond() bool
	// TraversalSeed returns a value XORed with the bucket cursor to pick
	// the next bucket visited by the iterator.
	TraversalSeed() uint32
}

// HeadChainPolicy always links new entries at the head of their chain and
// visits buckets in index order. Useful for tests that need a deterministic
// layout.
type HeadChainPolicy struct{}

// InsertSecond implements ChainPolicy.
func (HeadChainPolicy) InsertSecond() bool { return false }

// TraversalSeed implements ChainPolicy.
func (HeadChainPolicy) TraversalSeed() uint32 { return 0 }

type randomChainPolicy struct {
	rng *rand.Rand
}

// NewRandomChainPolicy returns a ChainPolicy driven by a PRNG seeded with
// seed. A zero seed picks one from the system's entropy source.
func NewRandomChainPolicy(seed uint64) ChainPolicy {
	if seed == 0 {
		seed = generateSeed()
	}
	return &randomChainPolicy{rng: rand.New(rand.NewSource(seed))}
}

func (p *randomChainPolicy) InsertSecond() bool {
	return p.rng.Uint64()&1 != 0
}

func (p *randomChainPolicy) TraversalSeed() uint32 {
	return p.rng.Uint32()
}

// generateSeed returns a seed from the system's entropy source, falling back
// to the clock.
func generateSeed() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}
