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
	"io"
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
)

func BenchmarkTableIter(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapIter))
	b.Run("impl=hv", benchSizes(benchmarkTableIter))
}

func BenchmarkTableFetchHit(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapFetchHit))
	b.Run("impl=hv", func(b *testing.B) {
		b.Run("key=Raw", benchSizes(benchmarkTableFetchHit))
		b.Run("key=Shared", benchSizes(benchmarkTableFetchHitShared))
	})
}

func BenchmarkTableFetchMiss(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapFetchMiss))
	b.Run("impl=hv", benchSizes(benchmarkTableFetchMiss))
}

func BenchmarkTableStoreGrow(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapStoreGrow))
	b.Run("impl=hv", func(b *testing.B) {
		b.Run("keys=shared", benchSizes(benchmarkTableStoreGrow(true)))
		b.Run("keys=private", benchSizes(benchmarkTableStoreGrow(false)))
	})
}

func BenchmarkTableStorePresize(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapStorePresize))
	b.Run("impl=hv", benchSizes(benchmarkTableStorePresize))
}

func BenchmarkTableStoreDelete(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapStoreDelete))
	b.Run("impl=hv", benchSizes(benchmarkTableStoreDelete))
}

func benchSizes(f func(b *testing.B, n int, keys func(start, end int) []string)) func(*testing.B) {
	var cases = []int{
		6, 12, 18, 24, 30,
		64,
		128,
		256,
		512,
		1024,
		2048,
		4096,
		8192,
		1 << 16,
	}

	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n, genKeys) })
		}
	}
}

func genKeys(start, end int) []string {
	keys := make([]string, end-start)
	for i := range keys {
		keys[i] = strconv.Itoa(start + i)
	}
	return keys
}

// newBenchTable returns a table with a private intern table and the
// deterministic chain policy.
func newBenchTable(n int, options ...Option[int]) *Table[int] {
	options = append([]Option[int]{
		WithIntern[int](NewIntern()),
		WithChainPolicy[int](HeadChainPolicy{}),
	}, options...)
	return New[int](n, options...)
}

func benchmarkRuntimeMapIter(b *testing.B, n int, genKeys func(start, end int) []string) {
	m := make(map[string]int, n)
	for i, k := range genKeys(0, n) {
		m[k] = i
	}
	b.ResetTimer()
	var tmp int
	for i := 0; i < b.N; i++ {
		for k, v := range m {
			tmp += len(k) + v
		}
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, tmp)
}

func benchmarkTableIter(b *testing.B, n int, genKeys func(start, end int) []string) {
	m := newBenchTable(n)
	for i, k := range genKeys(0, n) {
		m.Store(Bytes(k), i)
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	var tmp int
	for i := 0; i < b.N; i++ {
		m.All(func(k *Key, v int) bool {
			tmp += k.Len() + v
			return true
		})
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, tmp)
}

func benchmarkRuntimeMapFetchMiss(b *testing.B, n int, genKeys func(start, end int) []string) {
	m := make(map[string]int)
	miss := genKeys(-n, 0)
	for i, k := range genKeys(0, n) {
		m[k] = i
	}
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m[miss[i%len(miss)]]
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkTableFetchMiss(b *testing.B, n int, genKeys func(start, end int) []string) {
	m := newBenchTable(0)
	miss := genKeys(-n, 0)
	for i, k := range genKeys(0, n) {
		m.Store(Bytes(k), i)
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Fetch(Bytes(miss[i%len(miss)]))
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapFetchHit(b *testing.B, n int, genKeys func(start, end int) []string) {
	m := make(map[string]int, n)
	for i, k := range genKeys(0, n) {
		m[k] = i
	}

	// Go's builtin map has an optimization to avoid string comparisons if
	// there is pointer equality. Defeat this optimization to get a better
	// apples-to-apples comparison.
	keys := genKeys(0, n)

	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m[keys[i%n]]
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkTableFetchHit(b *testing.B, n int, genKeys func(start, end int) []string) {
	m := newBenchTable(n)
	for i, k := range genKeys(0, n) {
		m.Store(Bytes(k), i)
	}
	keys := genKeys(0, n)
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Fetch(Bytes(keys[i%n]))
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

// benchmarkTableFetchHitShared looks keys up by their interned *Key with a
// precomputed hash, as a caller holding a shared key would.
func benchmarkTableFetchHitShared(b *testing.B, n int, genKeys func(start, end int) []string) {
	m := newBenchTable(n, WithLargeTableHeuristic[int](false))
	keys := make([]RawKey, n)
	for i, k := range genKeys(0, n) {
		m.Store(Bytes(k), i)
		keys[i] = FromKey(m.Lookup(Bytes(k)).Key())
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Fetch(keys[i%n])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapStoreGrow(b *testing.B, n int, genKeys func(start, end int) []string) {
	keys := genKeys(0, n)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := make(map[string]int)
		for j, k := range keys {
			m[k] = j
		}
	}
}

func benchmarkTableStoreGrow(shared bool) func(b *testing.B, n int, genKeys func(start, end int) []string) {
	return func(b *testing.B, n int, genKeys func(start, end int) []string) {
		keys := genKeys(0, n)
		intern := NewIntern()
		cs := perfbench.Open(b)
		b.ResetTimer()
		cs.Reset()
		for i := 0; i < b.N; i++ {
			m := New[int](0, WithIntern[int](intern), WithSharedKeys[int](shared),
				WithLargeTableHeuristic[int](false))
			for j, k := range keys {
				m.Store(Bytes(k), j)
			}
			m.Close()
		}
	}
}

func benchmarkRuntimeMapStorePresize(b *testing.B, n int, genKeys func(start, end int) []string) {
	keys := genKeys(0, n)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := make(map[string]int, n)
		for j, k := range keys {
			m[k] = j
		}
	}
}

func benchmarkTableStorePresize(b *testing.B, n int, genKeys func(start, end int) []string) {
	keys := genKeys(0, n)
	intern := NewIntern()
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	for i := 0; i < b.N; i++ {
		m := New[int](n, WithIntern[int](intern))
		for j, k := range keys {
			m.Store(Bytes(k), j)
		}
		m.Close()
	}
}

func benchmarkRuntimeMapStoreDelete(b *testing.B, n int, genKeys func(start, end int) []string) {
	m := make(map[string]int, n)
	keys := genKeys(0, n)
	for j, k := range keys {
		m[k] = j
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		j := i % n
		delete(m, keys[j])
		m[keys[j]] = j
	}
}

func benchmarkTableStoreDelete(b *testing.B, n int, genKeys func(start, end int) []string) {
	m := newBenchTable(n)
	keys := genKeys(0, n)
	for j, k := range keys {
		m.Store(Bytes(k), j)
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	cs.Reset()
	for i := 0; i < b.N; i++ {
		j := i % n
		m.Delete(Bytes(keys[j]), true)
		m.Store(Bytes(keys[j]), j)
	}
}
