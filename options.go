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
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

// Option configures a Table while it is being created.
type Option[V any] interface {
	apply(t *Table[V])
}

type hashOption[V any] struct {
	hash HashFunc
}

func (op hashOption[V]) apply(t *Table[V]) {
	t.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a
// Table[V]. Keys shared with other tables through the intern table are only
// deduplicated between tables using the same hash function.
func WithHash[V any](hash HashFunc) Option[V] {
	return hashOption[V]{hash}
}

// Allocator specifies an interface for allocating and releasing the bucket
// arrays used by a Table. The default allocator utilizes Go's builtin make()
// and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that bucket
// arrays be freed then Table.Close must be called in order to ensure
// FreeBuckets is called.
type Allocator[V any] interface {
	// AllocBuckets should return a slice equivalent to make([]*Entry[V], n).
	AllocBuckets(n int) []*Entry[V]

	// FreeBuckets can optional release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocBuckets.
	FreeBuckets(v []*Entry[V])
}

type defaultAllocator[V any] struct{}

func (defaultAllocator[V]) AllocBuckets(n int) []*Entry[V] {
	return make([]*Entry[V], n)
}

func (defaultAllocator[V]) FreeBuckets(v []*Entry[V]) {
}

type allocatorOption[V any] struct {
	allocator Allocator[V]
}

func (op allocatorOption[V]) apply(t *Table[V]) {
	t.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Table[V].
func WithAllocator[V any](allocator Allocator[V]) Option[V] {
	return allocatorOption[V]{allocator}
}

type internOption[V any] struct {
	intern *Intern
}

func (op internOption[V]) apply(t *Table[V]) {
	t.intern = op.intern
}

// WithIntern is an option to specify the intern table shared keys are
// taken from. It defaults to DefaultIntern().
func WithIntern[V any](i *Intern) Option[V] {
	return internOption[V]{i}
}

type chainPolicyOption[V any] struct {
	policy ChainPolicy
}

func (op chainPolicyOption[V]) apply(t *Table[V]) {
	t.policy = op.policy
}

// WithChainPolicy is an option to specify where new entries are linked into
// an occupied chain. It defaults to NewRandomChainPolicy().
func WithChainPolicy[V any](p ChainPolicy) Option[V] {
	return chainPolicyOption[V]{p}
}

type kindOption[V any] struct {
	kind Kind
}

func (op kindOption[V]) apply(t *Table[V]) {
	t.kind = op.kind
}

// WithKind is an option to specify what the table is used for. Only
// KindPlain tables stop sharing keys once they grow large.
func WithKind[V any](kind Kind) Option[V] {
	return kindOption[V]{kind}
}

type sharedKeysOption[V any] bool

func (op sharedKeysOption[V]) apply(t *Table[V]) {
	t.shareKeys = bool(op)
}

// WithSharedKeys is an option to enable or disable interning of new keys.
// Keys are interned by default.
func WithSharedKeys[V any](enabled bool) Option[V] {
	return sharedKeysOption[V](enabled)
}

type largeTableOption[V any] bool

func (op largeTableOption[V]) apply(t *Table[V]) {
	t.largeHeuristic = bool(op)
}

// WithLargeTableHeuristic is an option to enable or disable the heuristic
// that turns off key interning once a plain table holds more than
// largeTableKeys keys. It is enabled by default.
func WithLargeTableHeuristic[V any](enabled bool) Option[V] {
	return largeTableOption[V](enabled)
}

type metricsOption[V any] struct {
	set  *metrics.Set
	name string
}

func (op metricsOption[V]) apply(t *Table[V]) {
	t.metrics = newTableMetrics(op.set, op.name)
}

// WithMetrics is an option to export operation counters for the table to
// set, labeled with name.
func WithMetrics[V any](set *metrics.Set, name string) Option[V] {
	return metricsOption[V]{set, name}
}

type loggerOption[V any] struct {
	log logger.ILogger
}

func (op loggerOption[V]) apply(t *Table[V]) {
	t.log = op.log
}

// WithLogger is an option to specify where the table reports warnings. It
// defaults to the dragonboat logger named "hv".
func WithLogger[V any](l logger.ILogger) Option[V] {
	return loggerOption[V]{l}
}

type backrefsOption[V any] struct {
	registry *Backrefs
}

func (op backrefsOption[V]) apply(t *Table[V]) {
	t.backrefs = op.registry
}

// WithBackrefs is an option to specify the registry that records
// non-owning references to the table. It defaults to DefaultBackrefs().
func WithBackrefs[V any](r *Backrefs) Option[V] {
	return backrefsOption[V]{r}
}
