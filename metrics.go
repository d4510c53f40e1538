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

	"github.com/VictoriaMetrics/metrics"
)

// tableMetrics holds the counters of one table. A nil *tableMetrics counts
// nothing.
type tableMetrics struct {
	stores       *metrics.Counter
	inserts      *metrics.Counter
	deletes      *metrics.Counter
	lazyDeletes  *metrics.Counter
	splits       *metrics.Counter
	placeholders *metrics.Counter
}

func newTableMetrics(set *metrics.Set, name string) *tableMetrics {
	if set == nil {
		return nil
	}
	label := fmt.Sprintf("{table=%q}", name)
	return &tableMetrics{
		stores:       set.GetOrCreateCounter("hv_stores_total" + label),
		inserts:      set.GetOrCreateCounter("hv_inserts_total" + label),
		deletes:      set.GetOrCreateCounter("hv_deletes_total" + label),
		lazyDeletes:  set.GetOrCreateCounter("hv_lazy_deletes_total" + label),
		splits:       set.GetOrCreateCounter("hv_splits_total" + label),
		placeholders: set.GetOrCreateCounter("hv_placeholders_total" + label),
	}
}

func (m *tableMetrics) incStore() {
	if m != nil {
		m.stores.Inc()
	}
}

func (m *tableMetrics) incInsert() {
	if m != nil {
		m.inserts.Inc()
	}
}

func (m *tableMetrics) incDelete() {
	if m != nil {
		m.deletes.Inc()
	}
}

func (m *tableMetrics) incLazyDelete() {
	if m != nil {
		m.lazyDeletes.Inc()
	}
}

func (m *tableMetrics) incSplit() {
	if m != nil {
		m.splits.Inc()
	}
}

func (m *tableMetrics) incPlaceholder() {
	if m != nil {
		m.placeholders.Inc()
	}
}

type internMetrics struct {
	hits     *metrics.Counter
	misses   *metrics.Counter
	releases *metrics.Counter
}

func newInternMetrics(set *metrics.Set, name string, size func() int) *internMetrics {
	if set == nil {
		return nil
	}
	label := fmt.Sprintf("{intern=%q}", name)
	set.GetOrCreateGauge("hv_intern_keys"+label, func() float64 {
		return float64(size())
	})
	return &internMetrics{
		hits:     set.GetOrCreateCounter("hv_intern_hits_total" + label),
		misses:   set.GetOrCreateCounter("hv_intern_misses_total" + label),
		releases: set.GetOrCreateCounter("hv_intern_releases_total" + label),
	}
}

func (m *internMetrics) incHit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *internMetrics) incMiss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *internMetrics) incRelease() {
	if m != nil {
		m.releases.Inc()
	}
}
