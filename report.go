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
	"strings"

	gometrics "github.com/rcrowley/go-metrics"
)

// chainSampleSize bounds the number of chain lengths Stats samples.
const chainSampleSize = 1 << 14

// Fill returns the number of buckets with a non-empty chain.
func (t *Table[V]) Fill() int {
	if t.override != nil {
		used, _ := t.BucketReport()
		return used
	}
	var used int
	for _, e := range t.buckets {
		if e != nil {
			used++
		}
	}
	return used
}

// BucketReport returns the number of non-empty buckets and the size of the
// bucket array. Both are zero before the array is allocated.
func (t *Table[V]) BucketReport() (used, total int) {
	if t.override != nil {
		if r, ok := t.override.(OverrideReporter); ok {
			return r.BucketReport()
		}
		return 0, 0
	}
	return t.Fill(), len(t.buckets)
}

// Stats describes the shape of a table.
type Stats struct {
	Keys         int
	Placeholders int
	// Shared and Private count the keys taken from the intern table and
	// the keys owned by their entry.
	Shared  int
	Private int

	UsedBuckets  int
	TotalBuckets int

	// Chain length statistics over the non-empty buckets. They are
	// computed on a uniform sample for very large tables.
	LongestChain int64
	MeanChain    float64
	StdDevChain  float64
	P99Chain     float64
}

// Stats walks the table and summarizes its chains. An overridden table
// reports its keys as private and its buckets through OverrideReporter.
func (t *Table[V]) Stats() Stats {
	if t.override != nil {
		n := t.override.Len()
		s := Stats{Keys: n, Private: n}
		s.UsedBuckets, s.TotalBuckets = t.BucketReport()
		return s
	}
	s := Stats{
		Keys:         t.keys,
		Placeholders: t.placeholders,
		TotalBuckets: len(t.buckets),
	}
	h := gometrics.NewHistogram(gometrics.NewUniformSample(chainSampleSize))
	for _, e := range t.buckets {
		if e == nil {
			continue
		}
		s.UsedBuckets++
		var n int64
		for ; e != nil; e = e.next {
			n++
			if e.key.Shared() {
				s.Shared++
			} else {
				s.Private++
			}
		}
		h.Update(n)
	}
	if h.Count() > 0 {
		s.LongestChain = h.Max()
		s.MeanChain = h.Mean()
		s.StdDevChain = h.StdDev()
		s.P99Chain = h.Percentile(0.99)
	}
	return s
}

// String returns a formatted report.
func (s Stats) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Keys")
	addField("Keys", fmt.Sprintf("%d", s.Keys))
	addField("Placeholders", fmt.Sprintf("%d", s.Placeholders))
	addField("Shared", fmt.Sprintf("%d", s.Shared))
	addField("Private", fmt.Sprintf("%d", s.Private))

	addSection("Buckets")
	addField("Used", fmt.Sprintf("%d/%d", s.UsedBuckets, s.TotalBuckets))
	if s.TotalBuckets > 0 {
		addField("Fill", fmt.Sprintf("%.1f%%", 100*float64(s.UsedBuckets)/float64(s.TotalBuckets)))
	}

	addSection("Chains")
	addField("Longest", fmt.Sprintf("%d", s.LongestChain))
	addField("Mean", fmt.Sprintf("%.2f", s.MeanChain))
	addField("Std Dev", fmt.Sprintf("%.2f", s.StdDevChain))
	addField("P99", fmt.Sprintf("%.0f", s.P99Chain))

	return sb.String()
}
