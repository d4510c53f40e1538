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

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var log = logger.GetLogger("hvtool")

// maxLineLen bounds the length of a key read from a file.
const maxLineLen = 1 << 20

var loadCmd = &cobra.Command{
	Use:   "load FILE...",
	Short: "Load key files into tables and report on them",
	Long: `Load every FILE into its own table, one key per line, and print a report
of each table. Files are loaded in parallel; each gets its own intern table.
Use - to read keys from standard input.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLoad,
}

func init() {
	key := "workers"
	loadCmd.Flags().Int(key, runtime.GOMAXPROCS(0), WrapString("The number of files loaded concurrently"))

	key = "utf8"
	loadCmd.Flags().Bool(key, true, WrapString("Treat keys as UTF-8 text rather than raw bytes"))

	key = "shared-keys"
	loadCmd.Flags().Bool(key, true, WrapString("Take keys from the intern table"))

	key = "large-table-heuristic"
	loadCmd.Flags().Bool(key, true, WrapString("Stop interning keys once a plain table grows past 42 keys"))

	key = "kind"
	loadCmd.Flags().String(key, "plain", WrapString("The kind of table to build (plain, object, symbols)"))

	key = "delete-every"
	loadCmd.Flags().Int(key, 0, WrapString("After loading, delete every Nth key while iterating over the table (0 disables)"))

	key = "restrict"
	loadCmd.Flags().Bool(key, false, WrapString("Restrict the tables after loading, so that deleted keys become placeholders"))

	key = "metrics"
	loadCmd.Flags().Bool(key, false, WrapString("Print table and intern counters in Prometheus text format"))
}

type loadConfig struct {
	utf8                bool
	sharedKeys          bool
	largeTableHeuristic bool
	kind                hv.Kind
	deleteEvery         int
	restrict            bool
}

type shardResult struct {
	name    string
	table   *hv.Table[int]
	stats   hv.Stats
	loaded  int
	deleted int
}

func runLoad(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(viper.GetString("kind"))
	if err != nil {
		return err
	}
	conf := loadConfig{
		utf8:                viper.GetBool("utf8"),
		sharedKeys:          viper.GetBool("shared-keys"),
		largeTableHeuristic: viper.GetBool("large-table-heuristic"),
		kind:                kind,
		deleteEvery:         viper.GetInt("delete-every"),
		restrict:            viper.GetBool("restrict"),
	}
	var set *metrics.Set
	if viper.GetBool("metrics") {
		set = metrics.NewSet()
	}

	results := make([]shardResult, len(args))
	g, ctx := errgroup.WithContext(cmd.Context())
	if w := viper.GetInt("workers"); w > 0 {
		g.SetLimit(w)
	}
	for i, path := range args {
		g.Go(func() error {
			r, closeFn, err := openKeys(path)
			if err != nil {
				return err
			}
			defer closeFn()
			res, err := loadShard(ctx, r, shardName(path), conf, set)
			if err != nil {
				return errors.Wrapf(err, "loading %s", path)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, res := range results {
			if res.table != nil {
				res.table.Close()
			}
		}
		return err
	}

	out := cmd.OutOrStdout()
	for _, res := range results {
		fmt.Fprint(out, formatResult(res))
	}
	if set != nil {
		fmt.Fprintln(out)
		set.WritePrometheus(out)
	}
	for _, res := range results {
		res.table.Close()
	}
	return nil
}

func openKeys(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening %s", path)
	}
	return f, func() { _ = f.Close() }, nil
}

func shardName(path string) string {
	if path == "-" {
		return "stdin"
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// loadShard builds a table from the keys read from r, one per line. The value
// of each key is the number of the line it was last seen on. The table is
// owned by the result and must be closed by the caller.
func loadShard(
	ctx context.Context, r io.Reader, name string, conf loadConfig, set *metrics.Set,
) (shardResult, error) {
	intern := hv.NewIntern()
	intern.SetLogger(log)
	options := []hv.Option[int]{
		hv.WithIntern[int](intern),
		hv.WithSharedKeys[int](conf.sharedKeys),
		hv.WithLargeTableHeuristic[int](conf.largeTableHeuristic),
		hv.WithKind[int](conf.kind),
		hv.WithLogger[int](log),
	}
	if set != nil {
		intern.RegisterMetrics(set, name)
		options = append(options, hv.WithMetrics[int](set, name))
	}
	t := hv.New[int](0, options...)
	res := shardResult{name: name, table: t}

	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64<<10), maxLineLen)
	var line int
	for s.Scan() {
		line++
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				t.Close()
				return shardResult{}, err
			}
		}
		key := s.Text()
		if key == "" {
			continue
		}
		if conf.utf8 {
			t.Store(hv.UTF8(key), line)
		} else {
			t.Store(hv.Bytes(key), line)
		}
		res.loaded++
	}
	if err := s.Err(); err != nil {
		t.Close()
		return shardResult{}, errors.Wrap(err, "reading keys")
	}
	log.Infof("%s: loaded %d keys from %d lines", name, t.Len(), line)

	if conf.restrict {
		t.MarkRestricted()
	}
	if conf.deleteEvery > 0 {
		var n int
		t.All(func(k *hv.Key, _ int) bool {
			n++
			if n%conf.deleteEvery == 0 {
				t.Delete(hv.FromKey(k), true)
				res.deleted++
			}
			return true
		})
		log.Infof("%s: deleted %d keys, %d placeholders", name, res.deleted, t.Placeholders())
	}

	res.stats = t.Stats()
	return res, nil
}

func formatResult(res shardResult) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n%s\n", strings.ToUpper("Table "+res.name)))
	sb.WriteString(fmt.Sprintf("  %-22s: %d\n", "Lines Loaded", res.loaded))
	sb.WriteString(fmt.Sprintf("  %-22s: %d\n", "Deleted", res.deleted))
	sb.WriteString(res.stats.String())
	return sb.String()
}
