// Copyright 2022-2024 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package perf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"

	"github.com/parca-dev/backtrace/pkg/backtrace"
	"github.com/parca-dev/backtrace/pkg/cache"
)

const (
	// defaultDebounce coalesces the bursts of write events a runtime
	// produces while appending to its perf map, so a burst costs one
	// reparse instead of one per write.
	defaultDebounce = time.Second

	lookupCacheSize = 4096
)

// snapshot is one immutable view of the perf map, replaced wholesale
// on reparse. m is nil when the last parse failed or the file was
// absent; gen distinguishes lookup-cache entries of different file
// versions.
type snapshot struct {
	m   *Map
	gen uint64
}

type resolverMetrics struct {
	reloads     *prometheus.CounterVec
	watchErrors prometheus.Counter
}

func newResolverMetrics(reg prometheus.Registerer) *resolverMetrics {
	return &resolverMetrics{
		reloads: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "perf_map_reloads_total",
			Help: "Total number of perf map reparse attempts.",
		}, []string{"result"}),
		watchErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "perf_map_watch_errors_total",
			Help: "Total number of perf map filesystem watch errors.",
		}),
	}
}

// Resolver resolves instruction addresses against the perf map of the
// current process, keeping the table current as the producing runtime
// rewrites it.
//
// The current snapshot sits behind an atomic pointer: Resolve never
// blocks on file I/O or on a reparse in progress, and a reader
// observes either the fully-old or the fully-new table, never a mix.
// Exactly one background goroutine consumes filesystem events and is
// the only writer of the snapshot.
type Resolver struct {
	logger  log.Logger
	metrics *resolverMetrics

	path     string
	debounce time.Duration

	current     *atomic.Pointer[snapshot]
	lookupCache *cache.LRUCache[lookupKey, string]

	watcher *fsnotify.Watcher
	done    chan struct{}
}

type lookupKey struct {
	gen  uint64
	addr uint64
}

// NewResolver returns a resolver for the perf map of the current
// process, <tmpDir>/perf-<pid>.map, creating the file if the producing
// runtime has not written it yet. An empty tmpDir means the system
// temporary directory.
//
// The initial parse is best effort: an absent or malformed file yields
// an empty table, not an error. Only failure to set up the filesystem
// watch fails construction.
func NewResolver(logger log.Logger, reg prometheus.Registerer, tmpDir string) (*Resolver, error) {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	path := filepath.Join(tmpDir, fmt.Sprintf("perf-%d.map", os.Getpid()))
	return newResolver(logger, reg, path, defaultDebounce)
}

func newResolver(logger log.Logger, reg prometheus.Registerer, path string, debounce time.Duration) (*Resolver, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	if err := touch(path); err != nil {
		return nil, fmt.Errorf("create perf map file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %q: %w", path, err)
	}

	r := &Resolver{
		logger:   log.With(logger, "component", "perf_map_resolver"),
		metrics:  newResolverMetrics(reg),
		path:     path,
		debounce: debounce,
		current:  atomic.NewPointer(&snapshot{}),
		lookupCache: cache.NewLRUCache[lookupKey, string](
			prometheus.WrapRegistererWith(prometheus.Labels{"cache": "perf_map_lookup"}, reg),
			lookupCacheSize,
		),
		watcher: watcher,
		done:    make(chan struct{}),
	}
	r.reload(0)

	go r.run()
	return r, nil
}

// Path returns the watched perf map file path.
func (r *Resolver) Path() string {
	return r.path
}

// Resolve returns the symbol whose range contains addr. Only the name
// is ever populated: perf map entries carry no address, line or file
// information. Safe for concurrent use, and never blocks on the
// background reparse.
func (r *Resolver) Resolve(addr uint64) (backtrace.Symbol, bool) {
	snap := r.current.Load()
	if snap.m == nil {
		return backtrace.Symbol{}, false
	}

	// The cache key carries the snapshot generation, so entries of a
	// replaced table can never satisfy a lookup against the new one.
	key := lookupKey{gen: snap.gen, addr: addr}
	if name, ok := r.lookupCache.Get(key); ok {
		if name == "" {
			return backtrace.Symbol{}, false
		}
		return backtrace.Symbol{Name: []byte(name)}, true
	}

	name, err := snap.m.Lookup(addr)
	if err != nil {
		// Negative results are cached too; the parser guarantees
		// names are never empty.
		r.lookupCache.Add(key, "")
		return backtrace.Symbol{}, false
	}
	r.lookupCache.Add(key, name)
	return backtrace.Symbol{Name: []byte(name)}, true
}

// Close stops the background watcher and waits for it to exit. The
// process-wide default resolver is never closed; Close exists for
// embedders and tests that construct their own.
func (r *Resolver) Close() error {
	err := r.watcher.Close()
	<-r.done
	if cerr := r.lookupCache.Close(); err == nil {
		err = cerr
	}
	return err
}

// run is the only writer of the snapshot. It blocks on filesystem
// events for the resolver's lifetime; that is fine, it is on nobody's
// critical path.
func (r *Resolver) run() {
	defer close(r.done)

	var (
		timer  *time.Timer
		timerC <-chan time.Time
		gen    uint64
	)
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				// Some runtimes replace the map wholesale instead of
				// appending. The watch follows the old inode, so it
				// has to be re-established on the new file.
				if err := r.rewatch(); err != nil {
					r.metrics.watchErrors.Inc()
					level.Warn(r.logger).Log("msg", "re-establishing perf map watch failed", "path", r.path, "err", err)
				}
			}
			if timerC == nil {
				timer = time.NewTimer(r.debounce)
				timerC = timer.C
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			// A dropped or errored event only delays the next
			// reparse; the loop must survive it.
			r.metrics.watchErrors.Inc()
			level.Warn(r.logger).Log("msg", "perf map watch error", "path", r.path, "err", err)
		case <-timerC:
			timer.Stop()
			timer, timerC = nil, nil
			gen++
			r.reload(gen)
		}
	}
}

// reload reparses the file and publishes a new snapshot. A parse
// failure publishes an empty one: a perf map mid-rewrite must yield no
// symbols rather than stale or partial ones.
func (r *Resolver) reload(gen uint64) {
	m, err := ReadPerfMap(r.path)
	if err != nil {
		r.metrics.reloads.WithLabelValues("error").Inc()
		level.Debug(r.logger).Log("msg", "perf map parse failed", "path", r.path, "err", err)
		r.current.Store(&snapshot{gen: gen})
		return
	}
	r.metrics.reloads.WithLabelValues("success").Inc()
	r.current.Store(&snapshot{m: m, gen: gen})
}

func (r *Resolver) rewatch() error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = 2 * time.Second
	return backoff.Retry(func() error {
		if err := touch(r.path); err != nil {
			return err
		}
		return r.watcher.Add(r.path)
	}, bo)
}

// touch creates the file if it does not exist; the producing runtime
// may not have written it yet and fsnotify cannot watch a missing
// file.
func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
