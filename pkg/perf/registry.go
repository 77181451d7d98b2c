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
	"sync"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// The default resolver is process-wide and opt-in. Enabling it only
// flips a flag; construction, and the watcher goroutine it spawns, is
// deferred until the first DefaultResolver call so an enabled but
// unused feature costs nothing.
var defaultResolver struct {
	enabled atomic.Bool

	mtx    sync.Mutex
	logger log.Logger
	reg    prometheus.Registerer
	r      *Resolver
}

// EnableDefaultResolver opts the process into perf-map symbolization.
// Calling it again is a no-op; the first call's logger and registerer
// win. Both may be nil, falling back to a nop logger and an unexported
// registry.
func EnableDefaultResolver(logger log.Logger, reg prometheus.Registerer) {
	defaultResolver.mtx.Lock()
	defer defaultResolver.mtx.Unlock()
	if defaultResolver.enabled.Load() {
		return
	}
	defaultResolver.logger = logger
	defaultResolver.reg = reg
	defaultResolver.enabled.Store(true)
}

// DefaultResolver returns the process-wide resolver, constructing it
// on the first call after EnableDefaultResolver. Until then it returns
// (nil, nil): a disabled feature is not an error.
//
// A construction failure is returned to the caller and retried on the
// next call rather than poisoning the resolver permanently; the usual
// causes, like watcher setup, can be transient.
func DefaultResolver() (*Resolver, error) {
	if !defaultResolver.enabled.Load() {
		return nil, nil
	}

	defaultResolver.mtx.Lock()
	defer defaultResolver.mtx.Unlock()
	if defaultResolver.r != nil {
		return defaultResolver.r, nil
	}

	r, err := NewResolver(defaultResolver.logger, defaultResolver.reg, "")
	if err != nil {
		return nil, err
	}
	defaultResolver.r = r
	return r, nil
}

// resetDefaultResolver tears the process-wide state down; tests only.
func resetDefaultResolver() error {
	defaultResolver.mtx.Lock()
	defer defaultResolver.mtx.Unlock()

	var err error
	if defaultResolver.r != nil {
		err = defaultResolver.r.Close()
		defaultResolver.r = nil
	}
	defaultResolver.logger = nil
	defaultResolver.reg = nil
	defaultResolver.enabled.Store(false)
	return err
}
