// Copyright 2023-2024 The Parca Authors
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

//go:build !framepointer

package backtrace

// NewTracer returns the stack walker selected at build time. The
// default is the portable runtime-assisted walker; building with the
// framepointer tag selects the frame-pointer chain walker instead.
func NewTracer() Tracer {
	return goTracer{}
}
