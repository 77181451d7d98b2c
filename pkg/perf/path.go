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

	"github.com/prometheus/procfs"
)

// PathForPID returns the perf-map path of another process, resolved
// through its /proc root so that processes whose /tmp is a container
// mount are found on the host too. The file name uses the innermost
// namespace pid, since that is the pid the runtime sees itself as when
// it writes the map.
//
// The returned path is input for ReadPerfMap; whether the runtime has
// actually written a map there is a separate question.
func PathForPID(pid int) (string, error) {
	p, err := procfs.NewProc(pid)
	if err != nil {
		return "", fmt.Errorf("%w: %d", ErrProcNotFound, pid)
	}
	status, err := p.NewStatus()
	if err != nil {
		return "", fmt.Errorf("reading status of pid %d: %w", pid, err)
	}

	nsPid := uint64(pid)
	if n := len(status.NSpids); n > 0 {
		nsPid = status.NSpids[n-1]
	}
	return fmt.Sprintf("/proc/%d/root/tmp/perf-%d.map", pid, nsPid), nil
}
