// Copyright 2025 Tom Barlow
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

package toolclient

import (
	"sync"

	"github.com/tombee/questd/pkg/quest"
)

// Directory resolves a worker name to its transport endpoint (§4.B).
// It is an injectable collaborator; Resolve must raise
// *quest.UnknownWorkerError on a miss so the executor can route the
// failure through the step's error mode without retrying.
type Directory interface {
	Resolve(name string) (endpoint string, err error)
}

// StaticDirectory is the default in-memory Directory implementation,
// loaded once at startup from configuration.
type StaticDirectory struct {
	mu        sync.RWMutex
	endpoints map[string]string
}

// NewStaticDirectory builds a Directory from a worker-name -> URL
// table, typically sourced from the worker_endpoints configuration
// key (§6).
func NewStaticDirectory(endpoints map[string]string) *StaticDirectory {
	d := &StaticDirectory{endpoints: make(map[string]string, len(endpoints))}
	for name, url := range endpoints {
		d.endpoints[name] = url
	}
	return d
}

// Resolve implements Directory.
func (d *StaticDirectory) Resolve(name string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	endpoint, ok := d.endpoints[name]
	if !ok {
		return "", &quest.UnknownWorkerError{WorkerName: name}
	}
	return endpoint, nil
}

// Register adds or replaces a worker's endpoint. Useful for tests and
// for dynamic worker registration at runtime.
func (d *StaticDirectory) Register(name, endpoint string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints[name] = endpoint
}

// Names returns the currently registered worker names.
func (d *StaticDirectory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.endpoints))
	for name := range d.endpoints {
		names = append(names, name)
	}
	return names
}
