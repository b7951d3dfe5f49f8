/*
 * Copyright 2023 nebuly.com.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package mocks

import (
	"context"
	"fmt"
	"github.com/nebuly-ai/qpack/pkg/backend"
	"github.com/nebuly-ai/qpack/pkg/circuit"
	"github.com/nebuly-ai/qpack/pkg/topology"
	"strings"
	"sync"
)

var _ backend.Backend = &MockedBackend{}

// MockedBackend is an in-memory Backend. Every submitted circuit completes
// after PollsBeforeDone polls with the counts returned by CountsFunc.
type MockedBackend struct {
	BackendName     string
	Graph           *topology.Graph
	BackendCost     float64
	CountsFunc      func(c circuit.Circuit) backend.Counts
	SubmitError     error
	FinalStatus     backend.Status
	PollsBeforeDone int

	mtx       sync.Mutex
	submitted map[backend.Handle]circuit.Circuit
	polls     map[backend.Handle]int
	cancelled map[backend.Handle]bool
	NumSubmit int
	NumPoll   int
	NumFetch  int
	NumCancel int
}

func NewMockedBackend(name string, graph *topology.Graph) *MockedBackend {
	return &MockedBackend{
		BackendName: name,
		Graph:       graph,
		BackendCost: 1,
		CountsFunc:  ClassicalCounts(100),
		FinalStatus: backend.StatusDone,
	}
}

func (b *MockedBackend) Name() string {
	return b.BackendName
}

func (b *MockedBackend) Topology() *topology.Graph {
	return b.Graph
}

func (b *MockedBackend) Cost() float64 {
	return b.BackendCost
}

func (b *MockedBackend) Submit(_ context.Context, c circuit.Circuit) (backend.Handle, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.NumSubmit++
	if b.SubmitError != nil {
		return "", b.SubmitError
	}
	if err := c.Validate(); err != nil {
		return "", err
	}
	if c.NumUnits > b.Graph.NumUnits() {
		return "", fmt.Errorf("circuit %q has %d units, backend has %d", c.Name, c.NumUnits, b.Graph.NumUnits())
	}
	if b.submitted == nil {
		b.submitted = make(map[backend.Handle]circuit.Circuit)
		b.polls = make(map[backend.Handle]int)
		b.cancelled = make(map[backend.Handle]bool)
	}
	handle := backend.Handle(fmt.Sprintf("%s-%d", b.BackendName, len(b.submitted)))
	b.submitted[handle] = c.Clone()
	return handle, nil
}

func (b *MockedBackend) Poll(_ context.Context, handle backend.Handle) (backend.Status, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.NumPoll++
	if _, ok := b.submitted[handle]; !ok {
		return "", fmt.Errorf("unknown handle %s", handle)
	}
	if b.cancelled[handle] {
		return backend.StatusCancelled, nil
	}
	b.polls[handle]++
	if b.polls[handle] <= b.PollsBeforeDone {
		return backend.StatusRunning, nil
	}
	return b.FinalStatus, nil
}

func (b *MockedBackend) Fetch(_ context.Context, handle backend.Handle) (backend.Counts, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.NumFetch++
	c, ok := b.submitted[handle]
	if !ok {
		return nil, fmt.Errorf("unknown handle %s", handle)
	}
	return b.CountsFunc(c), nil
}

func (b *MockedBackend) Cancel(_ context.Context, handle backend.Handle) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.NumCancel++
	if _, ok := b.submitted[handle]; !ok {
		return fmt.Errorf("unknown handle %s", handle)
	}
	b.cancelled[handle] = true
	return nil
}

// Submitted returns the circuits received by the backend.
func (b *MockedBackend) Submitted() []circuit.Circuit {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	res := make([]circuit.Circuit, 0, len(b.submitted))
	for i := 0; i < len(b.submitted); i++ {
		res = append(res, b.submitted[backend.Handle(fmt.Sprintf("%s-%d", b.BackendName, i))])
	}
	return res
}

// ClassicalCounts runs the circuit on classical bits, starting from all
// zeros: "x" flips a unit, "cx" flips the second unit if the first is set and
// "measure" copies units to bits. Every other instruction is ignored. All the
// shots return the same outcome, formatted with bit 0 as the rightmost
// character.
func ClassicalCounts(shots int) func(c circuit.Circuit) backend.Counts {
	return func(c circuit.Circuit) backend.Counts {
		units := make([]bool, c.NumUnits)
		bits := make([]bool, c.NumBits)
		for _, ins := range c.Instructions {
			switch ins.Name {
			case "x":
				for _, u := range ins.Units {
					units[u] = !units[u]
				}
			case "cx":
				if units[ins.Units[0]] {
					units[ins.Units[1]] = !units[ins.Units[1]]
				}
			case "measure":
				for i, u := range ins.Units {
					bits[ins.Bits[i]] = units[u]
				}
			}
		}
		var sb strings.Builder
		for i := len(bits) - 1; i >= 0; i-- {
			if bits[i] {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
		return backend.Counts{sb.String(): shots}
	}
}
