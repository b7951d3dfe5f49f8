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

package backend

import (
	"context"
	"github.com/nebuly-ai/qpack/pkg/circuit"
	"github.com/nebuly-ai/qpack/pkg/topology"
)

// Handle identifies a circuit execution on a backend.
type Handle string

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsFinal returns true if the execution cannot change status anymore.
func (s Status) IsFinal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Counts maps outcome bit patterns to the number of times they occurred.
type Counts map[string]int

func (c Counts) Total() int {
	var res int
	for _, v := range c {
		res += v
	}
	return res
}

// Target is the part of a backend needed for planning: its identity, its
// connectivity and its relative cost.
type Target interface {
	Name() string
	Topology() *topology.Graph
	Cost() float64
}

// Backend is an execution service that runs circuits on a Target.
type Backend interface {
	Target
	Submit(ctx context.Context, c circuit.Circuit) (Handle, error)
	Poll(ctx context.Context, handle Handle) (Status, error)
	Fetch(ctx context.Context, handle Handle) (Counts, error)
	Cancel(ctx context.Context, handle Handle) error
}

var _ Target = target{}

type target struct {
	name     string
	topology *topology.Graph
	cost     float64
}

// NewTarget returns a planning-only Target. A cost lower or equal to zero defaults to 1.
func NewTarget(name string, topology *topology.Graph, cost float64) Target {
	if cost <= 0 {
		cost = 1
	}
	return target{
		name:     name,
		topology: topology,
		cost:     cost,
	}
}

func (t target) Name() string {
	return t.name
}

func (t target) Topology() *topology.Graph {
	return t.topology
}

func (t target) Cost() float64 {
	return t.cost
}
