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

// Package embedding finds structure-preserving injective mappings of a
// circuit interaction graph into a backend topology.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"github.com/nebuly-ai/qpack/pkg/topology"
	"github.com/nebuly-ai/qpack/pkg/util"
	"golang.org/x/exp/slices"
	"k8s.io/apimachinery/pkg/util/sets"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnembeddable is returned when no mapping satisfies the problem under
	// the given reservations.
	ErrUnembeddable = errors.New("embedding: unembeddable")
	// ErrBudgetExhausted is returned when the search was stopped before reaching
	// a conclusion. It matches ErrUnembeddable with errors.Is.
	ErrBudgetExhausted = fmt.Errorf("%w: solver budget exhausted", ErrUnembeddable)
)

type Solver interface {
	Solve(ctx context.Context, problem Problem) (Mapping, error)
}

// Budget bounds a single Solve call. Zero values mean no limit.
type Budget struct {
	MaxSteps int64
	Timeout  time.Duration
}

// Problem is a single embedding instance.
type Problem struct {
	// Interaction is the graph of the abstract units and their required interactions.
	Interaction *topology.Graph
	// Topology is the graph of the physical units of the backend.
	Topology *topology.Graph
	// Reserved contains the physical units that cannot be used.
	Reserved sets.Int
	// Forced maps abstract units to the physical unit they must be mapped to.
	Forced map[int]int
	// Induced requires abstract units without a required interaction to be
	// mapped to non-adjacent physical units.
	Induced bool
}

// Key returns a canonical string identifying the problem.
func (p Problem) Key() string {
	sb := strings.Builder{}
	sb.WriteString(p.Topology.Key())
	sb.WriteString("|")
	sb.WriteString(p.Interaction.Key())
	sb.WriteString("|")
	for i, u := range p.Reserved.List() {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(strconv.Itoa(u))
	}
	sb.WriteString("|")
	for i, a := range util.GetSortedKeys(p.Forced) {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(fmt.Sprintf("%d>%d", a, p.Forced[a]))
	}
	if p.Induced {
		sb.WriteString("|induced")
	}
	return sb.String()
}

// Mapping assigns to each abstract unit, by index, a physical unit.
type Mapping []int

// Units returns the physical units used by the mapping in ascending order.
func (m Mapping) Units() []int {
	res := make([]int, len(m))
	copy(res, m)
	slices.Sort(res)
	return res
}

// Verify checks that the mapping is a valid solution of the problem.
func Verify(p Problem, m Mapping) error {
	if len(m) != p.Interaction.NumUnits() {
		return fmt.Errorf("mapping covers %d units, expected %d", len(m), p.Interaction.NumUnits())
	}
	seen := sets.NewInt()
	for a, u := range m {
		if !p.Topology.Contains(u) {
			return fmt.Errorf("unit %d mapped outside of topology (%d)", a, u)
		}
		if p.Reserved.Has(u) {
			return fmt.Errorf("unit %d mapped to reserved unit %d", a, u)
		}
		if seen.Has(u) {
			return fmt.Errorf("physical unit %d assigned more than once", u)
		}
		seen.Insert(u)
		if forced, ok := p.Forced[a]; ok && forced != u {
			return fmt.Errorf("unit %d is forced to %d but mapped to %d", a, forced, u)
		}
	}
	for _, e := range p.Interaction.Edges() {
		if !p.Topology.Adjacent(m[e.A], m[e.B]) {
			return fmt.Errorf("interaction %s mapped to non adjacent units %d-%d", e, m[e.A], m[e.B])
		}
	}
	if p.Induced {
		for a := range m {
			for b := a + 1; b < len(m); b++ {
				if !p.Interaction.Adjacent(a, b) && p.Topology.Adjacent(m[a], m[b]) {
					return fmt.Errorf("units %d and %d do not interact but are mapped to adjacent units", a, b)
				}
			}
		}
	}
	return nil
}
