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

package core

import (
	"fmt"
	"github.com/nebuly-ai/qpack/pkg/circuit"
	"github.com/nebuly-ai/qpack/pkg/topology"
	"github.com/nebuly-ai/qpack/pkg/util"
)

// Request is a circuit ready to be placed: idle units are removed and the
// forced layout refers to the remaining units.
type Request struct {
	// Index is the position of the circuit in the input batch
	Index int
	// Circuit is the input circuit without its idle units
	Circuit circuit.Circuit
	// OriginalUnits maps the units of Circuit to the units of the input circuit
	OriginalUnits []int
	Interaction   *topology.Graph
	// Forced maps units of Circuit to physical units
	Forced map[int]int
}

// NewRequest prepares the circuit at the given batch index for placement. It
// returns a PlacementError if the circuit cannot be placed anywhere and a
// LayoutConflictError if the forced layout is inconsistent.
func NewRequest(index int, c circuit.Circuit, forced map[int]int) (Request, error) {
	if err := c.Validate(); err != nil {
		return Request{}, &PlacementError{CircuitIndex: index, CircuitName: c.Name, Reason: "invalid circuit", Err: err}
	}

	conflicts := make([]string, 0)
	claimed := make(map[int]int)
	for _, a := range util.GetSortedKeys(forced) {
		u := forced[a]
		if a < 0 || a >= c.NumUnits {
			conflicts = append(conflicts, fmt.Sprintf("unit %d does not exist", a))
			continue
		}
		if u < 0 {
			conflicts = append(conflicts, fmt.Sprintf("unit %d forced to negative unit %d", a, u))
			continue
		}
		if other, ok := claimed[u]; ok {
			conflicts = append(conflicts, fmt.Sprintf("units %d and %d both forced to %d", other, a, u))
			continue
		}
		claimed[u] = a
	}
	if len(conflicts) > 0 {
		return Request{}, &LayoutConflictError{CircuitIndex: index, CircuitName: c.Name, Conflicts: conflicts}
	}

	pruned, originalUnits := c.WithoutIdleUnits()
	if pruned.NumUnits == 0 {
		return Request{}, &PlacementError{CircuitIndex: index, CircuitName: c.Name, Reason: "circuit has no active units"}
	}
	interaction, err := pruned.InteractionGraph()
	if err != nil {
		return Request{}, &PlacementError{CircuitIndex: index, CircuitName: c.Name, Reason: "invalid circuit", Err: err}
	}

	// forced entries on idle units are dropped with the units themselves
	reindexed := make(map[int]int, len(forced))
	for newUnit, originalUnit := range originalUnits {
		if u, ok := forced[originalUnit]; ok {
			reindexed[newUnit] = u
		}
	}

	return Request{
		Index:         index,
		Circuit:       pruned,
		OriginalUnits: originalUnits,
		Interaction:   interaction,
		Forced:        reindexed,
	}, nil
}

func (r Request) Name() string {
	return r.Circuit.Name
}

func (r Request) NumUnits() int {
	return r.Circuit.NumUnits
}

// layoutConflicts returns the reasons why the forced layout cannot be
// realized on the provided topology.
func (r Request) layoutConflicts(t *topology.Graph) []string {
	res := make([]string, 0)
	forcedUnits := util.GetSortedKeys(r.Forced)
	for _, a := range forcedUnits {
		if u := r.Forced[a]; !t.Contains(u) {
			res = append(res, fmt.Sprintf("unit %d forced to %d which does not exist", r.OriginalUnits[a], u))
		}
	}
	if len(res) > 0 {
		return res
	}
	for i, a := range forcedUnits {
		for _, b := range forcedUnits[i+1:] {
			if !r.Interaction.Adjacent(a, b) {
				continue
			}
			if !t.Adjacent(r.Forced[a], r.Forced[b]) {
				res = append(res, fmt.Sprintf(
					"interacting units %d and %d forced to non adjacent units %d and %d",
					r.OriginalUnits[a],
					r.OriginalUnits[b],
					r.Forced[a],
					r.Forced[b],
				))
			}
		}
	}
	return res
}
