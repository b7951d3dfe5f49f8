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

package state

import (
	"github.com/nebuly-ai/qpack/pkg/circuit"
	"github.com/nebuly-ai/qpack/pkg/util"
	"golang.org/x/exp/slices"
)

// Placement is the outcome of a successful embedding of a circuit into a bin
// of a backend.
type Placement struct {
	// CircuitIndex is the position of the circuit in the input batch
	CircuitIndex int
	// Circuit is the circuit as packed, without its idle units
	Circuit circuit.Circuit
	// OriginalUnits maps the units of Circuit to the units of the input circuit
	OriginalUnits []int
	Backend       string
	Bin           int
	// Layout maps each unit of Circuit to a physical unit of the backend
	Layout []int
	// Padding contains the physical units reserved to isolate the placement
	Padding []int
}

// Units returns the physical units used by the placement in ascending order.
func (p Placement) Units() []int {
	res := make([]int, len(p.Layout))
	copy(res, p.Layout)
	slices.Sort(res)
	return res
}

// Equal compares the decisions of two placements, ignoring circuit contents.
func (p Placement) Equal(other Placement) bool {
	return p.CircuitIndex == other.CircuitIndex &&
		p.Backend == other.Backend &&
		p.Bin == other.Bin &&
		slices.Equal(p.Layout, other.Layout) &&
		slices.Equal(p.Padding, other.Padding)
}

// BinState is the content of a single host circuit of a backend.
type BinState struct {
	Index      int
	Placements []Placement
}

func (b BinState) Equal(other BinState) bool {
	if b.Index != other.Index || len(b.Placements) != len(other.Placements) {
		return false
	}
	for i := range b.Placements {
		if !b.Placements[i].Equal(other.Placements[i]) {
			return false
		}
	}
	return true
}

type BackendPacking struct {
	Bins []BinState
}

func (b BackendPacking) Equal(other BackendPacking) bool {
	if len(b.Bins) != len(other.Bins) {
		return false
	}
	for i := range b.Bins {
		if !b.Bins[i].Equal(other.Bins[i]) {
			return false
		}
	}
	return true
}

func (b BackendPacking) NumPlacements() int {
	var res int
	for _, bin := range b.Bins {
		res += len(bin.Placements)
	}
	return res
}

// PackingState maps backend names to the bins packed on them.
type PackingState map[string]BackendPacking

func (p PackingState) IsEmpty() bool {
	return len(p) == 0
}

func (p PackingState) Equal(other PackingState) bool {
	if len(p) != len(other) {
		return false
	}
	for backend, packing := range p {
		otherPacking, ok := other[backend]
		if !ok || !packing.Equal(otherPacking) {
			return false
		}
	}
	return true
}

func (p PackingState) NumPlacements() int {
	var res int
	for _, b := range p {
		res += b.NumPlacements()
	}
	return res
}

// Placements returns every placement sorted by circuit index.
func (p PackingState) Placements() []Placement {
	res := make([]Placement, 0)
	for _, backend := range util.GetSortedKeys(p) {
		for _, bin := range p[backend].Bins {
			res = append(res, bin.Placements...)
		}
	}
	slices.SortFunc(res, func(a, b Placement) bool {
		return a.CircuitIndex < b.CircuitIndex
	})
	return res
}
