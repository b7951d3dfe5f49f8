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
	"github.com/nebuly-ai/qpack/internal/packing/state"
	"github.com/nebuly-ai/qpack/pkg/backend"
	"k8s.io/apimachinery/pkg/util/sets"
)

// Bin collects the placements that will be merged into a single host circuit
// of a backend.
type Bin struct {
	Target       backend.Target
	BackendIndex int
	Index        int

	reservation *state.Reservation
	placements  []state.Placement
}

func NewBin(target backend.Target, backendIndex, index int) *Bin {
	return &Bin{
		Target:       target,
		BackendIndex: backendIndex,
		Index:        index,
		reservation:  state.NewReservation(),
		placements:   make([]state.Placement, 0),
	}
}

func (b *Bin) Name() string {
	return fmt.Sprintf("%s/%d", b.Target.Name(), b.Index)
}

func (b *Bin) IsEmpty() bool {
	return len(b.placements) == 0
}

func (b *Bin) NumPlacements() int {
	return len(b.placements)
}

// FreeUnits returns the number of physical units still available.
func (b *Bin) FreeUnits() int {
	return b.Target.Topology().NumUnits() - b.reservation.Len()
}

// Reserved returns a snapshot of the units that cannot be used anymore.
func (b *Bin) Reserved() sets.Int {
	return b.reservation.Snapshot()
}

// Used returns a snapshot of the units used by the placements of the bin.
func (b *Bin) Used() sets.Int {
	return b.reservation.Used()
}

// add commits the placement, reserving its units and its padding.
func (b *Bin) add(p state.Placement) error {
	if err := b.reservation.Commit(sets.NewInt(p.Layout...), sets.NewInt(p.Padding...)); err != nil {
		return fmt.Errorf("bin %s: %w", b.Name(), err)
	}
	b.placements = append(b.placements, p)
	return nil
}

func (b *Bin) State() state.BinState {
	placements := make([]state.Placement, len(b.placements))
	copy(placements, b.placements)
	return state.BinState{Index: b.Index, Placements: placements}
}

// binSet holds the bins of every backend of a packing pass.
type binSet struct {
	targets []backend.Target
	bins    [][]*Bin
	maxBins int
}

func newBinSet(targets []backend.Target, maxBins int) *binSet {
	return &binSet{
		targets: targets,
		bins:    make([][]*Bin, len(targets)),
		maxBins: maxBins,
	}
}

// ensureEmptyBin opens a new bin on the backend unless it already has an
// empty one or it reached the maximum number of bins.
func (s *binSet) ensureEmptyBin(backendIndex int) {
	bins := s.bins[backendIndex]
	for _, b := range bins {
		if b.IsEmpty() {
			return
		}
	}
	if s.maxBins > 0 && len(bins) >= s.maxBins {
		return
	}
	s.bins[backendIndex] = append(bins, NewBin(s.targets[backendIndex], backendIndex, len(bins)))
}

// binsOf returns every bin of the provided backends.
func (s *binSet) binsOf(backendIndexes []int) []*Bin {
	res := make([]*Bin, 0)
	for _, i := range backendIndexes {
		res = append(res, s.bins[i]...)
	}
	return res
}

// close drops the empty bins and returns the packing state of the pass.
func (s *binSet) close() state.PackingState {
	res := make(state.PackingState)
	for i, bins := range s.bins {
		packing := state.BackendPacking{Bins: make([]state.BinState, 0)}
		for _, b := range bins {
			if !b.IsEmpty() {
				packing.Bins = append(packing.Bins, b.State())
			}
		}
		if len(packing.Bins) > 0 {
			res[s.targets[i].Name()] = packing
		}
	}
	return res
}
