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

package compose

import (
	"context"
	"fmt"
	"github.com/nebuly-ai/qpack/internal/metrics"
	"github.com/nebuly-ai/qpack/internal/packing/state"
	"github.com/nebuly-ai/qpack/pkg/backend"
	"github.com/nebuly-ai/qpack/pkg/circuit"
	"github.com/nebuly-ai/qpack/pkg/util"
	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"strings"
)

// RegisterMap locates the outcome bits of a packed circuit inside the outcome
// register of its host circuit.
type RegisterMap struct {
	CircuitIndex int
	CircuitName  string
	// Offset is the position of bit 0 of the circuit in the host register
	Offset int
	// Width is the number of outcome bits of the circuit
	Width int
	// Units are the physical units used by the circuit
	Units []int
}

// Range returns the half-open interval of host register bits owned by the circuit.
func (r RegisterMap) Range() (int, int) {
	return r.Offset, r.Offset + r.Width
}

func (r RegisterMap) DeepCopy() RegisterMap {
	res := r
	if r.Units != nil {
		res.Units = append(make([]int, 0, len(r.Units)), r.Units...)
	}
	return res
}

// HostCircuit is the circuit actually executed on a backend: the union of the
// circuits packed into one bin, each acting on its own physical units and
// writing to its own range of outcome bits.
type HostCircuit struct {
	Name         string
	Backend      string
	Bin          int
	Circuit      circuit.Circuit
	RegisterMaps []RegisterMap
}

func (h HostCircuit) NumCircuits() int {
	return len(h.RegisterMaps)
}

func (h HostCircuit) DeepCopy() HostCircuit {
	res := h
	res.Circuit = h.Circuit.Clone()
	if h.RegisterMaps != nil {
		res.RegisterMaps = make([]RegisterMap, len(h.RegisterMaps))
		for i, m := range h.RegisterMaps {
			res.RegisterMaps[i] = m.DeepCopy()
		}
	}
	return res
}

// Compose merges the placements of a bin into a single host circuit acting on
// the whole register of the target. Outcome bits are assigned in placement
// order.
func Compose(target backend.Target, bin state.BinState) (HostCircuit, error) {
	if len(bin.Placements) == 0 {
		return HostCircuit{}, fmt.Errorf("bin %d of backend %s has no placements", bin.Index, target.Name())
	}
	if err := checkFootprints(bin.Placements); err != nil {
		return HostCircuit{}, fmt.Errorf("bin %d of backend %s: %w", bin.Index, target.Name(), err)
	}

	widths := make([]int, 0, len(bin.Placements))
	names := make([]string, 0, len(bin.Placements))
	used := sets.NewInt()
	for _, p := range bin.Placements {
		widths = append(widths, p.Circuit.NumBits)
		names = append(names, p.Circuit.Name)
		used.Insert(p.Layout...)
	}
	numBits := util.Sum(widths...)

	name := fmt.Sprintf("%s-%d", target.Name(), bin.Index)
	host := HostCircuit{
		Name:    name,
		Backend: target.Name(),
		Bin:     bin.Index,
		Circuit: circuit.Circuit{
			Name:         name,
			NumUnits:     target.Topology().NumUnits(),
			NumBits:      numBits,
			Instructions: make([]circuit.Instruction, 0),
			Metadata:     map[string]string{"circuits": strings.Join(names, ",")},
		},
		RegisterMaps: make([]RegisterMap, 0, len(bin.Placements)),
	}

	var offset int
	for _, p := range bin.Placements {
		remapped, err := p.Circuit.Remap(circuit.Mapping{
			Units:     p.Layout,
			BitOffset: offset,
			NumUnits:  host.Circuit.NumUnits,
			NumBits:   host.Circuit.NumBits,
		})
		if err != nil {
			return HostCircuit{}, err
		}
		if err = host.Circuit.Append(remapped); err != nil {
			return HostCircuit{}, err
		}
		host.RegisterMaps = append(host.RegisterMaps, RegisterMap{
			CircuitIndex: p.CircuitIndex,
			CircuitName:  p.Circuit.Name,
			Offset:       offset,
			Width:        p.Circuit.NumBits,
			Units:        p.Units(),
		})
		offset += p.Circuit.NumBits
	}
	if touched := host.Circuit.ActiveUnits(); !util.UnorderedEqual(touched, used.List()) {
		return HostCircuit{}, fmt.Errorf("host circuit %s touches units %v, expected %v", name, touched, used.List())
	}

	metrics.ObserveHostCircuit(len(bin.Placements))
	return host, nil
}

// ComposeAll builds the host circuits of every bin of the packing state,
// sorted by backend declaration order and bin index.
func ComposeAll(ctx context.Context, s state.PackingState, targets []backend.Target) ([]HostCircuit, error) {
	logger := log.FromContext(ctx)
	res := make([]HostCircuit, 0)
	for _, t := range targets {
		packing, ok := s[t.Name()]
		if !ok {
			continue
		}
		for _, bin := range packing.Bins {
			host, err := Compose(t, bin)
			if err != nil {
				return nil, err
			}
			logger.V(1).Info(
				"host circuit composed",
				"name",
				host.Name,
				"circuits",
				host.NumCircuits(),
				"bits",
				host.Circuit.NumBits,
			)
			res = append(res, host)
		}
	}
	if len(res) != countBins(s) {
		return nil, fmt.Errorf("packing state references unknown backends")
	}
	return res, nil
}

func countBins(s state.PackingState) int {
	var res int
	for _, p := range s {
		res += len(p.Bins)
	}
	return res
}

// checkFootprints returns an error if the units used by a placement are used
// or reserved as padding by another placement.
func checkFootprints(placements []state.Placement) error {
	for i, p := range placements {
		used := sets.NewInt(p.Layout...)
		if used.Len() != len(p.Layout) {
			return fmt.Errorf("circuit %q uses the same unit twice", p.Circuit.Name)
		}
		for _, other := range placements[i+1:] {
			otherUsed := sets.NewInt(other.Layout...)
			if overlap := used.Intersection(otherUsed.Union(sets.NewInt(other.Padding...))); overlap.Len() > 0 {
				return fmt.Errorf("circuits %q and %q overlap on units %v", p.Circuit.Name, other.Circuit.Name, overlap.List())
			}
			if overlap := otherUsed.Intersection(sets.NewInt(p.Padding...)); overlap.Len() > 0 {
				return fmt.Errorf("circuits %q and %q overlap on units %v", other.Circuit.Name, p.Circuit.Name, overlap.List())
			}
		}
	}
	return nil
}
