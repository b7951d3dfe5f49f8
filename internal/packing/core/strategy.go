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
	"github.com/nebuly-ai/qpack/pkg/api/qpack/config/v1alpha1"
	"sort"
)

var _ Sorter = SorterAdapter(nil)

type SorterAdapter func(requests []Request) []Request

func (f SorterAdapter) Sort(requests []Request) []Request {
	return f(requests)
}

func NewSorter(order v1alpha1.CircuitOrder) (Sorter, error) {
	switch order {
	case v1alpha1.CircuitOrderSize:
		return NewSizeSorter(), nil
	case v1alpha1.CircuitOrderConnectivity:
		return NewConnectivitySorter(), nil
	case v1alpha1.CircuitOrderInput:
		return NewInputSorter(), nil
	}
	return nil, fmt.Errorf("unknown circuit order %q", order)
}

// NewSizeSorter places first the circuits with the largest forced layouts,
// then the circuits with more units.
func NewSizeSorter() SorterAdapter {
	return func(requests []Request) []Request {
		sorted := make([]Request, len(requests))
		copy(sorted, requests)
		sort.SliceStable(sorted, func(i, j int) bool {
			if len(sorted[i].Forced) != len(sorted[j].Forced) {
				return len(sorted[i].Forced) > len(sorted[j].Forced)
			}
			return sorted[i].NumUnits() > sorted[j].NumUnits()
		})
		return sorted
	}
}

// NewConnectivitySorter places first the circuits with the largest forced
// layouts, then the circuits with fewer connected components per unit, and
// finally the circuits with more units.
func NewConnectivitySorter() SorterAdapter {
	return func(requests []Request) []Request {
		sorted := make([]Request, len(requests))
		copy(sorted, requests)
		fragmentation := make(map[int]float64, len(sorted))
		for _, r := range sorted {
			fragmentation[r.Index] = float64(r.Interaction.NumComponents()) / float64(r.NumUnits())
		}
		sort.SliceStable(sorted, func(i, j int) bool {
			if len(sorted[i].Forced) != len(sorted[j].Forced) {
				return len(sorted[i].Forced) > len(sorted[j].Forced)
			}
			fi, fj := fragmentation[sorted[i].Index], fragmentation[sorted[j].Index]
			if fi != fj {
				return fi < fj
			}
			return sorted[i].NumUnits() > sorted[j].NumUnits()
		})
		return sorted
	}
}

// NewInputSorter keeps the order of the input batch.
func NewInputSorter() SorterAdapter {
	return func(requests []Request) []Request {
		sorted := make([]Request, len(requests))
		copy(sorted, requests)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Index < sorted[j].Index
		})
		return sorted
	}
}

// binCompare returns a negative value if a must be tried before b, a positive
// value if b must be tried first and zero if the two bins are equivalent.
type binCompare func(a, b *Bin, binsPerBackend map[int]int) int

type binOrderer struct {
	name    string
	compare binCompare
}

func (o binOrderer) Name() string {
	return o.name
}

// Order returns the bins sorted by the strategy criteria. Equivalent bins
// are sorted by backend declaration order, then by bin index.
func (o binOrderer) Order(bins []*Bin) []*Bin {
	binsPerBackend := make(map[int]int)
	for _, b := range bins {
		binsPerBackend[b.BackendIndex]++
	}
	sorted := make([]*Bin, len(bins))
	copy(sorted, bins)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := o.compare(sorted[i], sorted[j], binsPerBackend); c != 0 {
			return c < 0
		}
		if sorted[i].BackendIndex != sorted[j].BackendIndex {
			return sorted[i].BackendIndex < sorted[j].BackendIndex
		}
		return sorted[i].Index < sorted[j].Index
	})
	return sorted
}

func NewBinOrderer(order v1alpha1.BackendOrder) (BinOrderer, error) {
	switch order {
	case v1alpha1.BackendOrderSpareCapacity:
		return NewSpareCapacityOrderer(), nil
	case v1alpha1.BackendOrderCost:
		return NewCostOrderer(), nil
	case v1alpha1.BackendOrderDeclared:
		return NewDeclaredOrderer(), nil
	}
	return nil, fmt.Errorf("unknown backend order %q", order)
}

// NewSpareCapacityOrderer tries the bins that already hold circuits first,
// the ones with more free units first among them.
func NewSpareCapacityOrderer() BinOrderer {
	return binOrderer{
		name: string(v1alpha1.BackendOrderSpareCapacity),
		compare: func(a, b *Bin, _ map[int]int) int {
			if c := compareEmptiness(a, b); c != 0 {
				return c
			}
			return b.FreeUnits() - a.FreeUnits()
		},
	}
}

// NewCostOrderer tries first the bins whose backend has the lowest cost
// weighted by its number of bins, then the bins that already hold circuits,
// then the bins of the smaller backends.
func NewCostOrderer() BinOrderer {
	return binOrderer{
		name: string(v1alpha1.BackendOrderCost),
		compare: func(a, b *Bin, binsPerBackend map[int]int) int {
			wa := a.Target.Cost() * float64(binsPerBackend[a.BackendIndex])
			wb := b.Target.Cost() * float64(binsPerBackend[b.BackendIndex])
			if wa != wb {
				if wa < wb {
					return -1
				}
				return 1
			}
			if c := compareEmptiness(a, b); c != 0 {
				return c
			}
			return a.Target.Topology().NumUnits() - b.Target.Topology().NumUnits()
		},
	}
}

// NewDeclaredOrderer tries the backends in the order they were provided.
func NewDeclaredOrderer() BinOrderer {
	return binOrderer{
		name: string(v1alpha1.BackendOrderDeclared),
		compare: func(_, _ *Bin, _ map[int]int) int {
			return 0
		},
	}
}

func compareEmptiness(a, b *Bin) int {
	if a.IsEmpty() == b.IsEmpty() {
		return 0
	}
	if a.IsEmpty() {
		return 1
	}
	return -1
}
