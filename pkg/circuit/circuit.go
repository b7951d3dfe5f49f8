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

package circuit

import (
	"fmt"
	"github.com/nebuly-ai/qpack/pkg/topology"
	"github.com/nebuly-ai/qpack/pkg/util"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// InstructionBarrier does not make its units interact nor count as activity on them.
const InstructionBarrier = "barrier"

type Instruction struct {
	Name   string    `json:"name"`
	Units  []int     `json:"units"`
	Bits   []int     `json:"bits,omitempty"`
	Params []float64 `json:"params,omitempty"`
}

func (i Instruction) IsBarrier() bool {
	return i.Name == InstructionBarrier
}

func (i Instruction) clone() Instruction {
	res := Instruction{Name: i.Name}
	if i.Units != nil {
		res.Units = append(make([]int, 0, len(i.Units)), i.Units...)
	}
	if i.Bits != nil {
		res.Bits = append(make([]int, 0, len(i.Bits)), i.Bits...)
	}
	if i.Params != nil {
		res.Params = append(make([]float64, 0, len(i.Params)), i.Params...)
	}
	return res
}

// Circuit is a sequence of instructions acting on NumUnits addressable units and
// writing to NumBits outcome bits.
type Circuit struct {
	Name         string            `json:"name"`
	NumUnits     int               `json:"numUnits"`
	NumBits      int               `json:"numBits"`
	Instructions []Instruction     `json:"instructions"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Validate checks that every instruction references existing units and bits.
func (c Circuit) Validate() error {
	var errs []error
	if c.NumUnits < 0 || c.NumBits < 0 {
		errs = append(errs, fmt.Errorf("circuit %q: negative register size", c.Name))
	}
	for idx, ins := range c.Instructions {
		seen := make(map[int]struct{}, len(ins.Units))
		for _, u := range ins.Units {
			if u < 0 || u >= c.NumUnits {
				errs = append(errs, fmt.Errorf("circuit %q: instruction %d (%s) references unit %d out of %d", c.Name, idx, ins.Name, u, c.NumUnits))
			}
			if _, ok := seen[u]; ok {
				errs = append(errs, fmt.Errorf("circuit %q: instruction %d (%s) references unit %d twice", c.Name, idx, ins.Name, u))
			}
			seen[u] = struct{}{}
		}
		for _, b := range ins.Bits {
			if b < 0 || b >= c.NumBits {
				errs = append(errs, fmt.Errorf("circuit %q: instruction %d (%s) references bit %d out of %d", c.Name, idx, ins.Name, b, c.NumBits))
			}
		}
	}
	return utilerrors.NewAggregate(errs)
}

// InteractionGraph returns the graph of unit pairs that share at least one
// non-barrier instruction.
func (c Circuit) InteractionGraph() (*topology.Graph, error) {
	edges := make([]topology.Edge, 0)
	for _, ins := range c.Instructions {
		if ins.IsBarrier() {
			continue
		}
		for i := 0; i < len(ins.Units); i++ {
			for j := i + 1; j < len(ins.Units); j++ {
				edges = append(edges, topology.NewEdge(ins.Units[i], ins.Units[j]))
			}
		}
	}
	g, err := topology.New(c.NumUnits, edges)
	if err != nil {
		return nil, fmt.Errorf("circuit %q: %w", c.Name, err)
	}
	return g, nil
}

// ActiveUnits returns, in ascending order, the units touched by at least one
// non-barrier instruction.
func (c Circuit) ActiveUnits() []int {
	active := make([]bool, c.NumUnits)
	for _, ins := range c.Instructions {
		if ins.IsBarrier() {
			continue
		}
		for _, u := range ins.Units {
			if u >= 0 && u < c.NumUnits {
				active[u] = true
			}
		}
	}
	res := make([]int, 0, c.NumUnits)
	for u, ok := range active {
		if ok {
			res = append(res, u)
		}
	}
	return res
}

// WithoutIdleUnits returns a copy of the circuit where idle units are removed
// and the remaining ones are renumbered densely, preserving their order. The
// second value maps each new unit index to the original one. Barriers are
// narrowed to the surviving units and dropped when none survive.
func (c Circuit) WithoutIdleUnits() (Circuit, []int) {
	active := c.ActiveUnits()
	if len(active) == c.NumUnits {
		return c.Clone(), active
	}
	newIndex := make(map[int]int, len(active))
	for i, u := range active {
		newIndex[u] = i
	}
	res := Circuit{
		Name:         c.Name,
		NumUnits:     len(active),
		NumBits:      c.NumBits,
		Instructions: make([]Instruction, 0, len(c.Instructions)),
		Metadata:     copyMetadata(c.Metadata),
	}
	for _, ins := range c.Instructions {
		ins = ins.clone()
		units := make([]int, 0, len(ins.Units))
		for _, u := range ins.Units {
			if idx, ok := newIndex[u]; ok {
				units = append(units, idx)
			}
		}
		if len(units) == 0 && len(ins.Units) > 0 {
			continue
		}
		ins.Units = units
		res.Instructions = append(res.Instructions, ins)
	}
	return res, active
}

// Mapping describes how unit and bit references are rewritten by Remap.
type Mapping struct {
	// Units maps every unit of the source circuit to a unit of the target.
	Units []int
	// BitOffset is added to every bit reference.
	BitOffset int
	// NumUnits and NumBits are the register sizes of the resulting circuit.
	NumUnits int
	NumBits  int
}

// Remap returns a copy of the circuit with all unit and bit references rewritten
// through the provided mapping.
func (c Circuit) Remap(m Mapping) (Circuit, error) {
	if len(m.Units) != c.NumUnits {
		return Circuit{}, fmt.Errorf("circuit %q: unit mapping has %d entries, expected %d", c.Name, len(m.Units), c.NumUnits)
	}
	for from, to := range m.Units {
		if to < 0 || to >= m.NumUnits {
			return Circuit{}, fmt.Errorf("circuit %q: unit %d mapped to %d out of %d", c.Name, from, to, m.NumUnits)
		}
	}
	if m.BitOffset < 0 || m.BitOffset+c.NumBits > m.NumBits {
		return Circuit{}, fmt.Errorf("circuit %q: bit range [%d,%d) exceeds %d bits", c.Name, m.BitOffset, m.BitOffset+c.NumBits, m.NumBits)
	}
	res := Circuit{
		Name:         c.Name,
		NumUnits:     m.NumUnits,
		NumBits:      m.NumBits,
		Instructions: make([]Instruction, len(c.Instructions)),
		Metadata:     copyMetadata(c.Metadata),
	}
	for idx, ins := range c.Instructions {
		ins = ins.clone()
		for i, u := range ins.Units {
			ins.Units[i] = m.Units[u]
		}
		for i, b := range ins.Bits {
			ins.Bits[i] = b + m.BitOffset
		}
		res.Instructions[idx] = ins
	}
	return res, nil
}

func (c Circuit) Clone() Circuit {
	res := c
	res.Instructions = make([]Instruction, len(c.Instructions))
	for i, ins := range c.Instructions {
		res.Instructions[i] = ins.clone()
	}
	res.Metadata = copyMetadata(c.Metadata)
	return res
}

// Append adds the instructions of other at the end of the circuit. Register
// sizes must already be compatible.
func (c *Circuit) Append(other Circuit) error {
	if other.NumUnits > c.NumUnits || other.NumBits > c.NumBits {
		return fmt.Errorf(
			"cannot append circuit %q (%d units, %d bits) to %q (%d units, %d bits)",
			other.Name,
			other.NumUnits,
			other.NumBits,
			c.Name,
			c.NumUnits,
			c.NumBits,
		)
	}
	for _, ins := range other.Instructions {
		c.Instructions = append(c.Instructions, ins.clone())
	}
	return nil
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	return util.CopyMap(m)
}
