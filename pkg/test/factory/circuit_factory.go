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

package factory

import (
	"github.com/nebuly-ai/qpack/pkg/circuit"
)

type circuitBuilder struct {
	circuit.Circuit
}

func BuildCircuit(name string, numUnits, numBits int) *circuitBuilder {
	return &circuitBuilder{
		circuit.Circuit{
			Name:         name,
			NumUnits:     numUnits,
			NumBits:      numBits,
			Instructions: make([]circuit.Instruction, 0),
		},
	}
}

func (b *circuitBuilder) WithGate(name string, units ...int) *circuitBuilder {
	b.Instructions = append(b.Instructions, circuit.Instruction{Name: name, Units: units})
	return b
}

func (b *circuitBuilder) WithBarrier(units ...int) *circuitBuilder {
	return b.WithGate(circuit.InstructionBarrier, units...)
}

func (b *circuitBuilder) WithMeasure(unit, bit int) *circuitBuilder {
	b.Instructions = append(b.Instructions, circuit.Instruction{
		Name:  "measure",
		Units: []int{unit},
		Bits:  []int{bit},
	})
	return b
}

// WithMeasureAll measures unit i into bit i for every unit that has a bit.
func (b *circuitBuilder) WithMeasureAll() *circuitBuilder {
	for i := 0; i < b.NumUnits && i < b.NumBits; i++ {
		b.WithMeasure(i, i)
	}
	return b
}

func (b *circuitBuilder) WithMetadata(key, value string) *circuitBuilder {
	if b.Metadata == nil {
		b.Metadata = make(map[string]string)
	}
	b.Metadata[key] = value
	return b
}

func (b *circuitBuilder) Get() circuit.Circuit {
	return b.Circuit
}

// BuildPair returns a 2-unit circuit entangling its units and measuring both.
func BuildPair(name string) circuit.Circuit {
	return BuildCircuit(name, 2, 2).
		WithGate("h", 0).
		WithGate("cx", 0, 1).
		WithMeasureAll().
		Get()
}

// BuildChain returns an n-unit circuit whose interaction graph is a line.
func BuildChain(name string, n int) circuit.Circuit {
	b := BuildCircuit(name, n, n)
	for i := 0; i+1 < n; i++ {
		b.WithGate("cx", i, i+1)
	}
	return b.WithMeasureAll().Get()
}

// BuildTriangle returns a 3-unit circuit requiring all three units to interact pairwise.
func BuildTriangle(name string) circuit.Circuit {
	return BuildCircuit(name, 3, 3).
		WithGate("cx", 0, 1).
		WithGate("cx", 1, 2).
		WithGate("cx", 0, 2).
		WithMeasureAll().
		Get()
}
