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

package circuit_test

import (
	"github.com/nebuly-ai/qpack/pkg/circuit"
	"github.com/nebuly-ai/qpack/pkg/test/factory"
	"github.com/nebuly-ai/qpack/pkg/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestCircuit__Validate(t *testing.T) {
	testCases := []struct {
		name        string
		circuit     circuit.Circuit
		expectedErr bool
	}{
		{
			name:        "Valid circuit",
			circuit:     factory.BuildChain("c", 3),
			expectedErr: false,
		},
		{
			name:        "Unit out of range",
			circuit:     factory.BuildCircuit("c", 2, 0).WithGate("cx", 0, 2).Get(),
			expectedErr: true,
		},
		{
			name:        "Unit repeated in instruction",
			circuit:     factory.BuildCircuit("c", 2, 0).WithGate("cx", 1, 1).Get(),
			expectedErr: true,
		},
		{
			name:        "Bit out of range",
			circuit:     factory.BuildCircuit("c", 2, 1).WithMeasure(1, 1).Get(),
			expectedErr: true,
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.circuit.Validate()
			if tt.expectedErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCircuit__InteractionGraph(t *testing.T) {
	c := factory.BuildCircuit("c", 4, 0).
		WithGate("h", 0).
		WithGate("cx", 0, 1).
		WithGate("cx", 1, 0).
		WithGate("ccx", 1, 2, 3).
		WithBarrier(0, 3).
		Get()

	g, err := c.InteractionGraph()
	require.NoError(t, err)
	assert.Equal(t, []topology.Edge{
		{A: 0, B: 1},
		{A: 1, B: 2},
		{A: 1, B: 3},
		{A: 2, B: 3},
	}, g.Edges())
	assert.False(t, g.Adjacent(0, 3))
}

func TestCircuit__WithoutIdleUnits(t *testing.T) {
	c := factory.BuildCircuit("c", 5, 2).
		WithGate("h", 1).
		WithBarrier(0, 1, 2, 3, 4).
		WithGate("cx", 1, 3).
		WithBarrier(0, 2).
		WithMeasure(1, 0).
		WithMeasure(3, 1).
		Get()

	pruned, original := c.WithoutIdleUnits()

	assert.Equal(t, []int{1, 3}, original)
	assert.Equal(t, 2, pruned.NumUnits)
	assert.Equal(t, 2, pruned.NumBits)
	assert.Equal(t, []circuit.Instruction{
		{Name: "h", Units: []int{0}},
		{Name: circuit.InstructionBarrier, Units: []int{0, 1}},
		{Name: "cx", Units: []int{0, 1}},
		{Name: "measure", Units: []int{0}, Bits: []int{0}},
		{Name: "measure", Units: []int{1}, Bits: []int{1}},
	}, pruned.Instructions)

	// the source circuit is left untouched
	assert.Equal(t, 5, c.NumUnits)
	assert.Len(t, c.Instructions, 6)
}

func TestCircuit__Remap(t *testing.T) {
	c := factory.BuildPair("pair")

	testCases := []struct {
		name        string
		mapping     circuit.Mapping
		expectedErr bool
		expected    []circuit.Instruction
	}{
		{
			name: "Valid mapping",
			mapping: circuit.Mapping{
				Units:     []int{4, 2},
				BitOffset: 3,
				NumUnits:  5,
				NumBits:   5,
			},
			expected: []circuit.Instruction{
				{Name: "h", Units: []int{4}},
				{Name: "cx", Units: []int{4, 2}},
				{Name: "measure", Units: []int{4}, Bits: []int{3}},
				{Name: "measure", Units: []int{2}, Bits: []int{4}},
			},
		},
		{
			name: "Mapping size mismatch",
			mapping: circuit.Mapping{
				Units:    []int{0},
				NumUnits: 5,
				NumBits:  5,
			},
			expectedErr: true,
		},
		{
			name: "Unit out of target range",
			mapping: circuit.Mapping{
				Units:    []int{0, 5},
				NumUnits: 5,
				NumBits:  5,
			},
			expectedErr: true,
		},
		{
			name: "Bits exceed target register",
			mapping: circuit.Mapping{
				Units:     []int{0, 1},
				BitOffset: 4,
				NumUnits:  5,
				NumBits:   5,
			},
			expectedErr: true,
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Remap(tt.mapping)
			if tt.expectedErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, res.Instructions)
			assert.Equal(t, tt.mapping.NumUnits, res.NumUnits)
			assert.Equal(t, tt.mapping.NumBits, res.NumBits)
			// source instructions are not aliased
			assert.Equal(t, []int{0, 1}, c.Instructions[1].Units)
		})
	}
}

func TestCircuit__Append(t *testing.T) {
	host := circuit.Circuit{Name: "host", NumUnits: 3, NumBits: 2}
	require.NoError(t, host.Append(factory.BuildPair("pair")))
	assert.Len(t, host.Instructions, 4)
	assert.Error(t, host.Append(factory.BuildChain("chain", 4)))
}
