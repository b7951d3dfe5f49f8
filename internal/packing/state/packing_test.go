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

package state_test

import (
	"github.com/nebuly-ai/qpack/internal/packing/state"
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestPackingState__Equal(t *testing.T) {
	placement := state.Placement{CircuitIndex: 0, Backend: "b-1", Bin: 0, Layout: []int{0, 1}}

	testCases := []struct {
		name         string
		packingState state.PackingState
		other        state.PackingState
		expected     bool
	}{
		{
			name:         "Empty packing states",
			packingState: state.PackingState{},
			other:        state.PackingState{},
			expected:     true,
		},
		{
			name: "Different backends number",
			packingState: state.PackingState{
				"b-1": {Bins: []state.BinState{{Index: 0, Placements: []state.Placement{placement}}}},
			},
			other: state.PackingState{
				"b-1": {Bins: []state.BinState{{Index: 0, Placements: []state.Placement{placement}}}},
				"b-2": {Bins: []state.BinState{}},
			},
			expected: false,
		},
		{
			name: "Different backend names",
			packingState: state.PackingState{
				"b-1": {Bins: []state.BinState{}},
			},
			other: state.PackingState{
				"b-2": {Bins: []state.BinState{}},
			},
			expected: false,
		},
		{
			name: "Different layouts",
			packingState: state.PackingState{
				"b-1": {Bins: []state.BinState{{Index: 0, Placements: []state.Placement{placement}}}},
			},
			other: state.PackingState{
				"b-1": {Bins: []state.BinState{{Index: 0, Placements: []state.Placement{
					{CircuitIndex: 0, Backend: "b-1", Bin: 0, Layout: []int{1, 0}},
				}}}},
			},
			expected: false,
		},
		{
			name: "Same placements",
			packingState: state.PackingState{
				"b-1": {Bins: []state.BinState{{Index: 0, Placements: []state.Placement{placement}}}},
			},
			other: state.PackingState{
				"b-1": {Bins: []state.BinState{{Index: 0, Placements: []state.Placement{
					{CircuitIndex: 0, Backend: "b-1", Bin: 0, Layout: []int{0, 1}},
				}}}},
			},
			expected: true,
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.packingState.Equal(tt.other))
			assert.Equal(t, tt.expected, tt.other.Equal(tt.packingState))
		})
	}
}

func TestPackingState__Placements(t *testing.T) {
	s := state.PackingState{
		"b-2": {Bins: []state.BinState{
			{Index: 0, Placements: []state.Placement{{CircuitIndex: 1, Layout: []int{4, 3}}}},
		}},
		"b-1": {Bins: []state.BinState{
			{Index: 0, Placements: []state.Placement{{CircuitIndex: 2}, {CircuitIndex: 0}}},
			{Index: 1, Placements: []state.Placement{}},
		}},
	}

	placements := s.Placements()
	assert.Equal(t, 3, s.NumPlacements())
	assert.False(t, s.IsEmpty())
	assert.Len(t, placements, 3)
	for i, p := range placements {
		assert.Equal(t, i, p.CircuitIndex)
	}
	assert.Equal(t, []int{3, 4}, placements[1].Units())
}
