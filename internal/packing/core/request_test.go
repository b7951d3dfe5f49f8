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

package core_test

import (
	"github.com/nebuly-ai/qpack/internal/packing/core"
	"github.com/nebuly-ai/qpack/pkg/circuit"
	"github.com/nebuly-ai/qpack/pkg/test/factory"
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestNewRequest(t *testing.T) {
	testCases := []struct {
		name    string
		circuit circuit.Circuit
		forced  map[int]int

		expectedUnits         int
		expectedOriginalUnits []int
		expectedForced        map[int]int
		expectedConflicts     int
		expectedErr           bool
	}{
		{
			name:                  "Circuit without idle units",
			circuit:               factory.BuildChain("c", 3),
			expectedUnits:         3,
			expectedOriginalUnits: []int{0, 1, 2},
			expectedForced:        map[int]int{},
		},
		{
			name: "Idle units are pruned and forced layout reindexed",
			circuit: factory.BuildCircuit("c", 5, 0).
				WithGate("cx", 1, 3).
				WithGate("x", 4).
				WithBarrier(0, 1, 2, 3, 4).
				Get(),
			forced:                map[int]int{0: 7, 3: 2, 4: 5},
			expectedUnits:         3,
			expectedOriginalUnits: []int{1, 3, 4},
			expectedForced:        map[int]int{1: 2, 2: 5},
		},
		{
			name:              "Forced unit does not exist",
			circuit:           factory.BuildPair("p"),
			forced:            map[int]int{2: 0},
			expectedConflicts: 1,
			expectedErr:       true,
		},
		{
			name:              "Forced to negative unit",
			circuit:           factory.BuildPair("p"),
			forced:            map[int]int{0: -1},
			expectedConflicts: 1,
			expectedErr:       true,
		},
		{
			name:              "Two units forced to the same physical unit",
			circuit:           factory.BuildChain("c", 3),
			forced:            map[int]int{0: 4, 1: 2, 2: 4},
			expectedConflicts: 1,
			expectedErr:       true,
		},
		{
			name: "Invalid circuit",
			circuit: factory.BuildCircuit("c", 2, 1).
				WithGate("cx", 0, 2).
				Get(),
			expectedErr: true,
		},
		{
			name:        "No active units",
			circuit:     factory.BuildCircuit("c", 2, 0).Get(),
			expectedErr: true,
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			r, err := core.NewRequest(4, tt.circuit, tt.forced)
			if tt.expectedErr {
				assert.Error(t, err)
				var conflictErr *core.LayoutConflictError
				if tt.expectedConflicts > 0 {
					if assert.ErrorAs(t, err, &conflictErr) {
						assert.Len(t, conflictErr.Conflicts, tt.expectedConflicts)
						assert.Equal(t, 4, conflictErr.CircuitIndex)
					}
				} else {
					var placementErr *core.PlacementError
					assert.ErrorAs(t, err, &placementErr)
				}
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, 4, r.Index)
			assert.Equal(t, tt.expectedUnits, r.NumUnits())
			assert.Equal(t, tt.expectedUnits, r.Interaction.NumUnits())
			assert.Equal(t, tt.expectedOriginalUnits, r.OriginalUnits)
			assert.Equal(t, tt.expectedForced, r.Forced)
			assert.Equal(t, tt.circuit.Name, r.Name())
		})
	}
}
