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

package parallelizer_test

import (
	"github.com/nebuly-ai/qpack/internal/compose"
	"github.com/nebuly-ai/qpack/pkg/parallelizer"
	"github.com/stretchr/testify/assert"
	"testing"
)

func hostWith(backend string, numCircuits int) compose.HostCircuit {
	return compose.HostCircuit{Backend: backend, RegisterMaps: make([]compose.RegisterMap, numCircuits)}
}

func TestNewInfo(t *testing.T) {
	testCases := []struct {
		name        string
		numCircuits int
		hosts       []compose.HostCircuit
		expected    parallelizer.Info
	}{
		{
			name:        "Nothing placed",
			numCircuits: 3,
			hosts:       []compose.HostCircuit{},
			expected:    parallelizer.Info{NumCircuits: 3},
		},
		{
			name:        "Several hosts on several backends",
			numCircuits: 8,
			hosts: []compose.HostCircuit{
				hostWith("a", 3),
				hostWith("a", 1),
				hostWith("b", 2),
			},
			expected: parallelizer.Info{
				NumCircuits:           8,
				NumPlaced:             6,
				NumBackendsUsed:       2,
				NumHostCircuits:       3,
				MinCircuitsPerHost:    1,
				MaxCircuitsPerHost:    3,
				AvgCircuitsPerHost:    2,
				AvgCircuitsPerBackend: 3,
			},
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parallelizer.NewInfo(tt.numCircuits, tt.hosts))
		})
	}
}
