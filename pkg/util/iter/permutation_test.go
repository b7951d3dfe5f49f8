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

package iter_test

import (
	"github.com/nebuly-ai/qpack/pkg/util/iter"
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestPermutationGenerator(t *testing.T) {
	testCases := []struct {
		name                 string
		source               []string
		k                    int
		expectedPermutations [][]string
	}{
		{
			name:                 "Empty source slice",
			source:               make([]string, 0),
			k:                    1,
			expectedPermutations: make([][]string, 0),
		},
		{
			name:                 "Selection larger than the slice",
			source:               []string{"a", "b"},
			k:                    3,
			expectedPermutations: make([][]string, 0),
		},
		{
			name:   "All elements",
			source: []string{"a", "b", "c"},
			k:      3,
			expectedPermutations: [][]string{
				{"a", "b", "c"},
				{"a", "c", "b"},
				{"b", "a", "c"},
				{"b", "c", "a"},
				{"c", "a", "b"},
				{"c", "b", "a"},
			},
		},
		{
			name:   "Partial selection",
			source: []string{"a", "b", "c"},
			k:      2,
			expectedPermutations: [][]string{
				{"a", "b"},
				{"a", "c"},
				{"b", "a"},
				{"b", "c"},
				{"c", "a"},
				{"c", "b"},
			},
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			permutations := make([][]string, 0)
			g := iter.NewPermutationGenerator(tt.source, tt.k)
			for g.Next() {
				permutations = append(permutations, g.Permutation())
			}
			assert.ElementsMatch(t, tt.expectedPermutations, permutations)
		})
	}
}

func TestForEachPermutation(t *testing.T) {
	var calls int
	iter.ForEachPermutation([]int{1, 2, 3, 4}, 2, func(perm []int) bool {
		calls++
		return calls < 5
	})
	assert.Equal(t, 5, calls)
}
