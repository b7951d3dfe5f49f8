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

package iter

import (
	"gonum.org/v1/gonum/stat/combin"
)

// PermutationGenerator iterates over the ordered selections of k elements of
// a slice.
type PermutationGenerator[K any] struct {
	generator *combin.PermutationGenerator
	source    []K
	k         int
}

func NewPermutationGenerator[K any](source []K, k int) PermutationGenerator[K] {
	res := PermutationGenerator[K]{source: source, k: k}
	if k > 0 && k <= len(source) {
		res.generator = combin.NewPermutationGenerator(len(source), k)
	}
	return res
}

func (p *PermutationGenerator[K]) Permutation() []K {
	perm := p.generator.Permutation(nil)
	res := make([]K, p.k)
	for i, index := range perm {
		res[i] = p.source[index]
	}
	return res
}

func (p *PermutationGenerator[K]) Next() bool {
	if p.generator == nil {
		return false
	}
	return p.generator.Next()
}

// ForEachPermutation calls f with every selection of k elements of the slice
// until f returns false.
func ForEachPermutation[K any](source []K, k int, f func(perm []K) bool) {
	g := NewPermutationGenerator(source, k)
	for g.Next() {
		if !f(g.Permutation()) {
			return
		}
	}
}
