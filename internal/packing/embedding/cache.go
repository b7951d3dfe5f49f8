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

package embedding

import (
	"context"
	"errors"
	"fmt"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nebuly-ai/qpack/internal/metrics"
)

type outcome struct {
	mapping Mapping
	err     error
}

type cachedSolver struct {
	solver Solver
	cache  *lru.Cache[string, outcome]
}

// NewCachedSolver wraps solver with an LRU cache holding up to size outcomes.
// Outcomes caused by an exhausted budget are never cached, since a later call
// may be given more time.
func NewCachedSolver(solver Solver, size int) (Solver, error) {
	cache, err := lru.New[string, outcome](size)
	if err != nil {
		return nil, fmt.Errorf("unable to create embedding cache: %w", err)
	}
	return &cachedSolver{solver: solver, cache: cache}, nil
}

func (c *cachedSolver) Solve(ctx context.Context, problem Problem) (Mapping, error) {
	key := problem.Key()
	if o, ok := c.cache.Get(key); ok {
		metrics.RecordCacheLookup(true)
		return copyMapping(o.mapping), o.err
	}
	metrics.RecordCacheLookup(false)

	m, err := c.solver.Solve(ctx, problem)
	if err == nil || (errors.Is(err, ErrUnembeddable) && !errors.Is(err, ErrBudgetExhausted)) {
		c.cache.Add(key, outcome{mapping: copyMapping(m), err: err})
	}
	return m, err
}

func copyMapping(m Mapping) Mapping {
	if m == nil {
		return nil
	}
	res := make(Mapping, len(m))
	copy(res, m)
	return res
}
