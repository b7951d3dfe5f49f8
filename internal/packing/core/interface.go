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
	"context"
	"github.com/nebuly-ai/qpack/pkg/backend"
	"github.com/nebuly-ai/qpack/pkg/circuit"
)

type Planner interface {
	// Plan assigns the circuits to bins of the provided targets. Forced layouts
	// are keyed by circuit index.
	Plan(ctx context.Context, circuits []circuit.Circuit, forced map[int]map[int]int, targets []backend.Target) (PackingPlan, error)
}

// Sorter decides the order in which circuits are placed.
type Sorter interface {
	Sort(requests []Request) []Request
}

// BinOrderer decides the order in which the bins are tried for a circuit.
type BinOrderer interface {
	Name() string
	Order(bins []*Bin) []*Bin
}
