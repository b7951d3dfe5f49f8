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
	"github.com/nebuly-ai/qpack/internal/metrics"
	"github.com/nebuly-ai/qpack/pkg/topology"
	"golang.org/x/exp/slices"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"time"
)

// checkInterval is the number of search steps between two checks of the
// context and of the deadline.
const checkInterval = 256

type backtrackingSolver struct {
	budget Budget
}

// NewSolver returns a Solver that explores the assignments of abstract units
// depth-first, propagating adjacency and all-different constraints. The
// exploration order only depends on the problem, so identical problems
// always produce identical mappings.
func NewSolver(budget Budget) Solver {
	return backtrackingSolver{budget: budget}
}

func (s backtrackingSolver) Solve(ctx context.Context, p Problem) (Mapping, error) {
	logger := log.FromContext(ctx)
	start := time.Now()

	m, steps, err := s.solve(ctx, p)

	outcome := metrics.OutcomeEmbedded
	switch {
	case errors.Is(err, ErrBudgetExhausted):
		outcome = metrics.OutcomeExhausted
	case errors.Is(err, ErrUnembeddable):
		outcome = metrics.OutcomeUnembeddable
	case err != nil:
		outcome = metrics.OutcomeError
	}
	metrics.ObserveSolve(outcome, time.Since(start))
	logger.V(3).Info(
		"embedding search completed",
		"outcome",
		outcome,
		"steps",
		steps,
		"units",
		p.Interaction.NumUnits(),
		"reserved",
		p.Reserved.Len(),
		"duration",
		time.Since(start),
	)
	return m, err
}

func (s backtrackingSolver) solve(ctx context.Context, p Problem) (Mapping, int64, error) {
	if p.Interaction == nil || p.Topology == nil {
		return nil, 0, fmt.Errorf("embedding: interaction and topology graphs are required")
	}
	k := p.Interaction.NumUnits()
	if k == 0 {
		return Mapping{}, 0, nil
	}

	srch, err := newSearch(ctx, p, s.budget)
	if err != nil {
		return nil, 0, err
	}
	if !srch.run(0) {
		if srch.err != nil {
			return nil, srch.steps, srch.err
		}
		return nil, srch.steps, ErrUnembeddable
	}

	res := make(Mapping, k)
	copy(res, srch.assign)
	if err = Verify(p, res); err != nil {
		return nil, srch.steps, fmt.Errorf("embedding: invalid mapping produced, this should never happen: %v", err)
	}
	return res, srch.steps, nil
}

type search struct {
	ctx      context.Context
	p        Problem
	budget   Budget
	deadline time.Time

	// order is the sequence in which abstract units are assigned
	order []int
	// domains lists, for each abstract unit, its candidate physical units in ascending order
	domains [][]int
	// inDomain[a][u] is true if u belongs to the domain of a
	inDomain [][]bool
	// assign maps abstract units to physical units, -1 if unassigned
	assign []int
	// owner maps physical units to abstract units, -1 if free
	owner []int
	// available is false for reserved physical units
	available []bool

	steps int64
	err   error
}

func newSearch(ctx context.Context, p Problem, budget Budget) (*search, error) {
	k := p.Interaction.NumUnits()
	n := p.Topology.NumUnits()

	s := &search{
		ctx:       ctx,
		p:         p,
		budget:    budget,
		assign:    make([]int, k),
		owner:     make([]int, n),
		available: make([]bool, n),
		domains:   make([][]int, k),
		inDomain:  make([][]bool, k),
	}
	if budget.Timeout > 0 {
		s.deadline = time.Now().Add(budget.Timeout)
	}
	for a := range s.assign {
		s.assign[a] = -1
	}
	var numAvailable int
	for u := range s.owner {
		s.owner[u] = -1
		s.available[u] = !p.Reserved.Has(u)
		if s.available[u] {
			numAvailable++
		}
	}
	if numAvailable < k {
		return nil, fmt.Errorf("%w: %d units required, %d available", ErrUnembeddable, k, numAvailable)
	}

	// free degree of a physical unit: number of its available neighbours
	freeDegree := make([]int, n)
	for u := 0; u < n; u++ {
		for _, v := range p.Topology.Neighbors(u) {
			if s.available[v] {
				freeDegree[u]++
			}
		}
	}
	if !degreesCompatible(p.Interaction, freeDegree, s.available) {
		return nil, fmt.Errorf("%w: not enough connectivity among available units", ErrUnembeddable)
	}

	// physical units claimed by a forced assignment are excluded from the other domains
	forcedTargets := make(map[int]int, len(p.Forced))
	for a, u := range p.Forced {
		if a < 0 || a >= k {
			return nil, fmt.Errorf("%w: forced unit %d out of range", ErrUnembeddable, a)
		}
		if !p.Topology.Contains(u) || !s.available[u] {
			return nil, fmt.Errorf("%w: unit %d forced to unavailable unit %d", ErrUnembeddable, a, u)
		}
		if other, ok := forcedTargets[u]; ok {
			return nil, fmt.Errorf("%w: units %d and %d forced to the same unit %d", ErrUnembeddable, other, a, u)
		}
		forcedTargets[u] = a
	}

	for a := 0; a < k; a++ {
		s.inDomain[a] = make([]bool, n)
		degree := p.Interaction.Degree(a)
		if u, ok := p.Forced[a]; ok {
			if freeDegree[u] < degree {
				return nil, fmt.Errorf("%w: unit %d forced to %d which lacks connectivity", ErrUnembeddable, a, u)
			}
			s.domains[a] = []int{u}
			s.inDomain[a][u] = true
			continue
		}
		domain := make([]int, 0)
		for u := 0; u < n; u++ {
			if !s.available[u] || freeDegree[u] < degree {
				continue
			}
			if _, claimed := forcedTargets[u]; claimed {
				continue
			}
			domain = append(domain, u)
			s.inDomain[a][u] = true
		}
		if len(domain) == 0 {
			return nil, fmt.Errorf("%w: no candidate unit for %d", ErrUnembeddable, a)
		}
		s.domains[a] = domain
	}

	s.order = s.buildOrder()
	return s, nil
}

// degreesCompatible compares the degree sequences of the interaction graph
// and of the available part of the topology: the i-th largest interaction
// degree must not exceed the i-th largest available degree.
func degreesCompatible(interaction *topology.Graph, freeDegree []int, available []bool) bool {
	required := make([]int, interaction.NumUnits())
	for a := range required {
		required[a] = interaction.Degree(a)
	}
	offered := make([]int, 0, len(freeDegree))
	for u, d := range freeDegree {
		if available[u] {
			offered = append(offered, d)
		}
	}
	desc := func(a, b int) bool { return a > b }
	slices.SortFunc(required, desc)
	slices.SortFunc(offered, desc)
	for i, d := range required {
		if offered[i] < d {
			return false
		}
	}
	return true
}

// buildOrder returns the assignment order of the abstract units: forced units
// first, then the unit with most already ordered neighbours, then the highest
// degree, then the smallest domain and finally the lowest index.
func (s *search) buildOrder() []int {
	k := len(s.assign)
	ordered := make([]bool, k)
	links := make([]int, k)
	res := make([]int, 0, k)

	better := func(a, b int) bool {
		_, aForced := s.p.Forced[a]
		_, bForced := s.p.Forced[b]
		if aForced != bForced {
			return aForced
		}
		if links[a] != links[b] {
			return links[a] > links[b]
		}
		if da, db := s.p.Interaction.Degree(a), s.p.Interaction.Degree(b); da != db {
			return da > db
		}
		if len(s.domains[a]) != len(s.domains[b]) {
			return len(s.domains[a]) < len(s.domains[b])
		}
		return a < b
	}

	for len(res) < k {
		next := -1
		for a := 0; a < k; a++ {
			if ordered[a] {
				continue
			}
			if next == -1 || better(a, next) {
				next = a
			}
		}
		ordered[next] = true
		res = append(res, next)
		for _, b := range s.p.Interaction.Neighbors(next) {
			links[b]++
		}
	}
	return res
}

// tick counts a search step and returns false if the search must stop.
func (s *search) tick() bool {
	s.steps++
	if s.budget.MaxSteps > 0 && s.steps > s.budget.MaxSteps {
		s.err = fmt.Errorf("%w: %d steps", ErrBudgetExhausted, s.budget.MaxSteps)
		return false
	}
	if s.steps%checkInterval != 0 {
		return true
	}
	if err := s.ctx.Err(); err != nil {
		s.err = fmt.Errorf("%w: %v", ErrBudgetExhausted, err)
		return false
	}
	if !s.deadline.IsZero() && time.Now().After(s.deadline) {
		s.err = fmt.Errorf("%w: timeout of %s", ErrBudgetExhausted, s.budget.Timeout)
		return false
	}
	return true
}

func (s *search) run(depth int) bool {
	if depth == len(s.order) {
		return true
	}
	a := s.order[depth]
	for _, u := range s.candidates(a) {
		if !s.tick() {
			return false
		}
		if !s.consistent(a, u) {
			continue
		}
		s.place(a, u)
		if s.lookahead(a, u) && s.run(depth+1) {
			return true
		}
		s.unplace(a, u)
		if s.err != nil {
			return false
		}
	}
	return false
}

// candidates returns the physical units worth trying for a. If one of the
// neighbours of a is already assigned, only the topology neighbours of its
// unit can satisfy the interaction.
func (s *search) candidates(a int) []int {
	anchor := -1
	for _, b := range s.p.Interaction.Neighbors(a) {
		u := s.assign[b]
		if u < 0 {
			continue
		}
		if anchor == -1 || s.p.Topology.Degree(u) < s.p.Topology.Degree(anchor) {
			anchor = u
		}
	}
	if anchor == -1 {
		return s.domains[a]
	}
	res := make([]int, 0)
	for _, u := range s.p.Topology.Neighbors(anchor) {
		if s.inDomain[a][u] {
			res = append(res, u)
		}
	}
	return res
}

func (s *search) consistent(a, u int) bool {
	if s.owner[u] != -1 || !s.available[u] {
		return false
	}
	for _, b := range s.p.Interaction.Neighbors(a) {
		if v := s.assign[b]; v >= 0 && !s.p.Topology.Adjacent(u, v) {
			return false
		}
	}
	if s.p.Induced {
		for _, v := range s.p.Topology.Neighbors(u) {
			if b := s.owner[v]; b >= 0 && !s.p.Interaction.Adjacent(a, b) {
				return false
			}
		}
	}
	return true
}

// lookahead checks that every unassigned neighbour of a still has at least one
// candidate next to u, and that u has enough free neighbours left for all of them.
func (s *search) lookahead(a, u int) bool {
	var pending int
	for _, b := range s.p.Interaction.Neighbors(a) {
		if s.assign[b] >= 0 {
			continue
		}
		pending++
		found := false
		for _, v := range s.p.Topology.Neighbors(u) {
			if s.owner[v] == -1 && s.inDomain[b][v] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	var free int
	for _, v := range s.p.Topology.Neighbors(u) {
		if s.owner[v] == -1 && s.available[v] {
			free++
		}
	}
	return free >= pending
}

func (s *search) place(a, u int) {
	s.assign[a] = u
	s.owner[u] = a
}

func (s *search) unplace(a, u int) {
	s.assign[a] = -1
	s.owner[u] = -1
}
