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
	"errors"
	"fmt"
	"github.com/nebuly-ai/qpack/internal/metrics"
	"github.com/nebuly-ai/qpack/internal/otel"
	"github.com/nebuly-ai/qpack/internal/packing/embedding"
	"github.com/nebuly-ai/qpack/internal/packing/state"
	"github.com/nebuly-ai/qpack/pkg/api/qpack/config/v1alpha1"
	"github.com/nebuly-ai/qpack/pkg/backend"
	"github.com/nebuly-ai/qpack/pkg/circuit"
	"github.com/nebuly-ai/qpack/pkg/util"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sort"
	"strings"
	"time"
)

type PackingPlan struct {
	DesiredState state.PackingState
	// Failures maps the index of every circuit that could not be placed to
	// the reason why.
	Failures map[int]error
	backends []string
	id       string
}

func NewPackingPlan(s state.PackingState, failures map[int]error, backends []string) PackingPlan {
	safeId := strings.NewReplacer(
		" ", "-",
		":", "-",
		"+", "-",
	).Replace(time.Now().UTC().String())
	return PackingPlan{
		DesiredState: s,
		Failures:     failures,
		backends:     backends,
		id:           safeId,
	}
}

func (p PackingPlan) GetId() string {
	return p.id
}

// Backends returns the names of the backends in declaration order.
func (p PackingPlan) Backends() []string {
	return p.backends
}

// PlannerOptions tunes the packing pass.
type PlannerOptions struct {
	Padding           v1alpha1.PaddingPolicy
	PaddingDistance   int
	Induced           bool
	MaxBinsPerBackend int
	MaxCandidates     int
	Parallelism       int
}

// NewPlannerOptions extracts the planner settings from the provided Options.
func NewPlannerOptions(o v1alpha1.Options) PlannerOptions {
	return PlannerOptions{
		Padding:           o.Padding,
		PaddingDistance:   o.PaddingDistance,
		Induced:           o.Induced,
		MaxBinsPerBackend: o.MaxBinsPerBackend,
		MaxCandidates:     o.MaxCandidates,
		Parallelism:       o.Parallelism,
	}
}

type planner struct {
	solver  embedding.Solver
	sorter  Sorter
	orderer BinOrderer
	opts    PlannerOptions
}

func NewPlanner(solver embedding.Solver, sorter Sorter, orderer BinOrderer, opts PlannerOptions) Planner {
	if opts.MaxCandidates < 1 {
		opts.MaxCandidates = 1
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.PaddingDistance < 1 {
		opts.PaddingDistance = 1
	}
	return planner{
		solver:  solver,
		sorter:  sorter,
		orderer: orderer,
		opts:    opts,
	}
}

func (p planner) Plan(ctx context.Context, circuits []circuit.Circuit, forced map[int]map[int]int, targets []backend.Target) (PackingPlan, error) {
	logger := log.FromContext(ctx)
	ctx, span := otel.Tracer().Start(ctx, "packing.Plan")
	span.SetAttributes(attribute.Int("circuits", len(circuits)), attribute.Int("backends", len(targets)))
	var err error
	defer func() { otel.EndSpan(span, err) }()

	backends, err := backendNames(targets)
	if err != nil {
		return PackingPlan{}, err
	}
	logger.V(1).Info(
		"planning circuit packing",
		"circuits",
		len(circuits),
		"backends",
		len(targets),
		"binOrder",
		p.orderer.Name(),
	)

	failures := make(map[int]error)
	requests := make([]Request, 0, len(circuits))
	for i, c := range circuits {
		r, reqErr := NewRequest(i, c, forced[i])
		if reqErr != nil {
			logger.V(1).Info("circuit rejected", "circuit", c.Name, "index", i, "reason", reqErr.Error())
			failures[i] = reqErr
			metrics.RecordPlacement(false)
			continue
		}
		requests = append(requests, r)
	}

	// Sort requests
	sorted := p.sorter.Sort(requests)
	bins := newBinSet(targets, p.opts.MaxBinsPerBackend)

	for i, r := range sorted {
		if ctxErr := ctx.Err(); ctxErr != nil {
			p.abort(sorted[i:], failures, ctxErr)
			err = fmt.Errorf("packing aborted: %w", ctxErr)
			break
		}

		placement, placeErr := p.place(ctx, r, bins)
		if placeErr != nil {
			// a cancellation during the search makes every attempt fail
			if ctxErr := ctx.Err(); ctxErr != nil {
				p.abort(sorted[i:], failures, ctxErr)
				err = fmt.Errorf("packing aborted: %w", ctxErr)
				break
			}
			logger.V(1).Info("circuit does not fit any bin", "circuit", r.Name(), "index", r.Index, "reason", placeErr.Error())
			failures[r.Index] = placeErr
			metrics.RecordPlacement(false)
			continue
		}

		logger.V(1).Info(
			"circuit placed",
			"circuit",
			r.Name(),
			"index",
			r.Index,
			"backend",
			placement.Backend,
			"bin",
			placement.Bin,
			"units",
			placement.Units(),
		)
		metrics.RecordPlacement(true)
	}

	plan := NewPackingPlan(bins.close(), failures, backends)
	logger.V(1).Info(
		"packing completed",
		"planId",
		plan.GetId(),
		"placed",
		plan.DesiredState.NumPlacements(),
		"unplaceable",
		len(plan.Failures),
	)
	return plan, err
}

func (p planner) abort(pending []Request, failures map[int]error, cause error) {
	for _, r := range pending {
		failures[r.Index] = &PlacementError{CircuitIndex: r.Index, CircuitName: r.Name(), Reason: "packing aborted", Err: cause}
	}
}

func backendNames(targets []backend.Target) ([]string, error) {
	res := make([]string, 0, len(targets))
	seen := sets.NewString()
	for _, t := range targets {
		if t.Name() == "" {
			return nil, fmt.Errorf("backend name is required")
		}
		if seen.Has(t.Name()) {
			return nil, fmt.Errorf("duplicated backend %q", t.Name())
		}
		if t.Topology() == nil {
			return nil, fmt.Errorf("backend %q has no topology", t.Name())
		}
		seen.Insert(t.Name())
		res = append(res, t.Name())
	}
	return res, nil
}

// place finds a bin for the request and commits the placement into it.
func (p planner) place(ctx context.Context, r Request, bins *binSet) (state.Placement, error) {
	logger := log.FromContext(ctx)

	// Only backends able to host the forced layout are eligible
	eligible := make([]int, 0, len(bins.targets))
	conflicts := make([]string, 0)
	for i, t := range bins.targets {
		if r.NumUnits() > t.Topology().NumUnits() {
			continue
		}
		if c := r.layoutConflicts(t.Topology()); len(c) > 0 {
			for _, reason := range c {
				conflicts = append(conflicts, fmt.Sprintf("%s: %s", t.Name(), reason))
			}
			continue
		}
		eligible = append(eligible, i)
	}
	if len(eligible) == 0 {
		if len(conflicts) > 0 {
			return state.Placement{}, &LayoutConflictError{CircuitIndex: r.Index, CircuitName: r.Name(), Conflicts: conflicts}
		}
		return state.Placement{}, &PlacementError{
			CircuitIndex: r.Index,
			CircuitName:  r.Name(),
			Reason:       fmt.Sprintf("%d units exceed the size of every backend", r.NumUnits()),
		}
	}

	for _, i := range eligible {
		bins.ensureEmptyBin(i)
	}
	candidates := util.Filter(p.orderer.Order(bins.binsOf(eligible)), func(b *Bin) bool {
		return b.FreeUnits() >= r.NumUnits()
	})
	if len(candidates) == 0 {
		return state.Placement{}, &PlacementError{
			CircuitIndex: r.Index,
			CircuitName:  r.Name(),
			Reason:       "no bin has enough free units",
			Err:          embedding.ErrUnembeddable,
		}
	}

	attempts, err := p.solve(ctx, r, candidates)
	if err != nil {
		return state.Placement{}, &PlacementError{CircuitIndex: r.Index, CircuitName: r.Name(), Reason: "embedding failed", Err: err}
	}

	for _, idx := range p.rank(candidates, attempts) {
		placement := p.newPlacement(r, candidates[idx], attempts[idx].mapping)
		if err = candidates[idx].add(placement); err != nil {
			logger.Error(err, "unable to commit placement", "circuit", r.Name(), "bin", candidates[idx].Name())
			continue
		}
		return placement, nil
	}

	return state.Placement{}, &PlacementError{
		CircuitIndex: r.Index,
		CircuitName:  r.Name(),
		Reason:       fmt.Sprintf("no embedding found in %d candidate bins", len(candidates)),
		Err:          embedding.ErrUnembeddable,
	}
}

type attempt struct {
	mapping embedding.Mapping
	err     error
	done    bool
}

// solve runs the embedding of the request against the candidate bins, in
// chunks of concurrent attempts, until enough successful embeddings are found.
// Every attempt works on a snapshot of the reservation of its bin.
func (p planner) solve(ctx context.Context, r Request, candidates []*Bin) ([]attempt, error) {
	attempts := make([]attempt, len(candidates))
	var found int
	for start := 0; start < len(candidates) && found < p.opts.MaxCandidates; start += p.opts.Parallelism {
		end := util.Min(start+p.opts.Parallelism, len(candidates))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.opts.Parallelism)
		for i := start; i < end; i++ {
			i := i
			problem := embedding.Problem{
				Interaction: r.Interaction,
				Topology:    candidates[i].Target.Topology(),
				Reserved:    candidates[i].Reserved(),
				Forced:      r.Forced,
				Induced:     p.opts.Induced,
			}
			g.Go(func() error {
				m, err := p.solver.Solve(gctx, problem)
				attempts[i] = attempt{mapping: m, err: err, done: true}
				if err != nil && !errors.Is(err, embedding.ErrUnembeddable) {
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for i := start; i < end; i++ {
			if attempts[i].err == nil {
				found++
			}
		}
	}
	return attempts, nil
}

// rank returns the indexes of the first successful attempts, at most
// MaxCandidates, sorted from the best to the worst. An attempt is better when
// it consumes fewer couplers not already touched by the bin.
func (p planner) rank(candidates []*Bin, attempts []attempt) []int {
	res := make([]int, 0, p.opts.MaxCandidates)
	for i, a := range attempts {
		if len(res) == p.opts.MaxCandidates {
			break
		}
		if a.done && a.err == nil {
			res = append(res, i)
		}
	}
	if len(res) < 2 {
		return res
	}
	scores := make(map[int]int, len(res))
	for _, i := range res {
		scores[i] = freshCouplers(candidates[i], attempts[i].mapping)
	}
	sort.SliceStable(res, func(i, j int) bool {
		return scores[res[i]] < scores[res[j]]
	})
	return res
}

func freshCouplers(bin *Bin, m embedding.Mapping) int {
	taken := bin.Used()
	units := sets.NewInt(m...)
	var res int
	for _, e := range bin.Target.Topology().Edges() {
		if taken.Has(e.A) || taken.Has(e.B) {
			continue
		}
		if units.Has(e.A) || units.Has(e.B) {
			res++
		}
	}
	return res
}

func (p planner) newPlacement(r Request, bin *Bin, m embedding.Mapping) state.Placement {
	layout := make([]int, len(m))
	copy(layout, m)
	padding := make([]int, 0)
	if p.opts.Padding == v1alpha1.PaddingIsolate {
		used := sets.NewInt(layout...)
		padding = bin.Target.Topology().Neighborhood(used, p.opts.PaddingDistance).Difference(used).List()
	}
	return state.Placement{
		CircuitIndex:  r.Index,
		Circuit:       r.Circuit,
		OriginalUnits: r.OriginalUnits,
		Backend:       bin.Target.Name(),
		Bin:           bin.Index,
		Layout:        layout,
		Padding:       padding,
	}
}
