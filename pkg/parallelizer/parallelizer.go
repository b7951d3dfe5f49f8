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

package parallelizer

import (
	"context"
	"fmt"
	"github.com/nebuly-ai/qpack/internal/compose"
	"github.com/nebuly-ai/qpack/internal/demux"
	"github.com/nebuly-ai/qpack/internal/dispatch"
	"github.com/nebuly-ai/qpack/internal/packing/core"
	"github.com/nebuly-ai/qpack/internal/packing/embedding"
	"github.com/nebuly-ai/qpack/pkg/api/qpack/config/v1alpha1"
	"github.com/nebuly-ai/qpack/pkg/backend"
	"github.com/nebuly-ai/qpack/pkg/circuit"
	"github.com/nebuly-ai/qpack/pkg/util"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Arrangement is the outcome of a packing pass, before execution.
type Arrangement struct {
	Plan  core.PackingPlan
	Hosts []compose.HostCircuit
	Info  Info
}

// CircuitResult is the outcome of a single circuit of the batch.
type CircuitResult struct {
	Name string
	// Counts maps the outcomes of the circuit, over its own bits, to their occurrences
	Counts  backend.Counts
	JobID   string
	Backend string
	Handle  backend.Handle
	// Err is set if the circuit could not be placed or its job failed
	Err error
}

type Result struct {
	// Circuits follows the order of the input batch
	Circuits []CircuitResult
	Jobs     []*dispatch.Job
	Info     Info
	PlanId   string
}

// ForCircuit returns the job the i-th circuit of the batch ran under.
func (r Result) ForCircuit(i int) (jobID string, backendName string, handle backend.Handle, err error) {
	if i < 0 || i >= len(r.Circuits) {
		return "", "", "", fmt.Errorf("circuit %d out of %d", i, len(r.Circuits))
	}
	c := r.Circuits[i]
	if c.JobID == "" {
		return "", "", "", c.Err
	}
	return c.JobID, c.Backend, c.Handle, nil
}

// Rearrange packs the circuits on the targets and composes the host circuits,
// without running them. If the context is cancelled during the pass, the
// circuits already placed are still composed and the error is returned along
// with the arrangement.
func Rearrange(ctx context.Context, circuits []circuit.Circuit, targets []backend.Target, o v1alpha1.Options) (Arrangement, error) {
	logger := log.FromContext(ctx)
	o.SetDefaults()
	if err := o.Validate(); err != nil {
		return Arrangement{}, fmt.Errorf("invalid options: %w", err)
	}

	forced, err := forcedLayouts(circuits, o.ForcedLayouts)
	if err != nil {
		return Arrangement{}, err
	}
	planner, err := newPlanner(o)
	if err != nil {
		return Arrangement{}, err
	}

	plan, planErr := planner.Plan(ctx, circuits, forced, targets)
	if planErr != nil && plan.DesiredState == nil {
		return Arrangement{}, planErr
	}
	hosts, err := compose.ComposeAll(ctx, plan.DesiredState, targets)
	if err != nil {
		return Arrangement{}, err
	}
	res := Arrangement{Plan: plan, Hosts: hosts, Info: NewInfo(len(circuits), hosts)}
	logger.Info(
		"circuits rearranged",
		"planId",
		plan.GetId(),
		"placed",
		res.Info.NumPlaced,
		"hostCircuits",
		res.Info.NumHostCircuits,
		"backendsUsed",
		res.Info.NumBackendsUsed,
	)
	return res, planErr
}

// PackAndRun packs the circuits on the backends, runs the resulting host
// circuits and splits their outcomes back to the single circuits. Failures
// scoped to some circuits are reported in their results; the returned error
// is set only if the whole batch could not be processed.
func PackAndRun(ctx context.Context, circuits []circuit.Circuit, backends []backend.Backend, o v1alpha1.Options) (Result, error) {
	logger := log.FromContext(ctx)
	targets := make([]backend.Target, len(backends))
	for i, b := range backends {
		targets[i] = b
	}

	arrangement, err := Rearrange(ctx, circuits, targets, o)
	if err != nil {
		return Result{}, err
	}
	o.SetDefaults()
	dispatcher, err := dispatch.NewDispatcher(backends, dispatch.NewPollOptions(o))
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Circuits: make([]CircuitResult, len(circuits)),
		Info:     arrangement.Info,
		PlanId:   arrangement.Plan.GetId(),
	}
	for i, c := range circuits {
		res.Circuits[i] = CircuitResult{Name: c.Name, Err: arrangement.Plan.Failures[i]}
	}

	res.Jobs = dispatcher.Submit(ctx, arrangement.Hosts)
	outcomes := dispatcher.Collect(ctx, res.Jobs)
	for _, outcome := range outcomes {
		job := outcome.Job
		for _, m := range job.RegisterMaps() {
			r := &res.Circuits[m.CircuitIndex]
			r.JobID = job.ID
			r.Backend = job.BackendName()
			r.Handle = job.Handle
			r.Err = outcome.Err
		}
		if outcome.Err != nil {
			logger.Error(outcome.Err, "job failed", "job", job.ID)
			continue
		}
		split, err := demux.Split(outcome.Counts, job.Host().Circuit.NumBits, job.RegisterMaps())
		if err != nil {
			logger.Error(err, "unable to split job outcomes", "job", job.ID)
			for _, m := range job.RegisterMaps() {
				res.Circuits[m.CircuitIndex].Err = err
			}
			continue
		}
		for i, m := range job.RegisterMaps() {
			res.Circuits[m.CircuitIndex].Counts = split[i]
		}
	}
	return res, nil
}

func newPlanner(o v1alpha1.Options) (core.Planner, error) {
	var solver embedding.Solver = embedding.NewSolver(embedding.Budget{
		MaxSteps: o.SolverBudget.MaxSteps,
		Timeout:  o.SolverTimeout(),
	})
	if o.EmbeddingCacheSize > 0 {
		var err error
		if solver, err = embedding.NewCachedSolver(solver, o.EmbeddingCacheSize); err != nil {
			return nil, err
		}
	}
	sorter, err := core.NewSorter(o.CircuitOrder)
	if err != nil {
		return nil, err
	}
	orderer, err := core.NewBinOrderer(o.BackendOrder)
	if err != nil {
		return nil, err
	}
	return core.NewPlanner(solver, sorter, orderer, core.NewPlannerOptions(o)), nil
}

// forcedLayouts resolves the forced layouts, keyed by circuit name, to the
// indexes of the batch. A layout applies to every circuit with that name.
func forcedLayouts(circuits []circuit.Circuit, byName map[string]map[int]int) (map[int]map[int]int, error) {
	res := make(map[int]map[int]int)
	matched := make(map[string]bool, len(byName))
	for i, c := range circuits {
		if layout, ok := byName[c.Name]; ok {
			res[i] = util.CopyMap(layout)
			matched[c.Name] = true
		}
	}
	var errs []error
	for _, name := range util.GetSortedKeys(byName) {
		if !matched[name] {
			errs = append(errs, fmt.Errorf("forced layout for unknown circuit %q", name))
		}
	}
	return res, utilerrors.NewAggregate(errs)
}
