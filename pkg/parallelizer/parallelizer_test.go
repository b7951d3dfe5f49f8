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
	"context"
	"errors"
	"github.com/nebuly-ai/qpack/internal/dispatch"
	"github.com/nebuly-ai/qpack/internal/packing/core"
	"github.com/nebuly-ai/qpack/pkg/api/qpack/config/v1alpha1"
	"github.com/nebuly-ai/qpack/pkg/backend"
	"github.com/nebuly-ai/qpack/pkg/circuit"
	"github.com/nebuly-ai/qpack/pkg/parallelizer"
	"github.com/nebuly-ai/qpack/pkg/test/factory"
	"github.com/nebuly-ai/qpack/pkg/test/mocks"
	"github.com/nebuly-ai/qpack/pkg/topology"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"time"
)

func newOptions() v1alpha1.Options {
	o := v1alpha1.NewDefaultOptions()
	o.Parallelism = 2
	o.Poll.InitialInterval = &metav1.Duration{Duration: time.Millisecond}
	o.Poll.MaxInterval = &metav1.Duration{Duration: 5 * time.Millisecond}
	o.Poll.Timeout = &metav1.Duration{Duration: 10 * time.Second}
	return o
}

func buildBatch() []circuit.Circuit {
	return []circuit.Circuit{
		factory.BuildCircuit("bell-1", 2, 2).
			WithGate("x", 0).
			WithGate("cx", 0, 1).
			WithMeasureAll().
			Get(),
		factory.BuildPair("bell-0"),
		factory.BuildTriangle("triangle"),
		factory.BuildCircuit("chain", 3, 3).
			WithGate("x", 2).
			WithGate("cx", 2, 1).
			WithGate("cx", 0, 1).
			WithMeasureAll().
			Get(),
	}
}

var _ = Describe("PackAndRun", func() {
	var (
		lineA   *mocks.MockedBackend
		lineB   *mocks.MockedBackend
		options v1alpha1.Options
		batch   []circuit.Circuit
	)

	BeforeEach(func() {
		lineA = mocks.NewMockedBackend("line-a", topology.Line(5))
		lineA.PollsBeforeDone = 2
		lineB = mocks.NewMockedBackend("line-b", topology.Line(5))
		options = newOptions()
		options.MaxBinsPerBackend = 1
		batch = buildBatch()
	})

	When("Circuits fit on the backends", func() {
		It("Should return the results of every circuit in input order", func() {
			res, err := parallelizer.PackAndRun(ctx, batch, []backend.Backend{lineA, lineB}, options)
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Circuits).To(HaveLen(len(batch)))
			Expect(res.PlanId).ToNot(BeEmpty())

			By("Checking each circuit got the counts it would get alone")
			run := mocks.ClassicalCounts(100)
			for i, c := range batch {
				if c.Name == "triangle" {
					continue
				}
				Expect(res.Circuits[i].Err).ToNot(HaveOccurred())
				Expect(res.Circuits[i].Name).To(Equal(c.Name))
				Expect(res.Circuits[i].Counts).To(Equal(run(c)))
				Expect(res.Circuits[i].Counts.Total()).To(Equal(100))
			}
			Expect(res.Circuits[0].Counts).To(Equal(backend.Counts{"11": 100}))
			Expect(res.Circuits[3].Counts).To(Equal(backend.Counts{"110": 100}))

			By("Checking the triangle is reported as unplaceable")
			var placementErr *core.PlacementError
			Expect(errors.As(res.Circuits[2].Err, &placementErr)).To(BeTrue())
			_, _, _, err = res.ForCircuit(2)
			Expect(err).To(HaveOccurred())

			By("Checking circuits sharing a host circuit share the job")
			jobChain, backendChain, handleChain, err := res.ForCircuit(3)
			Expect(err).ToNot(HaveOccurred())
			jobBell, backendBell, handleBell, err := res.ForCircuit(0)
			Expect(err).ToNot(HaveOccurred())
			Expect(jobChain).To(Equal(jobBell))
			Expect(backendChain).To(Equal("line-a"))
			Expect(backendBell).To(Equal("line-a"))
			Expect(handleChain).To(Equal(handleBell))

			jobOther, backendOther, _, err := res.ForCircuit(1)
			Expect(err).ToNot(HaveOccurred())
			Expect(jobOther).ToNot(Equal(jobChain))
			Expect(backendOther).To(Equal("line-b"))
			_, _, _, err = res.ForCircuit(10)
			Expect(err).To(HaveOccurred())

			By("Checking the statistics")
			Expect(res.Info).To(Equal(parallelizer.Info{
				NumCircuits:           4,
				NumPlaced:             3,
				NumBackendsUsed:       2,
				NumHostCircuits:       2,
				MinCircuitsPerHost:    1,
				MaxCircuitsPerHost:    2,
				AvgCircuitsPerHost:    1.5,
				AvgCircuitsPerBackend: 1.5,
			}))
			Expect(lineA.Submitted()).To(HaveLen(1))
			Expect(lineB.Submitted()).To(HaveLen(1))
			logger.Info("batch executed", "info", res.Info)
		})
	})

	When("A backend rejects its host circuit", func() {
		It("Should fail only the circuits of that host circuit", func() {
			lineB.SubmitError = errors.New("backend offline")
			res, err := parallelizer.PackAndRun(ctx, batch, []backend.Backend{lineA, lineB}, options)
			Expect(err).ToNot(HaveOccurred())

			var submissionErr *dispatch.SubmissionError
			Expect(errors.As(res.Circuits[1].Err, &submissionErr)).To(BeTrue())
			Expect(submissionErr.Backend).To(Equal("line-b"))
			Expect(res.Circuits[1].Counts).To(BeNil())

			Expect(res.Circuits[0].Err).ToNot(HaveOccurred())
			Expect(res.Circuits[3].Err).ToNot(HaveOccurred())
			Expect(res.Circuits[0].Counts.Total()).To(Equal(100))
		})
	})

	When("A job fails on the backend", func() {
		It("Should report an execution error for its circuits", func() {
			lineA.FinalStatus = backend.StatusFailed
			res, err := parallelizer.PackAndRun(ctx, batch, []backend.Backend{lineA, lineB}, options)
			Expect(err).ToNot(HaveOccurred())

			var executionErr *dispatch.ExecutionError
			Expect(errors.As(res.Circuits[0].Err, &executionErr)).To(BeTrue())
			Expect(errors.As(res.Circuits[3].Err, &executionErr)).To(BeTrue())
			Expect(res.Circuits[1].Err).ToNot(HaveOccurred())
		})
	})

	When("Circuits are isolated on a short line", func() {
		It("Should report the circuits exceeding the capacity as unplaceable", func() {
			short := mocks.NewMockedBackend("short", topology.Line(4))
			options.Padding = v1alpha1.PaddingIsolate
			pairs := []circuit.Circuit{factory.BuildPair("p-0"), factory.BuildPair("p-1")}

			res, err := parallelizer.PackAndRun(ctx, pairs, []backend.Backend{short}, options)
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Circuits[0].Err).ToNot(HaveOccurred())
			Expect(res.Circuits[1].Err).To(HaveOccurred())
			Expect(res.Info.NumPlaced).To(Equal(1))
		})
	})

	When("The context is cancelled", func() {
		It("Should return an error", func() {
			cancelled, cancelFn := context.WithCancel(ctx)
			cancelFn()
			_, err := parallelizer.PackAndRun(cancelled, batch, []backend.Backend{lineA, lineB}, options)
			Expect(err).To(MatchError(context.Canceled))
			Expect(lineA.NumSubmit).To(Equal(0))
		})
	})
})

var _ = Describe("Rearrange", func() {
	var targets []backend.Target

	BeforeEach(func() {
		targets = []backend.Target{
			backend.NewTarget("line", topology.Line(5), 1),
			backend.NewTarget("grid", topology.Grid(2, 3), 2),
		}
	})

	It("Should honor forced layouts by circuit name", func() {
		o := newOptions()
		o.ForcedLayouts = map[string]map[int]int{"bell-0": {0: 2, 1: 3}}
		a, err := parallelizer.Rearrange(ctx, buildBatch(), targets, o)
		Expect(err).ToNot(HaveOccurred())

		placements := a.Plan.DesiredState.Placements()
		found := false
		for _, p := range placements {
			if p.Circuit.Name == "bell-0" {
				found = true
				Expect(p.Backend).To(Equal("line"))
				Expect(p.Layout).To(Equal([]int{2, 3}))
			}
		}
		Expect(found).To(BeTrue())
	})

	It("Should reject forced layouts of unknown circuits", func() {
		o := newOptions()
		o.ForcedLayouts = map[string]map[int]int{"missing": {0: 0}}
		_, err := parallelizer.Rearrange(ctx, buildBatch(), targets, o)
		Expect(err).To(HaveOccurred())
	})

	It("Should reject invalid options", func() {
		o := newOptions()
		o.Padding = "everywhere"
		_, err := parallelizer.Rearrange(ctx, buildBatch(), targets, o)
		Expect(err).To(HaveOccurred())
	})

	It("Should produce the same arrangement on every run", func() {
		o := newOptions()
		o.Padding = v1alpha1.PaddingIsolate
		first, err := parallelizer.Rearrange(ctx, buildBatch(), targets, o)
		Expect(err).ToNot(HaveOccurred())
		for i := 0; i < 3; i++ {
			other, err := parallelizer.Rearrange(ctx, buildBatch(), targets, o)
			Expect(err).ToNot(HaveOccurred())
			Expect(other.Plan.DesiredState.Equal(first.Plan.DesiredState)).To(BeTrue())
			Expect(other.Info).To(Equal(first.Info))
		}
	})

	It("Should describe the arrangement", func() {
		a, err := parallelizer.Rearrange(ctx, buildBatch(), targets, newOptions())
		Expect(err).ToNot(HaveOccurred())
		description := a.Describe()
		Expect(description).To(ContainSubstring("Packing plan " + a.Plan.GetId()))
		Expect(description).To(ContainSubstring("circuits: 4, placed: 3, unplaceable: 1"))
		Expect(description).To(ContainSubstring("Host circuit grid-0"))
		Expect(description).To(ContainSubstring("Unplaceable circuits"))
		Expect(description).To(ContainSubstring("[2]"))
	})
})
