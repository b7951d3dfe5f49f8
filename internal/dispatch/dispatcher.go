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

package dispatch

import (
	"context"
	"fmt"
	"github.com/nebuly-ai/qpack/internal/compose"
	"github.com/nebuly-ai/qpack/internal/metrics"
	"github.com/nebuly-ai/qpack/internal/otel"
	"github.com/nebuly-ai/qpack/pkg/api/qpack/config/v1alpha1"
	"github.com/nebuly-ai/qpack/pkg/backend"
	"github.com/nebuly-ai/qpack/pkg/util"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
	"math"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"time"
)

// Job is a host circuit submitted to its backend.
type Job struct {
	ID      string
	Backend backend.Backend
	// Handle is empty if the submission failed
	Handle backend.Handle
	// Err is the SubmissionError of the job, if any
	Err error

	host compose.HostCircuit
}

// Host returns a copy of the host circuit run by the job.
func (j *Job) Host() compose.HostCircuit {
	return j.host.DeepCopy()
}

// BackendName returns the name of the backend the job targets.
func (j *Job) BackendName() string {
	return j.host.Backend
}

// RegisterMaps returns a copy of the register maps of the host circuit.
func (j *Job) RegisterMaps() []compose.RegisterMap {
	return j.host.DeepCopy().RegisterMaps
}

// Cancel asks the backend to cancel the execution of the job.
func (j *Job) Cancel(ctx context.Context) error {
	if j.Err != nil {
		return j.Err
	}
	return j.Backend.Cancel(ctx, j.Handle)
}

// Outcome is the raw result of a job.
type Outcome struct {
	Job    *Job
	Counts backend.Counts
	Err    error
}

type PollOptions struct {
	InitialInterval time.Duration
	Factor          float64
	MaxInterval     time.Duration
	// Timeout bounds the wait of a single job, zero means no limit
	Timeout time.Duration
}

func NewPollOptions(o v1alpha1.Options) PollOptions {
	res := PollOptions{
		InitialInterval: v1alpha1.DefaultPollInitial,
		Factor:          o.Poll.Factor,
		MaxInterval:     v1alpha1.DefaultPollMaxInterval,
		Timeout:         o.PollTimeout(),
	}
	if o.Poll.InitialInterval != nil {
		res.InitialInterval = o.Poll.InitialInterval.Duration
	}
	if o.Poll.MaxInterval != nil {
		res.MaxInterval = o.Poll.MaxInterval.Duration
	}
	if res.Factor < 1 {
		res.Factor = v1alpha1.DefaultPollFactor
	}
	return res
}

func (o PollOptions) backoff() wait.Backoff {
	return wait.Backoff{
		Duration: o.InitialInterval,
		Factor:   o.Factor,
		Cap:      o.MaxInterval,
		Steps:    math.MaxInt32,
	}
}

type Dispatcher struct {
	backends map[string]backend.Backend
	poll     PollOptions
}

func NewDispatcher(backends []backend.Backend, poll PollOptions) (*Dispatcher, error) {
	res := &Dispatcher{
		backends: make(map[string]backend.Backend, len(backends)),
		poll:     poll,
	}
	for _, b := range backends {
		if _, ok := res.backends[b.Name()]; ok {
			return nil, fmt.Errorf("duplicated backend %q", b.Name())
		}
		res.backends[b.Name()] = b
	}
	return res, nil
}

func (d *Dispatcher) newLogger(ctx context.Context) klog.Logger {
	return log.FromContext(ctx).WithName("Dispatcher")
}

// Submit sends every host circuit to its backend concurrently. The returned
// jobs follow the order of the host circuits; a failed submission is stored
// in the Err field of its job and does not affect the others.
func (d *Dispatcher) Submit(ctx context.Context, hosts []compose.HostCircuit) []*Job {
	logger := d.newLogger(ctx)
	jobs := make([]*Job, len(hosts))
	var g errgroup.Group
	for i, h := range hosts {
		job := &Job{ID: fmt.Sprintf("job-%d-%s", i, h.Name), host: h.DeepCopy()}
		jobs[i] = job
		g.Go(func() error {
			d.submit(ctx, job)
			if job.Err != nil {
				logger.Error(job.Err, "submission failed", "job", job.ID)
				return nil
			}
			logger.V(1).Info("job submitted", "job", job.ID, "backend", job.host.Backend, "handle", job.Handle)
			return nil
		})
	}
	_ = g.Wait()
	return jobs
}

func (d *Dispatcher) submit(ctx context.Context, job *Job) {
	ctx, span := otel.Tracer().Start(ctx, "dispatch.Submit")
	span.SetAttributes(
		attribute.String("job", job.ID),
		attribute.String("backend", job.host.Backend),
		attribute.Int("circuits", job.host.NumCircuits()),
	)
	defer func() { otel.EndSpan(span, job.Err) }()

	b, ok := d.backends[job.host.Backend]
	if !ok {
		job.Err = &SubmissionError{JobID: job.ID, Backend: job.host.Backend, Err: fmt.Errorf("unknown backend")}
		metrics.RecordSubmission(job.host.Backend, job.Err)
		return
	}
	job.Backend = b
	handle, err := b.Submit(ctx, job.host.Circuit)
	metrics.RecordSubmission(job.host.Backend, err)
	if err != nil {
		job.Err = &SubmissionError{JobID: job.ID, Backend: job.host.Backend, Err: err}
		return
	}
	job.Handle = handle
}

// Wait polls the job with exponential backoff until it reaches a final
// status, then fetches its raw counts.
func (d *Dispatcher) Wait(ctx context.Context, job *Job) (backend.Counts, error) {
	if job.Err != nil {
		return nil, job.Err
	}
	logger := d.newLogger(ctx)
	if d.poll.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.poll.Timeout)
		defer cancel()
	}

	start := time.Now()
	backoff := d.poll.backoff()
	timer := util.NewStoppedTimer()
	defer util.StopTimer(timer)

	var status backend.Status
	for {
		var err error
		status, err = job.Backend.Poll(ctx, job.Handle)
		if err != nil {
			return nil, &ExecutionError{JobID: job.ID, Backend: job.host.Backend, Handle: job.Handle, Err: err}
		}
		if status.IsFinal() {
			break
		}
		interval := backoff.Step()
		logger.V(2).Info("job not completed", "job", job.ID, "status", status, "nextPoll", interval)
		if err = util.SleepWithTimer(ctx, timer, interval); err != nil {
			metrics.ObserveJobWait(job.host.Backend, string(status), time.Since(start))
			return nil, &ExecutionError{JobID: job.ID, Backend: job.host.Backend, Handle: job.Handle, Status: status, Err: err}
		}
	}
	metrics.ObserveJobWait(job.host.Backend, string(status), time.Since(start))

	if status != backend.StatusDone {
		return nil, &ExecutionError{JobID: job.ID, Backend: job.host.Backend, Handle: job.Handle, Status: status}
	}
	counts, err := job.Backend.Fetch(ctx, job.Handle)
	if err != nil {
		return nil, &ExecutionError{JobID: job.ID, Backend: job.host.Backend, Handle: job.Handle, Status: status, Err: err}
	}
	logger.V(1).Info("job completed", "job", job.ID, "samples", counts.Total())
	return counts, nil
}

// Collect waits for every job concurrently. Outcomes follow the order of the
// jobs.
func (d *Dispatcher) Collect(ctx context.Context, jobs []*Job) []Outcome {
	res := make([]Outcome, len(jobs))
	var g errgroup.Group
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			counts, err := d.Wait(ctx, job)
			res[i] = Outcome{Job: job, Counts: counts, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return res
}
