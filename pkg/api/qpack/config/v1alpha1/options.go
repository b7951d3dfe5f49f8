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

package v1alpha1

import (
	"fmt"
	"github.com/nebuly-ai/qpack/pkg/util"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"os"
	"sigs.k8s.io/yaml"
	"time"
)

type PaddingPolicy string

const (
	PaddingNone    PaddingPolicy = "none"
	PaddingIsolate PaddingPolicy = "isolate"
)

type CircuitOrder string

const (
	CircuitOrderSize         CircuitOrder = "size"
	CircuitOrderConnectivity CircuitOrder = "connectivity"
	CircuitOrderInput        CircuitOrder = "input"
)

type BackendOrder string

const (
	BackendOrderSpareCapacity BackendOrder = "spare-capacity"
	BackendOrderCost          BackendOrder = "cost"
	BackendOrderDeclared      BackendOrder = "declared"
)

const (
	DefaultPaddingDistance    = 1
	DefaultMaxCandidates      = 1
	DefaultSolverMaxSteps     = 1_000_000
	DefaultSolverTimeout      = 10 * time.Second
	DefaultPollInitial        = 500 * time.Millisecond
	DefaultPollFactor         = 1.5
	DefaultPollMaxInterval    = 30 * time.Second
	DefaultEmbeddingCacheSize = 1024
)

type SolverBudget struct {
	// MaxSteps is the maximum number of search steps of a single embedding
	// attempt. A negative value means unlimited.
	MaxSteps int64 `json:"maxSteps,omitempty"`
	// Timeout is the maximum duration of a single embedding attempt. An
	// explicit zero means unlimited.
	Timeout *metav1.Duration `json:"timeout,omitempty"`
}

type PollOptions struct {
	InitialInterval *metav1.Duration `json:"initialInterval,omitempty"`
	Factor          float64          `json:"factor,omitempty"`
	MaxInterval     *metav1.Duration `json:"maxInterval,omitempty"`
	// Timeout bounds the wait for a single job. Zero means no limit.
	Timeout *metav1.Duration `json:"timeout,omitempty"`
}

// Options configures a packing pass and the execution of its host circuits.
type Options struct {
	metav1.TypeMeta `json:",inline"`

	Padding PaddingPolicy `json:"padding,omitempty"`
	// PaddingDistance is the number of hops around the used units that are
	// reserved when Padding is isolate.
	PaddingDistance int `json:"paddingDistance,omitempty"`
	// Induced forbids mapping two units that do not interact onto adjacent units.
	Induced      bool         `json:"induced,omitempty"`
	CircuitOrder CircuitOrder `json:"circuitOrder,omitempty"`
	BackendOrder BackendOrder `json:"backendOrder,omitempty"`
	SolverBudget SolverBudget `json:"solverBudget,omitempty"`
	// MaxBinsPerBackend limits the number of host circuits per backend. Zero
	// means unlimited.
	MaxBinsPerBackend int `json:"maxBinsPerBackend,omitempty"`
	// MaxCandidates is the number of successful embeddings evaluated before
	// choosing where to place a circuit.
	MaxCandidates int `json:"maxCandidates,omitempty"`
	// Parallelism is the number of embedding attempts run concurrently.
	Parallelism int `json:"parallelism,omitempty"`
	// EmbeddingCacheSize is the number of solver outcomes kept in memory. A
	// negative value disables the cache.
	EmbeddingCacheSize int         `json:"embeddingCacheSize,omitempty"`
	Poll               PollOptions `json:"poll,omitempty"`
	// ForcedLayouts maps circuit names to partial assignments of their units
	// to backend units.
	ForcedLayouts map[string]map[int]int `json:"forcedLayouts,omitempty"`
}

// NewDefaultOptions returns Options with every field set to its default value.
func NewDefaultOptions() Options {
	o := Options{}
	o.SetDefaults()
	return o
}

func (o *Options) SetDefaults() {
	if o.Padding == "" {
		o.Padding = PaddingNone
	}
	if o.PaddingDistance == 0 {
		o.PaddingDistance = DefaultPaddingDistance
	}
	if o.CircuitOrder == "" {
		o.CircuitOrder = CircuitOrderSize
	}
	if o.BackendOrder == "" {
		o.BackendOrder = BackendOrderSpareCapacity
	}
	if o.SolverBudget.MaxSteps == 0 {
		o.SolverBudget.MaxSteps = DefaultSolverMaxSteps
	}
	if o.SolverBudget.Timeout == nil {
		o.SolverBudget.Timeout = &metav1.Duration{Duration: DefaultSolverTimeout}
	}
	if o.MaxCandidates == 0 {
		o.MaxCandidates = DefaultMaxCandidates
	}
	if o.Parallelism == 0 {
		o.Parallelism = util.GetEnvInt("QPACK_PARALLELISM", 4)
	}
	if o.EmbeddingCacheSize == 0 {
		o.EmbeddingCacheSize = DefaultEmbeddingCacheSize
	}
	if o.Poll.InitialInterval == nil {
		o.Poll.InitialInterval = &metav1.Duration{Duration: DefaultPollInitial}
	}
	if o.Poll.Factor == 0 {
		o.Poll.Factor = DefaultPollFactor
	}
	if o.Poll.MaxInterval == nil {
		o.Poll.MaxInterval = &metav1.Duration{Duration: DefaultPollMaxInterval}
	}
}

func (o *Options) Validate() error {
	errs := make([]error, 0)
	switch o.Padding {
	case PaddingNone, PaddingIsolate:
	default:
		errs = append(errs, fmt.Errorf("padding must be one of [%s, %s], got %q", PaddingNone, PaddingIsolate, o.Padding))
	}
	if o.PaddingDistance < 1 {
		errs = append(errs, fmt.Errorf("paddingDistance must be greater than 0"))
	}
	switch o.CircuitOrder {
	case CircuitOrderSize, CircuitOrderConnectivity, CircuitOrderInput:
	default:
		errs = append(errs, fmt.Errorf("unknown circuitOrder %q", o.CircuitOrder))
	}
	switch o.BackendOrder {
	case BackendOrderSpareCapacity, BackendOrderCost, BackendOrderDeclared:
	default:
		errs = append(errs, fmt.Errorf("unknown backendOrder %q", o.BackendOrder))
	}
	if o.SolverBudget.Timeout != nil && o.SolverBudget.Timeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("solverBudget.timeout must not be negative"))
	}
	if o.MaxBinsPerBackend < 0 {
		errs = append(errs, fmt.Errorf("maxBinsPerBackend must not be negative"))
	}
	if o.MaxCandidates < 1 {
		errs = append(errs, fmt.Errorf("maxCandidates must be greater than 0"))
	}
	if o.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("parallelism must be greater than 0"))
	}
	if o.Poll.InitialInterval == nil || o.Poll.InitialInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("poll.initialInterval must be greater than 0"))
	}
	if o.Poll.Factor < 1 {
		errs = append(errs, fmt.Errorf("poll.factor must be at least 1"))
	}
	if o.Poll.MaxInterval == nil || o.Poll.InitialInterval != nil && o.Poll.MaxInterval.Duration < o.Poll.InitialInterval.Duration {
		errs = append(errs, fmt.Errorf("poll.maxInterval must not be lower than poll.initialInterval"))
	}
	if o.Poll.Timeout != nil && o.Poll.Timeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("poll.timeout must not be negative"))
	}
	for name, layout := range o.ForcedLayouts {
		for abstract, physical := range layout {
			if abstract < 0 || physical < 0 {
				errs = append(errs, fmt.Errorf("forcedLayouts[%s]: negative unit in %d -> %d", name, abstract, physical))
			}
		}
	}
	return utilerrors.NewAggregate(errs)
}

// SolverTimeout returns the solver timeout, zero if unset.
func (o *Options) SolverTimeout() time.Duration {
	if o.SolverBudget.Timeout == nil {
		return 0
	}
	return o.SolverBudget.Timeout.Duration
}

// PollTimeout returns the job wait timeout, zero if unset.
func (o *Options) PollTimeout() time.Duration {
	if o.Poll.Timeout == nil {
		return 0
	}
	return o.Poll.Timeout.Duration
}

// Load reads Options from a YAML file, then applies defaults and validates them.
func Load(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("unable to read options file: %w", err)
	}
	return Parse(data)
}

// Parse decodes Options from YAML, then applies defaults and validates them.
func Parse(data []byte) (Options, error) {
	var o Options
	if err := yaml.UnmarshalStrict(data, &o); err != nil {
		return Options{}, fmt.Errorf("unable to decode options: %w", err)
	}
	o.SetDefaults()
	if err := o.Validate(); err != nil {
		return Options{}, fmt.Errorf("invalid options: %w", err)
	}
	return o, nil
}
