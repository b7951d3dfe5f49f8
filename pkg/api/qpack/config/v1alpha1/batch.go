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
	"github.com/nebuly-ai/qpack/pkg/backend"
	"github.com/nebuly-ai/qpack/pkg/circuit"
	"github.com/nebuly-ai/qpack/pkg/topology"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"
	"os"
	"sigs.k8s.io/yaml"
)

// BackendSpec describes the connectivity of a backend, either as a coupling
// map over NumUnits units or as adjacency lists.
type BackendSpec struct {
	Name      string        `json:"name"`
	NumUnits  int           `json:"numUnits,omitempty"`
	Couplers  [][2]int      `json:"couplers,omitempty"`
	Adjacency map[int][]int `json:"adjacency,omitempty"`
	Cost      float64       `json:"cost,omitempty"`
}

// Target builds the planning view of the backend.
func (b BackendSpec) Target() (backend.Target, error) {
	var g *topology.Graph
	var err error
	switch {
	case len(b.Adjacency) > 0 && len(b.Couplers) > 0:
		return nil, fmt.Errorf("backend %q: couplers and adjacency are mutually exclusive", b.Name)
	case len(b.Adjacency) > 0:
		g, err = topology.FromAdjacency(b.Adjacency)
	default:
		g, err = topology.FromCouplingMap(b.NumUnits, b.Couplers)
	}
	if err != nil {
		return nil, fmt.Errorf("backend %q: %w", b.Name, err)
	}
	return backend.NewTarget(b.Name, g, b.Cost), nil
}

// Batch is a set of circuits to pack onto a set of backends.
type Batch struct {
	metav1.TypeMeta `json:",inline"`

	Backends []BackendSpec     `json:"backends"`
	Circuits []circuit.Circuit `json:"circuits"`
}

func (b *Batch) Validate() error {
	errs := make([]error, 0)
	if len(b.Backends) == 0 {
		errs = append(errs, fmt.Errorf("at least one backend is required"))
	}
	names := sets.NewString()
	for _, spec := range b.Backends {
		if spec.Name == "" {
			errs = append(errs, fmt.Errorf("backend name is required"))
		}
		if names.Has(spec.Name) {
			errs = append(errs, fmt.Errorf("duplicated backend %q", spec.Name))
		}
		names.Insert(spec.Name)
	}
	for _, c := range b.Circuits {
		if err := c.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

// Targets builds the planning view of every backend of the batch.
func (b *Batch) Targets() ([]backend.Target, error) {
	res := make([]backend.Target, 0, len(b.Backends))
	for _, spec := range b.Backends {
		t, err := spec.Target()
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

// LoadBatch reads and validates a Batch from a YAML file.
func LoadBatch(path string) (Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Batch{}, fmt.Errorf("unable to read batch file: %w", err)
	}
	var b Batch
	if err = yaml.Unmarshal(data, &b); err != nil {
		return Batch{}, fmt.Errorf("unable to decode batch: %w", err)
	}
	if err = b.Validate(); err != nil {
		return Batch{}, fmt.Errorf("invalid batch: %w", err)
	}
	return b, nil
}
