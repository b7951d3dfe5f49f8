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
	"fmt"
	"github.com/nebuly-ai/qpack/internal/compose"
	"github.com/nebuly-ai/qpack/pkg/util"
	"sort"
	"strings"
)

// Info summarizes how a batch of circuits has been packed.
type Info struct {
	NumCircuits           int     `json:"numCircuits"`
	NumPlaced             int     `json:"numPlaced"`
	NumBackendsUsed       int     `json:"numBackendsUsed"`
	NumHostCircuits       int     `json:"numHostCircuits"`
	MinCircuitsPerHost    int     `json:"minCircuitsPerHost"`
	MaxCircuitsPerHost    int     `json:"maxCircuitsPerHost"`
	AvgCircuitsPerHost    float64 `json:"avgCircuitsPerHost"`
	AvgCircuitsPerBackend float64 `json:"avgCircuitsPerBackend"`
}

func NewInfo(numCircuits int, hosts []compose.HostCircuit) Info {
	res := Info{NumCircuits: numCircuits, NumHostCircuits: len(hosts)}
	if len(hosts) == 0 {
		return res
	}
	backends := make(map[string]struct{})
	res.MinCircuitsPerHost = hosts[0].NumCircuits()
	for _, h := range hosts {
		n := h.NumCircuits()
		res.NumPlaced += n
		res.MinCircuitsPerHost = util.Min(res.MinCircuitsPerHost, n)
		res.MaxCircuitsPerHost = util.Max(res.MaxCircuitsPerHost, n)
		backends[h.Backend] = struct{}{}
	}
	res.NumBackendsUsed = len(backends)
	res.AvgCircuitsPerHost = float64(res.NumPlaced) / float64(len(hosts))
	res.AvgCircuitsPerBackend = float64(res.NumPlaced) / float64(len(backends))
	return res
}

// Describe returns a human-readable summary of the arrangement.
func (a Arrangement) Describe() string {
	var sb strings.Builder
	info := a.Info
	fmt.Fprintf(&sb, "Packing plan %s\n", a.Plan.GetId())
	fmt.Fprintf(&sb, "  circuits: %d, placed: %d, unplaceable: %d\n", info.NumCircuits, info.NumPlaced, len(a.Plan.Failures))
	fmt.Fprintf(&sb, "  backends used: %d, host circuits: %d\n", info.NumBackendsUsed, info.NumHostCircuits)
	if info.NumHostCircuits > 0 {
		fmt.Fprintf(
			&sb,
			"  circuits per host circuit: min %d, avg %.2f, max %d\n",
			info.MinCircuitsPerHost,
			info.AvgCircuitsPerHost,
			info.MaxCircuitsPerHost,
		)
		fmt.Fprintf(&sb, "  circuits per backend: avg %.2f\n", info.AvgCircuitsPerBackend)
	}

	for _, h := range a.Hosts {
		fmt.Fprintf(
			&sb,
			"Host circuit %s (backend %s, %d units, %d bits)\n",
			h.Name,
			h.Backend,
			h.Circuit.NumUnits,
			h.Circuit.NumBits,
		)
		for _, m := range h.RegisterMaps {
			start, end := m.Range()
			fmt.Fprintf(&sb, "  [%d] %s: units %v, bits [%d,%d)\n", m.CircuitIndex, m.CircuitName, m.Units, start, end)
		}
	}

	if len(a.Plan.Failures) > 0 {
		sb.WriteString("Unplaceable circuits\n")
		failed := util.GetKeys(a.Plan.Failures)
		sort.Ints(failed)
		for _, i := range failed {
			fmt.Fprintf(&sb, "  [%d] %v\n", i, a.Plan.Failures[i])
		}
	}
	return sb.String()
}
