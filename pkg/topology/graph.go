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

// Package topology models the connectivity of a set of addressable units as an
// undirected graph. The same type describes both the adjacency offered by a
// backend and the interactions required by a circuit.
package topology

import (
	"errors"
	"fmt"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"k8s.io/apimachinery/pkg/util/sets"
	"strconv"
	"strings"
)

var (
	ErrSelfLoop    = errors.New("topology: self-referential adjacency")
	ErrAsymmetric  = errors.New("topology: asymmetric adjacency")
	ErrUnknownUnit = errors.New("topology: unit out of range")
)

// Edge is an unordered pair of units. Edges returned by a Graph always have A < B.
type Edge struct {
	A int
	B int
}

func NewEdge(a, b int) Edge {
	if a > b {
		a, b = b, a
	}
	return Edge{A: a, B: b}
}

func (e Edge) String() string {
	return fmt.Sprintf("%d-%d", e.A, e.B)
}

// Graph is an immutable undirected graph over the units 0..n-1.
type Graph struct {
	g         *simple.UndirectedGraph
	numUnits  int
	edges     []Edge
	neighbors [][]int
	key       string
}

// New builds a Graph from a unit count and an undirected edge list. Duplicated
// edges, in either direction, are collapsed.
func New(numUnits int, edges []Edge) (*Graph, error) {
	if numUnits < 0 {
		return nil, fmt.Errorf("topology: negative unit count %d", numUnits)
	}
	g := simple.NewUndirectedGraph()
	for i := 0; i < numUnits; i++ {
		g.AddNode(simple.Node(i))
	}
	for _, e := range edges {
		if e.A == e.B {
			return nil, fmt.Errorf("%w: unit %d", ErrSelfLoop, e.A)
		}
		if e.A < 0 || e.A >= numUnits || e.B < 0 || e.B >= numUnits {
			return nil, fmt.Errorf("%w: edge %s with %d units", ErrUnknownUnit, e, numUnits)
		}
		g.SetEdge(simple.Edge{F: simple.Node(e.A), T: simple.Node(e.B)})
	}
	return newFromGonum(g, numUnits), nil
}

// FromCouplingMap builds a Graph from a list of couplers. Each coupler may be
// listed in one or both directions.
func FromCouplingMap(numUnits int, couplers [][2]int) (*Graph, error) {
	edges := make([]Edge, 0, len(couplers))
	for _, c := range couplers {
		edges = append(edges, Edge{A: c[0], B: c[1]})
	}
	return New(numUnits, edges)
}

// FromAdjacency builds a Graph from adjacency lists. Every unit must appear as a
// key, and the lists must be symmetric.
func FromAdjacency(adjacency map[int][]int) (*Graph, error) {
	numUnits := len(adjacency)
	edges := make([]Edge, 0)
	for u, neighbors := range adjacency {
		if u < 0 || u >= numUnits {
			return nil, fmt.Errorf("%w: unit %d with %d units", ErrUnknownUnit, u, numUnits)
		}
		for _, v := range neighbors {
			if v == u {
				return nil, fmt.Errorf("%w: unit %d", ErrSelfLoop, u)
			}
			back, ok := adjacency[v]
			if !ok {
				return nil, fmt.Errorf("%w: unit %d", ErrUnknownUnit, v)
			}
			if !slices.Contains(back, u) {
				return nil, fmt.Errorf("%w: %d lists %d but not vice versa", ErrAsymmetric, u, v)
			}
			if u < v {
				edges = append(edges, Edge{A: u, B: v})
			}
		}
	}
	return New(numUnits, edges)
}

// Line returns the path graph 0-1-...-(n-1).
func Line(numUnits int) *Graph {
	edges := make([]Edge, 0)
	for i := 0; i+1 < numUnits; i++ {
		edges = append(edges, Edge{A: i, B: i + 1})
	}
	g, _ := New(numUnits, edges)
	return g
}

// Grid returns a rows x cols lattice where unit r*cols+c is adjacent to its
// horizontal and vertical neighbours.
func Grid(rows, cols int) *Graph {
	edges := make([]Edge, 0)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			u := r*cols + c
			if c+1 < cols {
				edges = append(edges, Edge{A: u, B: u + 1})
			}
			if r+1 < rows {
				edges = append(edges, Edge{A: u, B: u + cols})
			}
		}
	}
	g, _ := New(rows*cols, edges)
	return g
}

func newFromGonum(g *simple.UndirectedGraph, numUnits int) *Graph {
	neighbors := make([][]int, numUnits)
	edges := make([]Edge, 0)
	for u := 0; u < numUnits; u++ {
		nodes := g.From(int64(u))
		list := make([]int, 0, nodes.Len())
		for nodes.Next() {
			v := int(nodes.Node().ID())
			list = append(list, v)
			if u < v {
				edges = append(edges, Edge{A: u, B: v})
			}
		}
		slices.Sort(list)
		neighbors[u] = list
	}
	slices.SortFunc(edges, func(a, b Edge) bool {
		if a.A != b.A {
			return a.A < b.A
		}
		return a.B < b.B
	})
	return &Graph{
		g:         g,
		numUnits:  numUnits,
		edges:     edges,
		neighbors: neighbors,
		key:       buildKey(numUnits, edges),
	}
}

func (t *Graph) NumUnits() int {
	return t.numUnits
}

// Units returns the unit identifiers in ascending order.
func (t *Graph) Units() []int {
	res := make([]int, t.numUnits)
	for i := range res {
		res[i] = i
	}
	return res
}

func (t *Graph) Contains(u int) bool {
	return u >= 0 && u < t.numUnits
}

func (t *Graph) Adjacent(u, v int) bool {
	if u == v || !t.Contains(u) || !t.Contains(v) {
		return false
	}
	return t.g.HasEdgeBetween(int64(u), int64(v))
}

func (t *Graph) Degree(u int) int {
	if !t.Contains(u) {
		return 0
	}
	return len(t.neighbors[u])
}

// Neighbors returns the units adjacent to u in ascending order. The returned
// slice must not be modified.
func (t *Graph) Neighbors(u int) []int {
	if !t.Contains(u) {
		return nil
	}
	return t.neighbors[u]
}

// Edges returns every edge once, sorted.
func (t *Graph) Edges() []Edge {
	res := make([]Edge, len(t.edges))
	copy(res, t.edges)
	return res
}

func (t *Graph) NumEdges() int {
	return len(t.edges)
}

// NumComponents returns the number of connected components, isolated units included.
func (t *Graph) NumComponents() int {
	return len(topo.ConnectedComponents(t.g))
}

// Neighborhood returns the units within the given number of hops from any of
// the provided units, the units themselves included.
func (t *Graph) Neighborhood(units sets.Int, hops int) sets.Int {
	res := sets.NewInt(units.UnsortedList()...)
	frontier := units
	for i := 0; i < hops; i++ {
		next := sets.NewInt()
		for _, u := range frontier.UnsortedList() {
			for _, v := range t.Neighbors(u) {
				if !res.Has(v) {
					next.Insert(v)
				}
			}
		}
		if next.Len() == 0 {
			break
		}
		res = res.Union(next)
		frontier = next
	}
	return res
}

// Key returns a canonical string identifying the graph structure.
func (t *Graph) Key() string {
	return t.key
}

func buildKey(numUnits int, edges []Edge) string {
	sb := strings.Builder{}
	sb.WriteString(strconv.Itoa(numUnits))
	sb.WriteString(":")
	for i, e := range edges {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(e.String())
	}
	return sb.String()
}
