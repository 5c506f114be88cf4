package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Param is one trainable matrix. Vectors are stored as (1, n) rows so they
// broadcast over sequence positions.
type Param struct {
	Name  string
	Shape tensor.Shape
	value *tensor.Dense
}

// ParamSet holds every trainable value in a fixed order. The order is what
// the Adam solver keys its moment estimates on, so it never changes after
// construction.
type ParamSet struct {
	params []*Param
	index  map[string]int
}

func newParamSet() *ParamSet {
	return &ParamSet{index: make(map[string]int)}
}

func (s *ParamSet) add(name string, data []float32, rows, cols int) int {
	if _, dup := s.index[name]; dup {
		panic("duplicate parameter " + name)
	}
	t := tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))
	s.params = append(s.params, &Param{Name: name, Shape: tensor.Shape{rows, cols}, value: t})
	s.index[name] = len(s.params) - 1
	return len(s.params) - 1
}

func (s *ParamSet) Len() int { return len(s.params) }

func (s *ParamSet) Names() []string {
	names := make([]string, len(s.params))
	for i, p := range s.params {
		names[i] = p.Name
	}
	return names
}

// Values returns a copy of the named parameter's data in row-major order.
func (s *ParamSet) Values(name string) ([]float32, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), s.params[i].value.Data().([]float32)...), true
}

// Count returns the total number of scalar parameters.
func (s *ParamSet) Count() int {
	n := 0
	for _, p := range s.params {
		n += p.Shape.TotalSize()
	}
	return n
}

// Binding is the set of graph nodes standing in for a ParamSet during one
// forward pass. Node i holds a private copy of parameter i, so nothing in the
// ParamSet changes until Commit.
type Binding struct {
	g        *gorgonia.ExprGraph
	nodes    []*gorgonia.Node
	train    bool
	dropProb float64
	inputs   int
}

// Bind creates parameter nodes in g. With train set, dropout is applied.
func (s *ParamSet) Bind(g *gorgonia.ExprGraph, train bool, dropProb float64) *Binding {
	nodes := make([]*gorgonia.Node, len(s.params))
	for i, p := range s.params {
		nodes[i] = gorgonia.NewMatrix(g,
			tensor.Float32,
			gorgonia.WithShape(p.Shape...),
			gorgonia.WithName(p.Name),
			gorgonia.WithValue(p.value.Clone().(*tensor.Dense)),
		)
	}
	return &Binding{g: g, nodes: nodes, train: train, dropProb: dropProb}
}

func (b *Binding) Graph() *gorgonia.ExprGraph { return b.g }

// Learnables returns the parameter nodes in ParamSet order.
func (b *Binding) Learnables() []*gorgonia.Node { return b.nodes }

func (b *Binding) node(i int) *gorgonia.Node { return b.nodes[i] }

// nextID numbers input nodes so that inputs of equal shape stay distinct
// within one graph.
func (b *Binding) nextID() int {
	b.inputs++
	return b.inputs
}

func (b *Binding) dropout(x *gorgonia.Node) (*gorgonia.Node, error) {
	if !b.train || b.dropProb <= 0 {
		return x, nil
	}
	return gorgonia.Dropout(x, b.dropProb)
}

// Commit copies the node values of b back into the set. Either every
// parameter is replaced or none is.
func (s *ParamSet) Commit(b *Binding) error {
	if len(b.nodes) != len(s.params) {
		return fmt.Errorf("binding has %d nodes, want %d", len(b.nodes), len(s.params))
	}
	next := make([]*tensor.Dense, len(s.params))
	for i, n := range b.nodes {
		v, ok := n.Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("parameter %s has no dense value", s.params[i].Name)
		}
		if !v.Shape().Eq(s.params[i].Shape) {
			return fmt.Errorf("parameter %s: shape %v, want %v", s.params[i].Name, v.Shape(), s.params[i].Shape)
		}
		next[i] = v.Clone().(*tensor.Dense)
	}
	for i, v := range next {
		s.params[i].value = v
	}
	return nil
}

// initializer draws seeded starting weights.
type initializer struct {
	src rand.Source
}

func newInitializer(seed uint64) *initializer {
	return &initializer{src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
}

// glorot draws a (fanIn, fanOut) matrix from the Glorot uniform distribution.
func (in *initializer) glorot(fanIn, fanOut int) []float32 {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	dist := distuv.Uniform{Min: -limit, Max: limit, Src: in.src}
	out := make([]float32, fanIn*fanOut)
	for i := range out {
		out[i] = float32(dist.Rand())
	}
	return out
}

// normal draws n values from N(0, 1), the usual embedding table init.
func (in *initializer) normal(n int) []float32 {
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: in.src}
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(dist.Rand())
	}
	return out
}

func filled(n int, v float32) []float32 {
	out := make([]float32, n)
	if v != 0 {
		for i := range out {
			out[i] = v
		}
	}
	return out
}
