// Package model builds the symbol encoder and the three-stage transformer
// cascade on top of gorgonia graphs.
package model

import (
	"errors"
	"fmt"

	"gorgonia.org/gorgonia"

	"organiclm/config"
	"organiclm/vocab"
)

// NumStages is the depth of the cascade.
const NumStages = 3

var ErrEmptySequence = errors.New("empty input sequence")

// Outputs holds the projected vector of each stage, in stage order.
type Outputs [NumStages][]float32

type Model struct {
	cfg     config.Config
	params  *ParamSet
	encoder *Encoder
	stages  [NumStages]Stage
}

// New builds a model with freshly initialized parameters. Two models built
// from the same config start out identical.
func New(cfg config.Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	params := newParamSet()
	rng := newInitializer(cfg.Seed)

	m := &Model{
		cfg:     cfg,
		params:  params,
		encoder: newEncoder(params, rng, cfg.Capacity, cfg.Dim),
	}
	for i := range m.stages {
		m.stages[i] = newStage(params, rng, fmt.Sprintf("stage%d", i+1), cfg.Dim, cfg.Heads, cfg.Layers, cfg.FFHidden)
	}
	return m, nil
}

func (m *Model) Config() config.Config { return m.cfg }
func (m *Model) Params() *ParamSet { return m.params }
func (m *Model) Encoder() *Encoder { return m.encoder }
func (m *Model) Vocabulary() *vocab.Vocabulary { return m.encoder.vocab }

// StageProjection names the output projection weight of stage k (1-based).
func StageProjection(k int) string {
	return fmt.Sprintf("stage%d.proj.w", k)
}

// EmbeddingTable names the encoder's table parameter.
const EmbeddingTable = "embed.table"

// Forward adds the encoder and cascade to b's graph and returns each stage's
// output node. Positions in pairs must already be reduced to parity bits.
func (m *Model) Forward(b *Binding, pairs []vocab.Pair) ([NumStages]*gorgonia.Node, error) {
	var outs [NumStages]*gorgonia.Node

	x, err := m.encoder.embedSequence(b, pairs)
	if err != nil {
		return outs, fmt.Errorf("embedding: %w", err)
	}
	for i, st := range m.stages {
		var out *gorgonia.Node
		if x, out, err = st.forward(b, x); err != nil {
			return outs, fmt.Errorf("stage %d: %w", i+1, err)
		}
		outs[i] = out
	}
	return outs, nil
}

// Run evaluates the cascade on one sequence without touching parameters.
// The vocabulary still grows for unseen pairs.
func (m *Model) Run(pairs []vocab.Pair) (Outputs, error) {
	var res Outputs

	g := gorgonia.NewGraph()
	b := m.params.Bind(g, false, 0)
	outs, err := m.Forward(b, pairs)
	if err != nil {
		return res, err
	}

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return res, fmt.Errorf("vm.RunAll failed: %w", err)
	}

	for i, n := range outs {
		if res[i], err = NodeData(n); err != nil {
			return res, fmt.Errorf("stage %d: %w", i+1, err)
		}
	}
	return res, nil
}

// RunBatch runs each sequence independently.
func (m *Model) RunBatch(seqs [][]vocab.Pair) ([]Outputs, error) {
	res := make([]Outputs, len(seqs))
	for i, s := range seqs {
		out, err := m.Run(s)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", i, err)
		}
		res[i] = out
	}
	return res, nil
}

// NodeData copies a computed node's float32 values.
func NodeData(n *gorgonia.Node) ([]float32, error) {
	v := n.Value()
	if v == nil {
		return nil, fmt.Errorf("%s has no value", n.Name())
	}
	data, ok := v.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%s holds %T, want []float32", n.Name(), v.Data())
	}
	return append([]float32(nil), data...), nil
}
