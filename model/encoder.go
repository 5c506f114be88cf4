package model

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"organiclm/vocab"
)

// Encoder maps symbol/parity pairs to rows of a trainable table. Rows are
// handed out lazily in the order keys are first seen.
type Encoder struct {
	vocab  *vocab.Vocabulary
	params *ParamSet
	table  int
	dim    int
}

func newEncoder(s *ParamSet, rng *initializer, capacity, dim int) *Encoder {
	return &Encoder{
		vocab:  vocab.New(capacity),
		params: s,
		table:  s.add("embed.table", rng.normal(capacity*dim), capacity, dim),
		dim:    dim,
	}
}

// Index resolves a pair to its table row, growing the vocabulary by at most
// one entry.
func (e *Encoder) Index(symbol, parity int) (int, error) {
	key, err := vocab.Key(symbol, parity)
	if err != nil {
		return 0, err
	}
	id, _, err := e.vocab.Resolve(key)
	return id, err
}

// Encode returns a copy of the table row for the pair.
func (e *Encoder) Encode(symbol, parity int) ([]float32, error) {
	id, err := e.Index(symbol, parity)
	if err != nil {
		return nil, err
	}
	data := e.params.params[e.table].value.Data().([]float32)
	return append([]float32(nil), data[id*e.dim:(id+1)*e.dim]...), nil
}

func (e *Encoder) Vocabulary() *vocab.Vocabulary { return e.vocab }

// embedSequence resolves every pair on its own, then looks all of them up
// at once as onehot(N, capacity) x table, which keeps the table
// differentiable and yields the (N, dim) sequence.
func (e *Encoder) embedSequence(b *Binding, pairs []vocab.Pair) (*gorgonia.Node, error) {
	if len(pairs) == 0 {
		return nil, ErrEmptySequence
	}
	capacity := e.vocab.Capacity()
	backing := make([]float32, len(pairs)*capacity)
	for i, p := range pairs {
		id, err := e.Index(p.Symbol, p.Position)
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
		backing[i*capacity+id] = 1
	}
	oneHot := gorgonia.NewMatrix(b.g,
		tensor.Float32,
		gorgonia.WithShape(len(pairs), capacity),
		gorgonia.WithName(fmt.Sprintf("onehot_%d", b.nextID())),
		gorgonia.WithValue(tensor.New(tensor.WithShape(len(pairs), capacity), tensor.WithBacking(backing))),
	)
	return gorgonia.Mul(oneHot, b.node(e.table))
}
