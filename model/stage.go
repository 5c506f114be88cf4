package model

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Stage is a stack of encoder layers plus a supervision tap: the hidden
// sequence moves on to the next stage, while a mean-pooled projection of it
// is scored against a target.
type Stage struct {
	layers []encoderLayer
	norm   layerNorm
	proj   linear
	dim    int
}

func newStage(s *ParamSet, rng *initializer, name string, dim, nHeads, nLayers, hidden int) Stage {
	st := Stage{
		layers: make([]encoderLayer, nLayers),
		dim:    dim,
	}
	for i := range st.layers {
		st.layers[i] = newEncoderLayer(s, rng, fmt.Sprintf("%s.layer%d", name, i), dim, nHeads, hidden)
	}
	st.norm = newLayerNorm(s, name+".norm", dim)
	st.proj = newLinear(s, rng, name+".proj", dim, dim)
	return st
}

func (st Stage) forward(b *Binding, x *gorgonia.Node) (hidden, out *gorgonia.Node, err error) {
	hidden = x
	for i, l := range st.layers {
		if hidden, err = l.forward(b, hidden); err != nil {
			return nil, nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	if hidden, err = st.norm.forward(b, hidden); err != nil {
		return nil, nil, err
	}

	pooled, err := gorgonia.Mean(hidden, 0)
	if err != nil {
		return nil, nil, err
	}
	if pooled, err = gorgonia.Reshape(pooled, tensor.Shape{1, st.dim}); err != nil {
		return nil, nil, err
	}
	if out, err = st.proj.forward(b, pooled); err != nil {
		return nil, nil, err
	}
	if out, err = gorgonia.Reshape(out, tensor.Shape{st.dim}); err != nil {
		return nil, nil, err
	}
	return hidden, out, nil
}
