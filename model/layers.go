package model

import (
	"fmt"
	"math"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const layerNormEps = 1e-5

// linear computes x*W + b for x of shape (rows, in).
type linear struct {
	w, b int
}

func newLinear(s *ParamSet, rng *initializer, name string, in, out int) linear {
	return linear{
		w: s.add(name+".w", rng.glorot(in, out), in, out),
		b: s.add(name+".b", filled(out, 0), 1, out),
	}
}

func (l linear) forward(b *Binding, x *gorgonia.Node) (*gorgonia.Node, error) {
	xw, err := gorgonia.Mul(x, b.node(l.w))
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastAdd(xw, b.node(l.b), nil, []byte{0})
}

// layerNorm normalizes each row to zero mean and unit variance, then applies
// a learned gain and shift.
type layerNorm struct {
	gamma, beta int
}

func newLayerNorm(s *ParamSet, name string, dim int) layerNorm {
	return layerNorm{
		gamma: s.add(name+".gamma", filled(dim, 1), 1, dim),
		beta:  s.add(name+".beta", filled(dim, 0), 1, dim),
	}
}

func (ln layerNorm) forward(b *Binding, x *gorgonia.Node) (*gorgonia.Node, error) {
	rows := x.Shape()[0]

	mean, err := rowMean(x, rows)
	if err != nil {
		return nil, err
	}
	centered, err := gorgonia.BroadcastSub(x, mean, nil, []byte{1})
	if err != nil {
		return nil, err
	}
	sq, err := gorgonia.Square(centered)
	if err != nil {
		return nil, err
	}
	variance, err := rowMean(sq, rows)
	if err != nil {
		return nil, err
	}
	variance, err = gorgonia.Add(variance, gorgonia.NewConstant(float32(layerNormEps)))
	if err != nil {
		return nil, err
	}
	std, err := gorgonia.Sqrt(variance)
	if err != nil {
		return nil, err
	}
	normed, err := gorgonia.BroadcastHadamardDiv(centered, std, nil, []byte{1})
	if err != nil {
		return nil, err
	}
	scaled, err := gorgonia.BroadcastHadamardProd(normed, b.node(ln.gamma), nil, []byte{0})
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastAdd(scaled, b.node(ln.beta), nil, []byte{0})
}

// rowMean averages along the feature axis, keeping a (rows, 1) column.
func rowMean(x *gorgonia.Node, rows int) (*gorgonia.Node, error) {
	m, err := gorgonia.Mean(x, 1)
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(m, tensor.Shape{rows, 1})
}

// attentionHead projects into one head's subspace and back out again.
// Summing the heads' output projections is the same as concatenating the
// heads and applying one (dim, dim) output matrix.
type attentionHead struct {
	q, k, v linear
	out     int // (headDim, dim)
}

type selfAttention struct {
	heads   []attentionHead
	outBias int
	scale   float32
}

func newSelfAttention(s *ParamSet, rng *initializer, name string, dim, nHeads int) selfAttention {
	headDim := dim / nHeads
	a := selfAttention{
		heads: make([]attentionHead, nHeads),
		scale: float32(1 / math.Sqrt(float64(headDim))),
	}
	for h := range a.heads {
		prefix := fmt.Sprintf("%s.head%d", name, h)
		a.heads[h] = attentionHead{
			q:   newLinear(s, rng, prefix+".q", dim, headDim),
			k:   newLinear(s, rng, prefix+".k", dim, headDim),
			v:   newLinear(s, rng, prefix+".v", dim, headDim),
			out: s.add(prefix+".out", rng.glorot(headDim, dim), headDim, dim),
		}
	}
	a.outBias = s.add(name+".out.b", filled(dim, 0), 1, dim)
	return a
}

func (a selfAttention) forward(b *Binding, x *gorgonia.Node) (*gorgonia.Node, error) {
	var sum *gorgonia.Node
	for _, h := range a.heads {
		o, err := h.forward(b, x, a.scale)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = o
			continue
		}
		if sum, err = gorgonia.Add(sum, o); err != nil {
			return nil, err
		}
	}
	return gorgonia.BroadcastAdd(sum, b.node(a.outBias), nil, []byte{0})
}

func (h attentionHead) forward(b *Binding, x *gorgonia.Node, scale float32) (*gorgonia.Node, error) {
	q, err := h.q.forward(b, x)
	if err != nil {
		return nil, err
	}
	k, err := h.k.forward(b, x)
	if err != nil {
		return nil, err
	}
	v, err := h.v.forward(b, x)
	if err != nil {
		return nil, err
	}

	kT, err := gorgonia.Transpose(k)
	if err != nil {
		return nil, err
	}
	scores, err := gorgonia.Mul(q, kT)
	if err != nil {
		return nil, err
	}
	scores, err = gorgonia.Mul(scores, gorgonia.NewConstant(scale))
	if err != nil {
		return nil, err
	}
	weights, err := gorgonia.SoftMax(scores, 1)
	if err != nil {
		return nil, err
	}
	ctx, err := gorgonia.Mul(weights, v)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mul(ctx, b.node(h.out))
}

type feedForward struct {
	in, out linear
}

func newFeedForward(s *ParamSet, rng *initializer, name string, dim, hidden int) feedForward {
	return feedForward{
		in:  newLinear(s, rng, name+".in", dim, hidden),
		out: newLinear(s, rng, name+".out", hidden, dim),
	}
}

func (f feedForward) forward(b *Binding, x *gorgonia.Node) (*gorgonia.Node, error) {
	h, err := f.in.forward(b, x)
	if err != nil {
		return nil, err
	}
	if h, err = gorgonia.Rectify(h); err != nil {
		return nil, err
	}
	if h, err = b.dropout(h); err != nil {
		return nil, err
	}
	return f.out.forward(b, h)
}

// encoderLayer is a post-norm transformer encoder layer:
// x = norm1(x + attn(x)); x = norm2(x + ff(x)).
type encoderLayer struct {
	attn         selfAttention
	norm1, norm2 layerNorm
	ff           feedForward
}

func newEncoderLayer(s *ParamSet, rng *initializer, name string, dim, nHeads, hidden int) encoderLayer {
	return encoderLayer{
		attn:  newSelfAttention(s, rng, name+".attn", dim, nHeads),
		norm1: newLayerNorm(s, name+".norm1", dim),
		ff:    newFeedForward(s, rng, name+".ff", dim, hidden),
		norm2: newLayerNorm(s, name+".norm2", dim),
	}
}

func (l encoderLayer) forward(b *Binding, x *gorgonia.Node) (*gorgonia.Node, error) {
	a, err := l.attn.forward(b, x)
	if err != nil {
		return nil, fmt.Errorf("attention: %w", err)
	}
	if a, err = b.dropout(a); err != nil {
		return nil, err
	}
	r, err := gorgonia.Add(x, a)
	if err != nil {
		return nil, err
	}
	h, err := l.norm1.forward(b, r)
	if err != nil {
		return nil, err
	}

	f, err := l.ff.forward(b, h)
	if err != nil {
		return nil, fmt.Errorf("feed-forward: %w", err)
	}
	if f, err = b.dropout(f); err != nil {
		return nil, err
	}
	r, err = gorgonia.Add(h, f)
	if err != nil {
		return nil, err
	}
	return l.norm2.forward(b, r)
}
