package train

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"organiclm/model"
	"organiclm/vocab"
)

// MSE is the mean squared difference between two equal-length vectors.
func MSE(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: lengths %d and %d", ErrShapeMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("%w: empty vectors", ErrShapeMismatch)
	}
	diff := make([]float64, len(a))
	floats.SubTo(diff, a, b)
	return floats.Dot(diff, diff) / float64(len(a)), nil
}

// Evaluate runs the model forward and scores each stage without updating
// anything.
func Evaluate(m *model.Model, pairs []vocab.Pair, targets Targets) ([model.NumStages]float64, error) {
	var losses [model.NumStages]float64
	if err := targets.check(m.Config().Dim); err != nil {
		return losses, err
	}
	outs, err := m.Run(pairs)
	if err != nil {
		return losses, err
	}
	for k := range outs {
		if losses[k], err = MSE(widen(outs[k]), widen(targets[k])); err != nil {
			return losses, fmt.Errorf("stage %d: %w", k+1, err)
		}
	}
	return losses, nil
}

// RandomTarget draws a standard normal vector.
func RandomTarget(dim int, seed uint64) []float32 {
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(seed, ^seed)}
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(dist.Rand())
	}
	return v
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
