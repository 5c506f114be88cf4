// Package train scores every cascade stage against its target and applies
// one joint Adam update per step.
package train

import (
	"errors"
	"fmt"
	"io"
	"log"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"organiclm/model"
	"organiclm/vocab"
)

var (
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrNoExamples    = errors.New("no training examples")
)

// Targets holds one target vector per stage.
type Targets [model.NumStages][]float32

// SharedTarget uses the same vector for every stage.
func SharedTarget(v []float32) Targets {
	var t Targets
	for i := range t {
		t[i] = v
	}
	return t
}

func (t Targets) check(dim int) error {
	for i, v := range t {
		if len(v) != dim {
			return fmt.Errorf("%w: stage %d target has length %d, want %d", ErrShapeMismatch, i+1, len(v), dim)
		}
	}
	return nil
}

type Example struct {
	Pairs   []vocab.Pair
	Targets Targets
}

type StepResult struct {
	StageLoss [model.NumStages]float64
	Total     float64
}

// Trainer owns the optimizer state for one model. Moment estimates are kept
// per parameter, so a Trainer must not be shared between models.
type Trainer struct {
	model  *model.Model
	solver *gorgonia.AdamSolver
	steps  int

	Logger *log.Logger
}

func New(m *model.Model) *Trainer {
	adam := m.Config().Adam
	opts := []gorgonia.SolverOpt{
		gorgonia.WithLearnRate(adam.LR),
		gorgonia.WithBeta1(adam.Beta1),
		gorgonia.WithBeta2(adam.Beta2),
		gorgonia.WithEps(adam.Eps),
	}
	if adam.Clip > 0 {
		opts = append(opts, gorgonia.WithClip(adam.Clip))
	}
	return &Trainer{
		model:  m,
		solver: gorgonia.NewAdamSolver(opts...),
		Logger: log.New(io.Discard, "", 0),
	}
}

// Steps returns how many updates have been applied.
func (t *Trainer) Steps() int { return t.steps }

// Step runs one forward/backward/update cycle on a single sequence.
func (t *Trainer) Step(pairs []vocab.Pair, targets Targets) (StepResult, error) {
	return t.StepBatch([]Example{{Pairs: pairs, Targets: targets}})
}

// StepBatch runs one update on the mean loss over examples. Each call builds
// a new graph, so gradients never carry over from an earlier step. If
// anything fails, parameters are left exactly as they were.
func (t *Trainer) StepBatch(examples []Example) (StepResult, error) {
	var res StepResult
	if len(examples) == 0 {
		return res, ErrNoExamples
	}
	cfg := t.model.Config()
	for i, ex := range examples {
		if err := ex.Targets.check(cfg.Dim); err != nil {
			return res, fmt.Errorf("example %d: %w", i, err)
		}
	}

	g := gorgonia.NewGraph()
	b := t.model.Params().Bind(g, true, cfg.Dropout)

	var stageLoss [model.NumStages]*gorgonia.Node
	for i, ex := range examples {
		outs, err := t.model.Forward(b, ex.Pairs)
		if err != nil {
			return res, fmt.Errorf("example %d: %w", i, err)
		}
		for k, out := range outs {
			l, err := mseNode(g, out, ex.Targets[k], fmt.Sprintf("target_%d_%d", i, k+1))
			if err != nil {
				return res, fmt.Errorf("example %d stage %d loss: %w", i, k+1, err)
			}
			if stageLoss[k] == nil {
				stageLoss[k] = l
			} else if stageLoss[k], err = gorgonia.Add(stageLoss[k], l); err != nil {
				return res, err
			}
		}
	}

	var total *gorgonia.Node
	for k := range stageLoss {
		var err error
		if len(examples) > 1 {
			scale := gorgonia.NewConstant(float32(1) / float32(len(examples)))
			if stageLoss[k], err = gorgonia.Mul(stageLoss[k], scale); err != nil {
				return res, err
			}
		}
		if total == nil {
			total = stageLoss[k]
		} else if total, err = gorgonia.Add(total, stageLoss[k]); err != nil {
			return res, err
		}
	}

	learnables := b.Learnables()
	if _, err := gorgonia.Grad(total, learnables...); err != nil {
		return res, fmt.Errorf("computing gradients: %w", err)
	}

	vm := gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(learnables...))
	defer vm.Close()

	if err := vm.RunAll(); err != nil {
		return res, fmt.Errorf("vm.RunAll failed at step %d: %w", t.steps, err)
	}

	for k, n := range stageLoss {
		v, err := scalar(n)
		if err != nil {
			return res, fmt.Errorf("stage %d loss: %w", k+1, err)
		}
		res.StageLoss[k] = v
		res.Total += v
	}

	if err := t.solver.Step(gorgonia.NodesToValueGrads(learnables)); err != nil {
		return res, fmt.Errorf("solver step failed: %w", err)
	}
	if err := t.model.Params().Commit(b); err != nil {
		return res, fmt.Errorf("committing parameters: %w", err)
	}
	t.steps++
	return res, nil
}

// Train applies steps updates over the same examples and records the loss
// of each one.
func (t *Trainer) Train(examples []Example, steps int) ([]StepMetrics, error) {
	logEvery := t.model.Config().LogEvery
	history := make([]StepMetrics, 0, steps)

	t.Logger.Printf("Starting training for %d steps on %d examples...", steps, len(examples))
	for i := 0; i < steps; i++ {
		res, err := t.StepBatch(examples)
		if err != nil {
			return history, err
		}
		history = append(history, StepMetrics{
			Step:      t.steps,
			StageLoss: res.StageLoss,
			TotalLoss: res.Total,
		})
		if logEvery > 0 && (i%logEvery == 0 || i == steps-1) {
			t.Logger.Printf("Step %d: total loss = %.4f (%.4f / %.4f / %.4f)",
				t.steps, res.Total, res.StageLoss[0], res.StageLoss[1], res.StageLoss[2])
		}
	}
	return history, nil
}

// mseNode is mean((out - target)^2) as a scalar node.
func mseNode(g *gorgonia.ExprGraph, out *gorgonia.Node, target []float32, name string) (*gorgonia.Node, error) {
	backing := append([]float32(nil), target...)
	y := gorgonia.NewVector(g,
		tensor.Float32,
		gorgonia.WithShape(len(target)),
		gorgonia.WithName(name),
		gorgonia.WithValue(tensor.New(tensor.WithShape(len(target)), tensor.WithBacking(backing))),
	)
	diff, err := gorgonia.Sub(out, y)
	if err != nil {
		return nil, err
	}
	sq, err := gorgonia.Square(diff)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mean(sq)
}

func scalar(n *gorgonia.Node) (float64, error) {
	v := n.Value()
	if v == nil {
		return 0, fmt.Errorf("%s has no value", n.Name())
	}
	switch x := v.Data().(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case []float32:
		if len(x) == 1 {
			return float64(x[0]), nil
		}
	}
	return 0, fmt.Errorf("%s is not a scalar", n.Name())
}
