package model

import (
	"errors"
	"testing"

	"gorgonia.org/gorgonia"

	"organiclm/config"
	"organiclm/vocab"
)

func smallConfig() config.Config {
	cfg := config.Default()
	cfg.Dim = 16
	cfg.Heads = 2
	cfg.Layers = 1
	cfg.FFHidden = 32
	cfg.Dropout = 0
	cfg.Seed = 7
	return cfg
}

func newSmallModel(t *testing.T) *Model {
	t.Helper()
	m, err := New(smallConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func sameData(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.Heads = 3
	if _, err := New(cfg); err == nil {
		t.Fatal("expected an error for dim not divisible by heads")
	}
}

func TestParamLayout(t *testing.T) {
	m := newSmallModel(t)
	p := m.Params()

	table, ok := p.Values(EmbeddingTable)
	if !ok {
		t.Fatal("embedding table missing")
	}
	if len(table) != vocab.KeySpace*16 {
		t.Fatalf("table has %d values, want %d", len(table), vocab.KeySpace*16)
	}
	for k := 1; k <= NumStages; k++ {
		w, ok := p.Values(StageProjection(k))
		if !ok {
			t.Fatalf("%s missing", StageProjection(k))
		}
		if len(w) != 16*16 {
			t.Fatalf("%s has %d values", StageProjection(k), len(w))
		}
	}
	if p.Count() <= len(table) {
		t.Fatalf("Count() = %d, expected more than the table alone", p.Count())
	}
}

func TestSameSeedSameParams(t *testing.T) {
	a := newSmallModel(t)
	b := newSmallModel(t)
	for _, name := range a.Params().Names() {
		va, _ := a.Params().Values(name)
		vb, _ := b.Params().Values(name)
		if !sameData(va, vb) {
			t.Fatalf("%s differs between models with the same seed", name)
		}
	}

	cfg := smallConfig()
	cfg.Seed = 8
	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	va, _ := a.Params().Values(EmbeddingTable)
	vc, _ := c.Params().Values(EmbeddingTable)
	if sameData(va, vc) {
		t.Fatal("different seeds produced the same table")
	}
}

func TestEncodeStable(t *testing.T) {
	m := newSmallModel(t)
	enc := m.Encoder()

	first, err := enc.Encode('a', 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 16 {
		t.Fatalf("row length %d, want 16", len(first))
	}
	if n := m.Vocabulary().Len(); n != 1 {
		t.Fatalf("vocabulary size %d after one pair, want 1", n)
	}

	other, err := enc.Encode('a', 1)
	if err != nil {
		t.Fatal(err)
	}
	if sameData(first, other) {
		t.Fatal("parities of the same symbol share a row")
	}

	again, err := enc.Encode('a', 0)
	if err != nil {
		t.Fatal(err)
	}
	if !sameData(first, again) {
		t.Fatal("encoding the same pair twice gave different rows")
	}
	if n := m.Vocabulary().Len(); n != 2 {
		t.Fatalf("vocabulary size %d, want 2", n)
	}

	// The first pair seen lands on row 0.
	table, _ := m.Params().Values(EmbeddingTable)
	if !sameData(first, table[:16]) {
		t.Fatal("first pair is not stored in row 0")
	}
}

func TestEncodeErrors(t *testing.T) {
	m := newSmallModel(t)
	if _, err := m.Encoder().Encode(256, 0); !errors.Is(err, vocab.ErrSymbolOutOfRange) {
		t.Fatalf("err = %v, want ErrSymbolOutOfRange", err)
	}
	if _, err := m.Encoder().Encode('a', 2); !errors.Is(err, vocab.ErrInvalidParity) {
		t.Fatalf("err = %v, want ErrInvalidParity", err)
	}
	if m.Vocabulary().Len() != 0 {
		t.Fatal("failed encodes grew the vocabulary")
	}
}

func TestRunShapes(t *testing.T) {
	m := newSmallModel(t)
	for n := 1; n <= 4; n++ {
		pairs := vocab.PairsFromBytes([]byte("abcd")[:n])
		outs, err := m.Run(pairs)
		if err != nil {
			t.Fatalf("Run with %d pairs: %v", n, err)
		}
		for k, out := range outs {
			if len(out) != 16 {
				t.Fatalf("N=%d stage %d output length %d, want 16", n, k+1, len(out))
			}
		}
	}
}

func TestRunIsRepeatable(t *testing.T) {
	m := newSmallModel(t)
	pairs := vocab.PairsFromBytes([]byte("hello"))
	before, _ := m.Params().Values(EmbeddingTable)

	a, err := m.Run(pairs)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Run(pairs)
	if err != nil {
		t.Fatal(err)
	}
	for k := range a {
		if !sameData(a[k], b[k]) {
			t.Fatalf("stage %d output changed between runs", k+1)
		}
	}
	after, _ := m.Params().Values(EmbeddingTable)
	if !sameData(before, after) {
		t.Fatal("Run modified parameters")
	}
}

func TestRunErrors(t *testing.T) {
	m := newSmallModel(t)
	if _, err := m.Run(nil); !errors.Is(err, ErrEmptySequence) {
		t.Fatalf("err = %v, want ErrEmptySequence", err)
	}
	bad := []vocab.Pair{{Symbol: 'a', Position: 0}, {Symbol: 'b', Position: 2}}
	if _, err := m.Run(bad); !errors.Is(err, vocab.ErrInvalidParity) {
		t.Fatalf("err = %v, want ErrInvalidParity", err)
	}
}

func TestRunBatch(t *testing.T) {
	m := newSmallModel(t)
	seqs := [][]vocab.Pair{
		vocab.PairsFromBytes([]byte("ab")),
		vocab.PairsFromBytes([]byte("xyz")),
	}
	outs, err := m.RunBatch(seqs)
	if err != nil {
		t.Fatal(err)
	}
	if len(outs) != 2 {
		t.Fatalf("got %d outputs, want 2", len(outs))
	}
	single, err := m.Run(seqs[1])
	if err != nil {
		t.Fatal(err)
	}
	if !sameData(outs[1][2], single[2]) {
		t.Fatal("batched output differs from a single run")
	}
}

func TestForwardGradientReachesTable(t *testing.T) {
	m := newSmallModel(t)
	g := gorgonia.NewGraph()
	b := m.Params().Bind(g, true, 0)

	outs, err := m.Forward(b, vocab.PairsFromBytes([]byte("abab")))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	var cost *gorgonia.Node
	for _, out := range outs {
		s, err := gorgonia.Sum(out)
		if err != nil {
			t.Fatal(err)
		}
		if cost == nil {
			cost = s
		} else if cost, err = gorgonia.Add(cost, s); err != nil {
			t.Fatal(err)
		}
	}

	learnables := b.Learnables()
	if _, err := gorgonia.Grad(cost, learnables...); err != nil {
		t.Fatalf("Grad: %v", err)
	}
	vm := gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(learnables...))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("RunAll: %v", err)
	}

	grad, err := learnables[0].Grad()
	if err != nil {
		t.Fatal(err)
	}
	data := grad.Data().([]float32)
	rowNonZero := func(r int) bool {
		for _, v := range data[r*16 : (r+1)*16] {
			if v != 0 {
				return true
			}
		}
		return false
	}
	// "abab" repeats (a,0) and (b,1), so only rows 0 and 1 are in use.
	for r := 0; r < 2; r++ {
		if !rowNonZero(r) {
			t.Errorf("row %d got no gradient", r)
		}
	}
	if rowNonZero(2) {
		t.Error("unused row 2 got a gradient")
	}
}
