package vocab

import (
	"errors"
	"sync"
	"testing"
)

func TestKey(t *testing.T) {
	tests := []struct {
		symbol, parity int
		want           int
		err            error
	}{
		{'a', 0, 194, nil},
		{'a', 1, 195, nil},
		{0, 0, 0, nil},
		{MaxSymbol, 1, KeySpace - 1, nil},
		{256, 0, 0, ErrSymbolOutOfRange},
		{-1, 0, 0, ErrSymbolOutOfRange},
		{'a', 2, 0, ErrInvalidParity},
	}
	for _, tt := range tests {
		got, err := Key(tt.symbol, tt.parity)
		if !errors.Is(err, tt.err) {
			t.Fatalf("Key(%d, %d) err = %v, want %v", tt.symbol, tt.parity, err, tt.err)
		}
		if err == nil && got != tt.want {
			t.Fatalf("Key(%d, %d) = %d, want %d", tt.symbol, tt.parity, got, tt.want)
		}
	}
}

func TestPairsFromBytes(t *testing.T) {
	pairs := PairsFromBytes([]byte("abc"))
	want := []Pair{{97, 0}, {98, 1}, {99, 0}}
	if len(pairs) != len(want) {
		t.Fatalf("got %d pairs, want %d", len(pairs), len(want))
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Errorf("pair %d = %+v, want %+v", i, pairs[i], want[i])
		}
	}
}

func TestResolveStableAndMonotonic(t *testing.T) {
	v := New(KeySpace)
	keys := []int{194, 197, 194, 198, 197, 0, 194}
	wantIDs := []int{0, 1, 0, 2, 1, 3, 0}

	prev := v.Len()
	for i, k := range keys {
		id, added, err := v.Resolve(k)
		if err != nil {
			t.Fatalf("Resolve(%d): %v", k, err)
		}
		if id != wantIDs[i] {
			t.Errorf("Resolve(%d) = %d, want %d", k, id, wantIDs[i])
		}
		n := v.Len()
		if n < prev || n > prev+1 {
			t.Fatalf("size went from %d to %d", prev, n)
		}
		if added != (n == prev+1) {
			t.Errorf("added = %v but size went from %d to %d", added, prev, n)
		}
		prev = n
	}

	got := v.Keys()
	want := []int{194, 197, 198, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Keys() = %v, want %v", got, want)
		}
	}
}

func TestFullKeySpaceFits(t *testing.T) {
	v := New(KeySpace)
	for s := 0; s <= MaxSymbol; s++ {
		for p := 0; p < 2; p++ {
			k, err := Key(s, p)
			if err != nil {
				t.Fatal(err)
			}
			if k >= KeySpace {
				t.Fatalf("key %d exceeds key space", k)
			}
			if _, _, err := v.Resolve(k); err != nil {
				t.Fatalf("Resolve(%d): %v", k, err)
			}
		}
	}
	if v.Len() != KeySpace {
		t.Fatalf("Len() = %d, want %d", v.Len(), KeySpace)
	}
}

func TestResolveOverflow(t *testing.T) {
	v := New(4)
	if _, _, err := v.Resolve(4); !errors.Is(err, ErrVocabularyOverflow) {
		t.Fatalf("err = %v, want ErrVocabularyOverflow", err)
	}
	if v.Len() != 0 {
		t.Fatalf("failed resolve grew vocabulary to %d", v.Len())
	}
	if _, ok := v.Lookup(4); ok {
		t.Fatal("overflowing key was recorded")
	}
}

func TestResolveConcurrent(t *testing.T) {
	v := New(KeySpace)
	const workers = 8
	ids := make([][]int, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for k := 0; k < 64; k++ {
				id, _, err := v.Resolve(k)
				if err != nil {
					t.Error(err)
					return
				}
				ids[w] = append(ids[w], id)
			}
		}(w)
	}
	wg.Wait()

	if v.Len() != 64 {
		t.Fatalf("Len() = %d, want 64", v.Len())
	}
	for w := 1; w < workers; w++ {
		for k := range ids[0] {
			if ids[w][k] != ids[0][k] {
				t.Fatalf("key %d mapped to %d and %d", k, ids[0][k], ids[w][k])
			}
		}
	}
}
