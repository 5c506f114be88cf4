package vocab

import (
	"errors"
	"fmt"
	"sync"
)

const (
	// MaxSymbol is the largest symbol code accepted by Key.
	MaxSymbol = 255
	// KeySpace is the number of distinct symbol/parity keys.
	KeySpace = (MaxSymbol + 1) * 2
)

var (
	// ErrSymbolOutOfRange is returned for symbols outside 0..MaxSymbol.
	ErrSymbolOutOfRange = errors.New("symbol out of range")
	// ErrInvalidParity is returned for a position parity other than 0 or 1.
	ErrInvalidParity = errors.New("position parity must be 0 or 1")
	// ErrVocabularyOverflow is returned when a new key would exceed capacity.
	ErrVocabularyOverflow = errors.New("vocabulary overflow")
)

// Pair is one input unit: a symbol and the position it was seen at.
type Pair struct {
	Symbol   int
	Position int
}

// Parity reduces a position to its parity bit.
func Parity(position int) int {
	return position & 1
}

// Key combines a symbol and a parity bit into a lookup key.
func Key(symbol, parity int) (int, error) {
	if symbol < 0 || symbol > MaxSymbol {
		return 0, fmt.Errorf("%w: %d", ErrSymbolOutOfRange, symbol)
	}
	if parity != 0 && parity != 1 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidParity, parity)
	}
	return symbol<<1 | parity, nil
}

// PairsFromBytes turns raw text into pairs with parity-reduced positions.
func PairsFromBytes(text []byte) []Pair {
	pairs := make([]Pair, len(text))
	for i, b := range text {
		pairs[i] = Pair{Symbol: int(b), Position: Parity(i)}
	}
	return pairs
}

// Vocabulary assigns dense indices to keys in first-seen order.
// An assigned index never changes or gets reused.
type Vocabulary struct {
	mu       sync.Mutex
	toID     map[int]int
	keys     []int
	capacity int
}

// New returns an empty vocabulary that holds at most capacity keys.
func New(capacity int) *Vocabulary {
	return &Vocabulary{
		toID:     make(map[int]int),
		capacity: capacity,
	}
}

// Resolve returns the index for key, assigning the next free one if the key
// has not been seen. added reports whether the vocabulary grew.
func (v *Vocabulary) Resolve(key int) (index int, added bool, err error) {
	if key < 0 || key >= v.capacity {
		return 0, false, fmt.Errorf("%w: key %d outside table capacity %d", ErrVocabularyOverflow, key, v.capacity)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if id, ok := v.toID[key]; ok {
		return id, false, nil
	}
	id := len(v.keys)
	if id >= v.capacity {
		return 0, false, fmt.Errorf("%w: no free row for key %d", ErrVocabularyOverflow, key)
	}
	v.toID[key] = id
	v.keys = append(v.keys, key)
	return id, true, nil
}

// Lookup returns the index for key without growing the vocabulary.
func (v *Vocabulary) Lookup(key int) (int, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id, ok := v.toID[key]
	return id, ok
}

// Len returns the number of keys assigned so far.
func (v *Vocabulary) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.keys)
}

// Keys returns the known keys ordered by index.
func (v *Vocabulary) Keys() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]int(nil), v.keys...)
}

// Capacity returns the maximum number of keys the vocabulary can hold.
func (v *Vocabulary) Capacity() int {
	return v.capacity
}
