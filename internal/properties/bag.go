// Package properties provides the immutable, ordered string metadata that
// travels with a service registration.
//
// A Bag is built once and never changes afterwards. Construction copies its
// input, so later edits to the caller's map cannot leak into a Bag that has
// already been handed out. Iteration is always in lexicographic key order.
package properties

import (
	"errors"
	"iter"
	"maps"
	"slices"
	"strings"
)

// ErrOddPairs is returned by FromPairs when a key has no value.
var ErrOddPairs = errors.New("properties: odd number of key/value arguments")

type pair struct {
	key   string
	value string
}

// Bag is an immutable mapping from property name to property value.
// The zero value is an empty bag ready to use.
type Bag struct {
	pairs []pair // sorted by key, keys unique
}

// Empty returns a bag with no properties.
func Empty() Bag {
	return Bag{}
}

// New builds a bag from a copy of m. A nil map yields an empty bag.
func New(m map[string]string) Bag {
	if len(m) == 0 {
		return Bag{}
	}
	pairs := make([]pair, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		pairs = append(pairs, pair{key: k, value: m[k]})
	}
	return Bag{pairs: pairs}
}

// FromPairs builds a bag from alternating keys and values.
// When a key repeats, the last value wins.
func FromPairs(kv ...string) (Bag, error) {
	if len(kv)%2 != 0 {
		return Bag{}, ErrOddPairs
	}
	m := make(map[string]string, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return New(m), nil
}

// Get returns the value stored under key.
func (b Bag) Get(key string) (string, bool) {
	i, found := b.search(key)
	if !found {
		return "", false
	}
	return b.pairs[i].value, true
}

// Len returns the number of properties.
func (b Bag) Len() int {
	return len(b.pairs)
}

// Keys returns the property names in sorted order.
func (b Bag) Keys() []string {
	keys := make([]string, len(b.pairs))
	for i, p := range b.pairs {
		keys[i] = p.key
	}
	return keys
}

// All iterates over every property in key order.
func (b Bag) All() iter.Seq2[string, string] {
	return b.seq(0, len(b.pairs))
}

// Range iterates over properties whose key lies in [from, to), in key order.
// An empty to leaves the range unbounded above.
func (b Bag) Range(from, to string) iter.Seq2[string, string] {
	lo, _ := b.search(from)
	hi := len(b.pairs)
	if to != "" {
		hi, _ = b.search(to)
	}
	if hi < lo {
		hi = lo
	}
	return b.seq(lo, hi)
}

// Map returns a copy of the properties as a plain map.
func (b Bag) Map() map[string]string {
	m := make(map[string]string, len(b.pairs))
	for _, p := range b.pairs {
		m[p.key] = p.value
	}
	return m
}

// Equal reports whether both bags hold exactly the same properties.
func (b Bag) Equal(other Bag) bool {
	return slices.Equal(b.pairs, other.pairs)
}

// String renders the bag as {k1=v1, k2=v2}.
func (b Bag) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, p := range b.pairs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.key)
		sb.WriteByte('=')
		sb.WriteString(p.value)
	}
	sb.WriteByte('}')
	return sb.String()
}

func (b Bag) search(key string) (int, bool) {
	return slices.BinarySearchFunc(b.pairs, key, func(p pair, k string) int {
		return strings.Compare(p.key, k)
	})
}

func (b Bag) seq(lo, hi int) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, p := range b.pairs[lo:hi] {
			if !yield(p.key, p.value) {
				return
			}
		}
	}
}
