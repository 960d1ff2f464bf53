package properties

import (
	"maps"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNew_CopiesInput(t *testing.T) {
	src := map[string]string{"service.vendor": "acme", "service.ranking": "10"}
	bag := New(src)

	src["service.vendor"] = "changed"
	src["extra"] = "added"
	delete(src, "service.ranking")

	v, ok := bag.Get("service.vendor")
	require.True(t, ok)
	require.Equal(t, "acme", v)

	v, ok = bag.Get("service.ranking")
	require.True(t, ok)
	require.Equal(t, "10", v)

	_, ok = bag.Get("extra")
	require.False(t, ok)
	require.Equal(t, 2, bag.Len())
}

func TestMap_ReturnsCopy(t *testing.T) {
	bag := New(map[string]string{"a": "1"})

	m := bag.Map()
	m["a"] = "2"
	m["b"] = "3"

	v, _ := bag.Get("a")
	require.Equal(t, "1", v)
	require.Equal(t, 1, bag.Len())
}

func TestZeroValue_IsEmpty(t *testing.T) {
	var bag Bag

	require.Equal(t, 0, bag.Len())
	require.Empty(t, bag.Keys())
	require.True(t, bag.Equal(Empty()))
	require.True(t, bag.Equal(New(nil)))
	require.Equal(t, "{}", bag.String())

	_, ok := bag.Get("anything")
	require.False(t, ok)

	for range bag.All() {
		t.Fatal("empty bag should not yield")
	}
}

func TestAll_KeyOrder(t *testing.T) {
	bag := New(map[string]string{"zeta": "z", "alpha": "a", "mid": "m"})

	var keys, values []string
	for k, v := range bag.All() {
		keys = append(keys, k)
		values = append(values, v)
	}

	require.Equal(t, []string{"alpha", "mid", "zeta"}, keys)
	require.Equal(t, []string{"a", "m", "z"}, values)
	require.Equal(t, keys, bag.Keys())
	require.Equal(t, "{alpha=a, mid=m, zeta=z}", bag.String())
}

func TestAll_EarlyBreak(t *testing.T) {
	bag := New(map[string]string{"a": "1", "b": "2", "c": "3"})

	var seen []string
	for k := range bag.All() {
		seen = append(seen, k)
		if k == "b" {
			break
		}
	}
	require.Equal(t, []string{"a", "b"}, seen)
}

func TestRange(t *testing.T) {
	bag := New(map[string]string{
		"osgi.a": "1",
		"osgi.b": "2",
		"svc.a":  "3",
		"svc.b":  "4",
		"zz":     "5",
	})

	tests := []struct {
		name string
		from string
		to   string
		want []string
	}{
		{name: "prefix window", from: "svc.", to: "svc/", want: []string{"svc.a", "svc.b"}},
		{name: "unbounded above", from: "svc.b", to: "", want: []string{"svc.b", "zz"}},
		{name: "from start", from: "", to: "osgi.b", want: []string{"osgi.a"}},
		{name: "everything", from: "", to: "", want: []string{"osgi.a", "osgi.b", "svc.a", "svc.b", "zz"}},
		{name: "inverted bounds", from: "zz", to: "a", want: nil},
		{name: "empty window", from: "p", to: "q", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for k := range bag.Range(tt.from, tt.to) {
				got = append(got, k)
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestFromPairs(t *testing.T) {
	bag, err := FromPairs("b", "2", "a", "1", "b", "3")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "1", "b": "3"}, bag.Map())

	_, err = FromPairs("dangling")
	require.ErrorIs(t, err, ErrOddPairs)

	bag, err = FromPairs()
	require.NoError(t, err)
	require.Equal(t, 0, bag.Len())
}

func TestEqual(t *testing.T) {
	a := New(map[string]string{"k": "v", "x": "y"})
	b := New(map[string]string{"x": "y", "k": "v"})
	c := New(map[string]string{"k": "other", "x": "y"})

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
	require.False(t, a.Equal(Empty()))
}

func TestBag_MatchesSourceMap(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		src := rapid.MapOf(rapid.String(), rapid.String()).Draw(t, "src")
		bag := New(src)

		if bag.Len() != len(src) {
			t.Fatalf("Len = %d, want %d", bag.Len(), len(src))
		}
		for k, v := range src {
			got, ok := bag.Get(k)
			if !ok || got != v {
				t.Fatalf("Get(%q) = %q, %v; want %q", k, got, ok, v)
			}
		}
		if !slices.IsSorted(bag.Keys()) {
			t.Fatalf("keys not sorted: %v", bag.Keys())
		}
		if !maps.Equal(bag.Map(), src) {
			t.Fatalf("Map() = %v, want %v", bag.Map(), src)
		}
	})
}
