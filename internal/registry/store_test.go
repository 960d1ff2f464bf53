package registry

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"pgregory.net/rapid"

	"github.com/zjrosen/svcreg/internal/identity"
	"github.com/zjrosen/svcreg/internal/properties"
	"github.com/zjrosen/svcreg/internal/tracing"
)

type greeter interface {
	Greet() string
}

type english struct{ name string }

func (e english) Greet() string { return "hello " + e.name }

type config struct {
	Port  int
	Hosts []string
}

// ===========================================================================
// Unit Tests: Publish / Resolve
// ===========================================================================

func TestPublishResolve_RoundTrip(t *testing.T) {
	s := New()

	hs := Publish(s, "payload", properties.Empty())
	hi := Publish(s, 42, properties.New(map[string]string{"k": "v"}))
	hc := Publish(s, config{Port: 8080, Hosts: []string{"a"}}, properties.Empty())

	gotS, ok := Resolve(s, MakeReference[string](hs, properties.Empty()))
	require.True(t, ok)
	require.Equal(t, "payload", gotS)

	gotI, ok := Resolve(s, MakeReference[int](hi, properties.Empty()))
	require.True(t, ok)
	require.Equal(t, 42, gotI)

	gotC, ok := Resolve(s, MakeReference[config](hc, properties.Empty()))
	require.True(t, ok)
	require.Equal(t, config{Port: 8080, Hosts: []string{"a"}}, gotC)

	require.Equal(t, 3, s.Len())
}

func TestResolve_TypeMismatch(t *testing.T) {
	s := New()
	h := Publish(s, 7, properties.Empty())

	got, ok := Resolve(s, MakeReference[string](h, properties.Empty()))
	require.False(t, ok)
	require.Empty(t, got)

	got64, ok := Resolve(s, MakeReference[int64](h, properties.Empty()))
	require.False(t, ok)
	require.Zero(t, got64)

	// The registration itself is unaffected by a failed resolve.
	v, ok := Resolve(s, MakeReference[int](h, properties.Empty()))
	require.True(t, ok)
	require.Equal(t, 7, v)
}

func TestResolve_InterfaceVersusConcrete(t *testing.T) {
	s := New()

	asIface := Publish[greeter](s, english{name: "iface"}, properties.Empty())
	asConcrete := Publish(s, english{name: "concrete"}, properties.Empty())

	g, ok := Resolve(s, MakeReference[greeter](asIface, properties.Empty()))
	require.True(t, ok)
	require.Equal(t, "hello iface", g.Greet())

	_, ok = Resolve(s, MakeReference[english](asIface, properties.Empty()))
	require.False(t, ok, "interface-typed publish must not resolve as the concrete type")

	_, ok = Resolve(s, MakeReference[greeter](asConcrete, properties.Empty()))
	require.False(t, ok, "concrete publish must not resolve as the interface")

	e, ok := Resolve(s, MakeReference[english](asConcrete, properties.Empty()))
	require.True(t, ok)
	require.Equal(t, "concrete", e.name)
}

func TestResolve_NilInterfacePayload(t *testing.T) {
	s := New()
	h := Publish[greeter](s, nil, properties.Empty())

	g, ok := Resolve(s, MakeReference[greeter](h, properties.Empty()))
	require.True(t, ok)
	require.Nil(t, g)
}

func TestResolve_PointerPayloadShared(t *testing.T) {
	s := New()
	c := &config{Port: 1}
	h := Publish(s, c, properties.Empty())

	got, ok := Resolve(s, MakeReference[*config](h, properties.Empty()))
	require.True(t, ok)
	require.Same(t, c, got)
}

func TestResolve_UnboundNeverTouchesStore(t *testing.T) {
	var ref Reference[string]

	got, ok := Resolve[string](nil, ref)
	require.False(t, ok)
	require.Empty(t, got)

	s := New()
	Publish(s, "x", properties.Empty())
	_, ok = Resolve(s, ref)
	require.False(t, ok)
}

func TestResolve_StaleReference(t *testing.T) {
	s := New()
	h := Publish(s, "gone", properties.Empty())
	ref := MakeReference[string](h, properties.Empty())

	_, err := s.Unregister(h)
	require.NoError(t, err)

	for i := range 100 {
		Publish(s, fmt.Sprintf("later-%d", i), properties.Empty())
		_, ok := Resolve(s, ref)
		require.False(t, ok)
	}
}

// ===========================================================================
// Unit Tests: UpdateProperties / Unregister
// ===========================================================================

func TestUpdateProperties(t *testing.T) {
	s := New()
	initial := properties.New(map[string]string{"v": "1"})
	h := Publish(s, "svc", initial)
	ref := MakeReference[string](h, initial)

	updated := properties.New(map[string]string{"v": "2", "extra": "x"})
	require.NoError(t, s.UpdateProperties(h, updated))

	live, ok := s.Properties(h.ID())
	require.True(t, ok)
	require.True(t, live.Equal(updated))

	// The reference keeps the snapshot it was built with.
	snap, ok := ref.Properties()
	require.True(t, ok)
	require.True(t, snap.Equal(initial))
}

func TestUpdateProperties_NotFound(t *testing.T) {
	s := New()
	h := Publish(s, 1, properties.Empty())
	_, err := s.Unregister(h)
	require.NoError(t, err)

	err = s.UpdateProperties(h, properties.Empty())
	require.ErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), h.ID().String())
}

func TestUnregister_ReturnsLastProperties(t *testing.T) {
	s := New()
	h := Publish(s, 1, properties.New(map[string]string{"a": "1"}))
	require.NoError(t, s.UpdateProperties(h, properties.New(map[string]string{"b": "2"})))

	last, err := s.Unregister(h)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"b": "2"}, last.Map())
	require.False(t, s.Contains(h.ID()))
	require.Zero(t, s.Len())
}

func TestUnregister_Twice(t *testing.T) {
	s := New()
	h := Publish(s, 1, properties.Empty())

	_, err := s.Unregister(h)
	require.NoError(t, err)

	last, err := s.Unregister(h)
	require.True(t, errors.Is(err, ErrNotFound))
	require.Zero(t, last.Len())
}

func TestUnregister_ZeroHandle(t *testing.T) {
	s := New()
	Publish(s, 1, properties.Empty())

	_, err := s.Unregister(Handle{})
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, s.Len())
}

// ===========================================================================
// Unit Tests: read helpers
// ===========================================================================

func TestIDs_Sorted(t *testing.T) {
	s := New()
	want := make([]identity.RegistrationID, 0, 50)
	for i := range 50 {
		want = append(want, Publish(s, i, properties.Empty()).ID())
	}
	slices.SortFunc(want, identity.RegistrationID.Compare)

	require.Equal(t, want, s.IDs())
}

func TestTypeOf(t *testing.T) {
	s := New()
	h := Publish[io.Reader](s, nil, properties.Empty())

	typ, ok := s.TypeOf(h.ID())
	require.True(t, ok)
	require.Equal(t, reflect.TypeFor[io.Reader](), typ)

	_, ok = s.TypeOf(identity.NewRegistrationID())
	require.False(t, ok)
}

func TestProperties_Missing(t *testing.T) {
	s := New()
	bag, ok := s.Properties(identity.NewRegistrationID())
	require.False(t, ok)
	require.Zero(t, bag.Len())
}

func TestDefault_Singleton(t *testing.T) {
	a := Default()
	b := Default()
	require.Same(t, a, b)

	h := Publish(a, "global", properties.Empty())
	t.Cleanup(func() { _, _ = a.Unregister(h) })

	got, ok := Resolve(b, MakeReference[string](h, properties.Empty()))
	require.True(t, ok)
	require.Equal(t, "global", got)
}

func TestNew_Independent(t *testing.T) {
	a, b := New(), New()
	h := Publish(a, "only-in-a", properties.Empty())

	_, ok := Resolve(b, MakeReference[string](h, properties.Empty()))
	require.False(t, ok)
}

// ===========================================================================
// Concurrency
// ===========================================================================

func TestPublish_Concurrent(t *testing.T) {
	s := New()
	Publish(s, "seed", properties.Empty())
	before := s.Len()

	const goroutines = 64
	handles := make([]Handle, goroutines)

	var wg sync.WaitGroup
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handles[i] = Publish(s, i, properties.New(map[string]string{"n": fmt.Sprint(i)}))
		}()
	}
	wg.Wait()

	require.Equal(t, before+goroutines, s.Len())
	for i, h := range handles {
		got, ok := Resolve(s, MakeReference[int](h, properties.Empty()))
		require.True(t, ok)
		require.Equal(t, i, got)
	}
}

func TestStore_ConcurrentMixed(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				h := Publish(s, w*1000+i, properties.Empty())
				ref := MakeReference[int](h, properties.Empty())
				if _, ok := Resolve(s, ref); !ok {
					t.Errorf("publish not visible to resolve")
					return
				}
				_ = s.UpdateProperties(h, properties.New(map[string]string{"i": fmt.Sprint(i)}))
				if i%2 == 0 {
					if _, err := s.Unregister(h); err != nil {
						t.Errorf("unregister: %v", err)
						return
					}
					if _, ok := Resolve(s, ref); ok {
						t.Errorf("stale reference resolved")
						return
					}
				}
				_ = s.IDs()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 8*100, s.Len())
}

// ===========================================================================
// Tracing
// ===========================================================================

func TestStore_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })

	s := New(WithTracer(tp.Tracer("test")))

	h := Publish(s, "traced", properties.New(map[string]string{"a": "1"}))
	require.NoError(t, s.UpdateProperties(h, properties.Empty()))
	_, err := s.Unregister(h)
	require.NoError(t, err)
	_, err = s.Unregister(h)
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 4)

	names := make([]string, 0, len(spans))
	for _, sp := range spans {
		names = append(names, sp.Name())
	}
	require.Equal(t, []string{
		tracing.SpanPublish,
		tracing.SpanUpdateProperties,
		tracing.SpanUnregister,
		tracing.SpanUnregister,
	}, names)

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	require.Equal(t, h.ID().String(), attrs[tracing.AttrRegistrationID])
	require.Equal(t, "string", attrs[tracing.AttrPayloadType])
	require.Equal(t, "1", attrs[tracing.AttrPropertyCount])

	require.Equal(t, codes.Unset, spans[2].Status().Code)
	require.Equal(t, codes.Error, spans[3].Status().Code)
}

func TestWithTracer_NilKeepsNoop(t *testing.T) {
	s := New(WithTracer(nil))
	require.NotNil(t, s.tracer)
	Publish(s, 1, properties.Empty())
}

// ===========================================================================
// Property-Based Tests
// ===========================================================================

func TestStore_RoundTrip_Rapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := New()
		strs := rapid.SliceOf(rapid.String()).Draw(t, "strings")
		ints := rapid.SliceOf(rapid.Int()).Draw(t, "ints")
		props := rapid.MapOf(rapid.StringN(0, 8, -1), rapid.String()).Draw(t, "props")
		bag := properties.New(props)

		sh := make([]Handle, len(strs))
		for i, v := range strs {
			sh[i] = Publish(s, v, bag)
		}
		ih := make([]Handle, len(ints))
		for i, v := range ints {
			ih[i] = Publish(s, v, properties.Empty())
		}

		if s.Len() != len(strs)+len(ints) {
			t.Fatalf("store size %d, want %d", s.Len(), len(strs)+len(ints))
		}
		for i, h := range sh {
			got, ok := Resolve(s, MakeReference[string](h, bag))
			if !ok || got != strs[i] {
				t.Fatalf("string %d: got %q ok=%v, want %q", i, got, ok, strs[i])
			}
			if _, ok := Resolve(s, MakeReference[int](h, bag)); ok {
				t.Fatalf("string registration resolved as int")
			}
			live, _ := s.Properties(h.ID())
			if !live.Equal(bag) {
				t.Fatalf("properties changed: %s != %s", live, bag)
			}
		}
		for i, h := range ih {
			got, ok := Resolve(s, MakeReference[int](h, properties.Empty()))
			if !ok || got != ints[i] {
				t.Fatalf("int %d: got %d ok=%v, want %d", i, got, ok, ints[i])
			}
		}
	})
}
