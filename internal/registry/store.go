// Package registry provides a process-wide catalog of typed services.
//
// Producers publish a value with Publish and keep the returned Handle, which
// is the only authority to update or withdraw the registration. Consumers
// hold a Reference[T] and recover the value with Resolve. The store keeps
// payloads type-erased next to the reflect.Type they were published under,
// and resolution succeeds only when the consumer asks for exactly that type.
package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/svcreg/internal/identity"
	"github.com/zjrosen/svcreg/internal/log"
	"github.com/zjrosen/svcreg/internal/properties"
	"github.com/zjrosen/svcreg/internal/tracing"
)

// ErrNotFound is returned when a handle names a registration that is not in the store.
var ErrNotFound = errors.New("registration not found")

// entry is one stored registration.
type entry struct {
	value any
	typ   reflect.Type
	props properties.Bag
}

// Store is a thread-safe table of type-erased registrations.
type Store struct {
	mu      sync.RWMutex
	entries map[identity.RegistrationID]entry
	tracer  trace.Tracer
}

// Option configures a Store.
type Option func(*Store)

// WithTracer emits a span for every write operation on the store.
func WithTracer(t trace.Tracer) Option {
	return func(s *Store) {
		if t != nil {
			s.tracer = t
		}
	}
}

// New creates an empty, independent store.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[identity.RegistrationID]entry),
		tracer:  noop.NewTracerProvider().Tracer("registry"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	defaultOnce  sync.Once
	defaultStore *Store
)

// Default returns the process-wide store, creating it on first use.
// It lives for the rest of the process.
func Default() *Store {
	defaultOnce.Do(func() {
		defaultStore = New()
	})
	return defaultStore
}

// Publish stores value under a fresh id, tagged with T, and returns the
// producer's handle. It always succeeds.
func Publish[T any](s *Store, value T, props properties.Bag) Handle {
	typ := reflect.TypeFor[T]()
	id := identity.NewRegistrationID()

	_, span := s.tracer.Start(context.Background(), tracing.SpanPublish,
		trace.WithAttributes(
			attribute.String(tracing.AttrRegistrationID, id.String()),
			attribute.String(tracing.AttrPayloadType, typ.String()),
			attribute.Int(tracing.AttrPropertyCount, props.Len()),
		))
	defer span.End()

	s.mu.Lock()
	s.entries[id] = entry{value: value, typ: typ, props: props}
	size := len(s.entries)
	s.mu.Unlock()

	span.SetAttributes(attribute.Int(tracing.AttrStoreSize, size))
	log.Debug(log.CatRegistry, "Published service", "id", id, "type", typ, "props", props.Len())

	return Handle{id: id}
}

// UpdateProperties replaces the properties of the registration named by h.
func (s *Store) UpdateProperties(h Handle, props properties.Bag) error {
	_, span := s.tracer.Start(context.Background(), tracing.SpanUpdateProperties,
		trace.WithAttributes(
			attribute.String(tracing.AttrRegistrationID, h.id.String()),
			attribute.Int(tracing.AttrPropertyCount, props.Len()),
		))
	defer span.End()

	s.mu.Lock()
	e, ok := s.entries[h.id]
	if ok {
		e.props = props
		s.entries[h.id] = e
	}
	s.mu.Unlock()

	if !ok {
		err := fmt.Errorf("update properties of %s: %w", h.id, ErrNotFound)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Debug(log.CatRegistry, "Update of missing registration", "id", h.id)
		return err
	}

	log.Debug(log.CatRegistry, "Updated properties", "id", h.id, "type", e.typ, "props", props.Len())
	return nil
}

// Unregister removes the registration named by h and returns its last properties.
func (s *Store) Unregister(h Handle) (properties.Bag, error) {
	_, span := s.tracer.Start(context.Background(), tracing.SpanUnregister,
		trace.WithAttributes(attribute.String(tracing.AttrRegistrationID, h.id.String())))
	defer span.End()

	s.mu.Lock()
	e, ok := s.entries[h.id]
	if ok {
		delete(s.entries, h.id)
	}
	size := len(s.entries)
	s.mu.Unlock()

	if !ok {
		err := fmt.Errorf("unregister %s: %w", h.id, ErrNotFound)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Debug(log.CatRegistry, "Unregister of missing registration", "id", h.id)
		return properties.Empty(), err
	}

	span.SetAttributes(
		attribute.String(tracing.AttrPayloadType, e.typ.String()),
		attribute.Int(tracing.AttrStoreSize, size),
	)
	log.Debug(log.CatRegistry, "Unregistered service", "id", h.id, "type", e.typ)
	return e.props, nil
}

// Resolve returns the value ref points at. It reports false when ref is
// unbound, when the registration is gone, or when it was published under a
// type other than T. An unbound ref never touches s.
func Resolve[T any](s *Store, ref Reference[T]) (T, bool) {
	var zero T
	if !ref.IsBound() || s == nil {
		return zero, false
	}

	s.mu.RLock()
	e, ok := s.entries[ref.id]
	s.mu.RUnlock()
	if !ok {
		return zero, false
	}

	want := reflect.TypeFor[T]()
	if e.typ != want {
		log.Debug(log.CatRegistry, "Type mismatch on resolve", "id", ref.id, "stored", e.typ, "requested", want)
		return zero, false
	}

	// A nil interface payload stored under an interface type has no dynamic
	// value to assert on.
	if e.value == nil {
		return zero, true
	}
	return e.value.(T), true
}

// Len returns the number of registrations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Contains reports whether id is registered.
func (s *Store) Contains(id identity.RegistrationID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

// Properties returns the current properties of id.
func (s *Store) Properties(id identity.RegistrationID) (properties.Bag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return properties.Empty(), false
	}
	return e.props, true
}

// TypeOf returns the type id was published under.
func (s *Store) TypeOf(id identity.RegistrationID) (reflect.Type, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.typ, true
}

// IDs returns every registered id in ascending order.
func (s *Store) IDs() []identity.RegistrationID {
	s.mu.RLock()
	ids := slices.Collect(maps.Keys(s.entries))
	s.mu.RUnlock()

	slices.SortFunc(ids, identity.RegistrationID.Compare)
	return ids
}
