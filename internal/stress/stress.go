// Package stress drives a concurrent publish/resolve/unregister workload
// against a registry.Store and checks the store's guarantees while it runs.
package stress

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/svcreg/internal/identity"
	"github.com/zjrosen/svcreg/internal/inject"
	"github.com/zjrosen/svcreg/internal/log"
	"github.com/zjrosen/svcreg/internal/properties"
	"github.com/zjrosen/svcreg/internal/registry"
	"github.com/zjrosen/svcreg/internal/tracing"
)

// ErrInvalidOptions is returned by Run when Options fail validation.
var ErrInvalidOptions = errors.New("invalid stress options")

// Options sizes the workload.
type Options struct {
	Producers       int
	Consumers       int
	Ops             int     // publishes per producer
	UnregisterRatio float64 // fraction of publishes withdrawn again
	Seed            uint64  // 0 picks a random seed
	Tracer          trace.Tracer
}

func (o Options) validate() error {
	switch {
	case o.Producers < 1:
		return fmt.Errorf("%w: producers must be at least 1", ErrInvalidOptions)
	case o.Consumers < 0:
		return fmt.Errorf("%w: consumers must not be negative", ErrInvalidOptions)
	case o.Ops < 1:
		return fmt.Errorf("%w: ops must be at least 1", ErrInvalidOptions)
	case o.UnregisterRatio < 0 || o.UnregisterRatio > 1:
		return fmt.Errorf("%w: unregister ratio must be within [0, 1]", ErrInvalidOptions)
	}
	return nil
}

// Report summarises a finished run.
type Report struct {
	Published    uint64
	Updated      uint64
	Unregistered uint64
	Resolved     uint64 // correctly typed resolves that succeeded
	Misses       uint64 // correctly typed resolves of withdrawn registrations
	Mismatches   uint64 // wrongly typed resolves attempted
	Injected     uint64 // fields injected across all consumers
	Activated    int    // consumers whose activation fired
	FinalSize    int
	Duration     time.Duration
	Violations   []string
}

// OK reports whether the run observed no violations.
func (r Report) OK() bool {
	return len(r.Violations) == 0
}

type payloadKind uint8

const (
	kindString payloadKind = iota
	kindInt
	kindStruct
	kindStringer
	kindCount
)

func (k payloadKind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindInt:
		return "int64"
	case kindStruct:
		return "*sample"
	case kindStringer:
		return "fmt.Stringer"
	default:
		return "unknown"
	}
}

// sample is the struct payload. It also serves as the fmt.Stringer payload.
type sample struct {
	Producer int
	Seq      int
}

func (s *sample) String() string {
	return fmt.Sprintf("sample-%d-%d", s.Producer, s.Seq)
}

// published is one registration handed from a producer to the consumers.
type published struct {
	handle   registry.Handle
	kind     payloadKind
	producer int
	seq      int
}

type counters struct {
	published    atomic.Uint64
	updated      atomic.Uint64
	unregistered atomic.Uint64
	resolved     atomic.Uint64
	misses       atomic.Uint64
	mismatches   atomic.Uint64
	injected     atomic.Uint64
	activated    atomic.Int64
}

type violations struct {
	mu   sync.Mutex
	list []string
}

// maxViolations caps the recorded messages.
const maxViolations = 20

func (v *violations) add(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Error(log.CatStress, "Violation", "detail", msg)

	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.list) < maxViolations {
		v.list = append(v.list, msg)
	}
}

func (v *violations) snapshot() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.list...)
}

// Run executes the workload against s and returns once every producer and
// consumer has finished, or ctx is cancelled. s should be empty on entry;
// the final size check assumes it.
func Run(ctx context.Context, s *registry.Store, opts Options) (Report, error) {
	if err := opts.validate(); err != nil {
		return Report{}, err
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("stress")
	}
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	ctx, span := tracer.Start(ctx, tracing.SpanStressRun, trace.WithAttributes(
		attribute.Int(tracing.AttrStressProducers, opts.Producers),
		attribute.Int(tracing.AttrStressConsumers, opts.Consumers),
		attribute.Int(tracing.AttrStressOps, opts.Ops),
	))
	defer span.End()

	log.Info(log.CatStress, "Starting stress run",
		"producers", opts.Producers, "consumers", opts.Consumers, "ops", opts.Ops,
		"unregister_ratio", opts.UnregisterRatio, "seed", seed)

	start := time.Now()
	initial := s.Len()

	var (
		c     counters
		v     violations
		feed  = make(chan published, 256)
		lives = make([][]published, opts.Producers)
		stale = make([][]published, opts.Producers)
	)

	var consumers sync.WaitGroup
	for range opts.Consumers {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			consume(s, identity.NewConsumerID(), feed, &c, &v)
		}()
	}

	var producers sync.WaitGroup
	for p := range opts.Producers {
		producers.Add(1)
		go func() {
			defer producers.Done()
			rng := rand.New(rand.NewPCG(seed, uint64(p)))
			lives[p], stale[p] = produce(ctx, s, p, opts, rng, feed, opts.Consumers > 0, &c, &v)
		}()
	}

	producers.Wait()
	close(feed)
	consumers.Wait()

	if err := ctx.Err(); err != nil {
		return Report{}, fmt.Errorf("stress run interrupted: %w", err)
	}

	// Quiescent checks: nothing is running against the store any more.
	live := 0
	for p := range lives {
		for _, item := range lives[p] {
			if !resolveExpected(s, item) {
				v.add("live registration %s (%s) did not resolve", item.handle.ID(), item.kind)
			}
		}
		for _, item := range stale[p] {
			if resolveCorrect(s, item) {
				v.add("withdrawn registration %s (%s) resolved", item.handle.ID(), item.kind)
			}
		}
		live += len(lives[p])
	}
	if got, want := s.Len(), initial+live; got != want {
		v.add("store holds %d registrations, want %d", got, want)
	}

	report := Report{
		Published:    c.published.Load(),
		Updated:      c.updated.Load(),
		Unregistered: c.unregistered.Load(),
		Resolved:     c.resolved.Load(),
		Misses:       c.misses.Load(),
		Mismatches:   c.mismatches.Load(),
		Injected:     c.injected.Load(),
		Activated:    int(c.activated.Load()),
		FinalSize:    s.Len(),
		Duration:     time.Since(start),
		Violations:   v.snapshot(),
	}

	span.SetAttributes(attribute.Int(tracing.AttrStoreSize, report.FinalSize))
	log.Info(log.CatStress, "Stress run finished",
		"published", report.Published, "unregistered", report.Unregistered,
		"violations", len(report.Violations), "duration", report.Duration)

	return report, nil
}

// produce publishes opts.Ops payloads and withdraws a share of them.
// It returns the registrations still live and those it withdrew.
func produce(
	ctx context.Context,
	s *registry.Store,
	producer int,
	opts Options,
	rng *rand.Rand,
	feed chan<- published,
	share bool,
	c *counters,
	v *violations,
) (live, withdrawn []published) {
	for seq := range opts.Ops {
		if ctx.Err() != nil {
			return live, withdrawn
		}

		item := publish(s, producer, seq, payloadKind(rng.IntN(int(kindCount))))
		c.published.Add(1)

		if share {
			select {
			case feed <- item:
			case <-ctx.Done():
				return live, withdrawn
			}
		}

		if rng.IntN(4) == 0 {
			props := properties.New(map[string]string{
				"producer": fmt.Sprint(producer),
				"seq":      fmt.Sprint(seq),
				"rev":      "2",
			})
			if err := s.UpdateProperties(item.handle, props); err != nil {
				v.add("update of live registration %s failed: %v", item.handle.ID(), err)
			} else {
				c.updated.Add(1)
			}
		}

		if rng.Float64() < opts.UnregisterRatio {
			if _, err := s.Unregister(item.handle); err != nil {
				v.add("unregister of live registration %s failed: %v", item.handle.ID(), err)
				continue
			}
			c.unregistered.Add(1)
			if resolveCorrect(s, item) {
				v.add("registration %s resolved right after unregister", item.handle.ID())
			}
			if _, err := s.Unregister(item.handle); !errors.Is(err, registry.ErrNotFound) {
				v.add("second unregister of %s returned %v", item.handle.ID(), err)
			}
			withdrawn = append(withdrawn, item)
			continue
		}
		live = append(live, item)
	}
	return live, withdrawn
}

func publish(s *registry.Store, producer, seq int, kind payloadKind) published {
	props := properties.New(map[string]string{
		"producer": fmt.Sprint(producer),
		"seq":      fmt.Sprint(seq),
		"kind":     kind.String(),
	})

	var h registry.Handle
	switch kind {
	case kindString:
		h = registry.Publish(s, expectedString(producer, seq), props)
	case kindInt:
		h = registry.Publish(s, expectedInt(producer, seq), props)
	case kindStruct:
		h = registry.Publish(s, &sample{Producer: producer, Seq: seq}, props)
	case kindStringer:
		h = registry.Publish[fmt.Stringer](s, &sample{Producer: producer, Seq: seq}, props)
	}
	return published{handle: h, kind: kind, producer: producer, seq: seq}
}

// consume plays an injection engine for one consumer: every successful
// resolve injects one field, and the first one activates the consumer.
func consume(s *registry.Store, id identity.ConsumerID, feed <-chan published, c *counters, v *violations) {
	meta := inject.New()

	for item := range feed {
		if resolveWrong(s, item) {
			v.add("registration %s (%s) resolved under the wrong type", item.handle.ID(), item.kind)
		}
		c.mismatches.Add(1)

		ok, correct := resolveChecked(s, item)
		switch {
		case !ok:
			c.misses.Add(1)
		case !correct:
			v.add("registration %s (%s) resolved to an unexpected value", item.handle.ID(), item.kind)
		default:
			c.resolved.Add(1)
			meta.IncFieldsInjected()
			if !meta.IsActivated() {
				meta.SetActivated()
				c.activated.Add(1)
			}
		}
	}

	c.injected.Add(meta.FieldsInjected())
	log.Debug(log.CatStress, "Consumer finished", "consumer", id, "metadata", meta)
}

func expectedString(producer, seq int) string { return fmt.Sprintf("svc-%d-%d", producer, seq) }

func expectedInt(producer, seq int) int64 { return int64(producer)<<32 | int64(seq) }

func ref[T any](item published) registry.Reference[T] {
	return registry.MakeReference[T](item.handle, properties.Empty())
}

// resolveChecked resolves item under its own type. The second result reports
// whether the value is the one the producer published.
func resolveChecked(s *registry.Store, item published) (bool, bool) {
	switch item.kind {
	case kindString:
		got, ok := registry.Resolve(s, ref[string](item))
		return ok, got == expectedString(item.producer, item.seq)
	case kindInt:
		got, ok := registry.Resolve(s, ref[int64](item))
		return ok, got == expectedInt(item.producer, item.seq)
	case kindStruct:
		got, ok := registry.Resolve(s, ref[*sample](item))
		return ok, ok && got.Producer == item.producer && got.Seq == item.seq
	case kindStringer:
		got, ok := registry.Resolve(s, ref[fmt.Stringer](item))
		return ok, ok && got.String() == (&sample{Producer: item.producer, Seq: item.seq}).String()
	}
	return false, false
}

func resolveCorrect(s *registry.Store, item published) bool {
	ok, _ := resolveChecked(s, item)
	return ok
}

func resolveExpected(s *registry.Store, item published) bool {
	ok, correct := resolveChecked(s, item)
	return ok && correct
}

// resolveWrong resolves item under a type it was not published with.
// The stringer case tries the concrete type behind the interface.
func resolveWrong(s *registry.Store, item published) bool {
	switch item.kind {
	case kindString:
		_, ok := registry.Resolve(s, ref[int64](item))
		return ok
	case kindInt:
		_, ok := registry.Resolve(s, ref[int](item))
		return ok
	case kindStruct:
		_, ok := registry.Resolve(s, ref[fmt.Stringer](item))
		return ok
	case kindStringer:
		_, ok := registry.Resolve(s, ref[*sample](item))
		return ok
	}
	return false
}
