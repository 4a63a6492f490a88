// Package engine implements the streaming engine: it drives the
// deterministic character generator at a rate derived from the
// subscriber count, pushes each character through the word detector,
// persists detected hits via the word store, and fans out `char` and
// `word` events to every connected subscriber.
//
// The engine is a single-writer goroutine owning all mutable state,
// with a mutex guarding only the parts readers touch concurrently (the
// subscriber set, the in-memory hit list).
package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/owlglass/typewritermonkey/internal/chunkstore"
	"github.com/owlglass/typewritermonkey/internal/errors"
	"github.com/owlglass/typewritermonkey/internal/logging"
	"github.com/owlglass/typewritermonkey/internal/prng"
	"github.com/owlglass/typewritermonkey/internal/worddetect"
	"github.com/owlglass/typewritermonkey/internal/wordstore"
)

// BaselineUsers is the constant baseline user count, always added to
// the live subscriber count when computing the emission rate.
const BaselineUsers = 250

// charsPerUserPerMinute is the constant factor relating usersOnline to
// charsPerMinute (cpm = usersOnline * 5).
const charsPerUserPerMinute = 5

// StepInterval is the tick period driving character generation.
const StepInterval = time.Second / 60

// CharEvent is one generated-and-persisted character.
type CharEvent struct {
	Index uint64
	Ch    byte
}

// WordEvent is one detected dictionary hit.
type WordEvent struct {
	Start uint64
	Len   int
	Word  string
}

// Subscription is a connected transport endpoint's view of the
// broadcast stream. The transport layer reads from Events until
// Unsubscribe is called.
type Subscription struct {
	events chan interface{}
}

// Events returns the channel of CharEvent and WordEvent values
// broadcast after this subscription was created.
func (s *Subscription) Events() <-chan interface{} {
	return s.events
}

// Engine wires the generator, chunk store, detector, and word store
// together and owns the subscriber set and emission carry accumulator.
type Engine struct {
	gen      *prng.Generator
	store    *chunkstore.Store
	detector *worddetect.Detector
	words    *wordstore.Store
	testMode bool

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	hits    []worddetect.Hit
	carry   float64
	tick    uint64
	haltErr error

	stop      chan struct{}
	stopped   chan struct{}
	startedAt time.Time
}

// New constructs an Engine. initialHits is the in-memory hit list to
// seed with - normally the word store's loadAll result merged with
// whatever the startup scanner recovered, already sorted by the
// caller. testMode gates the baseline viewer jitter.
func New(gen *prng.Generator, store *chunkstore.Store, detector *worddetect.Detector, words *wordstore.Store, initialHits []worddetect.Hit, testMode bool) *Engine {
	hits := make([]worddetect.Hit, len(initialHits))
	copy(hits, initialHits)

	return &Engine{
		gen:       gen,
		store:     store,
		detector:  detector,
		words:     words,
		testMode:  testMode,
		subs:      make(map[*Subscription]struct{}),
		hits:      hits,
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
		startedAt: time.Now(),
	}
}

// ReadSlice reads a range of the durable stream, for the /v1/chars
// endpoint.
func (e *Engine) ReadSlice(ctx context.Context, start uint64, length int) (string, error) {
	return e.store.ReadSlice(ctx, start, length)
}

// Subscribe registers a new subscriber and returns its subscription
// along with the snapshot it must be sent before any live event: the
// current cursor and the full hit list so far. The snapshot is read
// while still holding the lock the broadcaster also holds, so the
// first live event this subscription receives is guaranteed to have
// an index at or after cursor.
func (e *Engine) Subscribe() (sub *Subscription, cursor uint64, initWords []worddetect.Hit) {
	sub = &Subscription{events: make(chan interface{}, 256)}

	e.mu.Lock()
	defer e.mu.Unlock()

	cursor = e.store.Cursor()
	initWords = make([]worddetect.Hit, len(e.hits))
	copy(initWords, e.hits)
	e.subs[sub] = struct{}{}

	return sub, cursor, initWords
}

// Unsubscribe removes sub from the broadcast set.
func (e *Engine) Unsubscribe(sub *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs, sub)
}

func (e *Engine) subscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// broadcast fans ev out to every current subscriber. A subscriber
// whose buffer is full is skipped rather than blocking generation; a
// slow reader is the transport layer's problem, not the engine's.
func (e *Engine) broadcast(ev interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for sub := range e.subs {
		select {
		case sub.events <- ev:
		default:
		}
	}
}

// Status is a snapshot for the /v1/status and /v1/stats REST endpoints.
type Status struct {
	Cursor         uint64
	Chunks         uint64
	DictionarySize int
	Users          int
	CharsPerMinute float64
	UptimeSec      float64
	Healthy        bool
	HaltedReason   string
}

// Status reports the engine's current rate and position.
func (e *Engine) Status(dictionarySize int) Status {
	users := e.usersOnline()
	healthy, reason := e.health()
	return Status{
		Cursor:         e.store.Cursor(),
		Chunks:         e.store.ChunkCount(),
		DictionarySize: dictionarySize,
		Users:          users,
		CharsPerMinute: float64(users) * charsPerUserPerMinute,
		UptimeSec:      time.Since(e.startedAt).Seconds(),
		Healthy:        healthy,
		HaltedReason:   reason,
	}
}

// Healthy reports whether generation is still running. It is false once
// a fatal backend failure (spec §7 "Fatal backend failure") has halted
// the tick loop - this is the surface spec §4.1/§7 requires so a fatal
// rollover failure is externally observable, not just logged.
func (e *Engine) Healthy() (healthy bool, reason string) {
	return e.health()
}

func (e *Engine) health() (healthy bool, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.haltErr == nil {
		return true, ""
	}
	return false, e.haltErr.Error()
}

func (e *Engine) usersOnline() int {
	users := e.subscriberCount() + BaselineUsers
	if e.testMode {
		users += e.jitter()
	}
	return users
}

// jitter is a small, bounded, deterministic oscillation simulating a
// fluctuating baseline audience. It depends only on the tick count,
// not on wall-clock time or randomness, so behavior under test is
// reproducible.
func (e *Engine) jitter() int {
	e.mu.Lock()
	tick := e.tick
	e.mu.Unlock()
	return int(math.Round(15 * math.Sin(float64(tick)/90)))
}

// Run drives the tick loop until ctx is done or Shutdown is called. It
// blocks the calling goroutine; callers typically run it with `go`.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(StepInterval)
	defer ticker.Stop()
	defer close(e.stopped)

	for {
		select {
		case <-ticker.C:
			e.mu.Lock()
			e.tick++
			e.mu.Unlock()

			if err := e.step(ctx); err != nil {
				logging.Errorf("engine: halting generation: %v", err)
				e.mu.Lock()
				e.haltErr = err
				e.mu.Unlock()
				return
			}
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		}
	}
}

// step computes how many characters are due this tick (the carry
// accumulator preserves fractional throughput across ticks without
// drift) and drives the generator that many times in order.
func (e *Engine) step(ctx context.Context) error {
	users := e.usersOnline()
	cpm := float64(users) * charsPerUserPerMinute
	cps := cpm / 60.0

	e.mu.Lock()
	e.carry += cps * StepInterval.Seconds()
	n := int(e.carry)
	e.carry -= float64(n)
	e.mu.Unlock()

	for i := 0; i < n; i++ {
		ev, err := e.gen.Next(ctx)
		if err != nil {
			if errors.IsFatal(err) {
				return err
			}
			logging.Errorf("engine: generator step failed, stopping this tick: %v", err)
			return nil
		}

		e.broadcast(CharEvent{Index: ev.Index, Ch: ev.Ch})

		hit := e.detector.Push(ev.Ch, ev.Index)
		if hit == nil {
			continue
		}

		e.mu.Lock()
		e.hits = append(e.hits, *hit)
		e.mu.Unlock()

		e.broadcast(WordEvent{Start: hit.Start, Len: hit.Len, Word: hit.Word})

		if err := e.words.Add(ctx, *hit); err != nil {
			logging.Errorf("engine: word store add failed: %v", err)
		}
	}

	return nil
}

// Shutdown stops the tick loop, then closes the word store and chunk
// store in that order.
func (e *Engine) Shutdown(ctx context.Context) error {
	close(e.stop)
	<-e.stopped

	if err := e.words.Close(ctx); err != nil {
		return errors.Wrap(err, "closing word store")
	}
	if err := e.store.Close(ctx); err != nil {
		return errors.Wrap(err, "closing chunk store")
	}
	return nil
}
