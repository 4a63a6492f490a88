// Package wordstore implements the Word Store (spec §2.5, §4.4): a
// persistent set of detected dictionary hits, written in batches
// coalesced by either a count threshold or a timer, that also tracks
// the high-water mark of persisted positions the Startup Scanner needs
// to know where to resume.
//
// The batching and timer-coalescing shape is adapted from the
// teacher's chunk-store style periodic flush (internal/chunkstore),
// generalized here to a count threshold in addition to a time
// threshold, since word hits arrive far less regularly than characters.
package wordstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/owlglass/typewritermonkey/internal/docstore"
	"github.com/owlglass/typewritermonkey/internal/errors"
	"github.com/owlglass/typewritermonkey/internal/logging"
	"github.com/owlglass/typewritermonkey/internal/worddetect"
)

// DefaultBatchSize is the spec's constant B.
const DefaultBatchSize = 16

// DefaultFlushInterval is the spec's T_word.
const DefaultFlushInterval = 5 * time.Second

const wordsCollection = "words"

func docID(start uint64, length int) string {
	return "word_" + strconv.FormatUint(start, 10) + "_" + strconv.Itoa(length)
}

// Store is the Word Store. Pending hits accumulate under mu until
// either the batch threshold is reached (flush happens inline, on the
// calling goroutine) or the coalescing timer fires (flush happens on
// the timer goroutine).
type Store struct {
	be docstore.Backend

	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	pending []worddetect.Hit
	high    uint64
	timer   *time.Timer
	closed  bool
}

// Open constructs a Word Store and loads its persisted high-water mark
// by calling LoadAll once (spec §4.4 "loadAll ... reconstructs H").
func Open(ctx context.Context, be docstore.Backend) (*Store, error) {
	return OpenWithOptions(ctx, be, DefaultBatchSize, DefaultFlushInterval)
}

// OpenWithOptions is Open with the batch size and coalescing interval
// overridable, for tests.
func OpenWithOptions(ctx context.Context, be docstore.Backend, batchSize int, flushInterval time.Duration) (*Store, error) {
	s := &Store{
		be:            be,
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}

	hits, err := s.LoadAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "loading persisted word hits")
	}
	for _, h := range hits {
		s.bumpHigh(h)
	}

	return s, nil
}

// LoadAll reads every persisted hit from the backend, sorted by start
// ascending (spec §4.4 "loadAll").
func (s *Store) LoadAll(ctx context.Context) ([]worddetect.Hit, error) {
	docs, err := s.be.List(ctx, wordsCollection)
	if err != nil {
		return nil, errors.Wrap(err, "listing word documents")
	}

	hits := make([]worddetect.Hit, 0, len(docs))
	for _, doc := range docs {
		hit, ok := hitFromDoc(doc)
		if !ok {
			continue
		}
		hits = append(hits, hit)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Start < hits[j].Start })
	return hits, nil
}

func hitFromDoc(doc docstore.Doc) (worddetect.Hit, bool) {
	start, ok := asUint64(doc["start"])
	if !ok {
		return worddetect.Hit{}, false
	}
	length, ok := asInt(doc["len"])
	if !ok {
		return worddetect.Hit{}, false
	}
	word, ok := doc["word"].(string)
	if !ok {
		return worddetect.Hit{}, false
	}
	return worddetect.Hit{Start: start, Len: length, Word: word}, true
}

func asUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int:
		return uint64(n), true
	case int64:
		return uint64(n), true
	case float64:
		return uint64(n), true
	default:
		return 0, false
	}
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// High returns the current high-water mark H = max(start+len) over all
// hits ever added (persisted or still pending).
func (s *Store) High() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.high
}

func (s *Store) bumpHigh(h worddetect.Hit) {
	if end := h.Start + uint64(h.Len); end > s.high {
		s.high = end
	}
}

// Add enqueues hit for persistence (spec §4.4 "add"). If the pending
// buffer reaches the batch threshold, Add flushes synchronously before
// returning; otherwise it (re)starts the coalescing timer and returns
// immediately.
func (s *Store) Add(ctx context.Context, hit worddetect.Hit) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("wordstore: add after close")
	}

	s.pending = append(s.pending, hit)
	s.bumpHigh(hit)

	if len(s.pending) >= s.batchSize {
		s.stopTimerLocked()
		s.mu.Unlock()
		return s.Flush(ctx)
	}

	s.resetTimerLocked(ctx)
	s.mu.Unlock()
	return nil
}

// resetTimerLocked must be called with s.mu held. It (re)starts the
// coalescing timer so that pending hits are flushed flushInterval after
// the most recent call; each Add restarts it.
func (s *Store) resetTimerLocked(ctx context.Context) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.flushInterval, func() {
		if err := s.Flush(ctx); err != nil {
			logging.Errorf("wordstore: timer flush failed, will retry: %v", err)
		}
	})
}

func (s *Store) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Flush writes every pending hit in one Batch call, keyed by
// word_{start}_{len} (spec §4.4 "flush" - set semantics, idempotent on
// replay), then clears the pending buffer.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.pending
	s.pending = nil
	s.stopTimerLocked()
	s.mu.Unlock()

	now := time.Now().Unix()
	ws := make([]docstore.Write, len(batch))
	for i, h := range batch {
		ws[i] = docstore.Write{
			Handle: docstore.Handle{Collection: wordsCollection, ID: docID(h.Start, h.Len)},
			Doc: docstore.Doc{
				"start":     h.Start,
				"len":       h.Len,
				"word":      h.Word,
				"timestamp": now,
			},
		}
	}

	if err := s.be.Batch(ctx, ws); err != nil {
		s.mu.Lock()
		s.pending = append(batch, s.pending...)
		s.resetTimerLocked(ctx)
		s.mu.Unlock()
		return errors.Wrap(err, "flushing word batch")
	}

	return nil
}

// Close cancels the coalescing timer and awaits a final flush (spec
// §4.4 "close").
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.stopTimerLocked()
	s.mu.Unlock()

	return s.Flush(ctx)
}
