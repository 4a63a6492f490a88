// Package chunkstore implements durable, append-only character storage
// addressable by absolute index, partitioned into fixed-size chunks,
// with one in-RAM working chunk, an LRU of finished chunks, and a
// periodically-flushed cursor.
package chunkstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/owlglass/typewritermonkey/internal/docstore"
	"github.com/owlglass/typewritermonkey/internal/errors"
	"github.com/owlglass/typewritermonkey/internal/logging"
)

// DefaultChunkSize is the fixed chunk size C: chunkId(idx) = idx/C.
const DefaultChunkSize = 8192

// DefaultLRUCapacity bounds how many finished chunks stay cached.
const DefaultLRUCapacity = 32

// DefaultFlushInterval is how often the cursor and working chunk are
// mirrored to the backend when dirty.
const DefaultFlushInterval = 2 * time.Second

const chunksCollection = "chunks"
const metaCollection = "meta"
const cursorID = "cursor"

// Store is the Chunk Store. All mutable state (cursor, working buffer,
// dirty flag, workingID) is guarded by a single mutex; the LRU has its
// own lock and is read outside this mutex by ReadChunk. There is
// exactly one writer, and readers must observe either the pre- or
// post-append state of any single append, never a partial character,
// which a single mutex gives for free at the cost of briefly blocking
// readers during an append.
type Store struct {
	be        docstore.Backend
	chunkSize int

	mu        sync.Mutex
	cursor    uint64
	workingID uint64
	working   []byte
	dirty     bool
	failed    error

	cache *chunkCache

	flushInterval time.Duration
	stop          chan struct{}
	stopped       chan struct{}
}

func chunkID(idx uint64, chunkSize int) uint64 {
	return idx / uint64(chunkSize)
}

func chunkDocID(id uint64) string {
	return "chunk_" + strconv.FormatUint(id, 10)
}

// Create opens the Chunk Store against be, reconciling in-memory state
// from the persisted cursor and working chunk, then starts the
// cursor-flush timer.
func Create(ctx context.Context, be docstore.Backend, chunkSize int) (*Store, error) {
	return create(ctx, be, chunkSize, DefaultLRUCapacity, DefaultFlushInterval)
}

// CreateWithOptions is Create with the LRU capacity and flush interval
// overridable, for tests that need a small chunk size or a fast flush
// tick.
func CreateWithOptions(ctx context.Context, be docstore.Backend, chunkSize, lruCapacity int, flushInterval time.Duration) (*Store, error) {
	return create(ctx, be, chunkSize, lruCapacity, flushInterval)
}

func create(ctx context.Context, be docstore.Backend, chunkSize, lruCapacity int, flushInterval time.Duration) (*Store, error) {
	if chunkSize <= 0 {
		return nil, errors.Fatalf("chunk size must be positive, got %d", chunkSize)
	}

	s := &Store{
		be:            be,
		chunkSize:     chunkSize,
		cache:         newChunkCache(lruCapacity),
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	cursorDoc, found, err := be.Get(ctx, docstore.Handle{Collection: metaCollection, ID: cursorID})
	if err != nil {
		return nil, errors.Wrap(err, "reading persisted cursor")
	}
	if found {
		idx, ok := docAsUint64(cursorDoc["index"])
		if !ok {
			return nil, errors.Fatalf("meta/cursor document has a malformed index field: %v", cursorDoc["index"])
		}
		s.cursor = idx
	}

	s.workingID = chunkID(s.cursor, chunkSize)

	workingDoc, found, err := be.Get(ctx, docstore.Handle{Collection: chunksCollection, ID: chunkDocID(s.workingID)})
	if err != nil {
		return nil, errors.Wrap(err, "reading working chunk")
	}
	if found {
		text, _ := workingDoc["text"].(string)
		if len(text) == chunkSize {
			s.cache.Add(s.workingID, text)
			s.workingID++
			// A full chunk means every character in it was written, so the
			// persisted cursor lagged; move it to the start of the next chunk.
			s.cursor = s.workingID * uint64(chunkSize)
			s.working = make([]byte, 0, chunkSize)
		} else {
			s.working = []byte(text)
		}
	} else {
		s.working = make([]byte, 0, chunkSize)
	}

	go s.flushLoop()

	return s, nil
}

func docAsUint64(v interface{}) (uint64, bool) {
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

func (s *Store) flushLoop() {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	defer close(s.stopped)

	for {
		select {
		case <-ticker.C:
			if err := s.flushCursorTick(context.Background()); err != nil {
				logging.Errorf("chunkstore: cursor flush failed, will retry: %v", err)
			}
		case <-s.stop:
			return
		}
	}
}

// Append assigns the next absolute index to ch, persists it (mirroring
// the working chunk on rollover), and returns that index. If a previous
// rollover batch failed fatally, Append keeps returning that error
// without mutating any state: the caller must halt generation until
// restart.
func (s *Store) Append(ctx context.Context, ch byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed != nil {
		return 0, s.failed
	}

	idx := s.cursor
	s.cursor++
	s.working = append(s.working, ch)
	s.dirty = true

	if len(s.working) == s.chunkSize {
		if err := s.flushFullLocked(ctx); err != nil {
			s.failed = err
			return idx, err
		}
	}

	return idx, nil
}

// flushFullLocked must be called with s.mu held. It persists the
// now-full working chunk and the advanced cursor in one Batch call, then
// rolls the working chunk forward. A failure here is fatal to
// correctness (spec §4.1 "A failed flushFull is fatal... must cause
// the streaming engine to halt generation until recovery"; spec §7
// "Fatal backend failure"): the caller must halt rather than risk
// broadcasting characters that were never durably committed.
func (s *Store) flushFullLocked(ctx context.Context) error {
	text := string(s.working)
	ws := []docstore.Write{
		{Handle: docstore.Handle{Collection: chunksCollection, ID: chunkDocID(s.workingID)}, Doc: docstore.Doc{"text": text}},
		{Handle: docstore.Handle{Collection: metaCollection, ID: cursorID}, Doc: docstore.Doc{"index": s.cursor}},
	}
	if err := s.be.Batch(ctx, ws); err != nil {
		return errors.Fatalf("flushing full chunk %d: %v", s.workingID, err)
	}

	s.cache.Add(s.workingID, text)
	s.workingID++
	s.working = make([]byte, 0, s.chunkSize)
	s.dirty = false
	return nil
}

// flushCursorTick mirrors the (possibly partial) working chunk and
// advances the persisted cursor, if dirty. Failures are transient: they
// are logged by the caller and retried on the next tick.
func (s *Store) flushCursorTick(ctx context.Context) error {
	s.mu.Lock()
	if !s.dirty || s.failed != nil {
		s.mu.Unlock()
		return nil
	}
	text := string(s.working)
	workingID := s.workingID
	cursor := s.cursor
	s.mu.Unlock()

	ws := []docstore.Write{
		{Handle: docstore.Handle{Collection: chunksCollection, ID: chunkDocID(workingID)}, Doc: docstore.Doc{"text": text}},
		{Handle: docstore.Handle{Collection: metaCollection, ID: cursorID}, Doc: docstore.Doc{"index": cursor}},
	}
	if err := s.be.Batch(ctx, ws); err != nil {
		return err
	}

	s.mu.Lock()
	// Only clear dirty if nothing changed underneath us (no rollover and
	// no newer characters appended while the batch was in flight).
	if s.workingID == workingID && s.cursor == cursor {
		s.dirty = false
	}
	s.mu.Unlock()

	return nil
}

// Cursor returns the absolute index of the next character to be written.
func (s *Store) Cursor() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// ChunkCount returns the number of chunks that contain at least one
// character, finished or working.
func (s *Store) ChunkCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor == 0 {
		return 0
	}
	return chunkID(s.cursor-1, s.chunkSize) + 1
}

// ReadChunk returns the text of chunk id. A missing chunk (not yet
// written) returns an empty string, not an error.
func (s *Store) ReadChunk(ctx context.Context, id uint64) (string, error) {
	s.mu.Lock()
	if id == s.workingID {
		text := string(s.working)
		s.mu.Unlock()
		return text, nil
	}
	s.mu.Unlock()

	if text, ok := s.cache.Get(id); ok {
		return text, nil
	}

	doc, found, err := s.be.Get(ctx, docstore.Handle{Collection: chunksCollection, ID: chunkDocID(id)})
	if err != nil {
		return "", errors.Wrapf(err, "reading chunk %d", id)
	}
	if !found {
		return "", nil
	}

	text, _ := doc["text"].(string)
	s.cache.Add(id, text)
	return text, nil
}

// ReadSlice returns the len characters of the stream starting at start.
// A possibly short string is returned if start+len extends past the
// cursor; an empty string is returned if len<=0.
func (s *Store) ReadSlice(ctx context.Context, start uint64, length int) (string, error) {
	if length <= 0 {
		return "", nil
	}

	first := chunkID(start, s.chunkSize)
	last := chunkID(start+uint64(length)-1, s.chunkSize)

	var buf []byte
	for id := first; id <= last; id++ {
		text, err := s.ReadChunk(ctx, id)
		if err != nil {
			return "", err
		}
		buf = append(buf, text...)
		if len(text) < s.chunkSize {
			// Short or missing chunk: nothing further is written yet.
			break
		}
	}

	offset := int(start - first*uint64(s.chunkSize))
	if offset >= len(buf) {
		return "", nil
	}
	end := offset + length
	if end > len(buf) {
		end = len(buf)
	}
	return string(buf[offset:end]), nil
}

// Close cancels the flush timer and performs one final synchronous
// cursor flush before returning.
func (s *Store) Close(ctx context.Context) error {
	close(s.stop)
	<-s.stopped
	return s.flushCursorTick(ctx)
}
