package chunkstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/owlglass/typewritermonkey/internal/chunkstore"
	"github.com/owlglass/typewritermonkey/internal/docstore"
	"github.com/owlglass/typewritermonkey/internal/errors"
)

func appendString(t *testing.T, ctx context.Context, s *chunkstore.Store, str string) {
	t.Helper()
	for i := 0; i < len(str); i++ {
		if _, err := s.Append(ctx, str[i]); err != nil {
			t.Fatalf("append %q: %v", str[i:i+1], err)
		}
	}
}

func TestAppendAssignsSequentialIndices(t *testing.T) {
	ctx := context.Background()
	be := docstore.NewMemory()
	s, err := chunkstore.Create(ctx, be, chunkstore.DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}

	for i, ch := range []byte("hello") {
		idx, err := s.Append(ctx, ch)
		if err != nil {
			t.Fatal(err)
		}
		if idx != uint64(i) {
			t.Fatalf("expected index %d, got %d", i, idx)
		}
	}
	if s.Cursor() != 5 {
		t.Fatalf("expected cursor 5, got %d", s.Cursor())
	}
}

// TestChunkRollover is spec §8 scenario S2.
func TestChunkRollover(t *testing.T) {
	ctx := context.Background()
	be := docstore.NewMemory()
	s, err := chunkstore.CreateWithOptions(ctx, be, 4, 32, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	appendString(t, ctx, s, "abcde")

	chunk0, err := s.ReadChunk(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if chunk0 != "abcd" {
		t.Fatalf("expected chunk 0 = abcd, got %q", chunk0)
	}

	doc, found, err := be.Get(ctx, docstore.Handle{Collection: "chunks", ID: "chunk_0"})
	if err != nil {
		t.Fatal(err)
	}
	if !found || doc["text"] != "abcd" {
		t.Fatalf("expected persisted chunk_0=abcd, got %v found=%v", doc, found)
	}

	if s.Cursor() != 5 {
		t.Fatalf("expected cursor 5, got %d", s.Cursor())
	}

	time.Sleep(150 * time.Millisecond)

	cursorDoc, found, err := be.Get(ctx, docstore.Handle{Collection: "meta", ID: "cursor"})
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatalf("expected persisted cursor after flush tick")
	}
	if idx, _ := cursorDoc["index"].(uint64); idx != 5 {
		t.Fatalf("expected persisted cursor index 5, got %v", cursorDoc["index"])
	}

	chunk1, err := s.ReadChunk(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if chunk1 != "e" {
		t.Fatalf("expected working chunk 1 = %q, got %q", "e", chunk1)
	}

	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestReadSliceAcrossChunkBoundary(t *testing.T) {
	ctx := context.Background()
	be := docstore.NewMemory()
	s, err := chunkstore.CreateWithOptions(ctx, be, 4, 32, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	appendString(t, ctx, s, "abcdefgh")

	got, err := s.ReadSlice(ctx, 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if got != "cdef" {
		t.Fatalf("expected cdef, got %q", got)
	}
}

func TestReadSliceBoundaries(t *testing.T) {
	ctx := context.Background()
	be := docstore.NewMemory()
	s, err := chunkstore.Create(ctx, be, chunkstore.DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	appendString(t, ctx, s, "abc")

	last, err := s.ReadSlice(ctx, s.Cursor()-1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if last != "c" {
		t.Fatalf("expected last char c, got %q", last)
	}

	empty, err := s.ReadSlice(ctx, s.Cursor(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if empty != "" {
		t.Fatalf("expected empty read past cursor, got %q", empty)
	}

	zero, err := s.ReadSlice(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if zero != "" {
		t.Fatalf("expected empty read for len<=0, got %q", zero)
	}
}

func TestRestartReconciliation(t *testing.T) {
	ctx := context.Background()
	be := docstore.NewMemory()
	s, err := chunkstore.CreateWithOptions(ctx, be, 4, 32, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	appendString(t, ctx, s, "abcdefghij")
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}

	before, err := s.ReadSlice(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}

	s2, err := chunkstore.CreateWithOptions(ctx, be, 4, 32, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close(ctx)

	if s2.Cursor() != s.Cursor() {
		t.Fatalf("expected cursor %d after restart, got %d", s.Cursor(), s2.Cursor())
	}
	after, err := s2.ReadSlice(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Fatalf("expected identical prefix after restart: %q != %q", before, after)
	}
	if after != "abcdefghij" {
		t.Fatalf("expected abcdefghij, got %q", after)
	}
}

func TestChunkCount(t *testing.T) {
	ctx := context.Background()
	be := docstore.NewMemory()
	s, err := chunkstore.CreateWithOptions(ctx, be, 4, 32, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if s.ChunkCount() != 0 {
		t.Fatalf("expected 0 chunks before any append, got %d", s.ChunkCount())
	}
	appendString(t, ctx, s, "abcde")
	if s.ChunkCount() != 2 {
		t.Fatalf("expected 2 chunks touched, got %d", s.ChunkCount())
	}
}

// failingBackend wraps a Backend and fails every Batch call, to
// exercise the spec §4.1/§7 fatal-rollover path.
type failingBackend struct {
	docstore.Backend
}

func (failingBackend) Batch(ctx context.Context, ws []docstore.Write) error {
	return errors.New("backend unavailable")
}

// TestRolloverFailureIsFatal is spec §4.1 ("A failed flushFull is fatal
// to correctness") / §7 ("Fatal backend failure... atomic rollover
// batch fails"): a failed rollover batch must be reported as a Fatal
// error so the streaming engine halts generation instead of retrying
// forever against a store that can never advance.
func TestRolloverFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	be := failingBackend{docstore.NewMemory()}
	s, err := chunkstore.CreateWithOptions(ctx, be, 4, 32, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	var rolloverErr error
	for _, ch := range []byte("abcd") {
		if _, err := s.Append(ctx, ch); err != nil {
			rolloverErr = err
			break
		}
	}
	if rolloverErr == nil {
		t.Fatal("expected the 4th append (chunk rollover) to fail")
	}
	if !errors.IsFatal(rolloverErr) {
		t.Fatalf("expected rollover failure to be Fatal, got: %v", rolloverErr)
	}

	// The store must keep reporting the same fatal error on further
	// appends rather than silently resuming.
	if _, err := s.Append(ctx, 'x'); err == nil || !errors.IsFatal(err) {
		t.Fatalf("expected subsequent append to still report the fatal failure, got: %v", err)
	}
}
