package docstore_test

import (
	"context"
	"testing"

	"github.com/owlglass/typewritermonkey/internal/docstore"
	"github.com/owlglass/typewritermonkey/internal/errors"
)

type flakyBackend struct {
	docstore.Backend
	failures int
}

func (b *flakyBackend) Get(ctx context.Context, h docstore.Handle) (docstore.Doc, bool, error) {
	if b.failures > 0 {
		b.failures--
		return nil, false, errors.New("transient read failure")
	}
	return b.Backend.Get(ctx, h)
}

func TestRetryBackendRetriesTransientFailures(t *testing.T) {
	inner := docstore.NewMemory()
	h := docstore.Handle{Collection: "chunks", ID: "chunk_0"}
	if err := inner.Set(context.Background(), h, docstore.Doc{"text": "abcd"}); err != nil {
		t.Fatal(err)
	}

	flaky := &flakyBackend{Backend: inner, failures: 2}
	retrying := docstore.NewRetryBackend(flaky, 5)

	doc, found, err := retrying.Get(context.Background(), h)
	if err != nil {
		t.Fatal(err)
	}
	if !found || doc["text"] != "abcd" {
		t.Fatalf("expected successful read after retries, got doc=%v found=%v", doc, found)
	}
}

type permanentlyFailingBackend struct {
	docstore.Backend
	calls int
}

func (b *permanentlyFailingBackend) Get(context.Context, docstore.Handle) (docstore.Doc, bool, error) {
	b.calls++
	return nil, false, errors.Fatal("bucket does not exist")
}

func TestRetryBackendDoesNotRetryFatalErrors(t *testing.T) {
	failing := &permanentlyFailingBackend{Backend: docstore.NewMemory()}
	retrying := docstore.NewRetryBackend(failing, 5)

	_, _, err := retrying.Get(context.Background(), docstore.Handle{Collection: "meta", ID: "cursor"})
	if err == nil || !errors.IsFatal(err) {
		t.Fatalf("expected a fatal error to surface, got %v", err)
	}
	if failing.calls != 1 {
		t.Fatalf("expected exactly 1 call for a fatal (non-retryable) error, got %d", failing.calls)
	}
}
