package docstore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/owlglass/typewritermonkey/internal/errors"
	"github.com/owlglass/typewritermonkey/internal/logging"
)

// RetryBackend wraps a Backend so every operation is retried with
// exponential backoff on transient failure. A Fatal error (e.g. a
// missing bucket) is never retried - backoff.Permanent short-circuits
// it straight back to the caller.
type RetryBackend struct {
	next     Backend
	maxTries uint64
}

var _ Backend = (*RetryBackend)(nil)

// NewRetryBackend wraps next with up to maxTries retries per operation
// (maxTries+1 attempts in all).
func NewRetryBackend(next Backend, maxTries uint64) *RetryBackend {
	return &RetryBackend{next: next, maxTries: maxTries}
}

func (b *RetryBackend) retry(ctx context.Context, msg string, f func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), b.maxTries), ctx)
	return backoff.RetryNotify(func() error {
		err := f()
		if err == nil {
			return nil
		}
		if errors.IsFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, d time.Duration) {
		logging.Log("docstore: %s failed, retrying in %s: %v", msg, d, err)
	})
}

func (b *RetryBackend) Get(ctx context.Context, h Handle) (doc Doc, found bool, err error) {
	err = b.retry(ctx, "Get", func() error {
		var rerr error
		doc, found, rerr = b.next.Get(ctx, h)
		return rerr
	})
	return doc, found, err
}

func (b *RetryBackend) Set(ctx context.Context, h Handle, doc Doc) error {
	return b.retry(ctx, "Set", func() error {
		return b.next.Set(ctx, h, doc)
	})
}

func (b *RetryBackend) Batch(ctx context.Context, ws []Write) error {
	return b.retry(ctx, "Batch", func() error {
		return b.next.Batch(ctx, ws)
	})
}

func (b *RetryBackend) List(ctx context.Context, collection string) (docs []Doc, err error) {
	err = b.retry(ctx, "List", func() error {
		var rerr error
		docs, rerr = b.next.List(ctx, collection)
		return rerr
	})
	return docs, err
}

func (b *RetryBackend) Close() error {
	return b.next.Close()
}
