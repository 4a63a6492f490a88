// Package docstore defines the durable document backend contract: a
// key/document store supporting single-document get/set and
// multi-document batch writes, keyed by string IDs within named
// collections. Every writer in this module (chunk store, word store)
// needs to commit more than one document together, so Batch is a
// first-class operation rather than a convenience wrapper around Set.
package docstore

import (
	"context"
)

// Handle addresses a single document: a collection name (e.g. "chunks")
// and a document id within it (e.g. "chunk_3").
type Handle struct {
	Collection string
	ID         string
}

// Doc is a single document's fields. Every document in this module is a
// small flat JSON object, so a generic map keeps the backend contract
// independent of any one collection's schema.
type Doc map[string]interface{}

// Write is one document write within a Batch call.
type Write struct {
	Handle Handle
	Doc    Doc
}

// Backend is the durable document store contract: single-document
// get/set plus a multi-document batch write. Only Memory applies a
// batch all-or-nothing; see Batch.
type Backend interface {
	// Get reads the document at h. found is false if no such document
	// exists; that is not an error.
	Get(ctx context.Context, h Handle) (doc Doc, found bool, err error)

	// Set writes (or overwrites) a single document.
	Set(ctx context.Context, h Handle, doc Doc) error

	// Batch applies every write in ws. Memory applies them all or none;
	// Local and S3 write them one at a time in order and stop at the
	// first failure, so a failed Batch can leave earlier writes applied.
	Batch(ctx context.Context, ws []Write) error

	// List returns every document currently stored in collection, in no
	// particular order; callers that need an ordering (e.g. the Word
	// Store sorting by start) sort the result themselves.
	List(ctx context.Context, collection string) ([]Doc, error)

	// Close releases any resources held by the backend.
	Close() error
}
