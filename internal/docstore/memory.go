package docstore

import (
	"context"
	"sync"
)

// Memory is an in-process Backend that keeps every document in a map.
// It gives Batch true atomicity, since the whole batch is applied while
// holding a single mutex.
type Memory struct {
	mu   sync.Mutex
	data map[Handle]Doc
}

var _ Backend = (*Memory)(nil)

// NewMemory returns an empty in-memory document store.
func NewMemory() *Memory {
	return &Memory{data: make(map[Handle]Doc)}
}

func (m *Memory) Get(_ context.Context, h Handle) (Doc, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.data[h]
	if !ok {
		return nil, false, nil
	}
	return cloneDoc(doc), true, nil
}

func (m *Memory) Set(_ context.Context, h Handle, doc Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[h] = cloneDoc(doc)
	return nil
}

func (m *Memory) Batch(_ context.Context, ws []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range ws {
		m.data[w.Handle] = cloneDoc(w.Doc)
	}
	return nil
}

func (m *Memory) List(_ context.Context, collection string) ([]Doc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var docs []Doc
	for h, doc := range m.data {
		if h.Collection == collection {
			docs = append(docs, cloneDoc(doc))
		}
	}
	return docs, nil
}

func (m *Memory) Close() error {
	return nil
}

func cloneDoc(doc Doc) Doc {
	out := make(Doc, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
