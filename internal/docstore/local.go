package docstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/owlglass/typewritermonkey/internal/errors"
	"github.com/owlglass/typewritermonkey/internal/logging"
)

// Local is the default durable document backend driver: one JSON file
// per document under <dir>/<collection>/<id>.json. Writes go through a
// temp-file-then-rename so a reader never observes a half-written file.
//
// Batch does not need a write-ahead log to be safe for this module's
// callers: every caller orders its writes so that a crash between two
// documents in a batch leaves the store in a state callers already
// tolerate (e.g. the chunk store always writes the working chunk before
// advancing the cursor, so a torn batch is read as "cursor lagging
// behind", which callers treat as a normal restart condition, not
// corruption).
type Local struct {
	dir string
}

var _ Backend = (*Local)(nil)

// NewLocal opens (creating if necessary) a local document store rooted
// at dir.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating data directory")
	}
	return &Local{dir: dir}, nil
}

func (l *Local) path(h Handle) string {
	return filepath.Join(l.dir, h.Collection, h.ID+".json")
}

func (l *Local) Get(_ context.Context, h Handle) (Doc, bool, error) {
	b, err := os.ReadFile(l.path(h))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "reading %s/%s", h.Collection, h.ID)
	}

	var doc Doc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, false, errors.Wrapf(err, "decoding %s/%s", h.Collection, h.ID)
	}
	return doc, true, nil
}

func (l *Local) Set(_ context.Context, h Handle, doc Doc) error {
	return l.writeOne(h, doc)
}

func (l *Local) Batch(_ context.Context, ws []Write) error {
	for _, w := range ws {
		if err := l.writeOne(w.Handle, w.Doc); err != nil {
			return errors.Wrapf(err, "batch write of %s/%s", w.Handle.Collection, w.Handle.ID)
		}
	}
	return nil
}

func (l *Local) writeOne(h Handle, doc Doc) error {
	dir := filepath.Join(l.dir, h.Collection)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating collection directory")
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}

	tmp, err := os.CreateTemp(dir, h.ID+"-tmp-")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "writing temp file")
	}
	if err := tmp.Sync(); err != nil {
		logging.Log("docstore: fsync failed for %s: %v (continuing)", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temp file")
	}

	final := l.path(h)
	if err := os.Rename(tmpName, final); err != nil {
		return errors.Wrap(err, "renaming into place")
	}
	return nil
}

func (l *Local) List(_ context.Context, collection string) ([]Doc, error) {
	dir := filepath.Join(l.dir, collection)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "listing collection %s", collection)
	}

	var docs []Doc
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s/%s", collection, e.Name())
		}
		var doc Doc
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, errors.Wrapf(err, "decoding %s/%s", collection, e.Name())
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (l *Local) Close() error {
	return nil
}
