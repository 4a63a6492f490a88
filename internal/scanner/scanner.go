// Package scanner implements the startup scan: after a restart, it
// re-runs word detection over the gap between the word store's
// high-water mark and the chunk store's cursor, to recover hits that
// were detected but never persisted before a prior shutdown or crash.
package scanner

import (
	"context"

	"github.com/owlglass/typewritermonkey/internal/dictionary"
	"github.com/owlglass/typewritermonkey/internal/worddetect"
)

// SliceReader is the subset of the chunk store the scanner reads
// through.
type SliceReader interface {
	ReadSlice(ctx context.Context, start uint64, length int) (string, error)
}

// readChunkSize bounds how many characters the scanner pulls from the
// backend per ReadSlice call. It matches the chunk store's chunk size;
// the scanner has no reason to use a different granularity.
const readChunkSize = 8192

// Scan re-runs detection from max(0, high-(MaxLen-1)) through cursor
// (exclusive) using a fresh Detector, and returns every hit whose
// start is at or after high - the ones a prior run detected but never
// persisted. Hits that start before high are re-derived by the scan
// (for left context) but discarded, since only the gap from high on is
// new.
func Scan(ctx context.Context, dict *dictionary.Dictionary, store SliceReader, high, cursor uint64) ([]worddetect.Hit, error) {
	if cursor <= high {
		return nil, nil
	}

	var start uint64
	if high > uint64(dictionary.MaxLen-1) {
		start = high - uint64(dictionary.MaxLen-1)
	}

	d := worddetect.New(dict)
	var hits []worddetect.Hit

	for pos := start; pos < cursor; {
		length := readChunkSize
		if remaining := cursor - pos; remaining < uint64(length) {
			length = int(remaining)
		}

		text, err := store.ReadSlice(ctx, pos, length)
		if err != nil {
			return nil, err
		}
		if text == "" {
			break
		}

		for i := 0; i < len(text); i++ {
			p := pos + uint64(i)
			if hit := d.Push(text[i], p); hit != nil && hit.Start >= high {
				hits = append(hits, *hit)
			}
		}

		pos += uint64(len(text))
	}

	return hits, nil
}
