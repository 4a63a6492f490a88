package scanner_test

import (
	"context"
	"testing"

	"github.com/owlglass/typewritermonkey/internal/dictionary"
	"github.com/owlglass/typewritermonkey/internal/scanner"
)

type fakeStream struct {
	text string
}

func (f *fakeStream) ReadSlice(_ context.Context, start uint64, length int) (string, error) {
	if int(start) >= len(f.text) {
		return "", nil
	}
	end := int(start) + length
	if end > len(f.text) {
		end = len(f.text)
	}
	return f.text[start:end], nil
}

func TestScanRecoversUnpersistedHitAfterHighWaterMark(t *testing.T) {
	stream := &fakeStream{text: "xxxcatxxx"}
	dict := dictionary.FromWords([]string{"cat"})

	// high=0 means nothing was persisted yet; the whole stream up to
	// cursor is fair game.
	hits, err := scanner.Scan(context.Background(), dict, stream, 0, uint64(len(stream.text)))
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 recovered hit, got %d: %+v", len(hits), hits)
	}
	if hits[0].Start != 3 || hits[0].Word != "cat" {
		t.Fatalf("unexpected hit: %+v", hits[0])
	}
}

func TestScanDiscardsHitsAtOrBeforeHigh(t *testing.T) {
	stream := &fakeStream{text: "xxxcatxxxdogxxx"}
	dict := dictionary.FromWords([]string{"cat", "dog"})

	// high is set past the "cat" hit's end (3+3=6), so only "dog"
	// (start=9) should be returned.
	hits, err := scanner.Scan(context.Background(), dict, stream, 6, uint64(len(stream.text)))
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Word != "dog" {
		t.Fatalf("expected only the dog hit past the high-water mark, got %+v", hits)
	}
}

func TestScanWithNoGapReturnsNil(t *testing.T) {
	stream := &fakeStream{text: "catdog"}
	dict := dictionary.FromWords([]string{"cat", "dog"})

	hits, err := scanner.Scan(context.Background(), dict, stream, 6, 6)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits when cursor==high, got %+v", hits)
	}
}

func TestScanDropsHitStraddlingTheHighWaterMark(t *testing.T) {
	// A word that starts before high but ends at/after high is seen by
	// the scan (left context starts at high-(MaxLen-1)) but is not
	// returned.
	stream := &fakeStream{text: "xxcatxx"}
	dict := dictionary.FromWords([]string{"cat"})

	// high=4 sits inside the word "cat" (positions 2-4); the hit's
	// start (2) is before high, so it must NOT be returned - only hits
	// with start >= high are new.
	hits, err := scanner.Scan(context.Background(), dict, stream, 4, uint64(len(stream.text)))
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected the cat hit (start=2) to be filtered out since start < high, got %+v", hits)
	}
}
