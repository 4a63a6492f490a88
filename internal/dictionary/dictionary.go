// Package dictionary loads the immutable word list the detector scans
// the stream against (spec §3 "Dictionary"). It is read once at startup;
// there is no runtime reload (spec Non-goals: "dictionary updates at
// runtime").
package dictionary

import (
	"bufio"
	"os"
	"strings"

	"github.com/owlglass/typewritermonkey/internal/errors"
)

// MinLen and MaxLen bound the word lengths the detector recognizes.
const (
	MinLen = 3
	MaxLen = 12
)

// Dictionary is an immutable set of lowercase words of length
// [MinLen, MaxLen].
type Dictionary struct {
	words map[string]struct{}
}

// Load reads a newline-delimited word list from path. Entries shorter than
// MinLen or longer than MaxLen are silently dropped, since the sliding
// window can never match them. A failure to read the file is fatal: the
// spec requires the service to refuse to start without a dictionary.
func Load(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Fatalf("loading dictionary from %q: %v", path, err)
	}
	defer f.Close()

	d := &Dictionary{words: make(map[string]struct{})}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		w := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if len(w) < MinLen || len(w) > MaxLen {
			continue
		}
		d.words[w] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Fatalf("reading dictionary from %q: %v", path, err)
	}

	return d, nil
}

// FromWords builds a Dictionary directly from a word list, applying the
// same length filter as Load. Used by tests and by callers that already
// have the words in memory.
func FromWords(words []string) *Dictionary {
	d := &Dictionary{words: make(map[string]struct{})}
	for _, w := range words {
		w = strings.ToLower(w)
		if len(w) < MinLen || len(w) > MaxLen {
			continue
		}
		d.words[w] = struct{}{}
	}
	return d
}

// Contains reports whether w is in the dictionary. w is expected to
// already be lowercase; the detector's sliding window only ever holds
// lowercase characters.
func (d *Dictionary) Contains(w string) bool {
	_, ok := d.words[w]
	return ok
}

// Size returns the number of loaded words.
func (d *Dictionary) Size() int {
	return len(d.words)
}
