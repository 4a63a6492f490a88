// Package worddetect implements the Word Detector (spec §2.4, §4.3): a
// sliding-window longest-match dictionary recognizer that emits at most
// one hit per pushed character.
package worddetect

import (
	"github.com/owlglass/typewritermonkey/internal/dictionary"
)

// Hit is a detected dictionary word (spec §3 "Word hit").
type Hit struct {
	Start uint64
	Len   int
	Word  string
}

// Detector holds the sliding window of at most dictionary.MaxLen
// characters and scans it for the longest dictionary match ending at
// the most recently pushed character.
type Detector struct {
	dict   *dictionary.Dictionary
	window []byte
}

// New constructs a Detector over dict. Each Detector owns its window
// exclusively (spec §3 "Ownership"); the Startup Scanner constructs a
// fresh one rather than sharing the engine's.
func New(dict *dictionary.Dictionary) *Detector {
	return &Detector{dict: dict, window: make([]byte, 0, dictionary.MaxLen)}
}

// Push appends ch to the window, evicting the oldest character once the
// window exceeds dictionary.MaxLen, and scans for the longest dictionary
// word ending at ch. pos is the absolute position of ch, supplied by the
// caller - the detector itself holds no cursor.
func (d *Detector) Push(ch byte, pos uint64) *Hit {
	d.window = append(d.window, ch)
	if len(d.window) > dictionary.MaxLen {
		d.window = d.window[1:]
	}

	maxN := len(d.window)
	if maxN > dictionary.MaxLen {
		maxN = dictionary.MaxLen
	}

	for n := maxN; n >= dictionary.MinLen; n-- {
		candidate := string(d.window[len(d.window)-n:])
		if d.dict.Contains(candidate) {
			return &Hit{
				Start: pos - uint64(n) + 1,
				Len:   n,
				Word:  candidate,
			}
		}
	}

	return nil
}
