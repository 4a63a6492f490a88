// Package prng implements the deterministic character generator: the
// n-th character of the stream is a pure function of n, so a restart
// at absolute position p resumes the exact sequence a fresh generator
// would have produced from p onward.
//
// Rather than adopt a classic state-advancing generator (xoroshiro128+)
// and reimplement its jump polynomials to support an arbitrary skip
// distance, letterAt(seed, n) is computed directly as a splitmix64 mix of the
// seed and n. That gives true O(1) fast-forward to any position instead
// of xoroshiro's O(log n) jump-doubling, and the mixing function itself
// is a few lines of well-known public-domain arithmetic, not something
// worth vendoring a dependency for.
package prng

import (
	"context"

	"github.com/owlglass/typewritermonkey/internal/errors"
)

// Seed is the fixed, hardcoded seed constant every process uses.
const Seed uint64 = 0x9E3779B97F4A7C15

// Event is one generated character and the absolute index it was
// assigned by the Chunk Store.
type Event struct {
	Index uint64
	Ch    byte
}

// Appender is the subset of the chunk store the generator drives:
// store.append(ch) -> idx.
type Appender interface {
	Append(ctx context.Context, ch byte) (uint64, error)
}

// Generator produces the stream's characters in order, persisting each
// one through store as it is produced.
type Generator struct {
	seed  uint64
	pos   uint64
	store Appender
}

// New constructs a Generator that will next produce the character at
// startPosition - the "skipN(state, p)" fast-forward of spec §4.2,
// which here is simply setting pos, since letterAt does not depend on
// any sequentially-advanced state.
func New(seed uint64, startPosition uint64, store Appender) *Generator {
	return &Generator{seed: seed, pos: startPosition, store: store}
}

// Next draws the character at the generator's current position,
// persists it via store.Append, advances the position, and returns the
// assigned absolute index and character. Per spec §4.2, Next is
// serialized by the caller: one call in flight at a time globally.
func (g *Generator) Next(ctx context.Context) (Event, error) {
	ch := letterAt(g.seed, g.pos)

	idx, err := g.store.Append(ctx, ch)
	if err != nil {
		return Event{}, errors.Wrap(err, "generator append")
	}
	g.pos++

	return Event{Index: idx, Ch: ch}, nil
}

// letterAt deterministically derives the character the stream holds at
// absolute position n, for a given seed, independent of any prior draw.
func letterAt(seed, n uint64) byte {
	draw := splitmix64(seed ^ splitmix64(n)) % 26
	return 'a' + byte(draw)
}

// splitmix64 is Sebastiano Vigna's public-domain 64-bit mixing function.
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	z := x
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
