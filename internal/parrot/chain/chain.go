// Package chain implements the first-order Markov text model that Parrot
// learns per room: a weighted transition table with feed and generate
// operations and a lossless JSON wire form.
//
// A Chain is not safe for concurrent use. The session cache hands out chains
// behind a lock; see package cache.
package chain

import (
	"errors"
	"math/rand/v2"
	"strings"
)

var (
	// ErrUnknownState is returned when a walk reaches a State that has no
	// Distribution. A table built only through Feed never does this.
	ErrUnknownState = errors.New("chain: state has no distribution")

	// ErrEmptyDistribution is returned when the current State has no
	// successors, e.g. Generate on a chain that was never fed.
	ErrEmptyDistribution = errors.New("chain: distribution has zero weight")
)

// Chain is a mutable weighted-transition table.
type Chain struct {
	t   *table
	rng *rand.Rand
}

// New returns an empty chain holding only the start State.
func New() *Chain {
	return &Chain{t: newTable()}
}

// WithRand attaches a random source used for sampling. With none attached the
// process-global source is used.
func (c *Chain) WithRand(r *rand.Rand) *Chain {
	c.rng = r
	return c
}

// Feed records the sequence [start, tokens..., end]: every consecutive pair
// increments one transition count. Empty input is a no-op.
func (c *Chain) Feed(tokens []string) *Chain {
	if len(tokens) == 0 {
		return c
	}
	cur := startState
	for _, tok := range tokens {
		next := Word(tok)
		c.t.ensure(cur).add(next, 1)
		cur = cur.shift(next)
	}
	c.t.ensure(cur).add(Boundary, 1)
	return c
}

// FeedString splits s on whitespace and feeds the words.
func (c *Chain) FeedString(s string) *Chain {
	return c.Feed(strings.Fields(s))
}

// Generate walks the chain from the start State until the end sentinel is
// sampled and returns the words visited.
func (c *Chain) Generate() ([]string, error) {
	return c.walk(startState, nil)
}

// GenerateFrom walks the chain starting at State [token]. The result begins
// with token. It returns an empty slice when token was never fed.
func (c *Chain) GenerateFrom(token string) ([]string, error) {
	s := State{Word(token)}
	if _, ok := c.t.get(s); !ok {
		return []string{}, nil
	}
	return c.walk(s, []string{token})
}

// GenerateStringFrom is GenerateFrom joined with single spaces.
func (c *Chain) GenerateStringFrom(token string) (string, error) {
	words, err := c.GenerateFrom(token)
	if err != nil {
		return "", err
	}
	return strings.Join(words, " "), nil
}

func (c *Chain) walk(cur State, out []string) ([]string, error) {
	for {
		d, ok := c.t.get(cur)
		if !ok {
			return nil, ErrUnknownState
		}
		if d.Total() <= 0 {
			return nil, ErrEmptyDistribution
		}
		next := d.pick(c.intN(d.Total()))
		if next.Boundary {
			return out, nil
		}
		out = append(out, next.Word)
		cur = cur.shift(next)
	}
}

func (c *Chain) intN(n int) int {
	if c.rng != nil {
		return c.rng.IntN(n)
	}
	return rand.IntN(n)
}

// States returns the number of States in the table, including start.
func (c *Chain) States() int { return len(c.t.states) }

// Transitions returns the number of distinct (State, next) pairs.
func (c *Chain) Transitions() int {
	n := 0
	for _, d := range c.t.dists {
		n += d.Len()
	}
	return n
}

// Count returns how often next followed from.
func (c *Chain) Count(from, next Token) int {
	d, ok := c.t.get(State{from})
	if !ok {
		return 0
	}
	return d.Count(next)
}

// Equal reports whether both chains hold the same States with the same counts.
// Insertion order is not compared.
func (c *Chain) Equal(o *Chain) bool {
	if len(c.t.dists) != len(o.t.dists) {
		return false
	}
	for s, d := range c.t.dists {
		od, ok := o.t.dists[s]
		if !ok || d.Len() != od.Len() || d.Total() != od.Total() {
			return false
		}
		for _, e := range d.entries {
			if od.Count(e.next) != e.count {
				return false
			}
		}
	}
	return true
}

// shift drops the oldest slot and appends next.
func (s State) shift(next Token) State {
	var n State
	copy(n[:], s[1:])
	n[Order-1] = next
	return n
}
