package chain

// Order is the number of preceding tokens that make up a State.
const Order = 1

// Token is one slot of a State: either a word or the boundary sentinel that
// marks the start and end of a fed sequence.
type Token struct {
	Word     string
	Boundary bool
}

// Boundary is the start/end sentinel. It never compares equal to a word token.
var Boundary = Token{Boundary: true}

// Word returns the token for w.
func Word(w string) Token { return Token{Word: w} }

// String renders the token for logs; the sentinel prints as "<boundary>".
func (t Token) String() string {
	if t.Boundary {
		return "<boundary>"
	}
	return t.Word
}

// State is the lookup key of the transition table.
type State [Order]Token

// startState is the State every generation walk begins from.
var startState = State{Boundary}

// entry is one (next token, count) pair of a Distribution.
type entry struct {
	next  Token
	count int
}

// Distribution holds the observed successors of a State with their counts.
// Entries keep first-insertion order, which fixes the sampling walk order.
type Distribution struct {
	index   map[Token]int
	entries []entry
	total   int
}

func newDistribution() *Distribution {
	return &Distribution{index: make(map[Token]int)}
}

// add increments the count of next by n, inserting it when absent.
func (d *Distribution) add(next Token, n int) {
	if i, ok := d.index[next]; ok {
		d.entries[i].count += n
	} else {
		d.index[next] = len(d.entries)
		d.entries = append(d.entries, entry{next: next, count: n})
	}
	d.total += n
}

// Total is the sum of all counts.
func (d *Distribution) Total() int { return d.total }

// Len is the number of distinct successors.
func (d *Distribution) Len() int { return len(d.entries) }

// Count returns the count recorded for next, or 0.
func (d *Distribution) Count(next Token) int {
	if i, ok := d.index[next]; ok {
		return d.entries[i].count
	}
	return 0
}

// pick returns the first entry whose cumulative count exceeds r.
// r must be in [0, Total()).
func (d *Distribution) pick(r int) Token {
	sum := 0
	for _, e := range d.entries {
		sum += e.count
		if sum > r {
			return e.next
		}
	}
	// Unreachable while r < total.
	return Boundary
}

// table maps States to Distributions. States keep first-insertion order so
// that serialization is deterministic.
type table struct {
	dists  map[State]*Distribution
	states []State
}

func newTable() *table {
	t := &table{dists: make(map[State]*Distribution)}
	t.ensure(startState)
	return t
}

// ensure returns the Distribution for s, creating an empty one if needed.
func (t *table) ensure(s State) *Distribution {
	d, ok := t.dists[s]
	if !ok {
		d = newDistribution()
		t.dists[s] = d
		t.states = append(t.states, s)
	}
	return d
}

func (t *table) get(s State) (*Distribution, bool) {
	d, ok := t.dists[s]
	return d, ok
}
