package chain

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// The wire form is an object with one key, "map", holding records of the form
// [state, [[next, count], ...]]. A state is a one-element array. The boundary
// sentinel is encoded as null in both positions.

//go:embed chain.schema.json
var wireSchema string

const schemaURL = "parrot://chain.schema.json"

var schema = compileSchema()

func compileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(wireSchema)); err != nil {
		panic(fmt.Sprintf("chain: add schema: %v", err))
	}
	return c.MustCompile(schemaURL)
}

// DecodeError reports a serialized chain that is not well formed.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "chain: decode: " + e.Reason + ": " + e.Err.Error()
	}
	return "chain: decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(reason string, err error) error {
	return &DecodeError{Reason: reason, Err: err}
}

type wireChain struct {
	Map []any `json:"map"`
}

// Save encodes the chain. States and successors are written in insertion
// order, so equal histories of Feed calls produce identical bytes.
func (c *Chain) Save() ([]byte, error) {
	w := wireChain{Map: make([]any, 0, len(c.t.states))}
	for _, s := range c.t.states {
		d := c.t.dists[s]
		pairs := make([]any, 0, d.Len())
		for _, e := range d.entries {
			pairs = append(pairs, []any{slotValue(e.next), e.count})
		}
		w.Map = append(w.Map, []any{[]any{slotValue(s[0])}, pairs})
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("chain: encode: %w", err)
	}
	return data, nil
}

// Load decodes data produced by Save. Any malformation yields a *DecodeError.
func Load(data []byte) (*Chain, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, decodeErr("invalid json", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, decodeErr("trailing data after document", nil)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, decodeErr("schema violation", err)
	}

	t := &table{dists: make(map[State]*Distribution)}
	records, _ := doc.(map[string]any)["map"].([]any)
	for i, raw := range records {
		rec, ok := raw.([]any)
		if !ok || len(rec) != 2 {
			return nil, decodeErr(fmt.Sprintf("record %d: want [state, pairs]", i), nil)
		}
		s, err := decodeState(rec[0])
		if err != nil {
			return nil, decodeErr(fmt.Sprintf("record %d", i), err)
		}
		if _, dup := t.dists[s]; dup {
			return nil, decodeErr(fmt.Sprintf("record %d: duplicate state %v", i, s[0]), nil)
		}
		d := t.ensure(s)
		pairs, ok := rec[1].([]any)
		if !ok {
			return nil, decodeErr(fmt.Sprintf("record %d: pairs must be an array", i), nil)
		}
		for j, p := range pairs {
			next, n, err := decodePair(p)
			if err != nil {
				return nil, decodeErr(fmt.Sprintf("record %d pair %d", i, j), err)
			}
			if d.Count(next) != 0 {
				return nil, decodeErr(fmt.Sprintf("record %d pair %d: duplicate successor %v", i, j, next), nil)
			}
			if n > math.MaxInt-d.Total() {
				return nil, decodeErr(fmt.Sprintf("record %d pair %d: total count overflows", i, j), nil)
			}
			d.add(next, n)
		}
	}
	t.ensure(startState)
	return &Chain{t: t}, nil
}

func slotValue(t Token) any {
	if t.Boundary {
		return nil
	}
	return t.Word
}

func decodeSlot(v any) (Token, error) {
	switch x := v.(type) {
	case nil:
		return Boundary, nil
	case string:
		return Word(x), nil
	default:
		return Token{}, fmt.Errorf("slot must be a string or null, got %T", v)
	}
}

func decodeState(v any) (State, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) != Order {
		return State{}, fmt.Errorf("state must be an array of %d slot", Order)
	}
	var s State
	for i := range s {
		tok, err := decodeSlot(arr[i])
		if err != nil {
			return State{}, err
		}
		s[i] = tok
	}
	return s, nil
}

func decodePair(v any) (Token, int, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 {
		return Token{}, 0, fmt.Errorf("pair must be [next, count]")
	}
	next, err := decodeSlot(arr[0])
	if err != nil {
		return Token{}, 0, err
	}
	num, ok := arr[1].(json.Number)
	if !ok {
		return Token{}, 0, fmt.Errorf("count must be a number")
	}
	n, err := num.Int64()
	if err != nil {
		return Token{}, 0, fmt.Errorf("count %s is not an integer", num)
	}
	if n < 1 {
		return Token{}, 0, fmt.Errorf("count %d must be positive", n)
	}
	if n > math.MaxInt {
		return Token{}, 0, fmt.Errorf("count %d is too large", n)
	}
	return next, int(n), nil
}
