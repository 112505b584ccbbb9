package chain

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
)

func TestFeed_CountsPaddedPairs(t *testing.T) {
	c := New().Feed([]string{"a", "b", "a"})

	tests := []struct {
		from, next Token
		want       int
	}{
		{Boundary, Word("a"), 1},
		{Word("a"), Word("b"), 1},
		{Word("b"), Word("a"), 1},
		{Word("a"), Boundary, 1},
		{Word("b"), Boundary, 0},
	}
	for _, tt := range tests {
		if got := c.Count(tt.from, tt.next); got != tt.want {
			t.Errorf("Count(%v, %v) = %d, want %d", tt.from, tt.next, got, tt.want)
		}
	}

	c.Feed([]string{"a", "b", "a"})
	for _, tt := range tests {
		if got := c.Count(tt.from, tt.next); got != 2*tt.want {
			t.Errorf("after second feed Count(%v, %v) = %d, want %d", tt.from, tt.next, got, 2*tt.want)
		}
	}
}

func TestFeed_EmptyIsNoop(t *testing.T) {
	c := New().Feed(nil).FeedString("   ")
	if c.States() != 1 {
		t.Errorf("States() = %d, want 1 (start only)", c.States())
	}
	if c.Transitions() != 0 {
		t.Errorf("Transitions() = %d, want 0", c.Transitions())
	}
}

func TestFeed_UpdatesKPlusOneTransitions(t *testing.T) {
	c := New().Feed([]string{"x", "y", "z", "w"})
	total := 0
	for _, d := range c.t.dists {
		total += d.Total()
	}
	if total != 5 {
		t.Errorf("total count = %d, want 5", total)
	}
}

func TestWordNullIsNotBoundary(t *testing.T) {
	c := New().Feed([]string{"null"})
	if got := c.Count(Boundary, Word("null")); got != 1 {
		t.Errorf("start -> \"null\" = %d, want 1", got)
	}
	if got := c.Count(Boundary, Boundary); got != 0 {
		t.Errorf("start -> boundary = %d, want 0", got)
	}
}

func TestGenerate_FreshChainHasEmptyDistribution(t *testing.T) {
	_, err := New().Generate()
	if !errors.Is(err, ErrEmptyDistribution) {
		t.Fatalf("expected ErrEmptyDistribution, got %v", err)
	}
}

func TestGenerate_SingleSentence(t *testing.T) {
	c := New().FeedString("the quick brown fox")
	got, err := c.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if strings.Join(got, " ") != "the quick brown fox" {
		t.Errorf("Generate() = %q, want the only fed sentence", got)
	}
}

func TestGenerate_TerminatesAndUsesFedWords(t *testing.T) {
	c := New().WithRand(rand.New(rand.NewPCG(1, 2)))
	c.FeedString("a b a c").FeedString("c a b").FeedString("b b b a")

	vocab := map[string]bool{"a": true, "b": true, "c": true}
	for i := 0; i < 200; i++ {
		words, err := c.Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if len(words) == 0 {
			t.Fatal("Generate returned no words; start never transitions to end")
		}
		for _, w := range words {
			if !vocab[w] {
				t.Fatalf("unexpected word %q", w)
			}
		}
	}
}

func TestGenerateFrom_UnknownToken(t *testing.T) {
	c := New().FeedString("hello world")
	got, err := c.GenerateFrom("goodbye")
	if err != nil {
		t.Fatalf("GenerateFrom: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("GenerateFrom(unknown) = %#v, want empty non-nil slice", got)
	}
}

func TestGenerateFrom_KnownTokenStartsWithIt(t *testing.T) {
	c := New().FeedString("hello big world")
	got, err := c.GenerateStringFrom("big")
	if err != nil {
		t.Fatalf("GenerateStringFrom: %v", err)
	}
	if got != "big world" {
		t.Errorf("GenerateStringFrom(big) = %q, want %q", got, "big world")
	}
}

func TestGenerateFrom_EmptyIffNeverSecondElement(t *testing.T) {
	c := New().FeedString("a b").FeedString("c")
	for _, tok := range []string{"a", "b", "c"} {
		got, err := c.GenerateFrom(tok)
		if err != nil {
			t.Fatalf("GenerateFrom(%q): %v", tok, err)
		}
		if len(got) == 0 {
			t.Errorf("GenerateFrom(%q) empty, want non-empty", tok)
		}
	}
	got, _ := c.GenerateFrom("d")
	if len(got) != 0 {
		t.Errorf("GenerateFrom(d) = %v, want empty", got)
	}
}

func TestWalk_UnknownState(t *testing.T) {
	c := New()
	c.t.ensure(startState).add(Word("orphan"), 1)
	_, err := c.Generate()
	if !errors.Is(err, ErrUnknownState) {
		t.Fatalf("expected ErrUnknownState, got %v", err)
	}
}

func TestPick_ProportionalToCount(t *testing.T) {
	d := newDistribution()
	d.add(Word("a"), 1)
	d.add(Word("b"), 3)

	want := []string{"a", "b", "b", "b"}
	for r, w := range want {
		if got := d.pick(r); got.Word != w {
			t.Errorf("pick(%d) = %v, want %s", r, got, w)
		}
	}
}

func TestSampling_Frequencies(t *testing.T) {
	c := New().WithRand(rand.New(rand.NewPCG(42, 7)))
	c.Feed([]string{"x"})
	for i := 0; i < 3; i++ {
		c.Feed([]string{"y"})
	}

	counts := map[string]int{}
	const n = 4000
	for i := 0; i < n; i++ {
		words, err := c.Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		counts[words[0]]++
	}
	ratio := float64(counts["y"]) / float64(n)
	if ratio < 0.70 || ratio > 0.80 {
		t.Errorf("P(y) = %.3f, want about 0.75", ratio)
	}
}

func TestEqual(t *testing.T) {
	a := New().FeedString("one two").FeedString("two one")
	b := New().FeedString("two one").FeedString("one two")
	if !a.Equal(b) {
		t.Error("chains with the same counts in a different order should be equal")
	}
	b.FeedString("one")
	if a.Equal(b) {
		t.Error("chains with different counts should not be equal")
	}
}
