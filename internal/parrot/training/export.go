// Package training reads chat-history exports used to bulk-train a chain.
//
// The format is the JSON export produced by common chat clients:
//
//	{"messages": [{"type": "message", "text": "hello"}, ...]}
//
// where text is either a string or an array of plain strings and
// {"type": "...", "text": "..."} fragments (links, mentions, formatting).
// Service entries (joins, pins, calls) have a type other than "message" and
// are skipped.
package training

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// ErrNoMessages is returned for a document without a "messages" array.
var ErrNoMessages = errors.New("training: export has no messages array")

type export struct {
	Messages *[]message `json:"messages"`
}

type message struct {
	Type string `json:"type"`
	Text text   `json:"text"`
}

// text accepts both the plain and the fragmented form.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = text(s)
		return nil
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return fmt.Errorf("text must be a string or an array: %w", err)
	}
	var sb strings.Builder
	for _, p := range parts {
		var plain string
		if err := json.Unmarshal(p, &plain); err == nil {
			sb.WriteString(plain)
			continue
		}
		var frag struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(p, &frag); err != nil {
			return fmt.Errorf("text fragment: %w", err)
		}
		sb.WriteString(frag.Text)
	}
	*t = text(sb.String())
	return nil
}

// Parse returns the text of every "message" entry, in export order. Entries
// with blank text (stickers, media without caption) are dropped.
func Parse(data []byte) ([]string, error) {
	var doc export
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("training: parse export: %w", err)
	}
	if doc.Messages == nil {
		return nil, ErrNoMessages
	}
	out := make([]string, 0, len(*doc.Messages))
	for _, m := range *doc.Messages {
		if m.Type != "message" {
			continue
		}
		if s := string(m.Text); strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
