// Package redact strips known secret values from text before it is logged.
//
// Redaction is best-effort: it matches the literal values it was given
// (the Matrix access token, the database DSN) and nothing else.
package redact

import (
	"log/slog"
	"strings"
)

const placeholder = "[REDACTED]"

// minLen is the shortest value that is redacted. Shorter values would mangle
// ordinary words.
const minLen = 4

// Redactor replaces a fixed set of secret values.
type Redactor struct {
	r *strings.Replacer
}

// New returns a Redactor for values. Empty and short values are ignored.
func New(values ...string) *Redactor {
	var pairs []string
	for _, v := range values {
		if len(v) < minLen {
			continue
		}
		pairs = append(pairs, v, placeholder)
	}
	if len(pairs) == 0 {
		return &Redactor{}
	}
	return &Redactor{r: strings.NewReplacer(pairs...)}
}

// String returns s with every secret value replaced by [REDACTED].
func (x *Redactor) String(s string) string {
	if x == nil || x.r == nil {
		return s
	}
	return x.r.Replace(s)
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook that redacts string
// and error attribute values.
func (x *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if x == nil || x.r == nil {
		return a
	}
	switch a.Value.Kind() {
	case slog.KindString:
		a.Value = slog.StringValue(x.String(a.Value.String()))
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			a.Value = slog.StringValue(x.String(err.Error()))
		}
	}
	return a
}
