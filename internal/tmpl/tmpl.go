// Package tmpl is a small placeholder template engine.
//
// A template is plain text with markers of the form {name} (HTML-escaped on
// render) or @{name} (inserted verbatim). Compilation strips the markers and
// remembers where they were, so a render is a single copy of the literal text
// with the values spliced in.
package tmpl

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUndefinedVariable is returned when a template references a name that is
// missing from the bindings.
var ErrUndefinedVariable = errors.New("undefined variable")

var (
	markerRe    = regexp.MustCompile(`(@)?\{([a-zA-Z0-9_]+)\}`)
	separatorRe = regexp.MustCompile(`(?m)^---$`)
)

// Bindings maps placeholder names to their values.
type Bindings map[string]string

// Placeholder records one marker removed from the template text.
type Placeholder struct {
	Offset int    // byte offset into the literal text
	Name   string
	Escape bool
}

// Template is a compiled template. It is immutable and safe for concurrent use.
type Template struct {
	literal string
	vars    []Placeholder
	// ordered reports whether offsets never decrease, which allows rendering
	// in one forward pass.
	ordered bool
}

// Compile parses text into a Template. It never fails: text that does not
// form a marker is kept verbatim.
//
// Markers are removed one at a time, leftmost first, rescanning after each
// removal. A removal can join the surrounding text into a new marker (for
// example "{{a}b}"), which is then picked up by the next scan.
func Compile(text string) *Template {
	t := &Template{ordered: true}
	for {
		m := markerRe.FindStringSubmatchIndex(text)
		if m == nil {
			break
		}
		p := Placeholder{
			Offset: m[0],
			Name:   text[m[4]:m[5]],
			Escape: m[2] < 0,
		}
		if n := len(t.vars); n > 0 && p.Offset < t.vars[n-1].Offset {
			t.ordered = false
		}
		t.vars = append(t.vars, p)
		text = text[:m[0]] + text[m[1]:]
	}
	t.literal = text
	return t
}

// Split compiles every segment of a document whose templates are separated
// by lines consisting solely of "---".
func Split(text string) []*Template {
	parts := separatorRe.Split(text, -1)
	out := make([]*Template, 0, len(parts))
	for _, p := range parts {
		out = append(out, Compile(p))
	}
	return out
}

// Literal returns the template text with every marker removed.
func (t *Template) Literal() string { return t.literal }

// Placeholders returns a copy of the recorded markers in discovery order.
func (t *Template) Placeholders() []Placeholder {
	return append([]Placeholder(nil), t.vars...)
}

// Render substitutes b into the template. Every referenced name must be bound.
func (t *Template) Render(b Bindings) (string, error) {
	var sb strings.Builder
	if err := t.renderTo(&sb, b); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// RenderMany renders the template once per element of rows and concatenates
// the results.
func (t *Template) RenderMany(rows []Bindings) (string, error) {
	var sb strings.Builder
	for _, b := range rows {
		if err := t.renderTo(&sb, b); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

func (t *Template) renderTo(sb *strings.Builder, b Bindings) error {
	values := make([]string, len(t.vars))
	size := len(t.literal)
	for i, v := range t.vars {
		val, ok := b[v.Name]
		if !ok {
			return fmt.Errorf("%w %q", ErrUndefinedVariable, v.Name)
		}
		if v.Escape {
			val = escapeHTML(val)
		}
		values[i] = val
		size += len(val)
	}
	sb.Grow(size)

	if t.ordered {
		last := 0
		for i, v := range t.vars {
			sb.WriteString(t.literal[last:v.Offset])
			sb.WriteString(values[i])
			last = v.Offset
		}
		sb.WriteString(t.literal[last:])
		return nil
	}

	// Splice from the last recorded marker back to the first so earlier
	// offsets stay valid.
	out := []byte(t.literal)
	for i := len(t.vars) - 1; i >= 0; i-- {
		off := min(t.vars[i].Offset, len(out))
		out = append(out[:off], append([]byte(values[i]), out[off:]...)...)
	}
	sb.Write(out)
	return nil
}

var htmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

func escapeHTML(s string) string {
	return htmlReplacer.Replace(s)
}
