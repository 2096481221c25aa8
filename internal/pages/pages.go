// Package pages assembles the listing page from the template document, the
// directory snapshot and the discovered endpoints.
package pages

import (
	_ "embed"
	"fmt"
	"net/url"
	"strconv"

	"filedrop/internal/dropdir"
	"filedrop/internal/endpoint"
	"filedrop/internal/tmpl"
)

//go:embed page.html
var embeddedDoc string

// Segment names, in document order.
var segments = []string{"page", "file", "nofiles", "connection", "noconnections"}

// Set holds the compiled templates of one document.
type Set struct {
	Page          *tmpl.Template
	File          *tmpl.Template
	NoFiles       *tmpl.Template
	Connection    *tmpl.Template
	NoConnections *tmpl.Template
}

// Parse splits doc into its templates. The document must contain exactly one
// segment per template, separated by "---" lines.
func Parse(doc string) (*Set, error) {
	ts := tmpl.Split(doc)
	if len(ts) != len(segments) {
		return nil, fmt.Errorf("template document has %d segments, want %d (%v)", len(ts), len(segments), segments)
	}
	return &Set{
		Page:          ts[0],
		File:          ts[1],
		NoFiles:       ts[2],
		Connection:    ts[3],
		NoConnections: ts[4],
	}, nil
}

// Source provides the current template set.
type Source interface {
	Templates() (*Set, error)
}

type embeddedSource struct{ set *Set }

func (e embeddedSource) Templates() (*Set, error) { return e.set, nil }

// Embedded returns the source built into the binary.
func Embedded() (Source, error) {
	set, err := Parse(embeddedDoc)
	if err != nil {
		return nil, err
	}
	return embeddedSource{set: set}, nil
}

// Data is everything one listing page shows.
type Data struct {
	Title     string
	Files     []dropdir.Entry
	Endpoints []endpoint.Endpoint
}

// Assemble renders the listing page. Loopback endpoints are left out of the
// connection section.
func Assemble(set *Set, d Data) (string, error) {
	files, err := fileRows(set, d.Files)
	if err != nil {
		return "", fmt.Errorf("render files: %w", err)
	}
	conns, err := connectionRows(set, endpoint.Reachable(d.Endpoints))
	if err != nil {
		return "", fmt.Errorf("render connections: %w", err)
	}
	page, err := set.Page.Render(tmpl.Bindings{
		"title":       d.Title,
		"count":       strconv.Itoa(len(d.Files)),
		"files":       files,
		"connections": conns,
	})
	if err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return page, nil
}

func fileRows(set *Set, files []dropdir.Entry) (string, error) {
	if len(files) == 0 {
		return set.NoFiles.Render(tmpl.Bindings{})
	}
	rows := make([]tmpl.Bindings, 0, len(files))
	for _, f := range files {
		rows = append(rows, tmpl.Bindings{
			"name": f.Name,
			"href": url.PathEscape(f.Name),
			"size": f.SizeLabel,
		})
	}
	return set.File.RenderMany(rows)
}

func connectionRows(set *Set, eps []endpoint.Endpoint) (string, error) {
	if len(eps) == 0 {
		return set.NoConnections.Render(tmpl.Bindings{})
	}
	rows := make([]tmpl.Bindings, 0, len(eps))
	for _, e := range eps {
		rows = append(rows, tmpl.Bindings{
			"url":       e.URL,
			"qr":        e.QRSVG,
			"interface": e.Interface,
		})
	}
	return set.Connection.RenderMany(rows)
}
