package httpserver

import (
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/svg"
)

func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("text/html", html.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)
	return m
}

// minifyHTML returns the minified page, or page unchanged if minification
// fails.
func (s *Server) minifyHTML(page string) string {
	out, err := s.minifier.String("text/html", page)
	if err != nil {
		s.logger.Printf("Warning: minify failed, serving unminified page: %v", err)
		return page
	}
	return out
}
