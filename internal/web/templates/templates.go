// Package templates parses the embedded page templates once and renders
// them by name.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"path"
	"strings"
)

//go:embed layouts/*.html pages/*.html partials/*.html
var files embed.FS

// Renderer executes pages within the base layout, and partials alone
type Renderer struct {
	pages    map[string]*template.Template
	partials *template.Template
}

// New parses every page with the base layout and all partials
func New() (*Renderer, error) {
	partials, err := template.ParseFS(files, "partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse partials: %w", err)
	}

	pageFiles, err := fs.Glob(files, "pages/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}

	r := &Renderer{
		pages:    make(map[string]*template.Template, len(pageFiles)),
		partials: partials,
	}
	for _, file := range pageFiles {
		name := strings.TrimSuffix(path.Base(file), ".html")
		tmpl, err := template.ParseFS(files, "layouts/base.html", file, "partials/*.html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse page %s: %w", name, err)
		}
		r.pages[name] = tmpl
	}
	return r, nil
}

// Page renders a full page. Output is buffered so a failing template never
// leaves a half-written response.
func (r *Renderer) Page(w io.Writer, name string, data any) error {
	tmpl, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

// Partial renders a fragment (for HTMX swaps)
func (r *Renderer) Partial(w io.Writer, name string, data any) error {
	var buf bytes.Buffer
	if err := r.partials.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}
