package noterender

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// NotAvailable replaces header values that could not be looked up.
const NotAvailable = "Not available"

// Document is a fully rendered note ready for output.
type Document struct {
	Title       string            `json:"title"`
	VisitID     string            `json:"visit_id"`
	Header      []Field           `json:"header"`
	Sections    []RenderedSection `json:"sections"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// Format names an output encoding of a Document.
type Format string

const (
	FormatJSON Format = "json"
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// Renderer writes a Document in one format.
type Renderer interface {
	ContentType() string
	Render(w io.Writer, doc *Document) error
}

// Registry maps formats to renderers.
type Registry struct {
	renderers map[Format]Renderer
}

// NewRegistry returns a registry with the JSON, HTML and PDF renderers.
func NewRegistry() *Registry {
	r := &Registry{renderers: make(map[Format]Renderer)}
	r.Register(FormatJSON, JSONRenderer{})
	r.Register(FormatHTML, NewHTMLRenderer())
	r.Register(FormatPDF, PDFRenderer{})
	return r
}

func (r *Registry) Register(f Format, renderer Renderer) {
	r.renderers[f] = renderer
}

// Lookup returns the renderer for a format name; empty means JSON.
func (r *Registry) Lookup(name string) (Renderer, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	if f == "" {
		f = FormatJSON
	}
	renderer, ok := r.renderers[f]
	if !ok {
		return nil, fmt.Errorf("unsupported format %q, want one of %s", name, strings.Join(r.Formats(), ", "))
	}
	return renderer, nil
}

// Formats lists the registered format names, sorted.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.renderers))
	for f := range r.renderers {
		out = append(out, string(f))
	}
	sort.Strings(out)
	return out
}

// JSONRenderer writes the structured document.
type JSONRenderer struct{}

func (JSONRenderer) ContentType() string { return "application/json; charset=UTF-8" }

func (JSONRenderer) Render(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(doc)
}
