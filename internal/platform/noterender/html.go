package noterender

import (
	"bytes"
	"html/template"
	"io"

	"github.com/microcosm-cc/bluemonday"
)

const htmlBody = `<article class="visit-note">
<header class="note-header">
<h1>{{.Title}}</h1>
<table class="note-meta">
{{- range .Header}}
<tr><th>{{.Label}}</th><td>{{.Value}}</td></tr>
{{- end}}
</table>
</header>
{{- range .Sections}}
<section class="note-section">
<h2>{{.Title}}</h2>
{{- if .Placeholder}}
<p class="no-data">{{.Placeholder}}</p>
{{- end}}
{{- if .Vitals}}
<table class="vitals">
<thead><tr><th>Vital</th><th>At Rest</th><th>After Exertion</th></tr></thead>
<tbody>
{{- range .Vitals}}
<tr><td>{{.Label}}</td><td>{{.AtRest}}</td><td>{{.AfterExertion}}</td></tr>
{{- end}}
</tbody>
</table>
{{- end}}
{{- if .Fields}}
<dl class="fields">
{{- range .Fields}}
<dt>{{.Label}}</dt><dd>{{.Value}}</dd>
{{- end}}
</dl>
{{- end}}
{{- range .Groups}}
<div class="group">
<h3>{{.Title}}</h3>
{{- if .Placeholder}}
<p class="no-data">{{.Placeholder}}</p>
{{- end}}
<dl class="fields">
{{- range .Fields}}
<dt>{{.Label}}</dt><dd>{{.Value}}</dd>
{{- end}}
</dl>
</div>
{{- end}}
</section>
{{- end}}
<footer class="note-footer">Generated {{.GeneratedAt.Format "2006-01-02 15:04 MST"}}</footer>
</article>`

const htmlShell = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body{font-family:Helvetica,Arial,sans-serif;font-size:12px;margin:24px;color:#222}
h1{font-size:18px;margin:0 0 8px}
h2{font-size:14px;border-bottom:1px solid #999;margin:16px 0 6px}
h3{font-size:12px;margin:8px 0 4px}
table{border-collapse:collapse}
th,td{border:1px solid #ccc;padding:2px 6px;text-align:left}
dl.fields{display:grid;grid-template-columns:max-content auto;gap:2px 12px;margin:0}
dt{font-weight:bold}
dd{margin:0}
.no-data{font-style:italic;color:#666}
.note-footer{margin-top:24px;font-size:10px;color:#666}
@media print{body{margin:0}}
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`

// HTMLRenderer writes a printable page. The note markup is passed through a
// sanitizing policy before it is placed in the page shell.
type HTMLRenderer struct {
	body   *template.Template
	shell  *template.Template
	policy *bluemonday.Policy
}

func NewHTMLRenderer() *HTMLRenderer {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Globally()
	policy.AllowElements("article", "header", "section", "footer")
	return &HTMLRenderer{
		body:   template.Must(template.New("body").Parse(htmlBody)),
		shell:  template.Must(template.New("shell").Parse(htmlShell)),
		policy: policy,
	}
}

func (*HTMLRenderer) ContentType() string { return "text/html; charset=UTF-8" }

func (h *HTMLRenderer) Render(w io.Writer, doc *Document) error {
	var body bytes.Buffer
	if err := h.body.Execute(&body, doc); err != nil {
		return err
	}
	clean := h.policy.SanitizeBytes(body.Bytes())
	return h.shell.Execute(w, struct {
		Title string
		Body  template.HTML
	}{
		Title: doc.Title,
		Body:  template.HTML(clean), //nolint:gosec // sanitized above
	})
}

const htmlError = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<div class="note-error">
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{- if .Retryable}}
<p><a href="{{.RetryURL}}">Try again</a></p>
{{- end}}
</div>
</body>
</html>
`

var errorTemplate = template.Must(template.New("error").Parse(htmlError))

// ErrorPage replaces the document when the note could not be loaded.
type ErrorPage struct {
	Title     string
	Message   string
	Retryable bool
	RetryURL  string
}

// RenderError writes an error page with a retry link when Retryable is set.
func (*HTMLRenderer) RenderError(w io.Writer, p ErrorPage) error {
	return errorTemplate.Execute(w, p)
}
