package server

import (
	"bytes"
	_ "embed"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed docs/usage.md
var usageMarkdown string

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// RenderMarkdown converts markdown text to HTML (safe to inject as template.HTML).
func RenderMarkdown(src string) template.HTML {
	var buf bytes.Buffer
	_ = md.Convert([]byte(src), &buf)
	return template.HTML(buf.String())
}

type pageData struct {
	Title string
	Body  template.HTML
}

var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
{{.Body}}
</body>
</html>
`))
