package render

import (
	"bytes"
	"html/template"
	"time"
)

// Meta is the document chrome shared by every output tier.
type Meta struct {
	Title   string
	DocType string
}

type templateData struct {
	Title       string
	DocType     string
	Generated   string
	ContentHTML template.HTML
}

var documentTemplate = template.Must(template.New("document").Parse(documentTemplateSource))

const documentTemplateSource = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    @page { size: A4; margin: 20mm; }
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 210mm; margin: 0 auto; color: #1a1a1a; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    h2 { margin-top: 1.5rem; border-bottom: 1px solid #ccc; padding-bottom: 0.25rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .footer { color: #666; font-size: 0.8em; border-top: 1px solid #ccc; margin-top: 2rem; padding-top: 0.5rem; }
  </style>
</head>
<body>
  <div class="meta">Document Type: {{.DocType}} | Generated: {{.Generated}}</div>
  <div>{{.ContentHTML}}</div>
  <div class="footer">Document Type: {{.DocType}} | Generated: {{.Generated}}</div>
</body>
</html>`

// renderHTMLDocument wraps the markdown content in the print-styled
// standalone document used by both the PDF and HTML tiers.
func renderHTMLDocument(meta Meta, markdown string, now time.Time) (string, error) {
	content, err := markdownToHTML(markdown)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err = documentTemplate.Execute(&buf, templateData{
		Title:       meta.Title,
		DocType:     meta.DocType,
		Generated:   now.Format("2006-01-02"),
		ContentHTML: template.HTML(content),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
