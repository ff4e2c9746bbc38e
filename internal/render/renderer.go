package render

import (
	"fmt"
	"log"
	"time"
)

// Tier identifies which rung of the fallback chain produced a result.
type Tier string

const (
	TierPDF  Tier = "pdf"
	TierHTML Tier = "html"
	TierText Tier = "text"
)

// Result is one produced file, tagged with the tier that made it.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
	Tier     Tier
}

// maxPDFBytes is the oversize threshold: beyond it the PDF is regenerated
// once at reduced scale and that result is used unconditionally.
const maxPDFBytes = 45 << 20

const reducedScale = 0.75

// Renderer runs the fallback chain. printPDF is swappable so tests can
// force individual tiers to fail.
type Renderer struct {
	now      func() time.Time
	printPDF func(html string, scale float64) ([]byte, error)
}

func New(now func() time.Time) *Renderer {
	return NewWithPrinter(now, printPDF)
}

// NewWithPrinter substitutes the PDF printer, letting callers bypass the
// headless-browser dependency.
func NewWithPrinter(now func() time.Time, printer func(html string, scale float64) ([]byte, error)) *Renderer {
	if now == nil {
		now = time.Now
	}
	return &Renderer{now: now, printPDF: printer}
}

type tierStep struct {
	name Tier
	run  func() (*Result, error)
}

// Render tries each tier in order and returns the first success. The
// plain-text tier cannot fail, so the result is never nil. Skipped tiers
// are logged, not propagated.
func (r *Renderer) Render(meta Meta, markdown string) *Result {
	basename := sanitizeFilename(meta.Title)
	now := r.now()

	htmlDoc, htmlErr := renderHTMLDocument(meta, markdown, now)

	steps := []tierStep{
		{TierPDF, func() (*Result, error) {
			if htmlErr != nil {
				return nil, fmt.Errorf("html document unavailable: %w", htmlErr)
			}
			data, err := r.printPDF(htmlDoc, 1.0)
			if err != nil {
				return nil, err
			}
			if len(data) > maxPDFBytes {
				smaller, err := r.printPDF(htmlDoc, reducedScale)
				if err != nil {
					return nil, fmt.Errorf("oversize regeneration: %w", err)
				}
				data = smaller
			}
			return &Result{Data: data, Filename: basename + ".pdf", MimeType: "application/pdf", Tier: TierPDF}, nil
		}},
		{TierHTML, func() (*Result, error) {
			if htmlErr != nil {
				return nil, fmt.Errorf("html document unavailable: %w", htmlErr)
			}
			return &Result{Data: []byte(htmlDoc), Filename: basename + ".html", MimeType: "text/html; charset=utf-8", Tier: TierHTML}, nil
		}},
		{TierText, func() (*Result, error) {
			return r.textResult(meta, markdown), nil
		}},
	}

	for _, step := range steps {
		result, err := step.run()
		if err != nil {
			log.Printf("render tier %s failed for %q: %v", step.name, meta.Title, err)
			continue
		}
		return result
	}
	// Unreachable: the text tier never errors.
	return nil
}

// RenderHTMLOnly skips the PDF tier entirely, for callers that asked for
// a browser-viewable document rather than a download.
func (r *Renderer) RenderHTMLOnly(meta Meta, markdown string) *Result {
	basename := sanitizeFilename(meta.Title)
	htmlDoc, err := renderHTMLDocument(meta, markdown, r.now())
	if err != nil {
		log.Printf("render html failed for %q: %v", meta.Title, err)
		return r.textResult(meta, markdown)
	}
	return &Result{Data: []byte(htmlDoc), Filename: basename + ".html", MimeType: "text/html; charset=utf-8", Tier: TierHTML}
}

// textResult is the infallible last tier: the raw formatted string under
// the same chrome lines the richer tiers carry.
func (r *Renderer) textResult(meta Meta, markdown string) *Result {
	text := fmt.Sprintf("%s\nDocument Type: %s\nGenerated: %s\n\n%s",
		meta.Title, meta.DocType, r.now().Format("2006-01-02"), markdown)
	return &Result{
		Data:     []byte(text),
		Filename: sanitizeFilename(meta.Title) + ".txt",
		MimeType: "text/plain; charset=utf-8",
		Tier:     TierText,
	}
}
