// Package docgen turns questionnaire data into policy and procedure
// documents: a deterministic markdown formatter plus the generated-document
// record the rest of the pipeline carries around.
package docgen

import (
	"fmt"
	"strings"
	"time"
)

type DocType string

const (
	TypePolicy    DocType = "policy"
	TypeProcedure DocType = "procedure"
)

// ComprehensiveSection is the sentinel section index for a document that
// covers the whole questionnaire rather than a single section.
const ComprehensiveSection = -1

// Options are the recognized generation flags. Fixed fields only; no
// dynamic option keys.
type Options struct {
	UseAnswersInPolicy        bool `json:"useAnswersInPolicy"`
	IncludeUnanswered         bool `json:"includeUnanswered"`
	IncludeStatesInProcedures bool `json:"includeStatesInProcedures"`
	IncludeAppendixQA         bool `json:"includeAppendixQA"`
	GeneratePDF               bool `json:"generatePdf"`
}

// Document is one generation result. Created per invocation, never
// mutated; held in a recency-ordered session list only.
type Document struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Type            DocType   `json:"type"`
	QuestionnaireID string    `json:"questionnaireId"`
	SectionIndex    int       `json:"sectionIndex"`
	Content         string    `json:"content"`
	URL             string    `json:"url"`
	GeneratedAt     time.Time `json:"generatedAt"`
	Uploaded        bool      `json:"uploaded"`
}

// Input is the formatter's view of a questionnaire selection: the heading
// metadata plus the question triples of the chosen section, or of every
// section for a comprehensive document.
type Input struct {
	Heading      string
	Version      string
	Owner        string
	Standard     string
	Category     string
	SectionTitle string // empty for comprehensive documents
	Questions    []Question
}

type Question struct {
	Text        string
	Answer      string
	Implemented *bool // nil = under review
}

// Formatter renders policy and procedure text. Pure given a clock: the
// same input and the same date yield byte-identical output.
type Formatter struct {
	now func() time.Time
}

func NewFormatter(now func() time.Time) *Formatter {
	if now == nil {
		now = time.Now
	}
	return &Formatter{now: now}
}

// Policy renders the requirement-framed document variant.
func (f *Formatter) Policy(in Input, opts Options) string {
	return f.render(TypePolicy, in, opts)
}

// Procedure renders the step-framed variant, with a derived action per
// step: implemented → maintain, not implemented → implement, under
// review → review.
func (f *Formatter) Procedure(in Input, opts Options) string {
	return f.render(TypeProcedure, in, opts)
}

type statusCounts struct {
	implemented    int
	notImplemented int
	underReview    int
	total          int
}

func countStatuses(questions []Question) statusCounts {
	var c statusCounts
	c.total = len(questions)
	for _, q := range questions {
		switch {
		case q.Implemented == nil:
			c.underReview++
		case *q.Implemented:
			c.implemented++
		default:
			c.notImplemented++
		}
	}
	return c
}

// completionRate renders round(100*implemented/total); a zero-question
// selection reports "N/A" rather than dividing by zero.
func (c statusCounts) completionRate() string {
	if c.total == 0 {
		return "N/A"
	}
	rate := float64(c.implemented) * 100 / float64(c.total)
	return fmt.Sprintf("%d%%", int(rate+0.5))
}

func (f *Formatter) render(docType DocType, in Input, opts Options) string {
	var b strings.Builder

	scope := in.SectionTitle
	if scope == "" {
		scope = "all sections"
	}
	typeName := "Policy"
	if docType == TypeProcedure {
		typeName = "Procedure"
	}

	title := in.Heading + " " + typeName
	if in.SectionTitle != "" {
		title = in.Heading + " — " + in.SectionTitle + " " + typeName
	}
	version := in.Version
	if version == "" {
		version = "1.0"
	}

	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**Document Type:** %s\n", typeName)
	fmt.Fprintf(&b, "**Version:** %s\n", version)
	fmt.Fprintf(&b, "**Effective Date:** %s\n", f.now().Format("2006-01-02"))
	fmt.Fprintf(&b, "**Owner:** %s\n", in.Owner)
	fmt.Fprintf(&b, "**Related Standard:** %s\n", in.Standard)
	fmt.Fprintf(&b, "**Category:** %s\n\n", in.Category)

	b.WriteString("## Purpose and Scope\n\n")
	if docType == TypePolicy {
		fmt.Fprintf(&b, "This policy establishes the firm's requirements for %s under %s, covering %s. It applies to all engagement and quality-management personnel.\n\n", in.Heading, in.Standard, scope)
	} else {
		fmt.Fprintf(&b, "This procedure defines the operational steps implementing the firm's %s policy under %s, covering %s. Each step is to be performed by the responsible role and evidenced as described.\n\n", in.Heading, in.Standard, scope)
	}

	// Counts always reflect the full question set, regardless of the
	// IncludeUnanswered display filter.
	counts := countStatuses(in.Questions)
	b.WriteString("## Implementation Status\n\n")
	fmt.Fprintf(&b, "- Implemented: %d\n", counts.implemented)
	fmt.Fprintf(&b, "- Not Implemented: %d\n", counts.notImplemented)
	fmt.Fprintf(&b, "- Under Review: %d\n", counts.underReview)
	fmt.Fprintf(&b, "- Total Requirements: %d\n", counts.total)
	fmt.Fprintf(&b, "- Completion Rate: %s\n\n", counts.completionRate())

	if docType == TypePolicy {
		b.WriteString("## Requirements\n\n")
	} else {
		b.WriteString("## Procedure Steps\n\n")
	}

	number := 0
	for _, q := range in.Questions {
		answered := strings.TrimSpace(q.Answer) != ""
		if !answered && !opts.IncludeUnanswered {
			continue
		}
		number++
		fmt.Fprintf(&b, "### %d. %s\n\n", number, strings.TrimSpace(q.Text))
		if docType == TypePolicy {
			if opts.UseAnswersInPolicy && answered {
				fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(q.Answer))
			} else {
				b.WriteString("The firm shall establish and maintain controls addressing this requirement, with responsibilities, evidence, and review cycles documented.\n\n")
			}
			continue
		}
		if answered {
			fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(q.Answer))
		} else {
			b.WriteString("Step to be defined by the responsible role.\n\n")
		}
		if opts.IncludeStatesInProcedures {
			fmt.Fprintf(&b, "**Status:** %s\n", statusLabel(q.Implemented))
		}
		fmt.Fprintf(&b, "**Action Required:** %s\n\n", actionLabel(q.Implemented))
	}

	b.WriteString("## Guidelines\n\n")
	b.WriteString("Requirements are applied proportionately to the nature and circumstances of the firm and its engagements. Deviations require documented approval by the quality-management leader.\n\n")
	b.WriteString("## Roles and Responsibilities\n\n")
	b.WriteString("The document owner maintains this document. Engagement partners apply it on engagements. The quality-management leader monitors adherence firm-wide.\n\n")
	b.WriteString("## Monitoring and Review\n\n")
	b.WriteString("This document is reviewed at least annually and upon relevant changes to standards or firm circumstances. Monitoring findings feed the firm's remediation process.\n\n")
	b.WriteString("## Records\n\n")
	b.WriteString("Completed questionnaires, approvals, and monitoring evidence are retained per the firm's retention policy.\n")

	if opts.IncludeAppendixQA {
		b.WriteString("\n## Appendix: Questions and Answers\n\n")
		for i, q := range in.Questions {
			answer := strings.TrimSpace(q.Answer)
			if answer == "" {
				answer = "(unanswered)"
			}
			fmt.Fprintf(&b, "**Q%d:** %s\n\n**A%d:** %s\n\n", i+1, strings.TrimSpace(q.Text), i+1, answer)
		}
	}

	return b.String()
}

func statusLabel(implemented *bool) string {
	switch {
	case implemented == nil:
		return "Under Review"
	case *implemented:
		return "Implemented"
	default:
		return "Not Implemented"
	}
}

func actionLabel(implemented *bool) string {
	switch {
	case implemented == nil:
		return "Review"
	case *implemented:
		return "Maintain"
	default:
		return "Implement"
	}
}
