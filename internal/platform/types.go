// Package platform is the client for the upstream audit-workflow platform
// API, which owns all authoritative questionnaire, KYC, and PBC data.
package platform

import "time"

// Question is one editable row of a questionnaire section. Implemented is
// a tri-state: true, false, or nil for "under review" (never set).
type Question struct {
	Text        string `json:"text"`
	Answer      string `json:"answer"`
	Note        string `json:"note,omitempty"`
	Implemented *bool  `json:"implemented,omitempty"`
}

type Section struct {
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Questionnaire is a full question tree plus the document URLs already
// attached to it server-side.
type Questionnaire struct {
	ID            string      `json:"id"`
	ParentID      string      `json:"parentId"`
	Heading       string      `json:"heading"`
	Standard      string      `json:"standard"`
	Category      string      `json:"category"`
	Owner         string      `json:"owner"`
	Version       string      `json:"version"`
	Sections      []Section   `json:"sections"`
	PolicyURLs    []URLRecord `json:"policyUrls"`
	ProcedureURLs []URLRecord `json:"procedureUrls"`
}

// URLRecord is a generated-document URL attached to a questionnaire. Owned
// by the upstream platform; Attest only creates and displays these.
type URLRecord struct {
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Version     string    `json:"version"`
	UploadedBy  string    `json:"uploadedBy"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// QuestionnaireURLs groups both URL lists for one questionnaire.
type QuestionnaireURLs struct {
	PolicyURLs    []URLRecord `json:"policyUrls"`
	ProcedureURLs []URLRecord `json:"procedureUrls"`
}
