// Package qsearch finds questions across loaded questionnaires. Meilisearch
// is the primary backend when configured; an in-memory scan is the
// fallback so the feature degrades instead of disappearing.
package qsearch

// QuestionRecord is the data indexed per question.
type QuestionRecord struct {
	ID              string `json:"id"`
	QuestionnaireID string `json:"questionnaireId"`
	Heading         string `json:"heading"`
	SectionIndex    int    `json:"sectionIndex"`
	SectionTitle    string `json:"sectionTitle"`
	QuestionIndex   int    `json:"questionIndex"`
	Text            string `json:"text"`
	Answer          string `json:"answer"`
	Status          string `json:"status"` // implemented / not_implemented / under_review
}

// Query describes a search request.
type Query struct {
	Text                  string
	FilterQuestionnaireID string
	Limit                 int
	Offset                int
}

// Result is a single hit.
type Result struct {
	ID              string `json:"id"`
	QuestionnaireID string `json:"questionnaireId"`
	Heading         string `json:"heading"`
	SectionIndex    int    `json:"sectionIndex"`
	SectionTitle    string `json:"sectionTitle"`
	QuestionIndex   int    `json:"questionIndex"`
	Snippet         string `json:"snippet"`
	Status          string `json:"status"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher executes a question search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}
