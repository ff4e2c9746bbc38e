package qsearch

import (
	"sort"
	"strings"
	"sync"
)

// Memory is the fallback backend: a case-insensitive substring scan over
// the records indexed this session. Always healthy.
type Memory struct {
	mu      sync.RWMutex
	records map[string]QuestionRecord
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]QuestionRecord)}
}

func (m *Memory) Healthy() bool { return true }

// IndexQuestions adds or replaces records by ID.
func (m *Memory) IndexQuestions(records []QuestionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range records {
		m.records[record.ID] = record
	}
}

// DeleteQuestionnaire removes every record of one questionnaire.
func (m *Memory) DeleteQuestionnaire(questionnaireID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, record := range m.records {
		if record.QuestionnaireID == questionnaireID {
			delete(m.records, id)
		}
	}
}

// IDsFor lists the record IDs currently held for a questionnaire.
func (m *Memory) IDsFor(questionnaireID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, record := range m.records {
		if record.QuestionnaireID == questionnaireID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Memory) Search(q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	m.mu.RLock()
	matched := make([]QuestionRecord, 0)
	for _, record := range m.records {
		if q.FilterQuestionnaireID != "" && record.QuestionnaireID != q.FilterQuestionnaireID {
			continue
		}
		if needle == "" || matches(record, needle) {
			matched = append(matched, record)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	start := q.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	results := make([]Result, 0, end-start)
	for _, record := range matched[start:end] {
		results = append(results, Result{
			ID:              record.ID,
			QuestionnaireID: record.QuestionnaireID,
			Heading:         record.Heading,
			SectionIndex:    record.SectionIndex,
			SectionTitle:    record.SectionTitle,
			QuestionIndex:   record.QuestionIndex,
			Snippet:         record.Text,
			Status:          record.Status,
		})
	}
	return results, total, nil
}

func matches(record QuestionRecord, needle string) bool {
	return strings.Contains(strings.ToLower(record.Text), needle) ||
		strings.Contains(strings.ToLower(record.Answer), needle) ||
		strings.Contains(strings.ToLower(record.SectionTitle), needle) ||
		strings.Contains(strings.ToLower(record.Heading), needle)
}
