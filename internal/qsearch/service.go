package qsearch

import (
	"fmt"
	"log"

	"attest/api/internal/platform"
)

// Service fronts the two backends. Every indexed questionnaire also
// lands in the memory backend so a Meilisearch outage degrades results
// rather than removing the feature.
type Service struct {
	meili  *Meili
	memory *Memory
}

// New builds the facade. meiliURL may be empty, in which case only the
// in-memory backend is used.
func New(meiliURL, meiliKey string) *Service {
	s := &Service{memory: NewMemory()}
	if meiliURL != "" {
		s.meili = NewMeili(meiliURL, meiliKey)
	}
	return s
}

// IndexQuestionnaire records every question of a questionnaire for
// search. Meilisearch indexing runs in the background; failures are
// logged and the memory copy keeps the feature serving.
func (s *Service) IndexQuestionnaire(q platform.Questionnaire) {
	records := RecordsFrom(q)

	current := make(map[string]struct{}, len(records))
	for _, record := range records {
		current[record.ID] = struct{}{}
	}
	var stale []string
	for _, id := range s.memory.IDsFor(q.ID) {
		if _, ok := current[id]; !ok {
			stale = append(stale, id)
		}
	}

	s.memory.DeleteQuestionnaire(q.ID)
	s.memory.IndexQuestions(records)

	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteRecords(stale); err != nil {
			log.Printf("search: delete stale records for %s: %v", q.ID, err)
		}
		if err := s.meili.IndexQuestions(records); err != nil {
			log.Printf("search: index questionnaire %s: %v", q.ID, err)
		}
	}()
}

// Search tries Meilisearch first and falls back to the in-memory scan.
func (s *Service) Search(q Query) (Response, error) {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: results, Total: total, Query: q.Text}, nil
		}
		log.Printf("search: meilisearch failed, using memory fallback: %v", err)
	}

	results, total, err := s.memory.Search(q)
	if err != nil {
		return Response{}, err
	}
	return Response{Results: results, Total: total, Query: q.Text}, nil
}

// Close stops background workers.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

// RecordsFrom flattens a questionnaire into indexable question records.
func RecordsFrom(q platform.Questionnaire) []QuestionRecord {
	var records []QuestionRecord
	for si, section := range q.Sections {
		for qi, question := range section.Questions {
			records = append(records, QuestionRecord{
				ID:              recordID(q.ID, si, qi),
				QuestionnaireID: q.ID,
				Heading:         q.Heading,
				SectionIndex:    si,
				SectionTitle:    section.Title,
				QuestionIndex:   qi,
				Text:            question.Text,
				Answer:          question.Answer,
				Status:          statusOf(question.Implemented),
			})
		}
	}
	return records
}

func recordID(questionnaireID string, sectionIdx, questionIdx int) string {
	return fmt.Sprintf("%s-s%d-q%d", questionnaireID, sectionIdx, questionIdx)
}

func statusOf(implemented *bool) string {
	switch {
	case implemented == nil:
		return "under_review"
	case *implemented:
		return "implemented"
	default:
		return "not_implemented"
	}
}
