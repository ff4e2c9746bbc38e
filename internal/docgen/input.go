package docgen

import (
	"fmt"

	"attest/api/internal/platform"
)

// InputFrom builds formatter input from a questionnaire tree and a section
// selection. ComprehensiveSection selects every section's questions in
// order.
func InputFrom(q platform.Questionnaire, sectionIndex int) (Input, error) {
	in := Input{
		Heading:  q.Heading,
		Version:  q.Version,
		Owner:    q.Owner,
		Standard: q.Standard,
		Category: q.Category,
	}
	if sectionIndex == ComprehensiveSection {
		for _, section := range q.Sections {
			in.Questions = append(in.Questions, convertQuestions(section.Questions)...)
		}
		return in, nil
	}
	if sectionIndex < 0 || sectionIndex >= len(q.Sections) {
		return Input{}, fmt.Errorf("questionnaire %q has no section %d", q.ID, sectionIndex)
	}
	section := q.Sections[sectionIndex]
	in.SectionTitle = section.Title
	in.Questions = convertQuestions(section.Questions)
	return in, nil
}

func convertQuestions(questions []platform.Question) []Question {
	out := make([]Question, len(questions))
	for i, q := range questions {
		out[i] = Question{Text: q.Text, Answer: q.Answer, Implemented: q.Implemented}
	}
	return out
}
