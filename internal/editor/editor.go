package editor

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"attest/api/internal/debounce"
	"attest/api/internal/platform"
)

// DefaultDebounceWindow is measured from the last keystroke, trailing
// edge: one upstream save per burst of typing.
const DefaultDebounceWindow = 1000 * time.Millisecond

const saveTimeout = 15 * time.Second

// Backend is the slice of the upstream platform the editor persists
// through. Note and implemented are optional; nil leaves the server value
// untouched.
type Backend interface {
	UpdateQuestionAnswer(ctx context.Context, token, questionnaireID string, sectionIndex, questionIndex int, answer string, note *string, implemented *bool) error
}

// Editor is one editing session over a set of loaded questionnaire trees.
// Construct it when the workflow's data first loads and Close it when the
// user leaves the workflow; sessions never share buffers, so two open
// workflows cannot cross-contaminate.
type Editor struct {
	backend   Backend
	token     string
	buffer    *Buffer
	debouncer *debounce.Debouncer[CellKey]

	mu     sync.RWMutex
	server map[string]platform.Questionnaire
	loaded bool
}

func New(backend Backend, token string, window time.Duration) *Editor {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Editor{
		backend:   backend,
		token:     token,
		buffer:    NewBuffer(),
		debouncer: debounce.New[CellKey](window),
		server:    make(map[string]platform.Questionnaire),
	}
}

// Load installs or refreshes the server snapshot. The override buffer is
// initialized once, on first load, and deliberately left alone on later
// reloads so a background refresh never discards in-progress typing.
func (e *Editor) Load(questionnaires []platform.Questionnaire) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, q := range questionnaires {
		e.server[q.ID] = q
	}
	e.loaded = true
}

// Loaded reports whether a server snapshot has been installed.
func (e *Editor) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

// UpdateAnswer records the new text locally, synchronously, then schedules
// a debounced upstream save. The visible value changes before any network
// activity, so typing never stutters or reverts.
//
// When the timer fires, the save reads the freshest value back out of the
// buffer rather than a closed-over one; in practice every keystroke
// reschedules the timer first, so this only matters if a trigger and a
// fire race. Success and failure both clear the pending marker: a failed
// save is logged, not retried, and the typed text stays visible as the
// recovery path. A successful save releases the override for the exact
// value it acknowledged, letting later server-side edits show through.
func (e *Editor) UpdateAnswer(cell CellKey, text string) error {
	if err := e.validateCell(cell); err != nil {
		return err
	}
	e.buffer.SetAnswer(cell, text)
	e.buffer.MarkPending(cell)
	e.debouncer.Trigger(cell, func() {
		latest, ok := e.buffer.AnswerOverride(cell)
		if !ok {
			e.buffer.ClearPending(cell)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := e.backend.UpdateQuestionAnswer(ctx, e.token, cell.QuestionnaireID, cell.Section, cell.Question, latest, nil, nil); err != nil {
			log.Printf("debounced save failed for %s[%d][%d]: %v", cell.QuestionnaireID, cell.Section, cell.Question, err)
		} else {
			e.buffer.ReleaseAnswer(cell, latest)
		}
		e.buffer.ClearPending(cell)
	})
	return nil
}

// UpdateState saves an implementation-flag toggle immediately, with no
// debounce: toggles are discrete, low-frequency events. The save carries
// the cell's current effective answer so a toggle never clobbers a
// not-yet-saved answer edit.
func (e *Editor) UpdateState(ctx context.Context, cell CellKey, implemented bool) error {
	if err := e.validateCell(cell); err != nil {
		return err
	}
	e.buffer.SetState(cell, implemented)
	e.buffer.MarkPending(cell)
	answer := e.buffer.EffectiveAnswer(cell, e.serverAnswer(cell))
	err := e.backend.UpdateQuestionAnswer(ctx, e.token, cell.QuestionnaireID, cell.Section, cell.Question, answer, nil, &implemented)
	e.buffer.ClearPending(cell)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	e.buffer.ReleaseState(cell, implemented)
	e.buffer.ReleaseAnswer(cell, answer)
	return nil
}

// SaveSection persists every cell of the section that carries a local
// override, bypassing the debounce. Saves run concurrently; a just-fired
// debounce timer for the same cell may race one of them, which the
// upstream's last-write-wins semantics resolve (both carry the same
// effective value at call time).
func (e *Editor) SaveSection(ctx context.Context, questionnaireID string, section int) error {
	if _, err := e.questionnaire(questionnaireID); err != nil {
		return err
	}
	cells := e.buffer.OverriddenCells(questionnaireID, section)

	var wg sync.WaitGroup
	errs := make([]error, len(cells))
	for i, cell := range cells {
		e.buffer.MarkPending(cell)
		wg.Add(1)
		go func(i int, cell CellKey) {
			defer wg.Done()
			answer := e.buffer.EffectiveAnswer(cell, e.serverAnswer(cell))
			var implemented *bool
			if flag, ok := e.buffer.StateOverride(cell); ok {
				implemented = &flag
			}
			err := e.backend.UpdateQuestionAnswer(ctx, e.token, cell.QuestionnaireID, cell.Section, cell.Question, answer, nil, implemented)
			e.buffer.ClearPending(cell)
			if err != nil {
				log.Printf("section save failed for %s[%d][%d]: %v", cell.QuestionnaireID, cell.Section, cell.Question, err)
				errs[i] = err
				return
			}
			e.buffer.ReleaseAnswer(cell, answer)
			if implemented != nil {
				e.buffer.ReleaseState(cell, *implemented)
			}
		}(i, cell)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return fmt.Errorf("save section: %w", err)
		}
	}
	return nil
}

// EffectiveAnswer is the merge read: local override if present, else the
// last-known server value.
func (e *Editor) EffectiveAnswer(cell CellKey) (string, error) {
	if err := e.validateCell(cell); err != nil {
		return "", err
	}
	return e.buffer.EffectiveAnswer(cell, e.serverAnswer(cell)), nil
}

// EffectiveState merges the flag override; nil means under review.
func (e *Editor) EffectiveState(cell CellKey) (*bool, error) {
	if err := e.validateCell(cell); err != nil {
		return nil, err
	}
	return e.buffer.EffectiveState(cell, e.serverState(cell)), nil
}

// Pending reports whether the cell has an edit awaiting acknowledgement.
func (e *Editor) Pending(cell CellKey) bool {
	return e.buffer.IsPending(cell)
}

// Questionnaire returns the named tree with all local overrides applied,
// the view both the UI and the document generator consume.
func (e *Editor) Questionnaire(questionnaireID string) (platform.Questionnaire, error) {
	q, err := e.questionnaire(questionnaireID)
	if err != nil {
		return platform.Questionnaire{}, err
	}
	merged := q
	merged.Sections = make([]platform.Section, len(q.Sections))
	for si, section := range q.Sections {
		merged.Sections[si] = section
		merged.Sections[si].Questions = make([]platform.Question, len(section.Questions))
		for qi, question := range section.Questions {
			cell := CellKey{QuestionnaireID: q.ID, Section: si, Question: qi}
			question.Answer = e.buffer.EffectiveAnswer(cell, question.Answer)
			question.Implemented = e.buffer.EffectiveState(cell, question.Implemented)
			merged.Sections[si].Questions[qi] = question
		}
	}
	return merged, nil
}

// Questionnaires returns every loaded tree, merged, in stable ID order.
func (e *Editor) Questionnaires() []platform.Questionnaire {
	e.mu.RLock()
	ids := make([]string, 0, len(e.server))
	for id := range e.server {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Strings(ids)

	merged := make([]platform.Questionnaire, 0, len(ids))
	for _, id := range ids {
		if q, err := e.Questionnaire(id); err == nil {
			merged = append(merged, q)
		}
	}
	return merged
}

// Flush waits for all scheduled and in-flight debounced saves to resolve.
func (e *Editor) Flush() {
	e.debouncer.Wait()
}

// Close cancels all scheduled debounced saves. Saves already issued run to
// completion; their pending-marker updates land in this session's buffer,
// which is about to be dropped, so they are harmless.
func (e *Editor) Close() {
	e.debouncer.Stop()
}

func (e *Editor) questionnaire(id string) (platform.Questionnaire, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	q, ok := e.server[id]
	if !ok {
		return platform.Questionnaire{}, fmt.Errorf("questionnaire %q not loaded", id)
	}
	return q, nil
}

func (e *Editor) validateCell(cell CellKey) error {
	q, err := e.questionnaire(cell.QuestionnaireID)
	if err != nil {
		return err
	}
	if cell.Section < 0 || cell.Section >= len(q.Sections) {
		return fmt.Errorf("questionnaire %q has no section %d", cell.QuestionnaireID, cell.Section)
	}
	if cell.Question < 0 || cell.Question >= len(q.Sections[cell.Section].Questions) {
		return fmt.Errorf("section %d of %q has no question %d", cell.Section, cell.QuestionnaireID, cell.Question)
	}
	return nil
}

func (e *Editor) serverAnswer(cell CellKey) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	q, ok := e.server[cell.QuestionnaireID]
	if !ok || cell.Section >= len(q.Sections) || cell.Question >= len(q.Sections[cell.Section].Questions) {
		return ""
	}
	return q.Sections[cell.Section].Questions[cell.Question].Answer
}

func (e *Editor) serverState(cell CellKey) *bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	q, ok := e.server[cell.QuestionnaireID]
	if !ok || cell.Section >= len(q.Sections) || cell.Question >= len(q.Sections[cell.Section].Questions) {
		return nil
	}
	return q.Sections[cell.Section].Questions[cell.Question].Implemented
}
