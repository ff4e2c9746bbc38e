// Package editor owns the interactive questionnaire editing session: an
// optimistic in-memory override buffer over server-provided answers plus a
// debounced save coordinator that persists edits upstream.
package editor

import "sync"

// CellKey addresses one editable question across all loaded questionnaires.
type CellKey struct {
	QuestionnaireID string
	Section         int
	Question        int
}

// Buffer holds local overrides of answer text and implementation flags,
// plus the set of cells with an edit not yet acknowledged upstream. All
// access is mutex-guarded; mutations are atomic with respect to reads.
//
// Overrides are created on first edit and released only when a save of
// that exact value is acknowledged upstream. A background reload of
// server data must not touch the buffer, so in-flight typing survives
// refreshes; once a value is acknowledged its override goes away, so
// later server-side changes to the cell show through again.
type Buffer struct {
	mu      sync.Mutex
	answers map[CellKey]string
	states  map[CellKey]bool
	pending map[CellKey]struct{}
}

func NewBuffer() *Buffer {
	return &Buffer{
		answers: make(map[CellKey]string),
		states:  make(map[CellKey]bool),
		pending: make(map[CellKey]struct{}),
	}
}

func (b *Buffer) SetAnswer(cell CellKey, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answers[cell] = text
}

// AnswerOverride returns the local answer override, if one exists.
func (b *Buffer) AnswerOverride(cell CellKey) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	text, ok := b.answers[cell]
	return text, ok
}

func (b *Buffer) SetState(cell CellKey, implemented bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[cell] = implemented
}

// StateOverride returns the local implementation-flag override, if any.
func (b *Buffer) StateOverride(cell CellKey) (bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	flag, ok := b.states[cell]
	return flag, ok
}

// EffectiveAnswer merges the local override over the server value. This is
// the read every renderer must use, so a reload of other cells never
// disturbs a pending edit here.
func (b *Buffer) EffectiveAnswer(cell CellKey, serverValue string) string {
	if text, ok := b.AnswerOverride(cell); ok {
		return text
	}
	return serverValue
}

// EffectiveState merges the local flag override over the server value.
// A nil result means under review: neither the server nor the user has
// set the flag.
func (b *Buffer) EffectiveState(cell CellKey, serverValue *bool) *bool {
	if flag, ok := b.StateOverride(cell); ok {
		return &flag
	}
	return serverValue
}

// ReleaseAnswer drops the answer override, but only if it still equals
// the value the upstream just acknowledged. A keystroke that landed while
// the save was in flight leaves a newer value in the map, and that one
// must survive until its own save resolves.
func (b *Buffer) ReleaseAnswer(cell CellKey, acknowledged string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.answers[cell]; ok && current == acknowledged {
		delete(b.answers, cell)
	}
}

// ReleaseState drops the flag override if it still equals the
// acknowledged value.
func (b *Buffer) ReleaseState(cell CellKey, acknowledged bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.states[cell]; ok && current == acknowledged {
		delete(b.states, cell)
	}
}

func (b *Buffer) MarkPending(cell CellKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[cell] = struct{}{}
}

// ClearPending removes the pending marker. Called on save resolution,
// success or failure alike: a failed save stops showing as in flight but
// the local edit stays visible.
func (b *Buffer) ClearPending(cell CellKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, cell)
}

func (b *Buffer) IsPending(cell CellKey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[cell]
	return ok
}

func (b *Buffer) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// OverriddenCells lists every cell of one section carrying a local
// override of either field. Used by the explicit section save.
func (b *Buffer) OverriddenCells(questionnaireID string, section int) []CellKey {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[CellKey]struct{})
	for cell := range b.answers {
		if cell.QuestionnaireID == questionnaireID && cell.Section == section {
			seen[cell] = struct{}{}
		}
	}
	for cell := range b.states {
		if cell.QuestionnaireID == questionnaireID && cell.Section == section {
			seen[cell] = struct{}{}
		}
	}
	cells := make([]CellKey, 0, len(seen))
	for cell := range seen {
		cells = append(cells, cell)
	}
	return cells
}
