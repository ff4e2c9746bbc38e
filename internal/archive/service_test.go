package archive

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"attest/api/internal/docgen"
)

func TestRecordAndHistory(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir, nil)

	first, err := svc.Record("isqm-1", docgen.TypePolicy, "ISQM-1-Policy", "# Policy v1\n", "Ana Partner")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if first.Hash == "" || first.Author != "Ana Partner" {
		t.Fatalf("unexpected commit info: %+v", first)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "isqm-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	second, err := svc.Record("isqm-1", docgen.TypePolicy, "ISQM-1-Policy", "# Policy v2\n", "Ana Partner")
	if err != nil {
		t.Fatalf("Record() second error = %v", err)
	}

	history, err := svc.History("isqm-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}
	if history[0].Hash != second.Hash {
		t.Fatal("history must be newest first")
	}
	if !strings.Contains(history[0].Message, "Generate policy ISQM-1-Policy") {
		t.Fatalf("unexpected commit message %q", history[0].Message)
	}
}

func TestContentAtRevision(t *testing.T) {
	svc := New(t.TempDir(), nil)

	first, err := svc.Record("isqm-1", docgen.TypeProcedure, "Gov", "step one\n", "Ana")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if _, err := svc.Record("isqm-1", docgen.TypeProcedure, "Gov", "step one revised\n", "Ana"); err != nil {
		t.Fatalf("Record() second error = %v", err)
	}

	old, err := svc.ContentAt("isqm-1", first.Hash, docgen.TypeProcedure, "Gov")
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	if old != "step one\n" {
		t.Fatalf("expected the original source at the first commit, got %q", old)
	}
}

func TestHistoryEmptyForUnknownQuestionnaire(t *testing.T) {
	svc := New(t.TempDir(), nil)
	history, err := svc.History("never-generated", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no history, got %d entries", len(history))
	}
}

func TestCommitUsesInjectedClock(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	svc := New(t.TempDir(), func() time.Time { return fixed })

	info, err := svc.Record("isqm-1", docgen.TypePolicy, "P", "content\n", "Ana")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !info.CreatedAt.Equal(fixed) {
		t.Fatalf("commit timestamp = %v, want %v", info.CreatedAt, fixed)
	}
}

func TestRejectsTraversalQuestionnaireID(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir, nil)

	for _, id := range []string{"../escape", "a/b", `a\b`, "..", ".", ""} {
		if _, err := svc.Record(id, docgen.TypePolicy, "P", "content\n", "Ana"); !errors.Is(err, ErrBadQuestionnaireID) {
			t.Fatalf("Record(%q) error = %v, want ErrBadQuestionnaireID", id, err)
		}
		if _, err := svc.History(id, 10); !errors.Is(err, ErrBadQuestionnaireID) {
			t.Fatalf("History(%q) error = %v, want ErrBadQuestionnaireID", id, err)
		}
		if _, err := svc.ContentAt(id, "abc1234", docgen.TypePolicy, "P"); !errors.Is(err, ErrBadQuestionnaireID) {
			t.Fatalf("ContentAt(%q) error = %v, want ErrBadQuestionnaireID", id, err)
		}
	}

	// Nothing may have been written outside or inside baseDir.
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected IDs still created %d entries", len(entries))
	}
}

func TestConcurrentRecordsSameQuestionnaire(t *testing.T) {
	svc := New(t.TempDir(), nil)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Record("isqm-1", docgen.TypePolicy, "P", "content\n", "Ana")
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("Record %d failed: %v", i, err)
		}
	}

	history, err := svc.History("isqm-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 commits, got %d", len(history))
	}
}
