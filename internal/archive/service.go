// Package archive keeps a versioned trail of generated documents: every
// generation commits the formatter's markdown source into a
// per-questionnaire git repository, so auditors can show what a policy or
// procedure said at any point in time.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"attest/api/internal/docgen"
)

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	now     func() time.Time
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds a Service rooted at baseDir. A nil now falls back to
// time.Now.
func New(baseDir string, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		baseDir: baseDir,
		now:     now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// ErrBadQuestionnaireID rejects identifiers that would escape baseDir.
var ErrBadQuestionnaireID = errors.New("invalid questionnaire id")

func validateQuestionnaireID(id string) error {
	if id == "" || id == "." || id == ".." {
		return ErrBadQuestionnaireID
	}
	if strings.ContainsAny(id, `/\`) {
		return ErrBadQuestionnaireID
	}
	return nil
}

// Record writes the document source under {type}/{filename}.md in the
// questionnaire's repository and commits it, initializing the repository
// on first use.
func (s *Service) Record(questionnaireID string, docType docgen.DocType, filename, markdown, author string) (CommitInfo, error) {
	if err := validateQuestionnaireID(questionnaireID); err != nil {
		return CommitInfo{}, err
	}
	lock := s.questionnaireLock(questionnaireID)
	lock.Lock()
	defer lock.Unlock()

	repo, created, err := s.ensureRepo(questionnaireID)
	if err != nil {
		return CommitInfo{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	relPath := filepath.Join(string(docType), filename+".md")
	absPath := filepath.Join(worktree.Filesystem.Root(), relPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return CommitInfo{}, fmt.Errorf("create document dir: %w", err)
	}
	if err := os.WriteFile(absPath, []byte(markdown), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write document source: %w", err)
	}
	if _, err := worktree.Add(relPath); err != nil {
		return CommitInfo{}, fmt.Errorf("git add document: %w", err)
	}

	message := fmt.Sprintf("Generate %s %s", docType, filename)
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@attest.local", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit document: %w", err)
	}

	if created {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
			return CommitInfo{}, fmt.Errorf("set main branch ref: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
			return CommitInfo{}, fmt.Errorf("set HEAD to main: %w", err)
		}
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists the questionnaire's generation commits, newest first.
func (s *Service) History(questionnaireID string, limit int) ([]CommitInfo, error) {
	if err := validateQuestionnaireID(questionnaireID); err != nil {
		return nil, err
	}
	lock := s.questionnaireLock(questionnaireID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(questionnaireID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return []CommitInfo{}, nil
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// ContentAt reads one archived document source as of a commit.
func (s *Service) ContentAt(questionnaireID, hash string, docType docgen.DocType, filename string) (string, error) {
	if err := validateQuestionnaireID(questionnaireID); err != nil {
		return "", err
	}
	lock := s.questionnaireLock(questionnaireID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(questionnaireID))
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return "", err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(string(docType) + "/" + filename + ".md")
	if err != nil {
		return "", fmt.Errorf("load document from commit: %w", err)
	}
	content, err := file.Contents()
	if err != nil {
		return "", fmt.Errorf("read document contents: %w", err)
	}
	return content, nil
}

func (s *Service) ensureRepo(questionnaireID string) (*git.Repository, bool, error) {
	path := s.repoPath(questionnaireID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, false, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, false, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func (s *Service) repoPath(questionnaireID string) string {
	return filepath.Join(s.baseDir, questionnaireID)
}

func (s *Service) questionnaireLock(questionnaireID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[questionnaireID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[questionnaireID] = lock
	}
	return lock
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			out = append(out, r)
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
