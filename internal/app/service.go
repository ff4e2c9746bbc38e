package app

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"attest/api/internal/archive"
	"attest/api/internal/docgen"
	"attest/api/internal/editor"
	"attest/api/internal/platform"
	"attest/api/internal/publish"
	"attest/api/internal/qsearch"
	"attest/api/internal/render"
	"attest/api/internal/storage"
	"attest/api/internal/store"
	"attest/api/internal/util"
)

// PlatformAPI is the slice of the upstream workflow platform the service
// talks to. Satisfied by platform.Client.
type PlatformAPI interface {
	FetchQuestionnaires(ctx context.Context, token, parentID string) ([]platform.Questionnaire, error)
	UpdateQuestionAnswer(ctx context.Context, token, questionnaireID string, sectionIndex, questionIndex int, answer string, note *string, implemented *bool) error
	AddPolicyURL(ctx context.Context, token, questionnaireID string, record platform.URLRecord) error
	AddProcedureURL(ctx context.Context, token, questionnaireID string, record platform.URLRecord) error
	GetQuestionnaireURLs(ctx context.Context, token, questionnaireID string) (platform.QuestionnaireURLs, error)
}

// DocumentLog keeps the per-session recency list of generated documents.
// Satisfied by docsession.RedisStore.
type DocumentLog interface {
	Append(ctx context.Context, sessionID string, doc docgen.Document) error
	Recent(ctx context.Context, sessionID string, limit int) ([]docgen.Document, error)
	Ping(ctx context.Context) error
}

// Archivist versions generated markdown. Satisfied by archive.Service.
type Archivist interface {
	Record(questionnaireID string, docType docgen.DocType, filename, markdown, author string) (archive.CommitInfo, error)
	History(questionnaireID string, limit int) ([]archive.CommitInfo, error)
	ContentAt(questionnaireID, hash string, docType docgen.DocType, filename string) (string, error)
}

// ObjectStore holds uploaded blobs. Satisfied by storage.Store.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (storage.UploadedFile, error)
}

// KYCRegistry is the client document-collection store. Satisfied by
// store.KYCStore.
type KYCRegistry interface {
	CreateClient(ctx context.Context, name, registrationNo, contactEmail string) (store.Client, error)
	GetClient(ctx context.Context, clientID string) (store.Client, error)
	ListClients(ctx context.Context) ([]store.Client, error)
	CreateDocumentRequest(ctx context.Context, clientID, name, description, requestedBy string) (store.DocumentRequest, error)
	GetDocumentRequest(ctx context.Context, requestID string) (store.DocumentRequest, error)
	ListDocumentRequests(ctx context.Context, clientID string) ([]store.DocumentRequest, error)
	MarkReceived(ctx context.Context, requestID, objectKey, fileName string, fileSize int64) (store.DocumentRequest, error)
	Verify(ctx context.Context, requestID, reviewedBy, note string) (store.DocumentRequest, error)
	Reject(ctx context.Context, requestID, reviewedBy, note string) (store.DocumentRequest, error)
}

// Deps collects the service's collaborators. Nil optional members
// (DocumentLog, KYC, Search, DB) disable the matching feature instead of
// failing startup.
type Deps struct {
	Platform  PlatformAPI
	Blobs     ObjectStore
	Publisher *publish.Publisher
	Renderer  *render.Renderer
	Documents DocumentLog
	Archive   Archivist
	Search    *qsearch.Service
	KYC       KYCRegistry
	DB        *sql.DB

	DebounceWindow time.Duration
	Now            func() time.Time
}

type Service struct {
	deps      Deps
	formatter *docgen.Formatter
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*editor.Editor
}

func NewService(deps Deps) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		deps:      deps,
		formatter: docgen.NewFormatter(now),
		now:       now,
		sessions:  make(map[string]*editor.Editor),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if s.deps.DB != nil {
		if err := s.deps.DB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if s.deps.Documents != nil {
		if err := s.deps.Documents.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// SessionID derives a stable editing-session identifier from the bearer
// token. The raw token never appears in Redis keys or logs.
func SessionID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

func (s *Service) session(token string) *editor.Editor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[SessionID(token)]
}

func (s *Service) sessionOrError(token string) (*editor.Editor, error) {
	ed := s.session(token)
	if ed == nil || !ed.Loaded() {
		return nil, domainError(409, "SESSION_NOT_LOADED", "Load questionnaires before editing", nil)
	}
	return ed, nil
}

// LoadQuestionnaires fetches the questionnaire trees from the platform
// and installs them in the caller's editing session. Safe to call again
// for a background refresh; unsaved local edits survive the reload.
func (s *Service) LoadQuestionnaires(ctx context.Context, token, parentID string) ([]platform.Questionnaire, error) {
	questionnaires, err := s.deps.Platform.FetchQuestionnaires(ctx, token, parentID)
	if err != nil {
		return nil, fmt.Errorf("fetch questionnaires: %w", err)
	}

	id := SessionID(token)
	s.mu.Lock()
	ed, ok := s.sessions[id]
	if !ok {
		ed = editor.New(s.deps.Platform, token, s.deps.DebounceWindow)
		s.sessions[id] = ed
	}
	s.mu.Unlock()
	ed.Load(questionnaires)

	if s.deps.Search != nil {
		for _, q := range questionnaires {
			s.deps.Search.IndexQuestionnaire(q)
		}
	}

	return ed.Questionnaires(), nil
}

func (s *Service) Questionnaires(token string) ([]platform.Questionnaire, error) {
	ed, err := s.sessionOrError(token)
	if err != nil {
		return nil, err
	}
	return ed.Questionnaires(), nil
}

func (s *Service) Questionnaire(token, questionnaireID string) (platform.Questionnaire, error) {
	ed, err := s.sessionOrError(token)
	if err != nil {
		return platform.Questionnaire{}, err
	}
	q, err := ed.Questionnaire(questionnaireID)
	if err != nil {
		return platform.Questionnaire{}, domainError(404, "NOT_FOUND", err.Error(), nil)
	}
	return q, nil
}

// UpdateAnswer applies a keystroke: local write now, upstream save after
// the debounce window.
func (s *Service) UpdateAnswer(token string, cell editor.CellKey, text string) error {
	ed, err := s.sessionOrError(token)
	if err != nil {
		return err
	}
	if err := ed.UpdateAnswer(cell, text); err != nil {
		return domainError(404, "UNKNOWN_CELL", err.Error(), nil)
	}
	return nil
}

func (s *Service) UpdateState(ctx context.Context, token string, cell editor.CellKey, implemented bool) error {
	ed, err := s.sessionOrError(token)
	if err != nil {
		return err
	}
	if err := ed.UpdateState(ctx, cell, implemented); err != nil {
		return domainError(502, "SAVE_FAILED", err.Error(), nil)
	}
	return nil
}

func (s *Service) SaveSection(ctx context.Context, token, questionnaireID string, section int) error {
	ed, err := s.sessionOrError(token)
	if err != nil {
		return err
	}
	if err := ed.SaveSection(ctx, questionnaireID, section); err != nil {
		return domainError(502, "SAVE_FAILED", err.Error(), nil)
	}
	return nil
}

func (s *Service) CellStatus(token string, cell editor.CellKey) (answer string, implemented *bool, pending bool, err error) {
	ed, err := s.sessionOrError(token)
	if err != nil {
		return "", nil, false, err
	}
	answer, aErr := ed.EffectiveAnswer(cell)
	if aErr != nil {
		return "", nil, false, domainError(404, "UNKNOWN_CELL", aErr.Error(), nil)
	}
	implemented, _ = ed.EffectiveState(cell)
	return answer, implemented, ed.Pending(cell), nil
}

// GenerateRequest selects what to generate.
type GenerateRequest struct {
	QuestionnaireID string
	Type            docgen.DocType
	SectionIndex    int // docgen.ComprehensiveSection for the whole questionnaire
	Options         docgen.Options
	GeneratedBy     string
	Description     string
}

// GenerateResult pairs the session record with the produced file.
type GenerateResult struct {
	Document docgen.Document
	File     *render.Result
}

// GenerateDocument produces a policy or procedure from the caller's
// merged questionnaire view. The file is always delivered; object-storage
// upload and URL attachment are best effort, and the markdown is
// committed to the archive for versioning.
func (s *Service) GenerateDocument(ctx context.Context, token string, req GenerateRequest) (GenerateResult, error) {
	ed, err := s.sessionOrError(token)
	if err != nil {
		return GenerateResult{}, err
	}
	if req.Type != docgen.TypePolicy && req.Type != docgen.TypeProcedure {
		return GenerateResult{}, domainError(400, "INVALID_TYPE", fmt.Sprintf("unknown document type %q", req.Type), nil)
	}

	q, err := ed.Questionnaire(req.QuestionnaireID)
	if err != nil {
		return GenerateResult{}, domainError(404, "NOT_FOUND", err.Error(), nil)
	}

	in, err := docgen.InputFrom(q, req.SectionIndex)
	if err != nil {
		return GenerateResult{}, domainError(400, "INVALID_SECTION", err.Error(), nil)
	}

	var markdown string
	switch req.Type {
	case docgen.TypePolicy:
		markdown = s.formatter.Policy(in, req.Options)
	case docgen.TypeProcedure:
		markdown = s.formatter.Procedure(in, req.Options)
	}

	meta := render.Meta{Title: documentTitle(q.Heading, in.SectionTitle, req.Type), DocType: docTypeLabel(req.Type)}
	var file *render.Result
	if req.Options.GeneratePDF {
		file = s.deps.Renderer.Render(meta, markdown)
	} else {
		file = s.deps.Renderer.RenderHTMLOnly(meta, markdown)
	}

	doc := docgen.Document{
		ID:              util.NewID("doc"),
		Name:            file.Filename,
		Type:            req.Type,
		QuestionnaireID: req.QuestionnaireID,
		SectionIndex:    req.SectionIndex,
		Content:         markdown,
		GeneratedAt:     s.now(),
	}

	if file.Tier == render.TierPDF && s.deps.Publisher != nil {
		uploaded := s.deps.Publisher.UploadAndAttach(ctx, token, req.QuestionnaireID, req.Type, baseName(file.Filename), file.Data, req.GeneratedBy, req.Description)
		if uploaded != nil {
			doc.URL = uploaded.URL
			doc.Uploaded = true
		}
	}

	if s.deps.Archive != nil {
		if _, err := s.deps.Archive.Record(req.QuestionnaireID, req.Type, baseName(file.Filename), markdown, req.GeneratedBy); err != nil {
			log.Printf("archive: record %s/%s: %v", req.QuestionnaireID, file.Filename, err)
		}
	}

	if s.deps.Documents != nil {
		if err := s.deps.Documents.Append(ctx, SessionID(token), doc); err != nil {
			log.Printf("docsession: append %s: %v", doc.ID, err)
		}
	}

	return GenerateResult{Document: doc, File: file}, nil
}

func (s *Service) GeneratedDocuments(ctx context.Context, token string, limit int) ([]docgen.Document, error) {
	if s.deps.Documents == nil {
		return []docgen.Document{}, nil
	}
	docs, err := s.deps.Documents.Recent(ctx, SessionID(token), limit)
	if err != nil {
		return nil, fmt.Errorf("recent documents: %w", err)
	}
	return docs, nil
}

func (s *Service) QuestionnaireURLs(ctx context.Context, token, questionnaireID string) (platform.QuestionnaireURLs, error) {
	urls, err := s.deps.Platform.GetQuestionnaireURLs(ctx, token, questionnaireID)
	if err != nil {
		return platform.QuestionnaireURLs{}, fmt.Errorf("questionnaire urls: %w", err)
	}
	return urls, nil
}

func (s *Service) ArchiveHistory(questionnaireID string, limit int) ([]archive.CommitInfo, error) {
	if s.deps.Archive == nil {
		return []archive.CommitInfo{}, nil
	}
	return s.deps.Archive.History(questionnaireID, limit)
}

func (s *Service) ArchiveContent(questionnaireID, hash string, docType docgen.DocType, filename string) (string, error) {
	if s.deps.Archive == nil {
		return "", domainError(404, "NOT_FOUND", "archive disabled", nil)
	}
	content, err := s.deps.Archive.ContentAt(questionnaireID, hash, docType, filename)
	if err != nil {
		return "", domainError(404, "NOT_FOUND", err.Error(), nil)
	}
	return content, nil
}

func (s *Service) SearchQuestions(q qsearch.Query) (qsearch.Response, error) {
	if s.deps.Search == nil {
		return qsearch.Response{Results: []qsearch.Result{}, Query: q.Text}, nil
	}
	return s.deps.Search.Search(q)
}

// FlushSession pushes every unsaved edit upstream immediately, ignoring
// debounce windows. Used when the client signals the workflow is closing.
func (s *Service) FlushSession(token string) error {
	ed, err := s.sessionOrError(token)
	if err != nil {
		return err
	}
	ed.Flush()
	return nil
}

func (s *Service) CloseSession(token string) {
	id := SessionID(token)
	s.mu.Lock()
	ed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ed != nil {
		ed.Close()
	}
}

// Close flushes and tears down every live editing session.
func (s *Service) Close() {
	s.mu.Lock()
	sessions := make([]*editor.Editor, 0, len(s.sessions))
	for _, ed := range s.sessions {
		sessions = append(sessions, ed)
	}
	s.sessions = make(map[string]*editor.Editor)
	s.mu.Unlock()
	for _, ed := range sessions {
		ed.Close()
	}
}

func documentTitle(heading, sectionTitle string, docType docgen.DocType) string {
	title := heading
	if sectionTitle != "" {
		title += " - " + sectionTitle
	}
	return title + " " + docTypeLabel(docType)
}

func docTypeLabel(docType docgen.DocType) string {
	if docType == docgen.TypeProcedure {
		return "Procedure"
	}
	return "Policy"
}

func baseName(filename string) string {
	if i := strings.LastIndex(filename, "."); i > 0 {
		return filename[:i]
	}
	return filename
}

func (s *Service) kycOrError() (KYCRegistry, error) {
	if s.deps.KYC == nil {
		return nil, domainError(503, "KYC_UNAVAILABLE", "KYC store not configured", nil)
	}
	return s.deps.KYC, nil
}

func (s *Service) CreateKYCClient(ctx context.Context, name, registrationNo, contactEmail string) (store.Client, error) {
	kyc, err := s.kycOrError()
	if err != nil {
		return store.Client{}, err
	}
	if strings.TrimSpace(name) == "" {
		return store.Client{}, domainError(400, "INVALID_BODY", "client name is required", nil)
	}
	return kyc.CreateClient(ctx, name, registrationNo, contactEmail)
}

func (s *Service) ListKYCClients(ctx context.Context) ([]store.Client, error) {
	kyc, err := s.kycOrError()
	if err != nil {
		return nil, err
	}
	return kyc.ListClients(ctx)
}

func (s *Service) CreateKYCRequest(ctx context.Context, clientID, name, description, requestedBy string) (store.DocumentRequest, error) {
	kyc, err := s.kycOrError()
	if err != nil {
		return store.DocumentRequest{}, err
	}
	if strings.TrimSpace(name) == "" {
		return store.DocumentRequest{}, domainError(400, "INVALID_BODY", "document name is required", nil)
	}
	return kyc.CreateDocumentRequest(ctx, clientID, name, description, requestedBy)
}

func (s *Service) ListKYCRequests(ctx context.Context, clientID string) ([]store.DocumentRequest, error) {
	kyc, err := s.kycOrError()
	if err != nil {
		return nil, err
	}
	if _, err := kyc.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	return kyc.ListDocumentRequests(ctx, clientID)
}

// ReceiveKYCDocument stores an uploaded client document and marks the
// request received. Unlike generated-document publishing this is not best
// effort: the caller needs to know the upload stuck.
func (s *Service) ReceiveKYCDocument(ctx context.Context, requestID, filename string, data []byte, contentType string) (store.DocumentRequest, error) {
	kyc, err := s.kycOrError()
	if err != nil {
		return store.DocumentRequest{}, err
	}
	if len(data) == 0 {
		return store.DocumentRequest{}, domainError(400, "EMPTY_UPLOAD", "uploaded file is empty", nil)
	}

	request, err := kyc.GetDocumentRequest(ctx, requestID)
	if err != nil {
		return store.DocumentRequest{}, err
	}

	key := fmt.Sprintf("kyc/%s/%s/%s", request.ClientID, request.ID, filename)
	if _, err := s.deps.Blobs.Upload(ctx, key, data, contentType); err != nil {
		return store.DocumentRequest{}, fmt.Errorf("store kyc upload: %w", err)
	}

	return kyc.MarkReceived(ctx, requestID, key, filename, int64(len(data)))
}

func (s *Service) ReviewKYCDocument(ctx context.Context, requestID, verdict, reviewedBy, note string) (store.DocumentRequest, error) {
	kyc, err := s.kycOrError()
	if err != nil {
		return store.DocumentRequest{}, err
	}
	switch verdict {
	case store.StatusVerified:
		return kyc.Verify(ctx, requestID, reviewedBy, note)
	case store.StatusRejected:
		return kyc.Reject(ctx, requestID, reviewedBy, note)
	default:
		return store.DocumentRequest{}, domainError(400, "INVALID_VERDICT", fmt.Sprintf("verdict must be %q or %q", store.StatusVerified, store.StatusRejected), nil)
	}
}
