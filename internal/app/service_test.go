package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
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

type savedAnswer struct {
	questionnaireID string
	section         int
	question        int
	answer          string
	implemented     *bool
}

type fakePlatform struct {
	mu             sync.Mutex
	questionnaires []platform.Questionnaire
	saves          []savedAnswer
	policyURLs     []platform.URLRecord
	procedureURLs  []platform.URLRecord
	failFetch      bool
	failSave       bool
}

func (f *fakePlatform) FetchQuestionnaires(ctx context.Context, token, parentID string) ([]platform.Questionnaire, error) {
	if f.failFetch {
		return nil, errors.New("upstream down")
	}
	return f.questionnaires, nil
}

func (f *fakePlatform) UpdateQuestionAnswer(ctx context.Context, token, questionnaireID string, sectionIndex, questionIndex int, answer string, note *string, implemented *bool) error {
	if f.failSave {
		return errors.New("upstream down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, savedAnswer{questionnaireID, sectionIndex, questionIndex, answer, implemented})
	return nil
}

func (f *fakePlatform) AddPolicyURL(ctx context.Context, token, questionnaireID string, record platform.URLRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policyURLs = append(f.policyURLs, record)
	return nil
}

func (f *fakePlatform) AddProcedureURL(ctx context.Context, token, questionnaireID string, record platform.URLRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procedureURLs = append(f.procedureURLs, record)
	return nil
}

func (f *fakePlatform) GetQuestionnaireURLs(ctx context.Context, token, questionnaireID string) (platform.QuestionnaireURLs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return platform.QuestionnaireURLs{PolicyURLs: f.policyURLs, ProcedureURLs: f.procedureURLs}, nil
}

func (f *fakePlatform) savedAnswers() []savedAnswer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]savedAnswer(nil), f.saves...)
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Upload(ctx context.Context, key string, data []byte, contentType string) (storage.UploadedFile, error) {
	if f.fail {
		return storage.UploadedFile{}, errors.New("storage down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return storage.UploadedFile{Name: key, Key: key, URL: "https://blobs.example/" + key, Size: int64(len(data))}, nil
}

type fakeDocumentLog struct {
	mu   sync.Mutex
	docs map[string][]docgen.Document
}

func newFakeDocumentLog() *fakeDocumentLog {
	return &fakeDocumentLog{docs: make(map[string][]docgen.Document)}
}

func (f *fakeDocumentLog) Append(ctx context.Context, sessionID string, doc docgen.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[sessionID] = append([]docgen.Document{doc}, f.docs[sessionID]...)
	return nil
}

func (f *fakeDocumentLog) Recent(ctx context.Context, sessionID string, limit int) ([]docgen.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs := f.docs[sessionID]
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return append([]docgen.Document(nil), docs...), nil
}

func (f *fakeDocumentLog) Ping(ctx context.Context) error { return nil }

type archivedDoc struct {
	questionnaireID string
	docType         docgen.DocType
	filename        string
	markdown        string
	author          string
}

type fakeArchive struct {
	mu      sync.Mutex
	records []archivedDoc
}

func (f *fakeArchive) Record(questionnaireID string, docType docgen.DocType, filename, markdown, author string) (archive.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, archivedDoc{questionnaireID, docType, filename, markdown, author})
	return archive.CommitInfo{Hash: "abc1234", Message: filename}, nil
}

func (f *fakeArchive) History(questionnaireID string, limit int) ([]archive.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	commits := []archive.CommitInfo{}
	for _, record := range f.records {
		if record.questionnaireID == questionnaireID {
			commits = append(commits, archive.CommitInfo{Hash: "abc1234", Message: record.filename})
		}
	}
	return commits, nil
}

func (f *fakeArchive) ContentAt(questionnaireID, hash string, docType docgen.DocType, filename string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range f.records {
		if record.questionnaireID == questionnaireID && record.docType == docType && record.filename == filename {
			return record.markdown, nil
		}
	}
	return "", errors.New("not archived")
}

type fakeKYC struct {
	mu       sync.Mutex
	clients  map[string]store.Client
	requests map[string]store.DocumentRequest
}

func newFakeKYC() *fakeKYC {
	return &fakeKYC{
		clients:  make(map[string]store.Client),
		requests: make(map[string]store.DocumentRequest),
	}
}

func (f *fakeKYC) CreateClient(ctx context.Context, name, registrationNo, contactEmail string) (store.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	client := store.Client{ID: util.NewID("cli"), Name: name, RegistrationNo: registrationNo, ContactEmail: contactEmail}
	f.clients[client.ID] = client
	return client, nil
}

func (f *fakeKYC) GetClient(ctx context.Context, clientID string) (store.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	client, ok := f.clients[clientID]
	if !ok {
		return store.Client{}, store.ErrNotFound
	}
	return client, nil
}

func (f *fakeKYC) ListClients(ctx context.Context) ([]store.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clients := []store.Client{}
	for _, client := range f.clients {
		clients = append(clients, client)
	}
	return clients, nil
}

func (f *fakeKYC) CreateDocumentRequest(ctx context.Context, clientID, name, description, requestedBy string) (store.DocumentRequest, error) {
	if _, err := f.GetClient(ctx, clientID); err != nil {
		return store.DocumentRequest{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	request := store.DocumentRequest{ID: util.NewID("req"), ClientID: clientID, Name: name, Description: description, Status: store.StatusRequested, RequestedBy: requestedBy}
	f.requests[request.ID] = request
	return request, nil
}

func (f *fakeKYC) GetDocumentRequest(ctx context.Context, requestID string) (store.DocumentRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[requestID]
	if !ok {
		return store.DocumentRequest{}, store.ErrNotFound
	}
	return request, nil
}

func (f *fakeKYC) ListDocumentRequests(ctx context.Context, clientID string) ([]store.DocumentRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	requests := []store.DocumentRequest{}
	for _, request := range f.requests {
		if request.ClientID == clientID {
			requests = append(requests, request)
		}
	}
	return requests, nil
}

func (f *fakeKYC) MarkReceived(ctx context.Context, requestID, objectKey, fileName string, fileSize int64) (store.DocumentRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[requestID]
	if !ok {
		return store.DocumentRequest{}, store.ErrNotFound
	}
	if request.Status != store.StatusRequested && request.Status != store.StatusRejected && request.Status != store.StatusReceived {
		return store.DocumentRequest{}, fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, request.Status, store.StatusReceived)
	}
	request.Status = store.StatusReceived
	request.ObjectKey = objectKey
	request.FileName = fileName
	request.FileSize = fileSize
	f.requests[requestID] = request
	return request, nil
}

func (f *fakeKYC) Verify(ctx context.Context, requestID, reviewedBy, note string) (store.DocumentRequest, error) {
	return f.review(requestID, store.StatusVerified, reviewedBy, note)
}

func (f *fakeKYC) Reject(ctx context.Context, requestID, reviewedBy, note string) (store.DocumentRequest, error) {
	return f.review(requestID, store.StatusRejected, reviewedBy, note)
}

func (f *fakeKYC) review(requestID, to, reviewedBy, note string) (store.DocumentRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[requestID]
	if !ok {
		return store.DocumentRequest{}, store.ErrNotFound
	}
	if request.Status != store.StatusReceived {
		return store.DocumentRequest{}, fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, request.Status, to)
	}
	request.Status = to
	request.ReviewedBy = reviewedBy
	request.ReviewNote = note
	f.requests[requestID] = request
	return request, nil
}

func sampleQuestionnaires() []platform.Questionnaire {
	yes := true
	return []platform.Questionnaire{
		{
			ID:       "q-isqm1",
			Heading:  "ISQM 1",
			Standard: "ISQM 1",
			Category: "Quality Management",
			Owner:    "Quality Partner",
			Sections: []platform.Section{
				{
					Title: "Governance",
					Questions: []platform.Question{
						{Text: "Is ultimate responsibility assigned?", Answer: "Yes.", Implemented: &yes},
						{Text: "Are objectives documented?", Answer: ""},
					},
				},
			},
		},
	}
}

type testEnv struct {
	service  *Service
	platform *fakePlatform
	blobs    *fakeBlobs
	docs     *fakeDocumentLog
	archive  *fakeArchive
	kyc      *fakeKYC
}

func newTestEnv(t *testing.T, printer func(html string, scale float64) ([]byte, error)) *testEnv {
	t.Helper()
	if printer == nil {
		printer = func(html string, scale float64) ([]byte, error) {
			return []byte("%PDF-1.7 test"), nil
		}
	}

	backend := &fakePlatform{questionnaires: sampleQuestionnaires()}
	blobs := newFakeBlobs()
	docs := newFakeDocumentLog()
	arch := &fakeArchive{}
	kyc := newFakeKYC()
	now := func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) }

	service := NewService(Deps{
		Platform:       backend,
		Blobs:          blobs,
		Publisher:      publish.New(blobs, backend, now),
		Renderer:       render.NewWithPrinter(now, printer),
		Documents:      docs,
		Archive:        arch,
		Search:         qsearch.New("", ""),
		KYC:            kyc,
		DebounceWindow: time.Hour,
		Now:            now,
	})
	t.Cleanup(service.Close)

	return &testEnv{service: service, platform: backend, blobs: blobs, docs: docs, archive: arch, kyc: kyc}
}

const testToken = "token-abc"

func loadSession(t *testing.T, env *testEnv) {
	t.Helper()
	if _, err := env.service.LoadQuestionnaires(context.Background(), testToken, "workflow-1"); err != nil {
		t.Fatalf("load questionnaires: %v", err)
	}
}

func TestEditingRequiresLoadedSession(t *testing.T) {
	env := newTestEnv(t, nil)

	err := env.service.UpdateAnswer(testToken, editor.CellKey{QuestionnaireID: "q-isqm1"}, "text")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "SESSION_NOT_LOADED" {
		t.Fatalf("err = %v, want SESSION_NOT_LOADED", err)
	}
}

func TestLoadThenEditAndState(t *testing.T) {
	env := newTestEnv(t, nil)
	loadSession(t, env)

	cell := editor.CellKey{QuestionnaireID: "q-isqm1", Section: 0, Question: 1}
	if err := env.service.UpdateAnswer(testToken, cell, "Objectives are in the manual."); err != nil {
		t.Fatalf("update answer: %v", err)
	}

	answer, _, pending, err := env.service.CellStatus(testToken, cell)
	if err != nil {
		t.Fatalf("cell status: %v", err)
	}
	if answer != "Objectives are in the manual." {
		t.Errorf("effective answer = %q", answer)
	}
	if !pending {
		t.Errorf("pending = false, want true while debounce is armed")
	}

	if err := env.service.UpdateState(context.Background(), testToken, cell, true); err != nil {
		t.Fatalf("update state: %v", err)
	}
	saves := env.platform.savedAnswers()
	if len(saves) != 1 {
		t.Fatalf("saves = %d, want 1 immediate state save", len(saves))
	}
	if saves[0].answer != "Objectives are in the manual." {
		t.Errorf("state save carried answer %q, want the unsaved local edit", saves[0].answer)
	}
	if saves[0].implemented == nil || !*saves[0].implemented {
		t.Errorf("state save implemented = %v", saves[0].implemented)
	}
}

func TestLoadIndexesQuestionsForSearch(t *testing.T) {
	env := newTestEnv(t, nil)
	loadSession(t, env)

	resp, err := env.service.SearchQuestions(qsearch.Query{Text: "ultimate responsibility"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Total != 1 {
		t.Fatalf("total = %d, want 1", resp.Total)
	}
	if resp.Results[0].QuestionnaireID != "q-isqm1" {
		t.Errorf("hit questionnaire = %q", resp.Results[0].QuestionnaireID)
	}
}

func TestGenerateDocumentUploadsAndRecords(t *testing.T) {
	env := newTestEnv(t, nil)
	loadSession(t, env)

	result, err := env.service.GenerateDocument(context.Background(), testToken, GenerateRequest{
		QuestionnaireID: "q-isqm1",
		Type:            docgen.TypePolicy,
		SectionIndex:    docgen.ComprehensiveSection,
		Options:         docgen.Options{UseAnswersInPolicy: true, GeneratePDF: true},
		GeneratedBy:     "partner@firm.example",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if result.File.Tier != render.TierPDF {
		t.Fatalf("tier = %s, want pdf", result.File.Tier)
	}
	if !result.Document.Uploaded || result.Document.URL == "" {
		t.Fatalf("document not uploaded: %+v", result.Document)
	}
	if len(env.platform.policyURLs) != 1 {
		t.Fatalf("policy urls = %d, want 1", len(env.platform.policyURLs))
	}
	if len(env.archive.records) != 1 {
		t.Fatalf("archive records = %d, want 1", len(env.archive.records))
	}
	if !strings.Contains(env.archive.records[0].markdown, "# ISQM 1 Policy") {
		t.Errorf("archived markdown missing title: %q", env.archive.records[0].markdown[:60])
	}

	docs, err := env.service.GeneratedDocuments(context.Background(), testToken, 10)
	if err != nil {
		t.Fatalf("generated documents: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != result.Document.ID {
		t.Fatalf("session list = %+v", docs)
	}
}

func TestGenerateDocumentPDFFailureFallsBackAndSkipsUpload(t *testing.T) {
	env := newTestEnv(t, func(html string, scale float64) ([]byte, error) {
		return nil, errors.New("no chromium")
	})
	loadSession(t, env)

	result, err := env.service.GenerateDocument(context.Background(), testToken, GenerateRequest{
		QuestionnaireID: "q-isqm1",
		Type:            docgen.TypeProcedure,
		SectionIndex:    0,
		Options:         docgen.Options{GeneratePDF: true},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.File.Tier != render.TierHTML {
		t.Fatalf("tier = %s, want html fallback", result.File.Tier)
	}
	if result.Document.Uploaded {
		t.Error("non-PDF result must not be uploaded")
	}
	if len(env.blobs.objects) != 0 {
		t.Errorf("objects stored = %d, want 0", len(env.blobs.objects))
	}
	if len(env.archive.records) != 1 {
		t.Errorf("archive records = %d, markdown is archived regardless of tier", len(env.archive.records))
	}
}

func TestGenerateDocumentRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t, nil)
	loadSession(t, env)

	_, err := env.service.GenerateDocument(context.Background(), testToken, GenerateRequest{
		QuestionnaireID: "q-isqm1",
		Type:            docgen.DocType("memo"),
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_TYPE" {
		t.Fatalf("err = %v, want INVALID_TYPE", err)
	}
}

func TestReceiveKYCDocumentStoresBlobAndTransitions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	client, err := env.service.CreateKYCClient(ctx, "Acme Holdings", "HRB 1", "cfo@acme.example")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	request, err := env.service.CreateKYCRequest(ctx, client.ID, "Certificate of incorporation", "", "partner@firm.example")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	received, err := env.service.ReceiveKYCDocument(ctx, request.ID, "incorporation.pdf", []byte("pdf bytes"), "application/pdf")
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if received.Status != store.StatusReceived {
		t.Fatalf("status = %q", received.Status)
	}

	wantKey := fmt.Sprintf("kyc/%s/%s/incorporation.pdf", client.ID, request.ID)
	if _, ok := env.blobs.objects[wantKey]; !ok {
		t.Fatalf("blob missing at %q, stored: %v", wantKey, env.blobs.objects)
	}

	verified, err := env.service.ReviewKYCDocument(ctx, request.ID, store.StatusVerified, "manager@firm.example", "ok")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if verified.Status != store.StatusVerified {
		t.Fatalf("status = %q", verified.Status)
	}
}

func TestReviewKYCDocumentRejectsUnknownVerdict(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.service.ReviewKYCDocument(context.Background(), "req_x", "approved", "", "")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_VERDICT" {
		t.Fatalf("err = %v, want INVALID_VERDICT", err)
	}
}

func TestReceiveKYCDocumentEmptyUpload(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.service.ReceiveKYCDocument(context.Background(), "req_x", "f.pdf", nil, "application/pdf")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "EMPTY_UPLOAD" {
		t.Fatalf("err = %v, want EMPTY_UPLOAD", err)
	}
}

func TestSessionsAreIsolatedByToken(t *testing.T) {
	env := newTestEnv(t, nil)
	loadSession(t, env)
	if _, err := env.service.LoadQuestionnaires(context.Background(), "other-token", "workflow-1"); err != nil {
		t.Fatalf("load second session: %v", err)
	}

	cell := editor.CellKey{QuestionnaireID: "q-isqm1", Section: 0, Question: 0}
	if err := env.service.UpdateAnswer(testToken, cell, "First session edit."); err != nil {
		t.Fatalf("update answer: %v", err)
	}

	answer, _, _, err := env.service.CellStatus("other-token", cell)
	if err != nil {
		t.Fatalf("cell status: %v", err)
	}
	if answer != "Yes." {
		t.Errorf("second session sees %q, want untouched server value", answer)
	}
}
