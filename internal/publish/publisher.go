// Package publish persists generated document bytes to object storage and
// records the resulting URL against the owning questionnaire. Best-effort:
// delivery of the document to the user never waits on, or fails with,
// this persistence.
package publish

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"attest/api/internal/docgen"
	"attest/api/internal/platform"
	"attest/api/internal/storage"
)

// BlobStore is the slice of object storage the publisher needs.
type BlobStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (storage.UploadedFile, error)
}

// URLBackend records attached-document URLs upstream.
type URLBackend interface {
	AddPolicyURL(ctx context.Context, token, questionnaireID string, record platform.URLRecord) error
	AddProcedureURL(ctx context.Context, token, questionnaireID string, record platform.URLRecord) error
}

type Publisher struct {
	blobs   BlobStore
	backend URLBackend
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(blobs BlobStore, backend URLBackend, now func() time.Time) *Publisher {
	if now == nil {
		now = time.Now
	}
	return &Publisher{
		blobs:    blobs,
		backend:  backend,
		now:      now,
		inflight: make(map[string]struct{}),
	}
}

// objectKey is the deterministic storage path for a generated document.
func objectKey(questionnaireID string, docType docgen.DocType, filename string) string {
	return fmt.Sprintf("questionnaires/%s/%s/%s.pdf", questionnaireID, docType, filename)
}

func markerKey(questionnaireID string, docType docgen.DocType, filename string) string {
	return questionnaireID + "/" + string(docType) + "/" + filename
}

// InFlight reports whether an upload for this document is running, for an
// uploading indicator.
func (p *Publisher) InFlight(questionnaireID string, docType docgen.DocType, filename string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[markerKey(questionnaireID, docType, filename)]
	return ok
}

// UploadAndAttach stores the PDF bytes under the deterministic path and,
// on upload success, records the URL upstream. Every failure in the chain
// is logged and swallowed; the return is the storage descriptor, or nil
// when any step failed. The in-flight marker clears regardless of outcome.
func (p *Publisher) UploadAndAttach(ctx context.Context, token, questionnaireID string, docType docgen.DocType, filename string, pdf []byte, uploadedBy, description string) *storage.UploadedFile {
	marker := markerKey(questionnaireID, docType, filename)
	p.mu.Lock()
	p.inflight[marker] = struct{}{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.inflight, marker)
		p.mu.Unlock()
	}()

	file, err := p.blobs.Upload(ctx, objectKey(questionnaireID, docType, filename), pdf, "application/pdf")
	if err != nil {
		log.Printf("document upload failed for %s/%s/%s: %v", questionnaireID, docType, filename, err)
		return nil
	}

	record := platform.URLRecord{
		Name:        filename,
		URL:         file.URL,
		Version:     "1.0",
		UploadedBy:  uploadedBy,
		Description: description,
		UpdatedAt:   p.now(),
	}
	attach := p.backend.AddPolicyURL
	if docType == docgen.TypeProcedure {
		attach = p.backend.AddProcedureURL
	}
	if err := attach(ctx, token, questionnaireID, record); err != nil {
		log.Printf("url attach failed for %s/%s/%s: %v", questionnaireID, docType, filename, err)
		return nil
	}
	return &file
}
