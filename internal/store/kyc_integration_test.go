package store

import (
	"context"
	"errors"
	"os"
	"testing"
)

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping integration test")
	}
	return url
}

func openTestStore(t *testing.T) *KYCStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewKYCStore(db)
}

func TestDocumentRequestLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	client, err := s.CreateClient(ctx, "Acme Holdings", "HRB 12345", "cfo@acme.example")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	request, err := s.CreateDocumentRequest(ctx, client.ID, "Certificate of incorporation", "Certified copy, no older than 3 months", "partner@firm.example")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if request.Status != StatusRequested {
		t.Fatalf("new request status = %q, want %q", request.Status, StatusRequested)
	}

	received, err := s.MarkReceived(ctx, request.ID, "kyc/"+client.ID+"/incorporation.pdf", "incorporation.pdf", 204800)
	if err != nil {
		t.Fatalf("mark received: %v", err)
	}
	if received.Status != StatusReceived || received.ObjectKey == "" {
		t.Fatalf("received = %+v", received)
	}

	verified, err := s.Verify(ctx, request.ID, "manager@firm.example", "Matches register extract")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Status != StatusVerified || verified.ReviewedBy != "manager@firm.example" {
		t.Fatalf("verified = %+v", verified)
	}
}

func TestVerifyRequiresReceivedState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	client, err := s.CreateClient(ctx, "Beispiel GmbH", "", "")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	request, err := s.CreateDocumentRequest(ctx, client.ID, "Shareholder register", "", "")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	if _, err := s.Verify(ctx, request.ID, "manager@firm.example", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("verify before upload: err = %v, want ErrInvalidTransition", err)
	}
}

func TestRejectedRequestAcceptsResubmission(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	client, err := s.CreateClient(ctx, "Resubmit Ltd", "", "")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	request, err := s.CreateDocumentRequest(ctx, client.ID, "Proof of address", "", "")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	if _, err := s.MarkReceived(ctx, request.ID, "kyc/x/v1.pdf", "v1.pdf", 100); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	rejected, err := s.Reject(ctx, request.ID, "manager@firm.example", "Document expired")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.ReviewNote != "Document expired" {
		t.Fatalf("review note = %q", rejected.ReviewNote)
	}

	resubmitted, err := s.MarkReceived(ctx, request.ID, "kyc/x/v2.pdf", "v2.pdf", 120)
	if err != nil {
		t.Fatalf("resubmission: %v", err)
	}
	if resubmitted.Status != StatusReceived || resubmitted.ReviewNote != "" {
		t.Fatalf("resubmitted = %+v", resubmitted)
	}
}

func TestSecondReviewLosesTheRace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	client, err := s.CreateClient(ctx, "Doppelt GmbH", "", "")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	request, err := s.CreateDocumentRequest(ctx, client.ID, "Articles of association", "", "")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := s.MarkReceived(ctx, request.ID, "kyc/x/articles.pdf", "articles.pdf", 100); err != nil {
		t.Fatalf("upload: %v", err)
	}

	if _, err := s.Verify(ctx, request.ID, "manager@firm.example", ""); err != nil {
		t.Fatalf("first review: %v", err)
	}
	// The row is no longer in the received state, so a competing review
	// must match zero rows and report the conflict.
	if _, err := s.Reject(ctx, request.ID, "partner@firm.example", "late"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second review: err = %v, want ErrInvalidTransition", err)
	}

	final, err := s.GetDocumentRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if final.Status != StatusVerified {
		t.Fatalf("status = %q, want %q", final.Status, StatusVerified)
	}
}

func TestGetDocumentRequestNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetDocumentRequest(context.Background(), "req_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
