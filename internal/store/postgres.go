package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"attest/api/internal/util"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type KYCStore struct {
	db *sql.DB
}

func NewKYCStore(db *sql.DB) *KYCStore {
	return &KYCStore{db: db}
}

func (s *KYCStore) DB() *sql.DB {
	return s.db
}

func (s *KYCStore) CreateClient(ctx context.Context, name, registrationNo, contactEmail string) (Client, error) {
	client := Client{ID: util.NewID("cli")}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO kyc_clients (id, name, registration_no, contact_email)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, registration_no, contact_email, created_at, updated_at
	`, client.ID, name, registrationNo, contactEmail).Scan(
		&client.ID, &client.Name, &client.RegistrationNo, &client.ContactEmail,
		&client.CreatedAt, &client.UpdatedAt,
	)
	if err != nil {
		return Client{}, fmt.Errorf("insert client: %w", err)
	}
	return client, nil
}

func (s *KYCStore) GetClient(ctx context.Context, clientID string) (Client, error) {
	var client Client
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, registration_no, contact_email, created_at, updated_at
		FROM kyc_clients WHERE id=$1
	`, clientID).Scan(
		&client.ID, &client.Name, &client.RegistrationNo, &client.ContactEmail,
		&client.CreatedAt, &client.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Client{}, ErrNotFound
	}
	if err != nil {
		return Client{}, fmt.Errorf("get client: %w", err)
	}
	return client, nil
}

func (s *KYCStore) ListClients(ctx context.Context) ([]Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, registration_no, contact_email, created_at, updated_at
		FROM kyc_clients ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	clients := []Client{}
	for rows.Next() {
		var client Client
		if err := rows.Scan(
			&client.ID, &client.Name, &client.RegistrationNo, &client.ContactEmail,
			&client.CreatedAt, &client.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, client)
	}
	return clients, rows.Err()
}

func (s *KYCStore) CreateDocumentRequest(ctx context.Context, clientID, name, description, requestedBy string) (DocumentRequest, error) {
	if _, err := s.GetClient(ctx, clientID); err != nil {
		return DocumentRequest{}, err
	}

	request := DocumentRequest{ID: util.NewID("req")}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO kyc_document_requests (id, client_id, name, description, requested_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+requestColumns+`
	`, request.ID, clientID, name, description, requestedBy).Scan(requestFields(&request)...)
	if err != nil {
		return DocumentRequest{}, fmt.Errorf("insert document request: %w", err)
	}
	return request, nil
}

func (s *KYCStore) GetDocumentRequest(ctx context.Context, requestID string) (DocumentRequest, error) {
	var request DocumentRequest
	err := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM kyc_document_requests WHERE id=$1
	`, requestID).Scan(requestFields(&request)...)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentRequest{}, ErrNotFound
	}
	if err != nil {
		return DocumentRequest{}, fmt.Errorf("get document request: %w", err)
	}
	return request, nil
}

func (s *KYCStore) ListDocumentRequests(ctx context.Context, clientID string) ([]DocumentRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM kyc_document_requests
		WHERE client_id=$1 ORDER BY created_at
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list document requests: %w", err)
	}
	defer rows.Close()

	requests := []DocumentRequest{}
	for rows.Next() {
		var request DocumentRequest
		if err := rows.Scan(requestFields(&request)...); err != nil {
			return nil, fmt.Errorf("scan document request: %w", err)
		}
		requests = append(requests, request)
	}
	return requests, rows.Err()
}

// MarkReceived records an upload against a request. Valid from the
// requested and rejected states; re-uploads before review overwrite the
// previous object reference.
func (s *KYCStore) MarkReceived(ctx context.Context, requestID, objectKey, fileName string, fileSize int64) (DocumentRequest, error) {
	return s.transition(ctx, requestID, StatusReceived,
		[]string{StatusRequested, StatusRejected, StatusReceived},
		`object_key=$2, file_name=$3, file_size=$4, reviewed_by='', review_note=''`,
		objectKey, fileName, fileSize)
}

func (s *KYCStore) Verify(ctx context.Context, requestID, reviewedBy, note string) (DocumentRequest, error) {
	return s.transition(ctx, requestID, StatusVerified,
		[]string{StatusReceived},
		`reviewed_by=$2, review_note=$3`,
		reviewedBy, note)
}

func (s *KYCStore) Reject(ctx context.Context, requestID, reviewedBy, note string) (DocumentRequest, error) {
	return s.transition(ctx, requestID, StatusRejected,
		[]string{StatusReceived},
		`reviewed_by=$2, review_note=$3`,
		reviewedBy, note)
}

// transition moves a request to a new status. The allowed source
// statuses guard the UPDATE itself, so two concurrent reviews of the
// same request cannot both win. to and from are internal status
// constants, never caller input.
func (s *KYCStore) transition(ctx context.Context, requestID, to string, from []string, set string, args ...any) (DocumentRequest, error) {
	query := fmt.Sprintf(`
		UPDATE kyc_document_requests
		SET status='%s', %s, updated_at=NOW()
		WHERE id=$1 AND status IN (%s)
		RETURNING %s
	`, to, set, quoteStatuses(from), requestColumns)

	var request DocumentRequest
	queryArgs := append([]any{requestID}, args...)
	err := s.db.QueryRowContext(ctx, query, queryArgs...).Scan(requestFields(&request)...)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the request is missing or its status moved on.
		current, getErr := s.GetDocumentRequest(ctx, requestID)
		if getErr != nil {
			return DocumentRequest{}, getErr
		}
		return DocumentRequest{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}
	if err != nil {
		return DocumentRequest{}, fmt.Errorf("update document request: %w", err)
	}
	return request, nil
}

func quoteStatuses(statuses []string) string {
	quoted := make([]string, len(statuses))
	for i, status := range statuses {
		quoted[i] = "'" + status + "'"
	}
	return strings.Join(quoted, ", ")
}

const requestColumns = `id, client_id, name, description, status, object_key, file_name, file_size, requested_by, reviewed_by, review_note, created_at, updated_at`

func requestFields(r *DocumentRequest) []any {
	return []any{
		&r.ID, &r.ClientID, &r.Name, &r.Description, &r.Status,
		&r.ObjectKey, &r.FileName, &r.FileSize,
		&r.RequestedBy, &r.ReviewedBy, &r.ReviewNote,
		&r.CreatedAt, &r.UpdatedAt,
	}
}
