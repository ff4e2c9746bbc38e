package store

import "time"

// Document request lifecycle. Transitions are validated in the store:
// requested -> received -> verified or rejected; rejected -> requested
// when the firm asks the client to resubmit.
const (
	StatusRequested = "requested"
	StatusReceived  = "received"
	StatusVerified  = "verified"
	StatusRejected  = "rejected"
)

type Client struct {
	ID             string
	Name           string
	RegistrationNo string
	ContactEmail   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type DocumentRequest struct {
	ID          string
	ClientID    string
	Name        string
	Description string
	Status      string
	ObjectKey   string
	FileName    string
	FileSize    int64
	RequestedBy string
	ReviewedBy  string
	ReviewNote  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
