package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Document statuses
const (
	StatusPending   = "Pending"
	StatusApproved  = "Approved"
	StatusRejected  = "Rejected"
	StatusUploaded  = "Uploaded"
	StatusResubmit  = "Resubmit"
	StatusSent      = "Sent"
	StatusReceived  = "Received"
	StatusCompleted = "Completed"
)

// Document represents one certification application
type Document struct {
	DocumentID            int             `json:"document_id" db:"document_id"`
	UserID                int             `json:"user_id" db:"user_id"`
	CategoryID            int             `json:"category_id" db:"category_id"`
	CategoryName          string          `json:"category_name" db:"category_name"`
	SubcategoryID         int             `json:"subcategory_id" db:"subcategory_id"`
	SubcategoryName       string          `json:"subcategory_name" db:"subcategory_name"`
	Name                  string          `json:"name" db:"name"`
	Email                 string          `json:"email" db:"email"`
	Phone                 string          `json:"phone" db:"phone"`
	Address               string          `json:"address" db:"address"`
	ApplicationID         string          `json:"application_id" db:"application_id"`
	Files                 DocumentFiles   `json:"documents" db:"documents"`
	DocumentFields        Metadata        `json:"document_fields" db:"document_fields"`
	Status                string          `json:"status" db:"status"`
	DistributorID         *int            `json:"distributor_id" db:"distributor_id"`
	RejectionReason       *string         `json:"rejection_reason" db:"rejection_reason"`
	SelectedDocumentNames StringList      `json:"selected_document_names" db:"selected_document_names"`
	ReceiptURL            *string         `json:"receipt_url" db:"receipt_url"`
	Remark                string          `json:"remark" db:"remark"`
	StatusHistory         StatusHistory   `json:"status_history" db:"status_history"`
	StatusUpdatedAt       time.Time       `json:"status_updated_at" db:"status_updated_at"`
	UploadedAt            time.Time       `json:"uploaded_at" db:"uploaded_at"`
}

// DocumentFile is one attached file slot within an application
type DocumentFile struct {
	DocumentType string `json:"document_type"`
	FilePath     string `json:"file_path"`
	Mimetype     string `json:"mimetype"`
	IsReceipt    bool   `json:"is_receipt,omitempty"`
}

// StatusEvent is a single entry of a document's audit trail
type StatusEvent struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusHistory is the append-only list of every status a document
// has passed through, oldest first. The last entry always mirrors the
// document's current status.
type StatusHistory []StatusEvent

// Append records a transition. It never modifies existing entries.
func (h StatusHistory) Append(status string, at time.Time) StatusHistory {
	return append(h, StatusEvent{Status: status, UpdatedAt: at})
}

// Value implements driver.Valuer for StatusHistory
func (h StatusHistory) Value() (driver.Value, error) {
	if h == nil {
		return json.Marshal(StatusHistory{})
	}
	return json.Marshal(h)
}

// Scan implements sql.Scanner for StatusHistory
func (h *StatusHistory) Scan(value any) error {
	return scanJSON(value, h)
}

// DocumentFiles is the JSON column holding attached file slots
type DocumentFiles []DocumentFile

// Value implements driver.Valuer for DocumentFiles
func (f DocumentFiles) Value() (driver.Value, error) {
	if f == nil {
		return json.Marshal(DocumentFiles{})
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner for DocumentFiles
func (f *DocumentFiles) Scan(value any) error {
	return scanJSON(value, f)
}

// StringList is a nullable JSON array of strings
type StringList []string

// Value implements driver.Valuer for StringList
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for StringList
func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	return scanJSON(value, l)
}

// Metadata type for JSONB fields
type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	return scanJSON(value, m)
}

func scanJSON(value, dest any) error {
	b, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return errors.New("type assertion to []byte failed")
		}
		b = []byte(s)
	}
	return json.Unmarshal(b, dest)
}

// ValidStatus reports whether s is a known document status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusUploaded,
		StatusResubmit, StatusSent, StatusReceived, StatusCompleted:
		return true
	}
	return false
}
