package model

import (
	"encoding/json"
	"time"
)

// Failure reasons form a closed set shared by every pipeline stage so that
// operators see consistent strings across ingest, validation and export.
const (
	ReasonMissingCustomerIDField = "Missing required field: customerId"
	ReasonDuplicateCustomerID    = "Duplicate customerId"
	ReasonMissingCustomerID      = "Missing customerId"
	ReasonPhoneNotAvailable      = "Phone number not available for customer"
	ReasonInvalidPhoneFormat     = "Invalid phone number format"
)

// ReasonDuplicatePhone builds the duplicate-phone reason naming the customer
// that already holds the number.
func ReasonDuplicatePhone(firstCustomerID string) string {
	return "Duplicate phone number - already assigned to customer " + firstCustomerID
}

// UploadRecord is one spreadsheet row after normalization. A record is
// uniquely identified by (campaignRef, customerId) within a campaign's
// active set; the Deduplicator enforces this, not the store.
type UploadRecord struct {
	ID           string    `json:"id"`
	CampaignRef  string    `json:"campaignRef"`
	CustomerID   string    `json:"customerId"`
	CampaignID   *string   `json:"campaignId,omitempty"`
	CampaignName *string   `json:"campaignName,omitempty"`
	DoNotCall    *bool     `json:"doNotCall,omitempty"`
	UploadedBy   *string   `json:"uploadedBy,omitempty"`
	UploadedAt   time.Time `json:"uploadedAt"`
	IsActive     bool      `json:"isActive"`
	ExcelRow     int       `json:"excelRowNumber"`

	// Enrichment fields, populated by the validation run.
	PhoneNumber    *string         `json:"phoneNumber,omitempty"`
	APIValidated   bool            `json:"apiValidated"`
	APIValidatedAt *time.Time      `json:"apiValidatedAt,omitempty"`
	CustomerData   json.RawMessage `json:"customerData,omitempty"`

	// Export bookkeeping.
	UploadedToDialer   bool       `json:"uploadedToDialer"`
	UploadedToDialerAt *time.Time `json:"uploadedToDialerAt,omitempty"`
	DialerJobID        *string    `json:"dialerJobId,omitempty"`
}

// FailureData is the typed diagnostic payload attached to a FailureRecord.
// It echoes just the fields an operator needs to locate the offending row.
type FailureData struct {
	CustomerID   string            `json:"customerId,omitempty"`
	CampaignID   *string           `json:"campaignId,omitempty"`
	CampaignName *string           `json:"campaignName,omitempty"`
	UploadedBy   *string           `json:"uploadedBy,omitempty"`
	PhoneNumber  string            `json:"phoneNumber,omitempty"`
	RawRow       map[string]string `json:"rawRow,omitempty"`
}

// FailureRecord describes one rejected or problematic row. Ephemeral:
// computed per run and embedded in the ledger or job document, never
// individually addressable.
type FailureRecord struct {
	Row    int         `json:"row"`
	Reason string      `json:"reason"`
	Data   FailureData `json:"data"`
}

// RecordFailureData extracts the diagnostic echo for a persisted record.
func RecordFailureData(rec UploadRecord) FailureData {
	return FailureData{
		CustomerID:   rec.CustomerID,
		CampaignID:   rec.CampaignID,
		CampaignName: rec.CampaignName,
		UploadedBy:   rec.UploadedBy,
	}
}
