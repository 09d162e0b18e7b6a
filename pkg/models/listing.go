package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/marketscan/listing-engine/pkg/apperrors"
)

// scanDateFormats are the accepted wire formats for scan_date, most common
// first. RFC3339 covers payloads that carry a zone offset.
var scanDateFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// ScanTime wraps time.Time with the scanner's lenient timestamp parsing.
type ScanTime struct {
	time.Time
}

// UnmarshalJSON tries each accepted format in order.
func (t *ScanTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	for _, format := range scanDateFormats {
		parsed, err := time.Parse(format, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("%w: invalid scan_date format %q", apperrors.ErrValidation, s)
}

// MarshalJSON emits RFC3339, matching response timestamps.
func (t ScanTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Format(time.RFC3339) + `"`), nil
}

// Listing is the stored top-level record. Property values are owned by
// composition and cascade-deleted with the listing; dataset entities are
// referenced weakly through DatasetEntityIDs.
type Listing struct {
	ListingID        string
	ScanDate         time.Time
	IsActive         bool
	ImageHashes      []string
	DatasetEntityIDs []int64

	// Values holds the eager-loaded property values from both value tables.
	Values []PropertyValue
}

// ListingRecord is one incoming listing in an upsert batch.
type ListingRecord struct {
	ListingID   string          `json:"listing_id"`
	ScanDate    ScanTime        `json:"scan_date"`
	IsActive    bool            `json:"is_active"`
	ImageHashes []string        `json:"image_hashes"`
	Properties  []PropertyInput `json:"properties"`
	Entities    []EntityInput   `json:"entities"`
}

// Validate rejects structurally invalid records before any store work.
func (r *ListingRecord) Validate() error {
	if r.ListingID == "" {
		return fmt.Errorf("%w: listing_id is required", apperrors.ErrValidation)
	}
	for i := range r.Properties {
		if err := r.Properties[i].Validate(); err != nil {
			return err
		}
	}
	for i := range r.Entities {
		if r.Entities[i].Name == "" {
			return fmt.Errorf("%w: entity name is required (listing %s)", apperrors.ErrValidation, r.ListingID)
		}
	}
	return nil
}

// PropertyView is the flattened property projection in a listing response,
// merged from both value tables.
type PropertyView struct {
	PropertyID int64 `json:"property_id"`
	Value      any   `json:"value"`
}

// ListingView is the full response projection of a listing.
type ListingView struct {
	ListingID        string         `json:"listing_id"`
	ScanDate         time.Time      `json:"scan_date"`
	IsActive         bool           `json:"is_active"`
	ImageHashes      []string       `json:"image_hashes"`
	DatasetEntityIDs []int64        `json:"dataset_entity_ids"`
	Properties       []PropertyView `json:"properties"`
	Entities         []EntityView   `json:"entities"`
}

// ListingResult is a page of matching listings plus the distinct total
// before pagination.
type ListingResult struct {
	Listings []*ListingView `json:"listings"`
	Total    int            `json:"total"`
}

// UpsertResult reports how an upsert batch was classified.
type UpsertResult struct {
	Inserted int    `json:"inserted"`
	Updated  int    `json:"updated"`
	Message  string `json:"message"`
}

// Summary builds the human-readable message for an upsert response.
func (r *UpsertResult) Summary() string {
	return fmt.Sprintf("%d new listing(s) inserted, %d existing listing(s) updated", r.Inserted, r.Updated)
}
