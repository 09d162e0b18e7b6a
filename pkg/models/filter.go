package models

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/marketscan/listing-engine/pkg/apperrors"
)

// filterDateFormat is the accepted format for scan date range bounds.
const filterDateFormat = "2006-01-02"

// ListingFilter is the wire-level filter object. All fields are optional;
// present fields AND together.
type ListingFilter struct {
	ListingID       *string           `json:"listing_id,omitempty"`
	ScanDateFrom    *string           `json:"scan_date_from,omitempty"`
	ScanDateTo      *string           `json:"scan_date_to,omitempty"`
	IsActive        *bool             `json:"is_active,omitempty"`
	ImageHashes     []string          `json:"image_hashes,omitempty"`
	DatasetEntities map[string]string `json:"dataset_entities,omitempty"`
	// PropertyFilters maps a property id (JSON object keys are strings) to
	// the expected string or boolean value.
	PropertyFilters map[string]any `json:"property_filters,omitempty"`
}

// PropertyFilter is one normalized property predicate: the listing must hold
// exactly this value for this property id.
type PropertyFilter struct {
	PropertyID  int64
	Type        PropertyType
	StringValue string
	BoolValue   bool
}

// ListingQuery is the validated, normalized form of a ListingFilter that the
// query engine consumes. Dates are parsed, property ids are numeric and the
// expected values carry their variant tag.
type ListingQuery struct {
	ListingID       *string
	ScanDateFrom    *time.Time
	ScanDateTo      *time.Time
	IsActive        *bool
	ImageHashes     []string
	DatasetEntities map[string]string
	PropertyFilters []PropertyFilter
}

// Normalize validates the filter and converts it into a ListingQuery.
// Any malformed field fails with a validation error before the store is
// touched.
func (f *ListingFilter) Normalize() (*ListingQuery, error) {
	q := &ListingQuery{
		ListingID:       f.ListingID,
		IsActive:        f.IsActive,
		ImageHashes:     f.ImageHashes,
		DatasetEntities: f.DatasetEntities,
	}

	if f.ScanDateFrom != nil {
		from, err := parseFilterDate(*f.ScanDateFrom, "scan_date_from")
		if err != nil {
			return nil, err
		}
		q.ScanDateFrom = &from
	}
	if f.ScanDateTo != nil {
		to, err := parseFilterDate(*f.ScanDateTo, "scan_date_to")
		if err != nil {
			return nil, err
		}
		q.ScanDateTo = &to
	}

	// Sort property filters by id for deterministic SQL placement.
	ids := make([]string, 0, len(f.PropertyFilters))
	for id := range f.PropertyFilters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		propertyID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: property filter key %q is not a property id", apperrors.ErrValidation, id)
		}
		pf := PropertyFilter{PropertyID: propertyID}
		switch v := f.PropertyFilters[id].(type) {
		case string:
			pf.Type = PropertyTypeString
			pf.StringValue = v
		case bool:
			pf.Type = PropertyTypeBoolean
			pf.BoolValue = v
		default:
			return nil, fmt.Errorf("%w: property filter %s must be a string or boolean, got %T", apperrors.ErrValidation, id, v)
		}
		q.PropertyFilters = append(q.PropertyFilters, pf)
	}

	return q, nil
}

func parseFilterDate(s, field string) (time.Time, error) {
	t, err := time.Parse(filterDateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD, got %q", apperrors.ErrValidation, field, s)
	}
	return t, nil
}
