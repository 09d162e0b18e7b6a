package handlers

import (
	"context"

	"github.com/marketscan/listing-engine/pkg/models"
)

// mockListingService is a configurable mock for all handler tests.
type mockListingService struct {
	upsertResult *models.UpsertResult
	queryResult  *models.ListingResult
	view         *models.ListingView
	deleted      bool
	err          error

	// captured arguments
	gotRecords []models.ListingRecord
	gotFilter  *models.ListingFilter
	gotPage    int
	gotLimit   int
	gotID      string
}

func (m *mockListingService) Upsert(ctx context.Context, records []models.ListingRecord) (*models.UpsertResult, error) {
	m.gotRecords = records
	if m.err != nil {
		return nil, m.err
	}
	if m.upsertResult != nil {
		return m.upsertResult, nil
	}
	return &models.UpsertResult{}, nil
}

func (m *mockListingService) Query(ctx context.Context, filter *models.ListingFilter, page, limit int) (*models.ListingResult, error) {
	m.gotFilter = filter
	m.gotPage = page
	m.gotLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	if m.queryResult != nil {
		return m.queryResult, nil
	}
	return &models.ListingResult{Listings: []*models.ListingView{}}, nil
}

func (m *mockListingService) GetByID(ctx context.Context, listingID string) (*models.ListingView, error) {
	m.gotID = listingID
	if m.err != nil {
		return nil, m.err
	}
	if m.view != nil {
		return m.view, nil
	}
	return &models.ListingView{ListingID: listingID}, nil
}

func (m *mockListingService) Delete(ctx context.Context, listingID string) (bool, error) {
	m.gotID = listingID
	return m.deleted, m.err
}
