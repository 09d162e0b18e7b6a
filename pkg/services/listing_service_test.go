//go:build integration

package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/marketscan/listing-engine/pkg/apperrors"
	"github.com/marketscan/listing-engine/pkg/models"
	"github.com/marketscan/listing-engine/pkg/repositories"
	"github.com/marketscan/listing-engine/pkg/testhelpers"
)

func newTestService() ListingService {
	return NewListingService(
		repositories.NewListingRepository(),
		repositories.NewPropertyRepository(),
		repositories.NewDatasetEntityRepository(),
		zap.NewNop(),
	)
}

func scanTime(s string) models.ScanTime {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		panic(err)
	}
	return models.ScanTime{Time: t}
}

func sampleRecord(id string) models.ListingRecord {
	return models.ListingRecord{
		ListingID:   id,
		ScanDate:    scanTime("2025-06-15 10:30:00"),
		IsActive:    true,
		ImageHashes: []string{"hash1", "hash2"},
		Properties: []models.PropertyInput{
			{Name: "color", Type: models.PropertyTypeString, Value: "red"},
			{Name: "furnished", Type: models.PropertyTypeBoolean, Value: true},
		},
		Entities: []models.EntityInput{
			{Name: "seller-42", Data: map[string]any{"city": "Vilnius"}},
		},
	}
}

func TestListingService_Upsert_InsertThenUpdate(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	testhelpers.TruncateListings(t, testDB.DB)

	ctx, cleanup := testhelpers.ScopedContext(t, testDB.DB)
	defer cleanup()

	svc := newTestService()

	result, err := svc.Upsert(ctx, []models.ListingRecord{sampleRecord("123")})
	if err != nil {
		t.Fatalf("insert upsert failed: %v", err)
	}
	if result.Inserted != 1 || result.Updated != 0 {
		t.Fatalf("expected 1 insert, got %+v", result)
	}
	if result.Message != "1 new listing(s) inserted, 0 existing listing(s) updated" {
		t.Fatalf("unexpected message: %q", result.Message)
	}

	view, err := svc.GetByID(ctx, "123")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !view.IsActive || len(view.ImageHashes) != 2 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if len(view.Properties) != 2 {
		t.Fatalf("expected 2 properties, got %d", len(view.Properties))
	}
	if len(view.Entities) != 1 || view.Entities[0].Name != "seller-42" {
		t.Fatalf("unexpected entities: %+v", view.Entities)
	}

	// Second upsert of the same id classifies as update and fully replaces
	// the property set.
	updated := sampleRecord("123")
	updated.IsActive = false
	updated.Properties = []models.PropertyInput{
		{Name: "rooms", Type: models.PropertyTypeString, Value: "3"},
	}

	result, err = svc.Upsert(ctx, []models.ListingRecord{updated})
	if err != nil {
		t.Fatalf("update upsert failed: %v", err)
	}
	if result.Inserted != 0 || result.Updated != 1 {
		t.Fatalf("expected 1 update, got %+v", result)
	}

	view, err = svc.GetByID(ctx, "123")
	if err != nil {
		t.Fatalf("get after update failed: %v", err)
	}
	if view.IsActive {
		t.Fatal("expected is_active overwritten to false")
	}
	if len(view.Properties) != 1 {
		t.Fatalf("old properties must not survive, got %d", len(view.Properties))
	}
	if view.Properties[0].Value != "3" {
		t.Fatalf("unexpected property value: %v", view.Properties[0].Value)
	}
}

func TestListingService_Upsert_MixedBatch(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	testhelpers.TruncateListings(t, testDB.DB)

	ctx, cleanup := testhelpers.ScopedContext(t, testDB.DB)
	defer cleanup()

	svc := newTestService()

	if _, err := svc.Upsert(ctx, []models.ListingRecord{sampleRecord("a")}); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}

	result, err := svc.Upsert(ctx, []models.ListingRecord{
		sampleRecord("a"),
		sampleRecord("b"),
		sampleRecord("c"),
	})
	if err != nil {
		t.Fatalf("mixed upsert failed: %v", err)
	}
	if result.Inserted != 2 || result.Updated != 1 {
		t.Fatalf("expected 2 inserts and 1 update, got %+v", result)
	}
}

func TestListingService_Upsert_EmptyBatch(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	testhelpers.TruncateListings(t, testDB.DB)

	ctx, cleanup := testhelpers.ScopedContext(t, testDB.DB)
	defer cleanup()

	result, err := newTestService().Upsert(ctx, nil)
	if err != nil {
		t.Fatalf("empty upsert failed: %v", err)
	}
	if result.Inserted != 0 || result.Updated != 0 {
		t.Fatalf("expected zero counts, got %+v", result)
	}
}

func TestListingService_Upsert_RejectsInvalidRecordBeforeWriting(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	testhelpers.TruncateListings(t, testDB.DB)

	ctx, cleanup := testhelpers.ScopedContext(t, testDB.DB)
	defer cleanup()

	svc := newTestService()

	bad := sampleRecord("")
	_, err := svc.Upsert(ctx, []models.ListingRecord{sampleRecord("good"), bad})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	// Validation happens before any store work, so the valid record in the
	// same batch must not have been written either.
	_, err = svc.GetByID(ctx, "good")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected no listing written, got %v", err)
	}
}

func TestListingService_Upsert_EntityDataSupersededAcrossBatches(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	testhelpers.TruncateListings(t, testDB.DB)

	ctx, cleanup := testhelpers.ScopedContext(t, testDB.DB)
	defer cleanup()

	svc := newTestService()

	first := sampleRecord("123")
	first.Entities = []models.EntityInput{{Name: "seller-42", Data: map[string]any{"city": "Vilnius"}}}
	if _, err := svc.Upsert(ctx, []models.ListingRecord{first}); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	second := sampleRecord("456")
	second.Entities = []models.EntityInput{{Name: "seller-42", Data: map[string]any{"city": "Kaunas"}}}
	if _, err := svc.Upsert(ctx, []models.ListingRecord{second}); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	// Both listings reference the same entity row; the later data is what
	// either of them resolves to.
	for _, id := range []string{"123", "456"} {
		view, err := svc.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("get %s failed: %v", id, err)
		}
		if len(view.Entities) != 1 || view.Entities[0].Data["city"] != "Kaunas" {
			t.Fatalf("listing %s: expected superseded entity data, got %+v", id, view.Entities)
		}
	}
}

func TestListingService_Query_Pagination(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	testhelpers.TruncateListings(t, testDB.DB)

	ctx, cleanup := testhelpers.ScopedContext(t, testDB.DB)
	defer cleanup()

	svc := newTestService()

	records := make([]models.ListingRecord, 0, 5)
	for i := 1; i <= 5; i++ {
		records = append(records, sampleRecord(fmt.Sprintf("listing-%d", i)))
	}
	if _, err := svc.Upsert(ctx, records); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}

	result, err := svc.Query(ctx, &models.ListingFilter{}, 1, 2)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if result.Total != 5 {
		t.Fatalf("expected total 5, got %d", result.Total)
	}
	if len(result.Listings) != 2 {
		t.Fatalf("expected page of 2, got %d", len(result.Listings))
	}
	if result.Listings[0].ListingID != "listing-1" || result.Listings[1].ListingID != "listing-2" {
		t.Fatalf("expected ascending listing_id order, got %s, %s",
			result.Listings[0].ListingID, result.Listings[1].ListingID)
	}

	// Last partial page.
	result, err = svc.Query(ctx, &models.ListingFilter{}, 3, 2)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(result.Listings) != 1 || result.Listings[0].ListingID != "listing-5" {
		t.Fatalf("unexpected last page: %+v", result.Listings)
	}
	if result.Total != 5 {
		t.Fatalf("total must not depend on page, got %d", result.Total)
	}
}

func TestListingService_Query_ScalarFilters(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	testhelpers.TruncateListings(t, testDB.DB)

	ctx, cleanup := testhelpers.ScopedContext(t, testDB.DB)
	defer cleanup()

	svc := newTestService()

	active := sampleRecord("123")
	inactive := sampleRecord("456")
	inactive.IsActive = false
	inactive.ImageHashes = []string{"hash9"}
	if _, err := svc.Upsert(ctx, []models.ListingRecord{active, inactive}); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}

	t.Run("listing id and is_active", func(t *testing.T) {
		id := "123"
		isActive := true
		result, err := svc.Query(ctx, &models.ListingFilter{ListingID: &id, IsActive: &isActive}, 1, 10)
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if result.Total != 1 || result.Listings[0].ListingID != "123" {
			t.Fatalf("unexpected result: total=%d", result.Total)
		}
	})

	t.Run("image hash overlap", func(t *testing.T) {
		result, err := svc.Query(ctx, &models.ListingFilter{ImageHashes: []string{"hash1", "hash2"}}, 1, 10)
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if result.Total != 1 || result.Listings[0].ListingID != "123" {
			t.Fatalf("expected only the listing sharing a hash, total=%d", result.Total)
		}
	})

	t.Run("scan date window", func(t *testing.T) {
		from, to := "2025-06-01", "2025-06-30"
		result, err := svc.Query(ctx, &models.ListingFilter{ScanDateFrom: &from, ScanDateTo: &to}, 1, 10)
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if result.Total != 2 {
			t.Fatalf("expected both listings in window, got %d", result.Total)
		}

		early := "2025-01-31"
		result, err = svc.Query(ctx, &models.ListingFilter{ScanDateTo: &early}, 1, 10)
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if result.Total != 0 {
			t.Fatalf("expected no listings before window, got %d", result.Total)
		}
	})

	t.Run("malformed date rejected", func(t *testing.T) {
		bad := "06/15/2025"
		_, err := svc.Query(ctx, &models.ListingFilter{ScanDateFrom: &bad}, 1, 10)
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

func TestListingService_Query_PropertyFilters(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	testhelpers.TruncateListings(t, testDB.DB)

	ctx, cleanup := testhelpers.ScopedContext(t, testDB.DB)
	defer cleanup()

	svc := newTestService()

	red := sampleRecord("red-furnished")
	blue := sampleRecord("blue-furnished")
	blue.Properties = []models.PropertyInput{
		{Name: "color", Type: models.PropertyTypeString, Value: "blue"},
		{Name: "furnished", Type: models.PropertyTypeBoolean, Value: true},
	}
	if _, err := svc.Upsert(ctx, []models.ListingRecord{red, blue}); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}

	// Fish the assigned property ids out of a stored view.
	view, err := svc.GetByID(ctx, "red-furnished")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	var colorID, furnishedID int64
	for _, p := range view.Properties {
		switch p.Value.(type) {
		case string:
			colorID = p.PropertyID
		case bool:
			furnishedID = p.PropertyID
		}
	}
	if colorID == 0 || furnishedID == 0 {
		t.Fatalf("could not locate property ids in view: %+v", view.Properties)
	}

	result, err := svc.Query(ctx, &models.ListingFilter{
		PropertyFilters: map[string]any{fmt.Sprint(colorID): "red"},
	}, 1, 10)
	if err != nil {
		t.Fatalf("string filter failed: %v", err)
	}
	if result.Total != 1 || result.Listings[0].ListingID != "red-furnished" {
		t.Fatalf("expected only the red listing, total=%d", result.Total)
	}

	result, err = svc.Query(ctx, &models.ListingFilter{
		PropertyFilters: map[string]any{fmt.Sprint(furnishedID): true},
	}, 1, 10)
	if err != nil {
		t.Fatalf("boolean filter failed: %v", err)
	}
	if result.Total != 2 {
		t.Fatalf("expected both furnished listings, got %d", result.Total)
	}

	// Both predicates must hold on the same listing.
	result, err = svc.Query(ctx, &models.ListingFilter{
		PropertyFilters: map[string]any{
			fmt.Sprint(colorID):     "blue",
			fmt.Sprint(furnishedID): true,
		},
	}, 1, 10)
	if err != nil {
		t.Fatalf("combined filter failed: %v", err)
	}
	if result.Total != 1 || result.Listings[0].ListingID != "blue-furnished" {
		t.Fatalf("expected only the blue listing, total=%d", result.Total)
	}
}

func TestListingService_Query_DatasetEntityFilter(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	testhelpers.TruncateListings(t, testDB.DB)

	ctx, cleanup := testhelpers.ScopedContext(t, testDB.DB)
	defer cleanup()

	svc := newTestService()

	vilnius := sampleRecord("in-vilnius")
	vilnius.Entities = []models.EntityInput{{Name: "seller-1", Data: map[string]any{"city": "Vilnius", "tier": "gold"}}}
	kaunas := sampleRecord("in-kaunas")
	kaunas.Entities = []models.EntityInput{{Name: "seller-2", Data: map[string]any{"city": "Kaunas"}}}
	if _, err := svc.Upsert(ctx, []models.ListingRecord{vilnius, kaunas}); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}

	result, err := svc.Query(ctx, &models.ListingFilter{
		DatasetEntities: map[string]string{"city": "Vilnius"},
	}, 1, 10)
	if err != nil {
		t.Fatalf("entity filter failed: %v", err)
	}
	if result.Total != 1 || result.Listings[0].ListingID != "in-vilnius" {
		t.Fatalf("expected only the Vilnius listing, total=%d", result.Total)
	}

	// All keys must match on a linked entity.
	result, err = svc.Query(ctx, &models.ListingFilter{
		DatasetEntities: map[string]string{"city": "Vilnius", "tier": "silver"},
	}, 1, 10)
	if err != nil {
		t.Fatalf("entity filter failed: %v", err)
	}
	if result.Total != 0 {
		t.Fatalf("expected no match for mismatched tier, got %d", result.Total)
	}
}

func TestListingService_Delete(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	testhelpers.TruncateListings(t, testDB.DB)

	ctx, cleanup := testhelpers.ScopedContext(t, testDB.DB)
	defer cleanup()

	svc := newTestService()

	if _, err := svc.Upsert(ctx, []models.ListingRecord{sampleRecord("123")}); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}

	deleted, err := svc.Delete(ctx, "123")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to report true")
	}

	_, err = svc.GetByID(ctx, "123")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	deleted, err = svc.Delete(ctx, "123")
	if err != nil {
		t.Fatalf("repeat delete failed: %v", err)
	}
	if deleted {
		t.Fatal("expected repeat delete to report false")
	}
}

func TestListingService_Upsert_DuplicatePropertyLastWins(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	testhelpers.TruncateListings(t, testDB.DB)

	ctx, cleanup := testhelpers.ScopedContext(t, testDB.DB)
	defer cleanup()

	svc := newTestService()

	record := sampleRecord("123")
	record.Properties = []models.PropertyInput{
		{Name: "color", Type: models.PropertyTypeString, Value: "red"},
		{Name: "color", Type: models.PropertyTypeString, Value: "blue"},
	}
	if _, err := svc.Upsert(ctx, []models.ListingRecord{record}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	view, err := svc.GetByID(ctx, "123")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(view.Properties) != 1 {
		t.Fatalf("expected deduplicated property, got %d", len(view.Properties))
	}
	if view.Properties[0].Value != "blue" {
		t.Fatalf("last occurrence must win, got %v", view.Properties[0].Value)
	}
}

func TestListingService_Upsert_NoScopeInContext(t *testing.T) {
	_, err := newTestService().Upsert(context.Background(), []models.ListingRecord{sampleRecord("123")})
	if err == nil {
		t.Fatal("expected error without a database scope")
	}
}
