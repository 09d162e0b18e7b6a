package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/marketscan/listing-engine/pkg/database"
	"github.com/marketscan/listing-engine/pkg/models"
	"github.com/marketscan/listing-engine/pkg/repositories"
)

// ListingService exposes the listing engine's operations: batch upsert with
// insert/update classification, filtered search with pagination, single
// retrieval and deletion.
type ListingService interface {
	// Upsert classifies each record as insert or update and applies a full
	// replace of its nested properties and entity links. Each listing
	// commits in its own transaction: a failure partway through a batch
	// leaves earlier listings committed and later ones unattempted.
	Upsert(ctx context.Context, records []models.ListingRecord) (*models.UpsertResult, error)

	// Query returns one page of listings matching the filter plus the
	// distinct total before pagination. Page is 1-indexed.
	Query(ctx context.Context, filter *models.ListingFilter, page, limit int) (*models.ListingResult, error)

	// GetByID returns the full projection of one listing, or
	// apperrors.ErrNotFound.
	GetByID(ctx context.Context, listingID string) (*models.ListingView, error)

	// Delete removes a listing and its value rows. Returns false, not an
	// error, when the id does not exist.
	Delete(ctx context.Context, listingID string) (bool, error)
}

type listingService struct {
	listingRepo  repositories.ListingRepository
	propertyRepo repositories.PropertyRepository
	entityRepo   repositories.DatasetEntityRepository
	logger       *zap.Logger
}

// NewListingService creates a new ListingService.
func NewListingService(
	listingRepo repositories.ListingRepository,
	propertyRepo repositories.PropertyRepository,
	entityRepo repositories.DatasetEntityRepository,
	logger *zap.Logger,
) ListingService {
	return &listingService{
		listingRepo:  listingRepo,
		propertyRepo: propertyRepo,
		entityRepo:   entityRepo,
		logger:       logger,
	}
}

var _ ListingService = (*listingService)(nil)

func (s *listingService) Upsert(ctx context.Context, records []models.ListingRecord) (*models.UpsertResult, error) {
	// Reject the whole batch before touching the store.
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return nil, err
		}
	}

	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	ids := make([]string, 0, len(records))
	for i := range records {
		ids = append(ids, records[i].ListingID)
	}

	existing, err := s.listingRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	existingIDs := make(map[string]bool, len(existing))
	for _, l := range existing {
		existingIDs[l.ListingID] = true
	}

	result := &models.UpsertResult{}
	for i := range records {
		record := &records[i]
		isUpdate := existingIDs[record.ListingID]

		// Per-listing transaction: each listing is durable before the next
		// is attempted, so a mid-batch failure never rolls back the
		// listings already written.
		err := scope.InTx(ctx, func(ctx context.Context) error {
			return s.applyRecord(ctx, record, isUpdate)
		})
		if err != nil {
			s.logger.Error("Listing upsert failed mid-batch",
				zap.String("listing_id", record.ListingID),
				zap.Int("committed_inserts", result.Inserted),
				zap.Int("committed_updates", result.Updated),
				zap.Error(err))
			return nil, fmt.Errorf("upsert of listing %s: %w", record.ListingID, err)
		}

		if isUpdate {
			result.Updated++
		} else {
			result.Inserted++
		}
	}

	result.Message = result.Summary()
	return result, nil
}

// applyRecord writes one listing's scalar fields, property values and entity
// links inside the caller's transaction.
func (s *listingService) applyRecord(ctx context.Context, record *models.ListingRecord, isUpdate bool) error {
	values, err := s.resolveValues(ctx, record.Properties)
	if err != nil {
		return err
	}

	upserted, err := s.entityRepo.UpsertByName(ctx, record.Entities)
	if err != nil {
		return err
	}
	entityIDs := make([]int64, 0, len(upserted))
	for _, e := range upserted {
		entityIDs = append(entityIDs, e.EntityID)
	}

	listing := &models.Listing{
		ListingID:        record.ListingID,
		ScanDate:         record.ScanDate.Time,
		IsActive:         record.IsActive,
		ImageHashes:      record.ImageHashes,
		DatasetEntityIDs: entityIDs,
	}
	if listing.ImageHashes == nil {
		listing.ImageHashes = []string{}
	}

	if isUpdate {
		err = s.listingRepo.Update(ctx, listing)
	} else {
		err = s.listingRepo.Insert(ctx, listing)
	}
	if err != nil {
		return err
	}

	return s.listingRepo.ReplaceValues(ctx, record.ListingID, values)
}

// resolveValues binds each incoming property to its canonical identity,
// creating unseen (name, type) pairs. When a record repeats a pair, the last
// occurrence wins, mirroring entity batch semantics.
func (s *listingService) resolveValues(ctx context.Context, inputs []models.PropertyInput) ([]models.PropertyValue, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	seen := make(map[models.PropertyKey]bool, len(inputs))
	keys := make([]models.PropertyKey, 0, len(inputs))
	for i := range inputs {
		key := inputs[i].Key()
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}

	resolved, err := s.propertyRepo.ResolveBatch(ctx, keys)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]int, len(inputs))
	values := make([]models.PropertyValue, 0, len(inputs))
	for i := range inputs {
		prop := resolved[inputs[i].Key()]
		value := inputs[i].ToValue(prop.PropertyID)
		if idx, ok := byID[prop.PropertyID]; ok {
			values[idx] = value
			continue
		}
		byID[prop.PropertyID] = len(values)
		values = append(values, value)
	}

	return values, nil
}

func (s *listingService) Query(ctx context.Context, filter *models.ListingFilter, page, limit int) (*models.ListingResult, error) {
	q, err := filter.Normalize()
	if err != nil {
		return nil, err
	}

	total, err := s.listingRepo.Count(ctx, q)
	if err != nil {
		return nil, err
	}

	listings, err := s.listingRepo.Search(ctx, q, page, limit)
	if err != nil {
		return nil, err
	}

	views, err := s.assembleViews(ctx, listings)
	if err != nil {
		return nil, err
	}

	return &models.ListingResult{Listings: views, Total: total}, nil
}

func (s *listingService) GetByID(ctx context.Context, listingID string) (*models.ListingView, error) {
	listing, err := s.listingRepo.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}

	views, err := s.assembleViews(ctx, []*models.Listing{listing})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

func (s *listingService) Delete(ctx context.Context, listingID string) (bool, error) {
	deleted, err := s.listingRepo.Delete(ctx, listingID)
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.Info("Deleted listing", zap.String("listing_id", listingID))
	}
	return deleted, nil
}

// assembleViews projects listings into response shapes: property values
// merged from both value tables and entity links resolved to name+data.
// Values for the whole page are loaded in one pass per table, entities in
// one fetch over the union of referenced ids.
func (s *listingService) assembleViews(ctx context.Context, listings []*models.Listing) ([]*models.ListingView, error) {
	views := make([]*models.ListingView, 0, len(listings))
	if len(listings) == 0 {
		return views, nil
	}

	needValues := make([]string, 0, len(listings))
	for _, l := range listings {
		if l.Values == nil {
			needValues = append(needValues, l.ListingID)
		}
	}
	if len(needValues) > 0 {
		loaded, err := s.listingRepo.LoadValues(ctx, needValues)
		if err != nil {
			return nil, err
		}
		for _, l := range listings {
			if l.Values == nil {
				l.Values = loaded[l.ListingID]
			}
		}
	}

	idSet := make(map[int64]bool)
	var entityIDs []int64
	for _, l := range listings {
		for _, id := range l.DatasetEntityIDs {
			if !idSet[id] {
				idSet[id] = true
				entityIDs = append(entityIDs, id)
			}
		}
	}
	entities, err := s.entityRepo.GetByIDs(ctx, entityIDs)
	if err != nil {
		return nil, err
	}
	entityByID := make(map[int64]*models.DatasetEntity, len(entities))
	for _, e := range entities {
		entityByID[e.EntityID] = e
	}

	for _, l := range listings {
		view := &models.ListingView{
			ListingID:        l.ListingID,
			ScanDate:         l.ScanDate,
			IsActive:         l.IsActive,
			ImageHashes:      l.ImageHashes,
			DatasetEntityIDs: l.DatasetEntityIDs,
			Properties:       make([]models.PropertyView, 0, len(l.Values)),
			Entities:         make([]models.EntityView, 0, len(l.DatasetEntityIDs)),
		}
		if view.ImageHashes == nil {
			view.ImageHashes = []string{}
		}
		if view.DatasetEntityIDs == nil {
			view.DatasetEntityIDs = []int64{}
		}

		for _, v := range l.Values {
			view.Properties = append(view.Properties, models.PropertyView{
				PropertyID: v.PropertyID,
				Value:      v.Value(),
			})
		}

		// Ids pointing at rows that no longer resolve are skipped: the
		// entity id array is a weak reference.
		for _, id := range l.DatasetEntityIDs {
			if e, ok := entityByID[id]; ok {
				view.Entities = append(view.Entities, models.EntityView{Name: e.Name, Data: e.Data})
			}
		}

		views = append(views, view)
	}

	return views, nil
}
