package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/marketscan/listing-engine/pkg/apperrors"
	"github.com/marketscan/listing-engine/pkg/database"
	"github.com/marketscan/listing-engine/pkg/models"
)

// ListingRepository provides data access for listings, their type-partitioned
// property values and the filtered search over them.
type ListingRepository interface {
	GetByID(ctx context.Context, listingID string) (*models.Listing, error)
	GetByIDs(ctx context.Context, listingIDs []string) ([]*models.Listing, error)
	Insert(ctx context.Context, listing *models.Listing) error
	Update(ctx context.Context, listing *models.Listing) error
	Delete(ctx context.Context, listingID string) (bool, error)

	// ReplaceValues discards all property values of a listing and writes the
	// given set, routing each row by its variant tag. The previous set is
	// never merged in.
	ReplaceValues(ctx context.Context, listingID string, values []models.PropertyValue) error

	// LoadValues eager-loads property values for a set of listings, merged
	// from both value tables (string rows first).
	LoadValues(ctx context.Context, listingIDs []string) (map[string][]models.PropertyValue, error)

	// Search returns one page of listings matching the query, ordered by
	// listing_id ascending. Property values are not loaded.
	Search(ctx context.Context, q *models.ListingQuery, page, limit int) ([]*models.Listing, error)

	// Count returns the distinct number of listings matching the query,
	// sharing Search's predicate structure.
	Count(ctx context.Context, q *models.ListingQuery) (int, error)
}

type listingRepository struct{}

// NewListingRepository creates a new ListingRepository.
func NewListingRepository() ListingRepository {
	return &listingRepository{}
}

var _ ListingRepository = (*listingRepository)(nil)

const listingColumns = `l.listing_id, l.scan_date, l.is_active, l.image_hashes, l.dataset_entity_ids`

func (r *listingRepository) GetByID(ctx context.Context, listingID string) (*models.Listing, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `SELECT ` + listingColumns + ` FROM listings l WHERE l.listing_id = $1`

	listing, err := scanListing(scope.Q().QueryRow(ctx, query, listingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("listing %s: %w", listingID, apperrors.ErrNotFound)
		}
		return nil, err
	}

	values, err := r.LoadValues(ctx, []string{listingID})
	if err != nil {
		return nil, err
	}
	listing.Values = values[listingID]

	return listing, nil
}

func (r *listingRepository) GetByIDs(ctx context.Context, listingIDs []string) ([]*models.Listing, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	if len(listingIDs) == 0 {
		return []*models.Listing{}, nil
	}

	query := `SELECT ` + listingColumns + ` FROM listings l WHERE l.listing_id = ANY($1)`

	rows, err := scope.Q().Query(ctx, query, listingIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings by id set: %w", err)
	}
	defer rows.Close()

	return collectListings(rows)
}

func (r *listingRepository) Insert(ctx context.Context, listing *models.Listing) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	query := `
		INSERT INTO listings (listing_id, scan_date, is_active, image_hashes, dataset_entity_ids)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := scope.Q().Exec(ctx, query,
		listing.ListingID, listing.ScanDate, listing.IsActive,
		listing.ImageHashes, listing.DatasetEntityIDs,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("listing %s already exists: %w", listing.ListingID, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to insert listing %s: %w", listing.ListingID, err)
	}

	return nil
}

func (r *listingRepository) Update(ctx context.Context, listing *models.Listing) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	query := `
		UPDATE listings
		SET scan_date = $2, is_active = $3, image_hashes = $4, dataset_entity_ids = $5
		WHERE listing_id = $1`

	_, err := scope.Q().Exec(ctx, query,
		listing.ListingID, listing.ScanDate, listing.IsActive,
		listing.ImageHashes, listing.DatasetEntityIDs,
	)
	if err != nil {
		return fmt.Errorf("failed to update listing %s: %w", listing.ListingID, err)
	}

	return nil
}

func (r *listingRepository) Delete(ctx context.Context, listingID string) (bool, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return false, fmt.Errorf("no database scope in context")
	}

	// Value rows go with the listing via ON DELETE CASCADE. Dataset
	// entities are not touched.
	tag, err := scope.Q().Exec(ctx, `DELETE FROM listings WHERE listing_id = $1`, listingID)
	if err != nil {
		return false, fmt.Errorf("failed to delete listing %s: %w", listingID, err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *listingRepository) ReplaceValues(ctx context.Context, listingID string, values []models.PropertyValue) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	if _, err := scope.Q().Exec(ctx, `DELETE FROM property_values_string WHERE listing_id = $1`, listingID); err != nil {
		return fmt.Errorf("failed to clear string values for listing %s: %w", listingID, err)
	}
	if _, err := scope.Q().Exec(ctx, `DELETE FROM property_values_boolean WHERE listing_id = $1`, listingID); err != nil {
		return fmt.Errorf("failed to clear boolean values for listing %s: %w", listingID, err)
	}

	for _, v := range values {
		var query string
		var value any
		switch v.Type {
		case models.PropertyTypeString:
			query = `INSERT INTO property_values_string (listing_id, property_id, value) VALUES ($1, $2, $3)`
			value = v.StringValue
		case models.PropertyTypeBoolean:
			query = `INSERT INTO property_values_boolean (listing_id, property_id, value) VALUES ($1, $2, $3)`
			value = v.BoolValue
		default:
			return fmt.Errorf("%w: property value has unknown type %q", apperrors.ErrValidation, v.Type)
		}

		if _, err := scope.Q().Exec(ctx, query, listingID, v.PropertyID, value); err != nil {
			return fmt.Errorf("failed to insert property value %d for listing %s: %w", v.PropertyID, listingID, err)
		}
	}

	return nil
}

func (r *listingRepository) LoadValues(ctx context.Context, listingIDs []string) (map[string][]models.PropertyValue, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	result := make(map[string][]models.PropertyValue, len(listingIDs))
	if len(listingIDs) == 0 {
		return result, nil
	}

	stringQuery := `
		SELECT listing_id, property_id, value
		FROM property_values_string
		WHERE listing_id = ANY($1)
		ORDER BY property_id`

	rows, err := scope.Q().Query(ctx, stringQuery, listingIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query string property values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var listingID string
		var propertyID int64
		var value string
		if err := rows.Scan(&listingID, &propertyID, &value); err != nil {
			return nil, fmt.Errorf("failed to scan string property value: %w", err)
		}
		result[listingID] = append(result[listingID], models.NewStringValue(propertyID, value))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating string property values: %w", err)
	}

	boolQuery := `
		SELECT listing_id, property_id, value
		FROM property_values_boolean
		WHERE listing_id = ANY($1)
		ORDER BY property_id`

	boolRows, err := scope.Q().Query(ctx, boolQuery, listingIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query boolean property values: %w", err)
	}
	defer boolRows.Close()

	for boolRows.Next() {
		var listingID string
		var propertyID int64
		var value bool
		if err := boolRows.Scan(&listingID, &propertyID, &value); err != nil {
			return nil, fmt.Errorf("failed to scan boolean property value: %w", err)
		}
		result[listingID] = append(result[listingID], models.NewBoolValue(propertyID, value))
	}
	if err := boolRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating boolean property values: %w", err)
	}

	return result, nil
}

func (r *listingRepository) Search(ctx context.Context, q *models.ListingQuery, page, limit int) ([]*models.Listing, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	where, args := buildListingPredicate(q)

	query := `SELECT ` + listingColumns + ` FROM listings l` + where +
		fmt.Sprintf(" ORDER BY l.listing_id OFFSET $%d LIMIT $%d", len(args)+1, len(args)+2)
	args = append(args, (page-1)*limit, limit)

	rows, err := scope.Q().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search listings: %w", err)
	}
	defer rows.Close()

	return collectListings(rows)
}

func (r *listingRepository) Count(ctx context.Context, q *models.ListingQuery) (int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	where, args := buildListingPredicate(q)
	query := `SELECT COUNT(DISTINCT l.listing_id) FROM listings l` + where

	var total int
	if err := scope.Q().QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count listings: %w", err)
	}

	return total, nil
}

// buildListingPredicate translates a normalized query into a WHERE clause and
// its arguments. The same clause backs the page query and the count query so
// their notions of "matching" cannot drift. Multi-valued conditions (dataset
// entities, property values) are expressed as EXISTS subqueries, which keeps
// the row set free of join fan-out.
func buildListingPredicate(q *models.ListingQuery) (string, []any) {
	var conds []string
	var args []any

	arg := func(v any) int {
		args = append(args, v)
		return len(args)
	}

	if q.ListingID != nil {
		conds = append(conds, fmt.Sprintf("l.listing_id = $%d", arg(*q.ListingID)))
	}
	if q.ScanDateFrom != nil {
		conds = append(conds, fmt.Sprintf("l.scan_date >= $%d", arg(*q.ScanDateFrom)))
	}
	if q.ScanDateTo != nil {
		conds = append(conds, fmt.Sprintf("l.scan_date <= $%d", arg(*q.ScanDateTo)))
	}
	if q.IsActive != nil {
		conds = append(conds, fmt.Sprintf("l.is_active = $%d", arg(*q.IsActive)))
	}
	if len(q.ImageHashes) > 0 {
		conds = append(conds, fmt.Sprintf("l.image_hashes && $%d", arg(q.ImageHashes)))
	}

	// Conjunction across keys; which linked entity satisfies each key is
	// existential, so different keys may be satisfied by different entities.
	keys := make([]string, 0, len(q.DatasetEntities))
	for key := range q.DatasetEntities {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM dataset_entities e WHERE e.entity_id = ANY(l.dataset_entity_ids) AND e.data->>$%d = $%d)",
			arg(key), arg(q.DatasetEntities[key])))
	}

	for _, pf := range q.PropertyFilters {
		table := "property_values_string"
		var value any = pf.StringValue
		if pf.Type == models.PropertyTypeBoolean {
			table = "property_values_boolean"
			value = pf.BoolValue
		}
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM %s v WHERE v.listing_id = l.listing_id AND v.property_id = $%d AND v.value = $%d)",
			table, arg(pf.PropertyID), arg(value)))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanListing(row pgx.Row) (*models.Listing, error) {
	var listing models.Listing

	err := row.Scan(
		&listing.ListingID, &listing.ScanDate, &listing.IsActive,
		&listing.ImageHashes, &listing.DatasetEntityIDs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan listing: %w", err)
	}

	return &listing, nil
}

func collectListings(rows pgx.Rows) ([]*models.Listing, error) {
	var listings []*models.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating listings: %w", err)
	}
	return listings, nil
}
