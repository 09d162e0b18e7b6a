package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/marketscan/listing-engine/pkg/database"
	"github.com/marketscan/listing-engine/pkg/models"
)

// PropertyRepository resolves (name, type) pairs to canonical property
// identities, creating properties lazily on first use. Properties are
// global, immutable once created and never deleted.
type PropertyRepository interface {
	Resolve(ctx context.Context, name string, typ models.PropertyType) (*models.Property, error)
	ResolveBatch(ctx context.Context, keys []models.PropertyKey) (map[models.PropertyKey]*models.Property, error)
}

type propertyRepository struct{}

// NewPropertyRepository creates a new PropertyRepository.
func NewPropertyRepository() PropertyRepository {
	return &propertyRepository{}
}

var _ PropertyRepository = (*propertyRepository)(nil)

func (r *propertyRepository) Resolve(ctx context.Context, name string, typ models.PropertyType) (*models.Property, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	prop, err := r.lookup(ctx, scope, name, typ)
	if err == nil {
		return prop, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// Unseen pair: insert, letting the (name, type) uniqueness constraint
	// collapse a concurrent create. When the conflict swallows our insert,
	// re-read and use the winner.
	query := `
		INSERT INTO properties (name, type)
		VALUES ($1, $2)
		ON CONFLICT (name, type) DO NOTHING
		RETURNING property_id`

	var propertyID int64
	err = scope.Q().QueryRow(ctx, query, name, string(typ)).Scan(&propertyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.lookupWinner(ctx, scope, name, typ)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create property %q: %w", name, err)
	}

	return &models.Property{PropertyID: propertyID, Name: name, Type: typ}, nil
}

func (r *propertyRepository) lookup(ctx context.Context, scope *database.Scope, name string, typ models.PropertyType) (*models.Property, error) {
	query := `SELECT property_id, name, type FROM properties WHERE name = $1 AND type = $2`

	var prop models.Property
	err := scope.Q().QueryRow(ctx, query, name, string(typ)).Scan(&prop.PropertyID, &prop.Name, &prop.Type)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to look up property %q: %w", name, err)
	}
	return &prop, nil
}

func (r *propertyRepository) lookupWinner(ctx context.Context, scope *database.Scope, name string, typ models.PropertyType) (*models.Property, error) {
	// The conflicting insert blocks until the winning transaction commits,
	// so the winner is normally visible on the first read. Retry briefly to
	// absorb the remaining commit-visibility window.
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
		}
		prop, err := r.lookup(ctx, scope, name, typ)
		if err == nil {
			return prop, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("property %q (%s): winner of create race not visible", name, typ)
}

func (r *propertyRepository) ResolveBatch(ctx context.Context, keys []models.PropertyKey) (map[models.PropertyKey]*models.Property, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	resolved := make(map[models.PropertyKey]*models.Property, len(keys))
	if len(keys) == 0 {
		return resolved, nil
	}

	names := make([]string, 0, len(keys))
	types := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, key.Name)
		types = append(types, string(key.Type))
	}

	// One fetch over the cross product of requested names and types; rows
	// outside the requested pairs are dropped when keying the map.
	query := `
		SELECT property_id, name, type
		FROM properties
		WHERE name = ANY($1) AND type = ANY($2)`

	rows, err := scope.Q().Query(ctx, query, names, types)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var prop models.Property
		if err := rows.Scan(&prop.PropertyID, &prop.Name, &prop.Type); err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		resolved[prop.Key()] = &prop
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating properties: %w", err)
	}

	for _, key := range keys {
		if _, ok := resolved[key]; ok {
			continue
		}
		prop, err := r.Resolve(ctx, key.Name, key.Type)
		if err != nil {
			return nil, err
		}
		resolved[key] = prop
	}

	return resolved, nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
