package repositories

import (
	"context"
	"fmt"

	"github.com/marketscan/listing-engine/pkg/database"
	"github.com/marketscan/listing-engine/pkg/models"
)

// DatasetEntityRepository reconciles named JSON entities against existing
// rows. Entity identity is the name: a reappearing name overwrites data
// under the same entity id. Entities are never deleted.
type DatasetEntityRepository interface {
	// UpsertByName upserts a batch of entities keyed by name. Output order
	// corresponds to input order; when the batch itself repeats a name, the
	// last occurrence wins.
	UpsertByName(ctx context.Context, entities []models.EntityInput) ([]*models.DatasetEntity, error)

	// GetByIDs fetches entities by id set, in one query.
	GetByIDs(ctx context.Context, ids []int64) ([]*models.DatasetEntity, error)
}

type datasetEntityRepository struct{}

// NewDatasetEntityRepository creates a new DatasetEntityRepository.
func NewDatasetEntityRepository() DatasetEntityRepository {
	return &datasetEntityRepository{}
}

var _ DatasetEntityRepository = (*datasetEntityRepository)(nil)

func (r *datasetEntityRepository) UpsertByName(ctx context.Context, entities []models.EntityInput) ([]*models.DatasetEntity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	if len(entities) == 0 {
		return []*models.DatasetEntity{}, nil
	}

	// One existence check over all requested names before mutating.
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.Name)
	}

	query := `SELECT entity_id, name FROM dataset_entities WHERE name = ANY($1)`

	rows, err := scope.Q().Query(ctx, query, names)
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset entities: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]int64)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan dataset entity: %w", err)
		}
		existing[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dataset entities: %w", err)
	}

	upserted := make([]*models.DatasetEntity, 0, len(entities))
	for _, e := range entities {
		if id, ok := existing[e.Name]; ok {
			updateQuery := `UPDATE dataset_entities SET data = $1 WHERE entity_id = $2`
			if _, err := scope.Q().Exec(ctx, updateQuery, e.Data, id); err != nil {
				return nil, fmt.Errorf("failed to update dataset entity %q: %w", e.Name, err)
			}
			upserted = append(upserted, &models.DatasetEntity{EntityID: id, Name: e.Name, Data: e.Data})
			continue
		}

		// The conflict arm also covers an entity created concurrently after
		// the existence check.
		insertQuery := `
			INSERT INTO dataset_entities (name, data)
			VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data
			RETURNING entity_id`

		var id int64
		if err := scope.Q().QueryRow(ctx, insertQuery, e.Name, e.Data).Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to insert dataset entity %q: %w", e.Name, err)
		}
		existing[e.Name] = id
		upserted = append(upserted, &models.DatasetEntity{EntityID: id, Name: e.Name, Data: e.Data})
	}

	return upserted, nil
}

func (r *datasetEntityRepository) GetByIDs(ctx context.Context, ids []int64) ([]*models.DatasetEntity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	if len(ids) == 0 {
		return []*models.DatasetEntity{}, nil
	}

	query := `SELECT entity_id, name, data FROM dataset_entities WHERE entity_id = ANY($1)`

	rows, err := scope.Q().Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset entities by id: %w", err)
	}
	defer rows.Close()

	var entities []*models.DatasetEntity
	for rows.Next() {
		var e models.DatasetEntity
		if err := rows.Scan(&e.EntityID, &e.Name, &e.Data); err != nil {
			return nil, fmt.Errorf("failed to scan dataset entity: %w", err)
		}
		entities = append(entities, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dataset entities: %w", err)
	}

	return entities, nil
}
