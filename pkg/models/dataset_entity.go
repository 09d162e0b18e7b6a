package models

// DatasetEntity is a named document with arbitrary JSON data. Identity for
// upsert purposes is the name: reusing a name overwrites data under the same
// entity id. Entities are never deleted, only superseded.
//
// Listings reference entities through their dataset_entity_ids array. The
// reference is weak: no foreign key, no cascade.
type DatasetEntity struct {
	EntityID int64          `json:"entity_id"`
	Name     string         `json:"name"`
	Data     map[string]any `json:"data"`
}

// EntityInput is an incoming entity on a listing record.
type EntityInput struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

// EntityView is the entity projection inside a listing response.
type EntityView struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}
