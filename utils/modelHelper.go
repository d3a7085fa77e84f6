package utils

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/* DB fetching */

// fetch model by primary key inside tx
// (returns a not_found AppError naming label when the row does not exist)
func FetchModel[T any](tx *gorm.DB, id int, label string, associations ...string) (*T, error) {
	return fetchModel[T](tx, id, label, false, associations...)
}

// fetch model and lock its row for the rest of tx (SELECT ... FOR UPDATE)
func FetchModelForUpdate[T any](tx *gorm.DB, id int, label string, associations ...string) (*T, error) {
	return fetchModel[T](tx, id, label, true, associations...)
}

func fetchModel[T any](tx *gorm.DB, id int, label string, lock bool, associations ...string) (*T, error) {
	dbCtx := tx
	if lock {
		dbCtx = dbCtx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	// preloading
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	err := dbCtx.First(&result, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFoundError(label+"_not_found", "%s %d not found", label, id)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}
