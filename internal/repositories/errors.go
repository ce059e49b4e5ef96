package repositories

import (
	"database/sql"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"

	"social-service/internal/apperr"
)

// storeErr maps driver errors onto the shared taxonomy. A missing row or
// document becomes a NotFound for entity; anything else is transient.
func storeErr(err error, entity, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments), errors.Is(err, sql.ErrNoRows):
		return apperr.NotFound(entity)
	default:
		return apperr.Transient(err, op)
	}
}
