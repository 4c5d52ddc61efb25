package database

import (
	"strings"

	"github.com/lib/pq"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/errors"
)

// IsSerializationFailure reports whether err (anywhere in its chain) is a
// Postgres serialization failure (SQLSTATE 40001). These are safe to retry.
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001"
}

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// mapCheckConstraint maps specific CHECK constraint names to user-friendly messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "quantity_available_bounds"):
		// The materials table enforces 0 <= quantity_available <= quantity_total.
		return errors.OutOfRange("counter mutation would violate 0 <= available <= total")

	case strings.Contains(constraint, "quantity_returned_bounds"):
		return errors.OutOfRange("returned quantity cannot exceed allocated quantity")

	case strings.Contains(constraint, "control_mode_valid"):
		return errors.Validation(map[string]string{
			"control_mode": "must be one of: serialized, pooled",
		})

	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{
			"status": "must be one of: reserved, separated, in_transit, delivered",
		})

	case strings.Contains(constraint, "return_status_valid"):
		return errors.Validation(map[string]string{
			"return_status": "must be one of: pending, returned_ok, returned_damaged, lost",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "idempotency_key"):
		return "an allocation with this idempotency key already exists"
	case strings.Contains(constraint, "serial"):
		return "a unit with this serial already exists for the material"
	default:
		return "a record with these values already exists"
	}
}
