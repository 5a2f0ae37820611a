package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func mapPgError(err error) error {
	if err == nil {
		return nil
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return newServiceError(http.StatusNotFound, ErrCodeLocationNotFound, "not found", err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case "55P03": // lock_not_available: FOR UPDATE NOWAIT hit a conflicting writer
		recordRefusal(ErrCodeCascadeLockConflict)
		return newServiceError(http.StatusConflict, ErrCodeCascadeLockConflict, "subtree is locked by a concurrent writer", err)
	case "23505": // unique_violation
		return newServiceError(http.StatusConflict, ErrCodeInternal, "unique constraint violated", err)
	case "23503": // foreign_key_violation
		return newServiceError(http.StatusUnprocessableEntity, ErrCodeLocationNotFound, "foreign key violation", err)
	default:
		return newServiceError(http.StatusInternalServerError, ErrCodeInternal, fmt.Sprintf("database error (%s)", pgErr.Code), err)
	}
}
