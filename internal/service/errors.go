package service

import (
	"errors"

	"github.com/connectly/internal/apperr"
	"github.com/connectly/internal/repository"
)

// storeErr classifies a store failure; notFoundMsg is used when the row is missing.
func storeErr(err error, notFoundMsg string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.Wrap(apperr.KindNotFound, notFoundMsg, err)
	case errors.Is(err, repository.ErrStale):
		return apperr.Wrap(apperr.KindConflict, "message was modified concurrently", err)
	case errors.Is(err, repository.ErrDuplicate):
		return apperr.Wrap(apperr.KindConflict, "already exists", err)
	default:
		return err
	}
}
