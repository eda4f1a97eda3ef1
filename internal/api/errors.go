package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/wondertwin-ai/taskjournal/internal/metrics"
	pkgstore "github.com/wondertwin-ai/taskjournal/pkg/store"
	"github.com/wondertwin-ai/taskjournal/pkg/twincore"
)

// errBadRequest marks malformed bodies, ids, pagination parameters and
// filters.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// writeStoreError renders err with the status its kind maps to.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pkgstore.ErrNotFound):
		twincore.Error(w, http.StatusNotFound, "Not found")
	case errors.Is(err, pkgstore.ErrPreconditionRequired):
		twincore.Error(w, http.StatusPreconditionRequired, "ETag is missing")
	case errors.Is(err, pkgstore.ErrPreconditionFailed):
		twincore.Error(w, http.StatusPreconditionFailed, "ETag does not match")
	case errors.Is(err, pkgstore.ErrNothingToUpdate):
		twincore.Error(w, http.StatusBadRequest, "Nothing to update")
	case errors.Is(err, pkgstore.ErrInvalidPage),
		errors.Is(err, pkgstore.ErrInvalidID),
		errors.Is(err, errBadRequest):
		twincore.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pkgstore.ErrIDsExhausted):
		twincore.Error(w, http.StatusConflict, "No ids left")
	case errors.Is(err, pkgstore.ErrSerialization):
		twincore.Error(w, http.StatusInternalServerError, "Error during serialization")
	default:
		twincore.Error(w, http.StatusInternalServerError, err.Error())
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, pkgstore.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, pkgstore.ErrPreconditionRequired):
		return metrics.OutcomePreconditionRequired
	case errors.Is(err, pkgstore.ErrPreconditionFailed):
		return metrics.OutcomePreconditionFailed
	case errors.Is(err, pkgstore.ErrNothingToUpdate):
		return metrics.OutcomeNothingToUpdate
	case errors.Is(err, pkgstore.ErrInvalidPage),
		errors.Is(err, pkgstore.ErrInvalidID),
		errors.Is(err, errBadRequest):
		return metrics.OutcomeBadRequest
	default:
		return metrics.OutcomeError
	}
}
