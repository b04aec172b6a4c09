package controllers

import (
	"net/http"

	"github.com/mcourselabs/mcourse-backend/api/responses"
	"github.com/mcourselabs/mcourse-backend/internal/enrollments"
	pkgerrors "github.com/mcourselabs/mcourse-backend/pkg/errors"
	"github.com/mcourselabs/mcourse-backend/pkg/logger"
)

// ListEnrollments returns the authenticated user's enrollments.
func ListEnrollments(repo enrollments.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "enrollments repository unavailable"))
			return
		}

		userID, err := requireUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items, err := repo.FindByUser(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list enrollments"))
			return
		}

		responses.WriteSuccess(w, items)
	}
}
