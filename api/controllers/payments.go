package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mcourselabs/mcourse-backend/api/middleware"
	"github.com/mcourselabs/mcourse-backend/api/responses"
	"github.com/mcourselabs/mcourse-backend/api/validators"
	"github.com/mcourselabs/mcourse-backend/internal/orders"
	"github.com/mcourselabs/mcourse-backend/internal/reconcile"
	pkgerrors "github.com/mcourselabs/mcourse-backend/pkg/errors"
	"github.com/mcourselabs/mcourse-backend/pkg/logger"
	"github.com/mcourselabs/mcourse-backend/pkg/sepay"
)

type createOrderRequest struct {
	CourseIDs []string `json:"course_ids" validate:"required,min=1,dive,uuid"`
}

// CreateOrder builds a pending payment with bank-transfer instructions for the
// authenticated user.
func CreateOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, err := requireUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := orders.CreateOrderInput{UserID: userID}
		for _, raw := range body.CourseIDs {
			courseID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid course id"))
				return
			}
			input.CourseIDs = append(input.CourseIDs, courseID)
		}

		checkout, err := svc.CreateOrder(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, checkout)
	}
}

// PaymentStatus reads the current state of the caller's payment. The read
// doubles as a reconciliation probe, so an overdue pending payment expires
// here instead of waiting for the sweeper.
func PaymentStatus(engine reconcile.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconcile engine unavailable"))
			return
		}

		userID, err := requireUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		paymentID, err := paymentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := engine.Reconcile(r.Context(), reconcile.Polled{PaymentID: paymentID, UserID: userID})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// PaymentConfirm records a user-reported transfer against their own pending
// payment.
func PaymentConfirm(engine reconcile.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconcile engine unavailable"))
			return
		}

		userID, err := requireUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		paymentID, err := paymentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := engine.Reconcile(r.Context(), reconcile.ManualReport{PaymentID: paymentID, ActingUserID: userID})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// BankInfo exposes the receiving account so clients can render transfer
// instructions without an order.
func BankInfo(client *sepay.Client, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if client == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bank client unavailable"))
			return
		}
		responses.WriteSuccess(w, client.BankInfo())
	}
}

func requireUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return userID, nil
}

func paymentIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "paymentID")
	paymentID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id")
	}
	return paymentID, nil
}
