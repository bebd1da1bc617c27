package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hackgods/clinic-booking-engine/internal/appointment"
	"github.com/hackgods/clinic-booking-engine/internal/billing"
	"github.com/hackgods/clinic-booking-engine/internal/redisclient"
	"github.com/hackgods/clinic-booking-engine/internal/schedule"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleError maps domain errors onto HTTP statuses. Anything unknown is a
// 500 with a generic code.
func handleError(w http.ResponseWriter, err error) {
	var verr *appointment.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "invalid_request", verr.Msg)

	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, schedule.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, billing.ErrInvoiceNotFound):
		writeError(w, http.StatusNotFound, "invoice_not_found", err.Error())
	case errors.Is(err, billing.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "payment_not_found", err.Error())
	case errors.Is(err, appointment.ErrNoActiveExtension):
		writeError(w, http.StatusNotFound, "no_active_extension", err.Error())

	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())

	case errors.Is(err, appointment.ErrDuplicateBooking):
		writeError(w, http.StatusConflict, "duplicate_booking", err.Error())
	case errors.Is(err, schedule.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrStaleTransition):
		writeError(w, http.StatusConflict, "concurrent_update", err.Error())
	case errors.Is(err, appointment.ErrHoldExpired):
		writeError(w, http.StatusConflict, "hold_expired", err.Error())
	case errors.Is(err, appointment.ErrExtensionPending):
		writeError(w, http.StatusConflict, "extension_pending", err.Error())
	case errors.Is(err, appointment.ErrNoRescheduleOffer):
		writeError(w, http.StatusConflict, "no_reschedule_offer", err.Error())
	case errors.Is(err, appointment.ErrNotRefundable):
		writeError(w, http.StatusConflict, "not_refundable", err.Error())
	case errors.Is(err, billing.ErrInvoiceNotPending):
		writeError(w, http.StatusConflict, "invoice_not_pending", err.Error())

	case errors.Is(err, appointment.ErrConsentExpired):
		writeError(w, http.StatusGone, "consent_expired", err.Error())

	case errors.Is(err, appointment.ErrTooLateToCancel):
		writeError(w, http.StatusUnprocessableEntity, "too_late_to_cancel", err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}
