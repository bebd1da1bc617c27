package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-engine/internal/appointment"
)

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func bookAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		scheduleID, err := uuid.Parse(req.ScheduleID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_schedule_id", "schedule_id must be a valid UUID")
			return
		}

		appt, err := svc.Book(r.Context(), ActorFrom(r.Context()), appointment.BookInput{
			PatientID:       patientID,
			DoctorID:        doctorID,
			ScheduleID:      scheduleID,
			ServiceCode:     req.ServiceCode,
			RequireApproval: req.RequireApproval,
		})
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		detail, err := svc.Get(r.Context(), ActorFrom(r.Context()), id)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toDetailResponse(detail))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		actor := ActorFrom(r.Context())

		var (
			appts []appointment.Appointment
			err   error
		)
		switch {
		case q.Get("patient_id") != "":
			patientID, perr := uuid.Parse(q.Get("patient_id"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			appts, err = svc.ListByPatient(r.Context(), actor, patientID, limit, offset)
		case q.Get("doctor_id") != "":
			doctorID, derr := uuid.Parse(q.Get("doctor_id"))
			if derr != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			appts, err = svc.ListByDoctor(r.Context(), actor, doctorID, limit, offset)
		default:
			// Without an explicit filter, scope to the caller.
			switch actor.Role {
			case appointment.RolePatient:
				appts, err = svc.ListByPatient(r.Context(), actor, actor.ID, limit, offset)
			case appointment.RoleDoctor:
				appts, err = svc.ListByDoctor(r.Context(), actor, actor.ID, limit, offset)
			default:
				writeError(w, http.StatusBadRequest, "missing_filter", "patient_id or doctor_id is required")
				return
			}
		}
		if err != nil {
			handleError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// transitionHandler builds a POST handler for the simple lifecycle verbs.
func transitionHandler(apply func(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		appt, err := apply(w, r, id)
		if err != nil {
			handleError(w, err)
			return
		}
		if appt == nil {
			// apply wrote the rejection itself
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func approveHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(func(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		var req ApproveRequest
		if !decodeBody(w, r, &req) {
			return nil, nil
		}
		return svc.DoctorApprove(r.Context(), ActorFrom(r.Context()), id, req.Notes)
	})
}

func rejectHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(func(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		var req RejectRequest
		if !decodeBody(w, r, &req) {
			return nil, nil
		}
		return svc.DoctorReject(r.Context(), ActorFrom(r.Context()), id, req.Reason)
	})
}

func cancelHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(func(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		var req CancelRequest
		if !decodeBody(w, r, &req) {
			return nil, nil
		}
		return svc.Cancel(r.Context(), ActorFrom(r.Context()), id, req.Reason, req.Override)
	})
}

func payHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req PayRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Method == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "method is required")
			return
		}

		appt, payment, err := svc.ProcessPayment(r.Context(), ActorFrom(r.Context()), id, req.Method, req.TransactionID)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, PayResponse{
			Appointment: toAppointmentResponse(appt),
			Payment:     toPaymentResponse(payment),
		})
	}
}

func refundHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		appt, payment, err := svc.RefundPayment(r.Context(), ActorFrom(r.Context()), id)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, PayResponse{
			Appointment: toAppointmentResponse(appt),
			Payment:     toPaymentResponse(payment),
		})
	}
}

func startConsultHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(func(_ http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return svc.StartConsultation(r.Context(), ActorFrom(r.Context()), id)
	})
}

func issuePrescriptionHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(func(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		var req PrescriptionRequest
		if !decodeBody(w, r, &req) {
			return nil, nil
		}
		return svc.IssuePrescription(r.Context(), ActorFrom(r.Context()), id, req.Notes)
	})
}

func readyDischargeHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(func(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		var req DischargeRequest
		if !decodeBody(w, r, &req) {
			return nil, nil
		}
		return svc.ReadyForDischarge(r.Context(), ActorFrom(r.Context()), id, toLineItems(req.Extras))
	})
}

func completeHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(func(_ http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return svc.Complete(r.Context(), ActorFrom(r.Context()), id)
	})
}

func closeHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(func(_ http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return svc.Close(r.Context(), ActorFrom(r.Context()), id)
	})
}

func requestExtensionHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req ExtensionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		appt, err := svc.RequestExtension(r.Context(), ActorFrom(r.Context()), id, req.Minutes, req.Reason)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func respondExtensionHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req ExtensionRespondRequest
		if !decodeBody(w, r, &req) {
			return
		}
		appt, err := svc.RespondExtension(r.Context(), ActorFrom(r.Context()), id, req.Accept)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func offerRescheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req RescheduleOfferRequest
		if !decodeBody(w, r, &req) {
			return
		}
		newSlotID, err := uuid.Parse(req.NewScheduleID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_schedule_id", "new_schedule_id must be a valid UUID")
			return
		}
		appt, err := svc.RequestReschedule(r.Context(), ActorFrom(r.Context()), id, newSlotID, req.Reason)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func proposeRescheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req RescheduleProposeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		slotIDs := make([]uuid.UUID, 0, len(req.ScheduleIDs))
		for _, raw := range req.ScheduleIDs {
			slotID, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_schedule_id", "schedule_ids must be valid UUIDs")
				return
			}
			slotIDs = append(slotIDs, slotID)
		}
		appt, err := svc.ProposeReschedule(r.Context(), ActorFrom(r.Context()), id, slotIDs, req.Message)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func acceptRescheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req RescheduleAcceptRequest
		if !decodeBody(w, r, &req) {
			return
		}
		slotID := uuid.Nil
		if req.ScheduleID != "" {
			parsed, err := uuid.Parse(req.ScheduleID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_schedule_id", "schedule_id must be a valid UUID")
				return
			}
			slotID = parsed
		}
		appt, err := svc.AcceptReschedule(r.Context(), ActorFrom(r.Context()), id, slotID)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func declineRescheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(func(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		var req RescheduleDeclineRequest
		if !decodeBody(w, r, &req) {
			return nil, nil
		}
		return svc.DeclineReschedule(r.Context(), ActorFrom(r.Context()), id, req.Message)
	})
}

func listInvoicesHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		invoices, err := svc.Invoices(r.Context(), ActorFrom(r.Context()), id)
		if err != nil {
			handleError(w, err)
			return
		}
		out := make([]InvoiceResponse, 0, len(invoices))
		for i := range invoices {
			out = append(out, toInvoiceResponse(&invoices[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func consultationInvoiceHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		inv, err := svc.ConsultationInvoice(r.Context(), ActorFrom(r.Context()), id)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
	}
}

func listOpenSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		now := time.Now()
		from, to := now, now.AddDate(0, 0, 14)
		if raw := r.URL.Query().Get("from"); raw != "" {
			if from, err = time.Parse(time.RFC3339, raw); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC 3339")
				return
			}
		}
		if raw := r.URL.Query().Get("to"); raw != "" {
			if to, err = time.Parse(time.RFC3339, raw); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC 3339")
				return
			}
		}

		slots, err := svc.OpenSlots(r.Context(), doctorID, from, to)
		if err != nil {
			handleError(w, err)
			return
		}
		out := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			out = append(out, toSlotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}
