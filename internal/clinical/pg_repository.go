package clinical

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-booking-engine/internal/db"
)

type PgRepository struct {
	db db.Querier
}

func NewPgRepository(q db.Querier) *PgRepository {
	return &PgRepository{db: q}
}

func (r *PgRepository) GetPatientProfile(ctx context.Context, id uuid.UUID) (*PatientProfile, error) {
	var p PatientProfile
	var allergies, medications, history sql.NullString

	err := r.db.QueryRow(ctx, `
		SELECT id, name, allergies, medications, medical_history, is_pregnant
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &allergies, &medications, &history, &p.IsPregnant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Allergies = allergies.String
	p.Medications = medications.String
	p.MedicalHistory = history.String
	return &p, nil
}

func (r *PgRepository) EncounterForAppointment(ctx context.Context, appointmentID uuid.UUID) (*Encounter, error) {
	var e Encounter
	err := r.db.QueryRow(ctx, `
		SELECT id, appointment_id, patient_id, doctor_id, started_at
		FROM encounters
		WHERE appointment_id = $1
	`, appointmentID).Scan(&e.ID, &e.AppointmentID, &e.PatientID, &e.DoctorID, &e.StartedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEncounterNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *PgRepository) CreateEncounter(ctx context.Context, e *Encounter) (*Encounter, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO encounters (id, appointment_id, patient_id, doctor_id, started_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, appointment_id, patient_id, doctor_id, started_at
	`, e.ID, e.AppointmentID, e.PatientID, e.DoctorID, e.StartedAt).
		Scan(&e.ID, &e.AppointmentID, &e.PatientID, &e.DoctorID, &e.StartedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func scanRecord(row pgx.Row) (*MedicalRecord, error) {
	var rec MedicalRecord
	var history, allergies, medications, notes sql.NullString

	err := row.Scan(
		&rec.ID,
		&rec.PatientID,
		&rec.EncounterID,
		&rec.AppointmentID,
		&rec.Status,
		&history,
		&allergies,
		&medications,
		&rec.IsPregnant,
		&notes,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	rec.History = history.String
	rec.Allergies = allergies.String
	rec.Medications = medications.String
	rec.Notes = notes.String
	return &rec, nil
}

func (r *PgRepository) LatestCompletedRecord(ctx context.Context, patientID uuid.UUID) (*MedicalRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, patient_id, encounter_id, appointment_id, status, history, allergies, medications, is_pregnant, notes, created_at, updated_at
		FROM medical_records
		WHERE patient_id = $1
		  AND status = 'completed'
		ORDER BY created_at DESC
		LIMIT 1
	`, patientID)
	return scanRecord(row)
}

func (r *PgRepository) CreateRecord(ctx context.Context, rec *MedicalRecord) (*MedicalRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO medical_records (id, patient_id, encounter_id, appointment_id, status, history, allergies, medications, is_pregnant, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING id, patient_id, encounter_id, appointment_id, status, history, allergies, medications, is_pregnant, notes, created_at, updated_at
	`, rec.ID, rec.PatientID, rec.EncounterID, rec.AppointmentID, rec.Status, rec.History, rec.Allergies, rec.Medications, rec.IsPregnant, rec.Notes)

	return scanRecord(row)
}
