package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mneme/emr/internal/domain/record"
)

// ErrNotFound is returned when an import record does not exist.
var ErrNotFound = errors.New("not found")

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type gatewayPG struct {
	db querier
}

// NewPGGateway returns a Gateway backed by Postgres. Child tables reference
// patients with ON DELETE CASCADE, which DeletePatient relies on.
func NewPGGateway(pool *pgxpool.Pool) Gateway {
	return &gatewayPG{db: pool}
}

// date converts an ISO date string to a DATE parameter. Values that do not
// parse are stored as NULL.
func date(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, ok := record.ParseDate(*s)
	if !ok {
		return nil
	}
	return &t
}

func dateTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, ok := record.ParseDateTime(*s)
	if !ok {
		return nil
	}
	return &t
}

// jsonb encodes v for a jsonb column. Nil pointers, nil slices and empty
// raw messages become NULL.
func jsonb(v interface{}) ([]byte, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if len(raw) == 0 {
			return nil, nil
		}
		return []byte(raw), nil
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, nil
	}
	switch rv.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// sendBatch queues one insert per row and executes them as a single batch.
// The returned ids are in row order.
func (g *gatewayPG) sendBatch(ctx context.Context, kind string, n int, queue func(b *pgx.Batch, i int, id uuid.UUID) error) ([]uuid.UUID, error) {
	if n == 0 {
		return []uuid.UUID{}, nil
	}
	ids := make([]uuid.UUID, n)
	b := &pgx.Batch{}
	for i := 0; i < n; i++ {
		ids[i] = uuid.New()
		if err := queue(b, i, ids[i]); err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", kind, i, err)
		}
	}

	br := g.db.SendBatch(ctx, b)
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return nil, fmt.Errorf("%s[%d]: %w", kind, i, err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (g *gatewayPG) InsertPatient(ctx context.Context, p *record.Patient) (uuid.UUID, error) {
	address, err := jsonb(p.Address)
	if err != nil {
		return uuid.Nil, err
	}
	emergency, err := jsonb(p.EmergencyContact)
	if err != nil {
		return uuid.Nil, err
	}
	guardian, err := jsonb(p.LegalGuardian)
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	_, err = g.db.Exec(ctx, `
		INSERT INTO patients (
			id, external_id, given_names, family_name, date_of_birth, sex_at_birth, gender_identity,
			race, ethnicity, preferred_language, phone, email,
			address, emergency_contact, legal_guardian
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		id, p.ExternalID, p.GivenNames, p.FamilyName, date(p.DateOfBirth), p.SexAtBirth, p.GenderIdentity,
		p.Race, p.Ethnicity, p.PreferredLanguage, p.Phone, p.Email,
		address, emergency, guardian,
	)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (g *gatewayPG) InsertEncounters(ctx context.Context, patientID uuid.UUID, rows []record.Encounter) ([]uuid.UUID, error) {
	return g.sendBatch(ctx, KindEncounters, len(rows), func(b *pgx.Batch, i int, id uuid.UUID) error {
		e := &rows[i]
		vitals, err := jsonb(e.VitalSigns)
		if err != nil {
			return err
		}
		assessment, err := jsonb(e.Assessment)
		if err != nil {
			return err
		}
		plan, err := jsonb(e.Plan)
		if err != nil {
			return err
		}
		exam, _ := jsonb(e.PhysicalExam)
		billing, _ := jsonb(e.BillingCodes)
		b.Queue(`
			INSERT INTO encounters (
				id, patient_id, external_id, encounter_type, status, encounter_class, date, end_date,
				chief_complaint, provider_name, location_name, vital_signs, hpi, physical_exam,
				assessment, plan, narrative_note, billing_codes
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
			id, patientID, e.ExternalID, e.EncounterType, e.Status, e.EncounterClass, dateTime(e.Date), dateTime(e.EndDate),
			e.ChiefComplaint, e.ProviderName, e.LocationName, vitals, e.HPI, exam,
			assessment, plan, e.NarrativeNote, billing,
		)
		return nil
	})
}

func (g *gatewayPG) InsertConditions(ctx context.Context, patientID uuid.UUID, rows []record.Condition) ([]uuid.UUID, error) {
	return g.sendBatch(ctx, KindConditions, len(rows), func(b *pgx.Batch, i int, id uuid.UUID) error {
		c := &rows[i]
		b.Queue(`
			INSERT INTO conditions (
				id, patient_id, external_id, code_system, code, display_name, clinical_status,
				verification_status, severity, onset_date, abatement_date, notes
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			id, patientID, c.ExternalID, c.CodeSystem, c.Code, c.DisplayName, c.ClinicalStatus,
			c.VerificationStatus, c.Severity, date(c.OnsetDate), date(c.AbatementDate), c.Notes,
		)
		return nil
	})
}

func (g *gatewayPG) InsertMedications(ctx context.Context, patientID uuid.UUID, rows []record.Medication) ([]uuid.UUID, error) {
	return g.sendBatch(ctx, KindMedications, len(rows), func(b *pgx.Batch, i int, id uuid.UUID) error {
		m := &rows[i]
		b.Queue(`
			INSERT INTO medications (
				id, patient_id, external_id, code_system, code, display_name, status,
				dose_quantity, dose_unit, frequency, route, instructions, prn,
				start_date, end_date, prescriber, indication
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			id, patientID, m.ExternalID, m.CodeSystem, m.Code, m.DisplayName, m.Status,
			m.DoseQuantity, m.DoseUnit, m.Frequency, m.Route, m.Instructions, m.PRN,
			date(m.StartDate), date(m.EndDate), m.Prescriber, m.Indication,
		)
		return nil
	})
}

func (g *gatewayPG) InsertAllergies(ctx context.Context, patientID uuid.UUID, rows []record.Allergy) ([]uuid.UUID, error) {
	return g.sendBatch(ctx, KindAllergies, len(rows), func(b *pgx.Batch, i int, id uuid.UUID) error {
		a := &rows[i]
		reactions, err := jsonb(a.Reactions)
		if err != nil {
			return err
		}
		b.Queue(`
			INSERT INTO allergies (
				id, patient_id, external_id, display_name, category, criticality, reactions,
				clinical_status, onset_date, notes
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			id, patientID, a.ExternalID, a.DisplayName, a.Category, a.Criticality, reactions,
			a.ClinicalStatus, date(a.OnsetDate), a.Notes,
		)
		return nil
	})
}

func (g *gatewayPG) InsertObservations(ctx context.Context, patientID uuid.UUID, rows []record.Observation) ([]uuid.UUID, error) {
	return g.sendBatch(ctx, KindObservations, len(rows), func(b *pgx.Batch, i int, id uuid.UUID) error {
		o := &rows[i]
		rr, err := jsonb(o.ReferenceRange)
		if err != nil {
			return err
		}
		b.Queue(`
			INSERT INTO observations (
				id, patient_id, encounter_id, external_id, category, code_system, code, display_name,
				value_quantity, value_string, value_unit, interpretation, reference_range,
				effective_date, performer, notes
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			id, patientID, o.EncounterID, o.ExternalID, o.Category, o.CodeSystem, o.Code, o.DisplayName,
			o.ValueQuantity, o.ValueString, o.ValueUnit, o.Interpretation, rr,
			dateTime(o.EffectiveDate), o.Performer, o.Notes,
		)
		return nil
	})
}

func (g *gatewayPG) InsertImmunizations(ctx context.Context, patientID uuid.UUID, rows []record.Immunization) ([]uuid.UUID, error) {
	return g.sendBatch(ctx, KindImmunizations, len(rows), func(b *pgx.Batch, i int, id uuid.UUID) error {
		im := &rows[i]
		b.Queue(`
			INSERT INTO immunizations (
				id, patient_id, external_id, vaccine_code, display_name, status, date,
				dose_number, series_doses, site, lot_number, performer, notes
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			id, patientID, im.ExternalID, im.VaccineCode, im.DisplayName, im.Status, date(im.Date),
			im.DoseNumber, im.SeriesDoses, im.Site, im.LotNumber, im.Performer, im.Notes,
		)
		return nil
	})
}

func (g *gatewayPG) InsertMessages(ctx context.Context, patientID uuid.UUID, rows []record.Message) ([]uuid.UUID, error) {
	return g.sendBatch(ctx, KindMessages, len(rows), func(b *pgx.Batch, i int, id uuid.UUID) error {
		m := &rows[i]
		b.Queue(`
			INSERT INTO messages (
				id, patient_id, external_id, sent_datetime, reply_datetime, sender_name, sender_is_patient,
				recipient_name, replier_name, replier_role, category, medium, subject,
				message_body, reply_body, is_read
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			id, patientID, m.ExternalID, dateTime(m.SentDatetime), dateTime(m.ReplyDatetime), m.SenderName, m.SenderIsPatient,
			m.RecipientName, m.ReplierName, m.ReplierRole, m.Category, m.Medium, m.Subject,
			m.MessageBody, m.ReplyBody, m.IsRead,
		)
		return nil
	})
}

func (g *gatewayPG) InsertGrowthData(ctx context.Context, patientID uuid.UUID, rows []record.GrowthPoint) ([]uuid.UUID, error) {
	return g.sendBatch(ctx, KindGrowthData, len(rows), func(b *pgx.Batch, i int, id uuid.UUID) error {
		gp := &rows[i]
		b.Queue(`
			INSERT INTO growth_data (
				id, patient_id, encounter_id, external_id, date, age_in_days, weight_kg, height_cm,
				head_circumference_cm, bmi, weight_percentile, height_percentile, bmi_percentile
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			id, patientID, gp.EncounterID, gp.ExternalID, date(gp.Date), gp.AgeInDays, gp.WeightKg, gp.HeightCm,
			gp.HeadCircumferenceCm, gp.BMI, gp.WeightPercentile, gp.HeightPercentile, gp.BMIPercentile,
		)
		return nil
	})
}

func (g *gatewayPG) DeletePatient(ctx context.Context, id uuid.UUID) error {
	tag, err := g.db.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	return nil
}

// -- Import records --

const importRecordCols = `id, filename, format, status, patient_count, error_message, created_at, completed_at`

func (g *gatewayPG) CreateImportRecord(ctx context.Context, filename string, format record.Format) (uuid.UUID, error) {
	id := uuid.New()
	_, err := g.db.Exec(ctx, `
		INSERT INTO import_records (id, filename, format, status)
		VALUES ($1, $2, $3, $4)`,
		id, filename, string(format), StatusProcessing,
	)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (g *gatewayPG) UpdateImportRecord(ctx context.Context, id uuid.UUID, status string, patientCount int, errMsg *string) error {
	var completedAt *time.Time
	if status != StatusProcessing {
		now := time.Now().UTC()
		completedAt = &now
	}
	tag, err := g.db.Exec(ctx, `
		UPDATE import_records
		SET status = $2, patient_count = $3, error_message = $4, completed_at = $5
		WHERE id = $1`,
		id, status, patientCount, errMsg, completedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("import record %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanImportRecord(row pgx.Row) (*ImportRecord, error) {
	var r ImportRecord
	err := row.Scan(&r.ID, &r.Filename, &r.Format, &r.Status, &r.PatientCount, &r.ErrorMessage, &r.CreatedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (g *gatewayPG) GetImportRecord(ctx context.Context, id uuid.UUID) (*ImportRecord, error) {
	r, err := scanImportRecord(g.db.QueryRow(ctx, `SELECT `+importRecordCols+` FROM import_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (g *gatewayPG) ListImportRecords(ctx context.Context, limit, offset int) ([]*ImportRecord, int, error) {
	var total int
	if err := g.db.QueryRow(ctx, `SELECT COUNT(*) FROM import_records`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := g.db.Query(ctx, `SELECT `+importRecordCols+` FROM import_records ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*ImportRecord
	for rows.Next() {
		r, err := scanImportRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, r)
	}
	return items, total, rows.Err()
}
