package importer

import (
	"context"

	"github.com/google/uuid"

	"github.com/mneme/emr/internal/domain/record"
)

// Gateway persists canonical records. Each Insert call writes one batch and
// returns the new row ids in input order. DeletePatient must remove every
// child row of the patient as well.
type Gateway interface {
	InsertPatient(ctx context.Context, p *record.Patient) (uuid.UUID, error)
	InsertEncounters(ctx context.Context, patientID uuid.UUID, rows []record.Encounter) ([]uuid.UUID, error)
	InsertConditions(ctx context.Context, patientID uuid.UUID, rows []record.Condition) ([]uuid.UUID, error)
	InsertMedications(ctx context.Context, patientID uuid.UUID, rows []record.Medication) ([]uuid.UUID, error)
	InsertAllergies(ctx context.Context, patientID uuid.UUID, rows []record.Allergy) ([]uuid.UUID, error)
	InsertObservations(ctx context.Context, patientID uuid.UUID, rows []record.Observation) ([]uuid.UUID, error)
	InsertImmunizations(ctx context.Context, patientID uuid.UUID, rows []record.Immunization) ([]uuid.UUID, error)
	InsertMessages(ctx context.Context, patientID uuid.UUID, rows []record.Message) ([]uuid.UUID, error)
	InsertGrowthData(ctx context.Context, patientID uuid.UUID, rows []record.GrowthPoint) ([]uuid.UUID, error)
	DeletePatient(ctx context.Context, id uuid.UUID) error

	// Import tracking
	CreateImportRecord(ctx context.Context, filename string, format record.Format) (uuid.UUID, error)
	UpdateImportRecord(ctx context.Context, id uuid.UUID, status string, patientCount int, errMsg *string) error
	GetImportRecord(ctx context.Context, id uuid.UUID) (*ImportRecord, error)
	ListImportRecords(ctx context.Context, limit, offset int) ([]*ImportRecord, int, error)
}
