package importer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mneme/emr/internal/domain/record"
)

// Entity kinds used as count keys and metric labels.
const (
	KindPatient       = "patient"
	KindEncounters    = "encounters"
	KindConditions    = "conditions"
	KindMedications   = "medications"
	KindAllergies     = "allergies"
	KindObservations  = "observations"
	KindImmunizations = "immunizations"
	KindMessages      = "messages"
	KindGrowthData    = "growth_data"
)

// Import record statuses.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusPartial    = "partial"
	StatusFailed     = "failed"
)

// Failure classifies why an import did not succeed.
type Failure int

const (
	FailureNone Failure = iota
	FailureMalformed
	FailureExtraction
	FailurePersistence
	FailureUnsupported
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "success"
	case FailureMalformed:
		return "malformed"
	case FailureExtraction:
		return "extraction"
	case FailurePersistence:
		return "persistence"
	case FailureUnsupported:
		return "unsupported"
	}
	return "unknown"
}

// Result is the outcome of importing one document. Every call into the
// pipeline produces one, success or not.
type Result struct {
	Success    bool             `json:"success"`
	PatientID  *uuid.UUID       `json:"patient_id"`
	SourceFile string           `json:"source_file"`
	Format     record.Format    `json:"format"`
	Counts     map[string]int   `json:"counts"`
	Errors     []string         `json:"errors"`
	Warnings   []record.Warning `json:"warnings"`
	Failure    Failure          `json:"-"`
}

func newResult(format record.Format, sourceFile string) *Result {
	return &Result{
		SourceFile: sourceFile,
		Format:     format,
		Counts:     map[string]int{},
		Errors:     []string{},
		Warnings:   []record.Warning{},
	}
}

func (r *Result) fail(kind Failure, err error) *Result {
	r.Success = false
	r.Failure = kind
	r.Errors = append(r.Errors, err.Error())
	return r
}

// Document is one raw source document queued for import.
type Document struct {
	Name   string
	Format record.Format
	Data   []byte
}

// BatchResult summarises a multi-document import.
type BatchResult struct {
	ImportID   *uuid.UUID `json:"import_id,omitempty"`
	Status     string     `json:"status"`
	TotalFiles int        `json:"total_files"`
	Successful int        `json:"successful"`
	Failed     int        `json:"failed"`
	Results    []*Result  `json:"results"`
}

// ImportRecord tracks one upload through the import pipeline.
type ImportRecord struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Filename     string     `db:"filename" json:"filename"`
	Format       string     `db:"format" json:"format"`
	Status       string     `db:"status" json:"status"`
	PatientCount int        `db:"patient_count" json:"patient_count"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// PersistenceError reports a failed insert for one entity kind.
type PersistenceError struct {
	Kind string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("insert %s: %v", e.Kind, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// RollbackError reports a failed compensating delete.
type RollbackError struct {
	PatientID uuid.UUID
	Err       error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("Rollback failed: %v", e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

const rolledBackMessage = "Rolled back: patient and related records deleted"
