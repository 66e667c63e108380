package importer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mneme/emr/internal/domain/record"
)

// batchErrorLimit caps how many per-document errors are copied into a batch
// import record.
const batchErrorLimit = 5

type Service struct {
	gw       Gateway
	adapters map[record.Format]record.Adapter
	logger   zerolog.Logger
	metrics  *Metrics
}

// NewService wires the orchestrator. metrics may be nil.
func NewService(gw Gateway, adapters []record.Adapter, logger zerolog.Logger, metrics *Metrics) *Service {
	byFormat := make(map[record.Format]record.Adapter, len(adapters))
	for _, a := range adapters {
		byFormat[a.Format()] = a
	}
	return &Service{gw: gw, adapters: byFormat, logger: logger, metrics: metrics}
}

// Import extracts, validates and persists one document.
func (s *Service) Import(ctx context.Context, format record.Format, raw []byte, sourceFile string) *Result {
	start := time.Now()
	res := s.importDocument(ctx, format, raw, sourceFile)
	s.metrics.observe(res, time.Since(start))
	return res
}

func (s *Service) importDocument(ctx context.Context, format record.Format, raw []byte, sourceFile string) *Result {
	res := newResult(format, sourceFile)

	if !format.Valid() {
		return res.fail(FailureUnsupported, fmt.Errorf("unsupported format %q", format))
	}
	adapter, ok := s.adapters[format]
	if !ok {
		return res.fail(FailureUnsupported, fmt.Errorf("unsupported format %q: no adapter registered", format))
	}

	ex, err := adapter.Extract(raw)
	if err != nil {
		var kind Failure
		switch {
		case record.IsMalformed(err):
			kind = FailureMalformed
		case record.IsExtraction(err):
			kind = FailureExtraction
		default:
			// Adapters should only return typed errors.
			s.logger.Error().Err(err).Str("format", string(format)).Msg("adapter returned untyped error")
			kind = FailureExtraction
		}
		s.logger.Info().Str("format", string(format)).Str("source_file", sourceFile).
			Str("failure", kind.String()).Msg("import rejected")
		return res.fail(kind, err)
	}

	res.Warnings = append(res.Warnings, record.Validate(ex)...)
	if len(res.Warnings) > 0 {
		s.logger.Warn().Str("format", string(format)).Str("source_file", sourceFile).
			Int("warnings", len(res.Warnings)).Msg("import has validation warnings")
	}

	s.persist(ctx, ex, res)
	return res
}

// persist inserts the patient and then each child group. On a child insert
// failure the patient is deleted and the outcome of that delete is appended
// to the result errors.
func (s *Service) persist(ctx context.Context, ex *record.ExtractedPatient, res *Result) {
	patientID, err := s.gw.InsertPatient(ctx, &ex.Patient)
	if err != nil {
		perr := &PersistenceError{Kind: KindPatient, Err: err}
		s.logger.Error().Err(err).Str("format", string(res.Format)).Str("source_file", res.SourceFile).
			Msg("patient insert failed")
		res.fail(FailurePersistence, perr)
		return
	}
	res.PatientID = &patientID

	counts, err := s.insertChildren(ctx, patientID, ex)
	if err != nil {
		s.logger.Error().Err(err).Str("patient_id", patientID.String()).Msg("child insert failed, rolling back")
		res.fail(FailurePersistence, err)
		// The request context may be the reason the insert failed.
		if rbErr := s.gw.DeletePatient(context.WithoutCancel(ctx), patientID); rbErr != nil {
			rerr := &RollbackError{PatientID: patientID, Err: rbErr}
			s.logger.Error().Err(rbErr).Str("patient_id", patientID.String()).Msg("rollback failed")
			s.metrics.rollback(false)
			res.Errors = append(res.Errors, rerr.Error())
			return
		}
		s.metrics.rollback(true)
		res.PatientID = nil
		res.Errors = append(res.Errors, rolledBackMessage)
		return
	}

	res.Success = true
	res.Counts = counts
	s.logger.Info().Str("patient_id", patientID.String()).Str("format", string(res.Format)).
		Str("source_file", res.SourceFile).Interface("counts", counts).Msg("patient imported")
}

// insertChildren writes child groups in dependency order: encounters first
// so observations and growth points can link to them.
func (s *Service) insertChildren(ctx context.Context, patientID uuid.UUID, ex *record.ExtractedPatient) (map[string]int, error) {
	counts := map[string]int{}
	track := func(kind string, want int, ids []uuid.UUID, err error) error {
		if err != nil {
			return &PersistenceError{Kind: kind, Err: err}
		}
		if len(ids) != want {
			return &PersistenceError{Kind: kind, Err: fmt.Errorf("expected %d ids, got %d", want, len(ids))}
		}
		if want > 0 {
			counts[kind] = want
		}
		return nil
	}

	encounterIDs := map[string]uuid.UUID{}
	if n := len(ex.Encounters); n > 0 {
		ids, err := s.gw.InsertEncounters(ctx, patientID, ex.Encounters)
		if err := track(KindEncounters, n, ids, err); err != nil {
			return nil, err
		}
		for i, e := range ex.Encounters {
			if e.ExternalID != nil && *e.ExternalID != "" {
				encounterIDs[*e.ExternalID] = ids[i]
			}
		}
	}

	if n := len(ex.Conditions); n > 0 {
		ids, err := s.gw.InsertConditions(ctx, patientID, ex.Conditions)
		if err := track(KindConditions, n, ids, err); err != nil {
			return nil, err
		}
	}
	if n := len(ex.Medications); n > 0 {
		ids, err := s.gw.InsertMedications(ctx, patientID, ex.Medications)
		if err := track(KindMedications, n, ids, err); err != nil {
			return nil, err
		}
	}
	if n := len(ex.Allergies); n > 0 {
		ids, err := s.gw.InsertAllergies(ctx, patientID, ex.Allergies)
		if err := track(KindAllergies, n, ids, err); err != nil {
			return nil, err
		}
	}
	if n := len(ex.Observations); n > 0 {
		rows := resolveObservations(ex.Observations, encounterIDs)
		ids, err := s.gw.InsertObservations(ctx, patientID, rows)
		if err := track(KindObservations, n, ids, err); err != nil {
			return nil, err
		}
	}
	if n := len(ex.Immunizations); n > 0 {
		ids, err := s.gw.InsertImmunizations(ctx, patientID, ex.Immunizations)
		if err := track(KindImmunizations, n, ids, err); err != nil {
			return nil, err
		}
	}
	if n := len(ex.Messages); n > 0 {
		ids, err := s.gw.InsertMessages(ctx, patientID, ex.Messages)
		if err := track(KindMessages, n, ids, err); err != nil {
			return nil, err
		}
	}
	if n := len(ex.GrowthData); n > 0 {
		rows := resolveGrowthData(ex.GrowthData, encounterIDs)
		ids, err := s.gw.InsertGrowthData(ctx, patientID, rows)
		if err := track(KindGrowthData, n, ids, err); err != nil {
			return nil, err
		}
	}
	return counts, nil
}

// resolveObservations returns a copy of obs with each encounter reference
// replaced by the encounter's internal id. Unknown references link nothing.
func resolveObservations(obs []record.Observation, encounterIDs map[string]uuid.UUID) []record.Observation {
	out := make([]record.Observation, len(obs))
	for i, o := range obs {
		o.EncounterID = lookupEncounter(o.EncounterRef, encounterIDs)
		out[i] = o
	}
	return out
}

func resolveGrowthData(points []record.GrowthPoint, encounterIDs map[string]uuid.UUID) []record.GrowthPoint {
	out := make([]record.GrowthPoint, len(points))
	for i, g := range points {
		g.EncounterID = lookupEncounter(g.EncounterRef, encounterIDs)
		out[i] = g
	}
	return out
}

func lookupEncounter(ref string, encounterIDs map[string]uuid.UUID) *uuid.UUID {
	if ref == "" {
		return nil
	}
	id, ok := encounterIDs[ref]
	if !ok {
		return nil
	}
	return &id
}

// ImportTracked imports one document under a new import record, which is
// marked completed or failed afterwards. Tracking failures are logged and do
// not change the import result.
func (s *Service) ImportTracked(ctx context.Context, doc Document) (*Result, *uuid.UUID) {
	importID, err := s.gw.CreateImportRecord(ctx, doc.Name, doc.Format)
	if err != nil {
		s.logger.Error().Err(err).Str("source_file", doc.Name).Msg("create import record failed")
		return s.Import(ctx, doc.Format, doc.Data, doc.Name), nil
	}

	res := s.Import(ctx, doc.Format, doc.Data, doc.Name)
	status, count := StatusFailed, 0
	var errMsg *string
	if res.Success {
		status, count = StatusCompleted, 1
	} else {
		msg := strings.Join(res.Errors, "; ")
		errMsg = &msg
	}
	if err := s.gw.UpdateImportRecord(context.WithoutCancel(ctx), importID, status, count, errMsg); err != nil {
		s.logger.Error().Err(err).Str("import_id", importID.String()).Msg("update import record failed")
	}
	return res, &importID
}

// ImportBatch imports docs one at a time. A failed document, including its
// rollback, does not stop the documents after it.
func (s *Service) ImportBatch(ctx context.Context, docs []Document) *BatchResult {
	br := &BatchResult{TotalFiles: len(docs), Results: make([]*Result, 0, len(docs))}
	for _, d := range docs {
		res := s.Import(ctx, d.Format, d.Data, d.Name)
		if res.Success {
			br.Successful++
		} else {
			br.Failed++
		}
		br.Results = append(br.Results, res)
	}
	br.Status = batchStatus(br)
	return br
}

// ImportBatchTracked runs ImportBatch under a single import record named
// label.
func (s *Service) ImportBatchTracked(ctx context.Context, label string, format record.Format, docs []Document) *BatchResult {
	importID, err := s.gw.CreateImportRecord(ctx, label, format)
	if err != nil {
		s.logger.Error().Err(err).Str("source_file", label).Msg("create import record failed")
		return s.ImportBatch(ctx, docs)
	}

	br := s.ImportBatch(ctx, docs)
	br.ImportID = &importID

	var errMsg *string
	var errs []string
	for _, r := range br.Results {
		for _, e := range r.Errors {
			if len(errs) == batchErrorLimit {
				break
			}
			errs = append(errs, fmt.Sprintf("%s: %s", r.SourceFile, e))
		}
	}
	if len(errs) > 0 {
		msg := strings.Join(errs, "; ")
		errMsg = &msg
	}
	if err := s.gw.UpdateImportRecord(context.WithoutCancel(ctx), importID, br.Status, br.Successful, errMsg); err != nil {
		s.logger.Error().Err(err).Str("import_id", importID.String()).Msg("update import record failed")
	}
	return br
}

func batchStatus(br *BatchResult) string {
	switch {
	case br.Failed == 0:
		return StatusCompleted
	case br.Successful == 0:
		return StatusFailed
	}
	return StatusPartial
}

func (s *Service) GetImportRecord(ctx context.Context, id uuid.UUID) (*ImportRecord, error) {
	return s.gw.GetImportRecord(ctx, id)
}

func (s *Service) ListImportRecords(ctx context.Context, limit, offset int) ([]*ImportRecord, int, error) {
	return s.gw.ListImportRecords(ctx, limit, offset)
}
