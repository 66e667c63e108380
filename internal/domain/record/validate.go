package record

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mneme/emr/internal/platform/codesystem"
)

// Warning is a non-blocking validation finding attached to an import result.
// Value is the offending value rendered as text, or nil when absent.
type Warning struct {
	Path    string  `json:"path"`
	Message string  `json:"message"`
	Value   *string `json:"value"`
}

func (w Warning) String() string {
	return w.Path + ": " + w.Message
}

type valueSet map[string]struct{}

func newValueSet(values ...string) valueSet {
	s := make(valueSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

func (s valueSet) has(v string) bool {
	_, ok := s[v]
	return ok
}

func (s valueSet) String() string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

var (
	sexValues                = newValueSet("male", "female", "other", "unknown", "intersex")
	conditionClinicalValues  = newValueSet("active", "recurrence", "relapse", "inactive", "remission", "resolved")
	conditionVerification    = newValueSet("unconfirmed", "provisional", "differential", "confirmed", "refuted", "entered-in-error")
	conditionSeverityValues  = newValueSet("mild", "moderate", "severe")
	medicationStatusValues   = newValueSet("active", "completed", "entered-in-error", "intended", "stopped", "on-hold", "unknown", "not-taken", "cancelled")
	allergyCategoryValues    = newValueSet("food", "medication", "environment", "biologic")
	allergyCriticalityValues = newValueSet("low", "high", "unable-to-assess")
	allergyClinicalValues    = newValueSet("active", "inactive", "resolved")
	encounterStatusValues    = newValueSet("planned", "in-progress", "on-hold", "discharged", "completed", "cancelled", "discontinued", "entered-in-error", "finished", "unknown")
	encounterClassValues     = newValueSet("ambulatory", "emergency", "inpatient", "virtual", "home", "field", "AMB", "EMER", "IMP")
	observationCategory      = newValueSet("vital-signs", "laboratory", "imaging", "procedure", "survey", "exam", "therapy", "activity", "social-history")
	immunizationStatusValues = newValueSet("completed", "entered-in-error", "not-done")
	messageMediumValues      = newValueSet("portal", "phone", "email", "in-person", "fax", "sms")
)

// Validate runs the shape and code passes over ex. It never fails and never
// mutates ex; an empty result means nothing was flagged.
func Validate(ex *ExtractedPatient) []Warning {
	warnings := ValidateShape(ex)
	return append(warnings, ValidateCodes(ex)...)
}

// checker accumulates warnings for one pass.
type checker struct {
	warnings []Warning
}

func (c *checker) add(path, msg string, value *string) {
	c.warnings = append(c.warnings, Warning{Path: path, Message: msg, Value: value})
}

func (c *checker) nonEmpty(path, v string) {
	if strings.TrimSpace(v) == "" {
		c.add(path, "must not be empty", nil)
	}
}

func (c *checker) enum(path, v string, allowed valueSet) {
	if !allowed.has(v) {
		c.add(path, "unrecognized value; expected one of: "+allowed.String(), &v)
	}
}

func (c *checker) optEnum(path string, v *string, allowed valueSet) {
	if v != nil {
		c.enum(path, *v, allowed)
	}
}

func (c *checker) date(path string, v *string) {
	if v == nil {
		return
	}
	if _, ok := ParseDate(*v); !ok {
		c.add(path, "invalid date; stored as absent", v)
	}
}

func (c *checker) dateTime(path string, v *string) {
	if v == nil {
		return
	}
	if _, ok := ParseDateTime(*v); !ok {
		c.add(path, "invalid date-time; stored as absent", v)
	}
}

func (c *checker) between(path string, v *float64, lo, hi float64) {
	if v == nil {
		return
	}
	if *v < lo || *v > hi {
		s := strconv.FormatFloat(*v, 'f', -1, 64)
		c.add(path, fmt.Sprintf("must be between %g and %g", lo, hi), &s)
	}
}

func (c *checker) nonNegative(path string, v *float64) {
	if v != nil && *v < 0 {
		s := strconv.FormatFloat(*v, 'f', -1, 64)
		c.add(path, "must not be negative", &s)
	}
}

// ValidateShape checks types, enumerations, required fields and date
// parseability of every entity in ex.
func ValidateShape(ex *ExtractedPatient) []Warning {
	c := &checker{}

	p := ex.Patient
	c.nonEmpty("patient.family_name", p.FamilyName)
	if len(p.GivenNames) == 0 {
		c.add("patient.given_names", "must contain at least one name", nil)
	}
	c.date("patient.date_of_birth", p.DateOfBirth)
	c.optEnum("patient.sex_at_birth", p.SexAtBirth, sexValues)

	for i, cond := range ex.Conditions {
		base := fmt.Sprintf("conditions[%d]", i)
		c.nonEmpty(base+".display_name", cond.DisplayName)
		c.enum(base+".clinical_status", cond.ClinicalStatus, conditionClinicalValues)
		c.enum(base+".verification_status", cond.VerificationStatus, conditionVerification)
		c.optEnum(base+".severity", cond.Severity, conditionSeverityValues)
		c.date(base+".onset_date", cond.OnsetDate)
		c.date(base+".abatement_date", cond.AbatementDate)
	}

	for i, med := range ex.Medications {
		base := fmt.Sprintf("medications[%d]", i)
		c.nonEmpty(base+".display_name", med.DisplayName)
		c.enum(base+".status", med.Status, medicationStatusValues)
		c.date(base+".start_date", med.StartDate)
		c.date(base+".end_date", med.EndDate)
	}

	for i, a := range ex.Allergies {
		base := fmt.Sprintf("allergies[%d]", i)
		c.nonEmpty(base+".display_name", a.DisplayName)
		c.optEnum(base+".category", a.Category, allergyCategoryValues)
		c.enum(base+".criticality", a.Criticality, allergyCriticalityValues)
		c.enum(base+".clinical_status", a.ClinicalStatus, allergyClinicalValues)
		c.date(base+".onset_date", a.OnsetDate)
	}

	for i, enc := range ex.Encounters {
		base := fmt.Sprintf("encounters[%d]", i)
		c.enum(base+".status", enc.Status, encounterStatusValues)
		c.enum(base+".encounter_class", enc.EncounterClass, encounterClassValues)
		c.dateTime(base+".date", enc.Date)
		c.dateTime(base+".end_date", enc.EndDate)
	}

	for i, obs := range ex.Observations {
		base := fmt.Sprintf("observations[%d]", i)
		c.nonEmpty(base+".display_name", obs.DisplayName)
		c.enum(base+".category", obs.Category, observationCategory)
		c.dateTime(base+".effective_date", obs.EffectiveDate)
	}

	for i, imm := range ex.Immunizations {
		base := fmt.Sprintf("immunizations[%d]", i)
		c.nonEmpty(base+".display_name", imm.DisplayName)
		c.enum(base+".status", imm.Status, immunizationStatusValues)
		c.date(base+".date", imm.Date)
	}

	for i, msg := range ex.Messages {
		base := fmt.Sprintf("messages[%d]", i)
		c.nonEmpty(base+".sender_name", msg.SenderName)
		c.enum(base+".medium", msg.Medium, messageMediumValues)
		c.dateTime(base+".sent_datetime", msg.SentDatetime)
		c.dateTime(base+".reply_datetime", msg.ReplyDatetime)
	}

	for i, g := range ex.GrowthData {
		base := fmt.Sprintf("growth_data[%d]", i)
		c.date(base+".date", g.Date)
		c.nonNegative(base+".weight_kg", g.WeightKg)
		c.nonNegative(base+".height_cm", g.HeightCm)
		c.nonNegative(base+".head_circumference_cm", g.HeadCircumferenceCm)
		c.nonNegative(base+".bmi", g.BMI)
		c.between(base+".weight_percentile", g.WeightPercentile, 0, 100)
		c.between(base+".height_percentile", g.HeightPercentile, 0, 100)
		c.between(base+".bmi_percentile", g.BMIPercentile, 0, 100)
		if g.AgeInDays != nil && *g.AgeInDays < 0 {
			s := strconv.Itoa(*g.AgeInDays)
			c.add(base+".age_in_days", "must not be negative", &s)
		}
	}

	return c.warnings
}

// ValidateCodes checks clinical codes against their code-system format.
// Immunization vaccine codes are always checked as CVX.
func ValidateCodes(ex *ExtractedPatient) []Warning {
	c := &checker{}
	code := func(path string, system, value *string) {
		if ok, msg := codesystem.Validate(Deref(system), Deref(value)); !ok {
			c.add(path, msg, value)
		}
	}

	for i, cond := range ex.Conditions {
		code(fmt.Sprintf("conditions[%d].code", i), cond.CodeSystem, cond.Code)
	}
	for i, med := range ex.Medications {
		code(fmt.Sprintf("medications[%d].code", i), med.CodeSystem, med.Code)
	}
	for i, obs := range ex.Observations {
		code(fmt.Sprintf("observations[%d].code", i), obs.CodeSystem, obs.Code)
	}
	cvx := codesystem.CVX
	for i, imm := range ex.Immunizations {
		code(fmt.Sprintf("immunizations[%d].vaccine_code", i), &cvx, imm.VaccineCode)
	}

	return c.warnings
}
