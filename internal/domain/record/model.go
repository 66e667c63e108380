package record

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Format identifies the source document format an adapter understands.
type Format string

const (
	FormatFHIR     Format = "fhir-r5"
	FormatCCDA     Format = "ccda"
	FormatFlatJSON Format = "oread-json"
)

// Formats lists every supported format in a stable order.
var Formats = []Format{FormatFHIR, FormatCCDA, FormatFlatJSON}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	for _, known := range Formats {
		if f == known {
			return true
		}
	}
	return false
}

type Address struct {
	Line1      *string `json:"line1"`
	Line2      *string `json:"line2"`
	City       *string `json:"city"`
	State      *string `json:"state"`
	PostalCode *string `json:"postal_code"`
	Country    string  `json:"country"`
}

type Contact struct {
	Name         *string `json:"name"`
	Relationship *string `json:"relationship"`
	Phone        *string `json:"phone"`
	Email        *string `json:"email"`
}

type Patient struct {
	ExternalID        *string  `db:"external_id" json:"external_id,omitempty"`
	GivenNames        []string `db:"given_names" json:"given_names"`
	FamilyName        string   `db:"family_name" json:"family_name"`
	DateOfBirth       *string  `db:"date_of_birth" json:"date_of_birth,omitempty"`
	SexAtBirth        *string  `db:"sex_at_birth" json:"sex_at_birth,omitempty"`
	GenderIdentity    *string  `db:"gender_identity" json:"gender_identity,omitempty"`
	Race              []string `db:"race" json:"race,omitempty"`
	Ethnicity         *string  `db:"ethnicity" json:"ethnicity,omitempty"`
	PreferredLanguage string   `db:"preferred_language" json:"preferred_language"`
	Phone             *string  `db:"phone" json:"phone,omitempty"`
	Email             *string  `db:"email" json:"email,omitempty"`
	Address           *Address `db:"address" json:"address,omitempty"`
	EmergencyContact  *Contact `db:"emergency_contact" json:"emergency_contact,omitempty"`
	LegalGuardian     *Contact `db:"legal_guardian" json:"legal_guardian,omitempty"`
}

type Condition struct {
	ExternalID         *string `db:"external_id" json:"external_id,omitempty"`
	CodeSystem         *string `db:"code_system" json:"code_system,omitempty"`
	Code               *string `db:"code" json:"code,omitempty"`
	DisplayName        string  `db:"display_name" json:"display_name"`
	ClinicalStatus     string  `db:"clinical_status" json:"clinical_status"`
	VerificationStatus string  `db:"verification_status" json:"verification_status"`
	Severity           *string `db:"severity" json:"severity,omitempty"`
	OnsetDate          *string `db:"onset_date" json:"onset_date,omitempty"`
	AbatementDate      *string `db:"abatement_date" json:"abatement_date,omitempty"`
	Notes              *string `db:"notes" json:"notes,omitempty"`
}

type Medication struct {
	ExternalID   *string `db:"external_id" json:"external_id,omitempty"`
	CodeSystem   *string `db:"code_system" json:"code_system,omitempty"`
	Code         *string `db:"code" json:"code,omitempty"`
	DisplayName  string  `db:"display_name" json:"display_name"`
	Status       string  `db:"status" json:"status"`
	DoseQuantity *string `db:"dose_quantity" json:"dose_quantity,omitempty"`
	DoseUnit     *string `db:"dose_unit" json:"dose_unit,omitempty"`
	Frequency    *string `db:"frequency" json:"frequency,omitempty"`
	Route        string  `db:"route" json:"route"`
	Instructions *string `db:"instructions" json:"instructions,omitempty"`
	PRN          bool    `db:"prn" json:"prn"`
	StartDate    *string `db:"start_date" json:"start_date,omitempty"`
	EndDate      *string `db:"end_date" json:"end_date,omitempty"`
	Prescriber   *string `db:"prescriber" json:"prescriber,omitempty"`
	Indication   *string `db:"indication" json:"indication,omitempty"`
}

type Reaction struct {
	Manifestation *string `json:"manifestation"`
	Severity      *string `json:"severity"`
}

type Allergy struct {
	ExternalID     *string    `db:"external_id" json:"external_id,omitempty"`
	DisplayName    string     `db:"display_name" json:"display_name"`
	Category       *string    `db:"category" json:"category,omitempty"`
	Criticality    string     `db:"criticality" json:"criticality"`
	Reactions      []Reaction `db:"reactions" json:"reactions,omitempty"`
	ClinicalStatus string     `db:"clinical_status" json:"clinical_status"`
	OnsetDate      *string    `db:"onset_date" json:"onset_date,omitempty"`
	Notes          *string    `db:"notes" json:"notes,omitempty"`
}

type VitalSigns struct {
	TemperatureF           *float64 `json:"temperature_f"`
	HeartRate              *float64 `json:"heart_rate"`
	RespiratoryRate        *float64 `json:"respiratory_rate"`
	BloodPressureSystolic  *float64 `json:"blood_pressure_systolic"`
	BloodPressureDiastolic *float64 `json:"blood_pressure_diastolic"`
	OxygenSaturation       *float64 `json:"oxygen_saturation"`
	WeightKg               *float64 `json:"weight_kg"`
	HeightCm               *float64 `json:"height_cm"`
}

type AssessmentItem struct {
	Condition *string `json:"condition"`
	Status    *string `json:"status"`
	Notes     *string `json:"notes"`
}

type PlanItem struct {
	Description *string `json:"description"`
	Category    *string `json:"category"`
}

type Encounter struct {
	ExternalID     *string          `db:"external_id" json:"external_id,omitempty"`
	EncounterType  *string          `db:"encounter_type" json:"encounter_type,omitempty"`
	Status         string           `db:"status" json:"status"`
	EncounterClass string           `db:"encounter_class" json:"encounter_class"`
	Date           *string          `db:"date" json:"date,omitempty"`
	EndDate        *string          `db:"end_date" json:"end_date,omitempty"`
	ChiefComplaint *string          `db:"chief_complaint" json:"chief_complaint,omitempty"`
	ProviderName   *string          `db:"provider_name" json:"provider_name,omitempty"`
	LocationName   *string          `db:"location_name" json:"location_name,omitempty"`
	VitalSigns     *VitalSigns      `db:"vital_signs" json:"vital_signs,omitempty"`
	HPI            *string          `db:"hpi" json:"hpi,omitempty"`
	PhysicalExam   json.RawMessage  `db:"physical_exam" json:"physical_exam,omitempty"`
	Assessment     []AssessmentItem `db:"assessment" json:"assessment,omitempty"`
	Plan           []PlanItem       `db:"plan" json:"plan,omitempty"`
	NarrativeNote  *string          `db:"narrative_note" json:"narrative_note,omitempty"`
	BillingCodes   json.RawMessage  `db:"billing_codes" json:"billing_codes,omitempty"`
}

type ReferenceRange struct {
	Low  *float64 `json:"low"`
	High *float64 `json:"high"`
	Text *string  `json:"text"`
}

// Observation is a lab result or vital sign. EncounterRef holds the source
// document's encounter identifier until the importer resolves it into
// EncounterID; it is never persisted.
type Observation struct {
	ExternalID     *string         `db:"external_id" json:"external_id,omitempty"`
	EncounterRef   string          `db:"-" json:"-"`
	EncounterID    *uuid.UUID      `db:"encounter_id" json:"encounter_id,omitempty"`
	Category       string          `db:"category" json:"category"`
	CodeSystem     *string         `db:"code_system" json:"code_system,omitempty"`
	Code           *string         `db:"code" json:"code,omitempty"`
	DisplayName    string          `db:"display_name" json:"display_name"`
	ValueQuantity  *float64        `db:"value_quantity" json:"value_quantity,omitempty"`
	ValueString    *string         `db:"value_string" json:"value_string,omitempty"`
	ValueUnit      *string         `db:"value_unit" json:"value_unit,omitempty"`
	Interpretation *string         `db:"interpretation" json:"interpretation,omitempty"`
	ReferenceRange *ReferenceRange `db:"reference_range" json:"reference_range,omitempty"`
	EffectiveDate  *string         `db:"effective_date" json:"effective_date,omitempty"`
	Performer      *string         `db:"performer" json:"performer,omitempty"`
	Notes          *string         `db:"notes" json:"notes,omitempty"`
}

type Immunization struct {
	ExternalID  *string `db:"external_id" json:"external_id,omitempty"`
	VaccineCode *string `db:"vaccine_code" json:"vaccine_code,omitempty"`
	DisplayName string  `db:"display_name" json:"display_name"`
	Status      string  `db:"status" json:"status"`
	Date        *string `db:"date" json:"date,omitempty"`
	DoseNumber  *int    `db:"dose_number" json:"dose_number,omitempty"`
	SeriesDoses *int    `db:"series_doses" json:"series_doses,omitempty"`
	Site        *string `db:"site" json:"site,omitempty"`
	LotNumber   *string `db:"lot_number" json:"lot_number,omitempty"`
	Performer   *string `db:"performer" json:"performer,omitempty"`
	Notes       *string `db:"notes" json:"notes,omitempty"`
}

type Message struct {
	ExternalID      *string `db:"external_id" json:"external_id,omitempty"`
	SentDatetime    *string `db:"sent_datetime" json:"sent_datetime,omitempty"`
	ReplyDatetime   *string `db:"reply_datetime" json:"reply_datetime,omitempty"`
	SenderName      string  `db:"sender_name" json:"sender_name"`
	SenderIsPatient bool    `db:"sender_is_patient" json:"sender_is_patient"`
	RecipientName   *string `db:"recipient_name" json:"recipient_name,omitempty"`
	ReplierName     *string `db:"replier_name" json:"replier_name,omitempty"`
	ReplierRole     *string `db:"replier_role" json:"replier_role,omitempty"`
	Category        *string `db:"category" json:"category,omitempty"`
	Medium          string  `db:"medium" json:"medium"`
	Subject         *string `db:"subject" json:"subject,omitempty"`
	MessageBody     string  `db:"message_body" json:"message_body"`
	ReplyBody       *string `db:"reply_body" json:"reply_body,omitempty"`
	IsRead          bool    `db:"is_read" json:"is_read"`
}

// GrowthPoint is a pediatric growth measurement. EncounterRef is resolved
// the same way as Observation.EncounterRef.
type GrowthPoint struct {
	ExternalID          *string    `db:"external_id" json:"external_id,omitempty"`
	EncounterRef        string     `db:"-" json:"-"`
	EncounterID         *uuid.UUID `db:"encounter_id" json:"encounter_id,omitempty"`
	Date                *string    `db:"date" json:"date,omitempty"`
	AgeInDays           *int       `db:"age_in_days" json:"age_in_days,omitempty"`
	WeightKg            *float64   `db:"weight_kg" json:"weight_kg,omitempty"`
	HeightCm            *float64   `db:"height_cm" json:"height_cm,omitempty"`
	HeadCircumferenceCm *float64   `db:"head_circumference_cm" json:"head_circumference_cm,omitempty"`
	BMI                 *float64   `db:"bmi" json:"bmi,omitempty"`
	WeightPercentile    *float64   `db:"weight_percentile" json:"weight_percentile,omitempty"`
	HeightPercentile    *float64   `db:"height_percentile" json:"height_percentile,omitempty"`
	BMIPercentile       *float64   `db:"bmi_percentile" json:"bmi_percentile,omitempty"`
}

// ExtractedPatient is the canonical record produced by every adapter.
// Child groups may be empty but are never nil after extraction.
type ExtractedPatient struct {
	Patient       Patient        `json:"patient"`
	Conditions    []Condition    `json:"conditions"`
	Medications   []Medication   `json:"medications"`
	Allergies     []Allergy      `json:"allergies"`
	Encounters    []Encounter    `json:"encounters"`
	Observations  []Observation  `json:"observations"`
	Immunizations []Immunization `json:"immunizations"`
	Messages      []Message      `json:"messages"`
	GrowthData    []GrowthPoint  `json:"growth_data"`
}

// NewExtractedPatient returns a record with every child group initialised
// to an empty slice.
func NewExtractedPatient(p Patient) *ExtractedPatient {
	return &ExtractedPatient{
		Patient:       p,
		Conditions:    []Condition{},
		Medications:   []Medication{},
		Allergies:     []Allergy{},
		Encounters:    []Encounter{},
		Observations:  []Observation{},
		Immunizations: []Immunization{},
		Messages:      []Message{},
		GrowthData:    []GrowthPoint{},
	}
}

// Default values applied by adapters when the source omits a field.
const (
	UnknownName             = "Unknown"
	DefaultLanguage         = "English"
	DefaultCountry          = "US"
	DefaultClinicalStatus   = "active"
	DefaultVerification     = "confirmed"
	DefaultMedicationStatus = "active"
	DefaultRoute            = "oral"
	DefaultCriticality      = "low"
	DefaultEncounterStatus  = "finished"
	DefaultEncounterClass   = "ambulatory"
	DefaultObservationCat   = "laboratory"
	DefaultImmunizationStat = "completed"
	DefaultMedium           = "portal"
)

// Ptr returns a pointer to s, or nil when s is empty.
func Ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns *s, or "" when s is nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
