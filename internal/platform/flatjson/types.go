package flatjson

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is the top level of an oread patient file.
type Document struct {
	ID                 string          `json:"id"`
	Demographics       json.RawMessage `json:"demographics"`
	ProblemList        []Problem       `json:"problem_list"`
	MedicationList     []Medication    `json:"medication_list"`
	AllergyList        []Allergy       `json:"allergy_list"`
	Encounters         []Encounter     `json:"encounters"`
	Observations       []Observation   `json:"observations"`
	ImmunizationRecord []Immunization  `json:"immunization_record"`
	PatientMessages    []Message       `json:"patient_messages"`
	GrowthData         []GrowthPoint   `json:"growth_data"`
}

type Demographics struct {
	GivenNames        []string `json:"given_names"`
	FamilyName        string   `json:"family_name"`
	DateOfBirth       string   `json:"date_of_birth"`
	SexAtBirth        string   `json:"sex_at_birth"`
	GenderIdentity    string   `json:"gender_identity"`
	Race              []string `json:"race"`
	Ethnicity         string   `json:"ethnicity"`
	PreferredLanguage string   `json:"preferred_language"`
	Phone             string   `json:"phone"`
	Email             string   `json:"email"`
	Address           *Address `json:"address"`
	EmergencyContact  *Contact `json:"emergency_contact"`
	LegalGuardian     *Contact `json:"legal_guardian"`
}

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type Contact struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
}

type Code struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display"`
}

type Problem struct {
	ID                 string `json:"id"`
	Code               *Code  `json:"code"`
	DisplayName        string `json:"display_name"`
	ClinicalStatus     string `json:"clinical_status"`
	VerificationStatus string `json:"verification_status"`
	Severity           string `json:"severity"`
	OnsetDate          string `json:"onset_date"`
	AbatementDate      string `json:"abatement_date"`
	Notes              string `json:"notes"`
}

type Medication struct {
	ID           string     `json:"id"`
	Code         *Code      `json:"code"`
	DisplayName  string     `json:"display_name"`
	Status       string     `json:"status"`
	DoseQuantity flexString `json:"dose_quantity"`
	DoseUnit     string     `json:"dose_unit"`
	Frequency    string     `json:"frequency"`
	Route        string     `json:"route"`
	Instructions string     `json:"instructions"`
	PRN          bool       `json:"prn"`
	StartDate    string     `json:"start_date"`
	EndDate      string     `json:"end_date"`
	Prescriber   string     `json:"prescriber"`
	Indication   string     `json:"indication"`
}

type Reaction struct {
	Manifestation string `json:"manifestation"`
	Severity      string `json:"severity"`
}

type Allergy struct {
	ID             string     `json:"id"`
	DisplayName    string     `json:"display_name"`
	Category       string     `json:"category"`
	Criticality    string     `json:"criticality"`
	Reactions      []Reaction `json:"reactions"`
	ClinicalStatus string     `json:"clinical_status"`
	OnsetDate      string     `json:"onset_date"`
	Notes          string     `json:"notes"`
}

type Named struct {
	Name string `json:"name"`
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
	Condition string `json:"condition"`
	Problem   string `json:"problem"`
	Status    string `json:"status"`
	Notes     string `json:"notes"`
}

type Encounter struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"`
	Status         string            `json:"status"`
	EncounterClass string            `json:"encounter_class"`
	Date           string            `json:"date"`
	EndDate        string            `json:"end_date"`
	ChiefComplaint string            `json:"chief_complaint"`
	Provider       *Named            `json:"provider"`
	Location       *Named            `json:"location"`
	VitalSigns     *VitalSigns       `json:"vital_signs"`
	HPI            string            `json:"hpi"`
	PhysicalExam   json.RawMessage   `json:"physical_exam"`
	Assessment     []AssessmentItem  `json:"assessment"`
	Plan           []json.RawMessage `json:"plan"`
	NarrativeNote  string            `json:"narrative_note"`
	Billing        json.RawMessage   `json:"billing"`
}

type ReferenceRange struct {
	Low  *float64 `json:"low"`
	High *float64 `json:"high"`
	Text string   `json:"text"`
}

type Observation struct {
	ID             string          `json:"id"`
	EncounterID    string          `json:"encounter_id"`
	Category       string          `json:"category"`
	Code           *Code           `json:"code"`
	DisplayName    string          `json:"display_name"`
	ValueQuantity  *float64        `json:"value_quantity"`
	ValueString    string          `json:"value_string"`
	Unit           string          `json:"unit"`
	Interpretation string          `json:"interpretation"`
	ReferenceRange *ReferenceRange `json:"reference_range"`
	EffectiveDate  string          `json:"effective_date"`
	Performer      string          `json:"performer"`
	Notes          string          `json:"notes"`
}

type Immunization struct {
	ID          string `json:"id"`
	VaccineCode *Code  `json:"vaccine_code"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
	Date        string `json:"date"`
	DoseNumber  *int   `json:"dose_number"`
	SeriesDoses *int   `json:"series_doses"`
	Site        string `json:"site"`
	LotNumber   string `json:"lot_number"`
	Performer   string `json:"performer"`
	Notes       string `json:"notes"`
}

type Message struct {
	ID              string `json:"id"`
	SentDatetime    string `json:"sent_datetime"`
	ReplyDatetime   string `json:"reply_datetime"`
	SenderName      string `json:"sender_name"`
	SenderIsPatient *bool  `json:"sender_is_patient"`
	RecipientName   string `json:"recipient_name"`
	ReplierName     string `json:"replier_name"`
	ReplierRole     string `json:"replier_role"`
	Category        string `json:"category"`
	Medium          string `json:"medium"`
	Subject         string `json:"subject"`
	MessageBody     string `json:"message_body"`
	ReplyBody       string `json:"reply_body"`
}

type GrowthPoint struct {
	ID                  string   `json:"id"`
	EncounterID         string   `json:"encounter_id"`
	Date                string   `json:"date"`
	AgeInDays           *int     `json:"age_in_days"`
	WeightKg            *float64 `json:"weight_kg"`
	HeightCm            *float64 `json:"height_cm"`
	HeadCircumferenceCm *float64 `json:"head_circumference_cm"`
	BMI                 *float64 `json:"bmi"`
	WeightPercentile    *float64 `json:"weight_percentile"`
	HeightPercentile    *float64 `json:"height_percentile"`
	BMIPercentile       *float64 `json:"bmi_percentile"`
}

// flexString accepts either a JSON string or a JSON number. Producers of the
// format disagree on how dose quantities are written.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}
