package fhir

type PatientContact struct {
	Relationship []CodeableConcept `json:"relationship,omitempty"`
	Name         *HumanName        `json:"name,omitempty"`
	Telecom      []ContactPoint    `json:"telecom,omitempty"`
}

type PatientCommunication struct {
	Language  CodeableConcept `json:"language"`
	Preferred bool            `json:"preferred,omitempty"`
}

type Patient struct {
	Resource
	Name          []HumanName            `json:"name,omitempty"`
	Gender        string                 `json:"gender,omitempty"`
	BirthDate     string                 `json:"birthDate,omitempty"`
	Address       []Address              `json:"address,omitempty"`
	Telecom       []ContactPoint         `json:"telecom,omitempty"`
	Contact       []PatientContact       `json:"contact,omitempty"`
	Communication []PatientCommunication `json:"communication,omitempty"`
}

type Condition struct {
	Resource
	Subject            *Reference       `json:"subject,omitempty"`
	Code               *CodeableConcept `json:"code,omitempty"`
	ClinicalStatus     *CodeableConcept `json:"clinicalStatus,omitempty"`
	VerificationStatus *CodeableConcept `json:"verificationStatus,omitempty"`
	Severity           *CodeableConcept `json:"severity,omitempty"`
	OnsetDateTime      string           `json:"onsetDateTime,omitempty"`
	AbatementDateTime  string           `json:"abatementDateTime,omitempty"`
}

type DoseAndRate struct {
	DoseQuantity *Quantity `json:"doseQuantity,omitempty"`
}

type Timing struct {
	Code *CodeableConcept `json:"code,omitempty"`
}

type Dosage struct {
	Text        string           `json:"text,omitempty"`
	Timing      *Timing          `json:"timing,omitempty"`
	Route       *CodeableConcept `json:"route,omitempty"`
	DoseAndRate []DoseAndRate    `json:"doseAndRate,omitempty"`
	AsNeeded    bool             `json:"asNeeded,omitempty"`
}

// MedicationStatement and MedicationRequest share the fields the adapter
// reads; Dosage holds MedicationStatement.dosage and DosageInstruction
// holds MedicationRequest.dosageInstruction.
type MedicationUse struct {
	Resource
	Status            string             `json:"status,omitempty"`
	Subject           *Reference         `json:"subject,omitempty"`
	Medication        *CodeableReference `json:"medication,omitempty"`
	Dosage            []Dosage           `json:"dosage,omitempty"`
	DosageInstruction []Dosage           `json:"dosageInstruction,omitempty"`
	EffectiveDateTime string             `json:"effectiveDateTime,omitempty"`
	EffectivePeriod   *Period            `json:"effectivePeriod,omitempty"`
}

// Medication is resolved through the reference index when a medication
// use points at it instead of carrying a concept.
type Medication struct {
	Resource
	Code *CodeableConcept `json:"code,omitempty"`
}

type AllergyReaction struct {
	Manifestation []CodeableReference `json:"manifestation,omitempty"`
	Severity      string              `json:"severity,omitempty"`
}

type AllergyIntolerance struct {
	Resource
	Patient        *Reference        `json:"patient,omitempty"`
	Code           *CodeableConcept  `json:"code,omitempty"`
	Category       []string          `json:"category,omitempty"`
	Criticality    string            `json:"criticality,omitempty"`
	ClinicalStatus *CodeableConcept  `json:"clinicalStatus,omitempty"`
	OnsetDateTime  string            `json:"onsetDateTime,omitempty"`
	Reaction       []AllergyReaction `json:"reaction,omitempty"`
}

type EncounterReason struct {
	Value []CodeableReference `json:"value,omitempty"`
}

type Encounter struct {
	Resource
	Status       string            `json:"status,omitempty"`
	Subject      *Reference        `json:"subject,omitempty"`
	Class        []CodeableConcept `json:"class,omitempty"`
	Type         []CodeableConcept `json:"type,omitempty"`
	ActualPeriod *Period           `json:"actualPeriod,omitempty"`
	Reason       []EncounterReason `json:"reason,omitempty"`
	Text         *Narrative        `json:"text,omitempty"`
}

type ObservationReferenceRange struct {
	Low  *Quantity `json:"low,omitempty"`
	High *Quantity `json:"high,omitempty"`
	Text string    `json:"text,omitempty"`
}

type Observation struct {
	Resource
	Subject              *Reference                  `json:"subject,omitempty"`
	Encounter            *Reference                  `json:"encounter,omitempty"`
	Category             []CodeableConcept           `json:"category,omitempty"`
	Code                 *CodeableConcept            `json:"code,omitempty"`
	ValueQuantity        *Quantity                   `json:"valueQuantity,omitempty"`
	ValueString          string                      `json:"valueString,omitempty"`
	ValueCodeableConcept *CodeableConcept            `json:"valueCodeableConcept,omitempty"`
	ReferenceRange       []ObservationReferenceRange `json:"referenceRange,omitempty"`
	Interpretation       []CodeableConcept           `json:"interpretation,omitempty"`
	EffectiveDateTime    string                      `json:"effectiveDateTime,omitempty"`
}

type Immunization struct {
	Resource
	Patient            *Reference       `json:"patient,omitempty"`
	Status             string           `json:"status,omitempty"`
	VaccineCode        *CodeableConcept `json:"vaccineCode,omitempty"`
	OccurrenceDateTime string           `json:"occurrenceDateTime,omitempty"`
	Site               *CodeableConcept `json:"site,omitempty"`
	LotNumber          string           `json:"lotNumber,omitempty"`
}

type CommunicationPayload struct {
	ContentString          string           `json:"contentString,omitempty"`
	ContentCodeableConcept *CodeableConcept `json:"contentCodeableConcept,omitempty"`
}

type Communication struct {
	Resource
	Subject  *Reference             `json:"subject,omitempty"`
	Sender   *Reference             `json:"sender,omitempty"`
	Sent     string                 `json:"sent,omitempty"`
	Received string                 `json:"received,omitempty"`
	Category []CodeableConcept      `json:"category,omitempty"`
	Topic    *CodeableConcept       `json:"topic,omitempty"`
	Payload  []CommunicationPayload `json:"payload,omitempty"`
}
