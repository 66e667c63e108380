package ccda

import "encoding/xml"

// Section template identifiers.
const (
	OIDProblemsSection      = "2.16.840.1.113883.10.20.22.2.5.1"
	OIDMedicationsSection   = "2.16.840.1.113883.10.20.22.2.1.1"
	OIDAllergiesSection     = "2.16.840.1.113883.10.20.22.2.6.1"
	OIDImmunizationsSection = "2.16.840.1.113883.10.20.22.2.2.1"
	OIDEncountersSection    = "2.16.840.1.113883.10.20.22.2.22.1"
	OIDVitalSignsSection    = "2.16.840.1.113883.10.20.22.2.4.1"
	OIDResultsSection       = "2.16.840.1.113883.10.20.22.2.3.1"
	OIDProceduresSection    = "2.16.840.1.113883.10.20.22.2.7.1"
	OIDSocialHistorySection = "2.16.840.1.113883.10.20.22.2.17"
)

// Entry template identifiers.
const (
	OIDProblemConcernAct    = "2.16.840.1.113883.10.20.22.4.3"
	OIDProblemObservation   = "2.16.840.1.113883.10.20.22.4.4"
	OIDMedicationActivity   = "2.16.840.1.113883.10.20.22.4.16"
	OIDAllergyConcernAct    = "2.16.840.1.113883.10.20.22.4.30"
	OIDAllergyObservation   = "2.16.840.1.113883.10.20.22.4.7"
	OIDReactionObservation  = "2.16.840.1.113883.10.20.22.4.9"
	OIDSeverityObservation  = "2.16.840.1.113883.10.20.22.4.8"
	OIDEncounterActivity    = "2.16.840.1.113883.10.20.22.4.49"
	OIDVitalSignsOrganizer  = "2.16.840.1.113883.10.20.22.4.26"
	OIDVitalSignObservation = "2.16.840.1.113883.10.20.22.4.27"
	OIDResultOrganizer      = "2.16.840.1.113883.10.20.22.4.1"
	OIDResultObservation    = "2.16.840.1.113883.10.20.22.4.2"
	OIDImmunizationActivity = "2.16.840.1.113883.10.20.22.4.52"
	OIDProcedureActivity    = "2.16.840.1.113883.10.20.22.4.14"
	OIDSmokingStatus        = "2.16.840.1.113883.10.20.22.4.78"
)

// ClinicalDocument is the root of a CDA R2 document. Only the parts the
// adapter reads are modelled; everything else is skipped by the decoder.
type ClinicalDocument struct {
	XMLName      xml.Name       `xml:"urn:hl7-org:v3 ClinicalDocument"`
	RecordTarget []RecordTarget `xml:"recordTarget"`
	Component    *Component     `xml:"component"`
}

type TemplateID struct {
	Root      string `xml:"root,attr"`
	Extension string `xml:"extension,attr"`
}

type InstanceID struct {
	Root      string `xml:"root,attr"`
	Extension string `xml:"extension,attr"`
}

type Code struct {
	Code           string `xml:"code,attr"`
	CodeSystem     string `xml:"codeSystem,attr"`
	CodeSystemName string `xml:"codeSystemName,attr"`
	DisplayName    string `xml:"displayName,attr"`
	NullFlavor     string `xml:"nullFlavor,attr"`
}

// TimeValue holds an HL7 TS value (YYYYMMDD or YYYYMMDDHHmmss).
type TimeValue struct {
	Value string `xml:"value,attr"`
}

type PhysicalQuantity struct {
	Value string `xml:"value,attr"`
	Unit  string `xml:"unit,attr"`
}

// EffectiveTime covers the TS, IVL_TS and PIVL_TS shapes of effectiveTime.
type EffectiveTime struct {
	Value    string            `xml:"value,attr"`
	Operator string            `xml:"operator,attr"`
	Low      *TimeValue        `xml:"low"`
	High     *TimeValue        `xml:"high"`
	Period   *PhysicalQuantity `xml:"period"`
}

type RecordTarget struct {
	PatientRole *PatientRole `xml:"patientRole"`
}

type PatientRole struct {
	IDs      []InstanceID `xml:"id"`
	Addrs    []Address    `xml:"addr"`
	Telecoms []Telecom    `xml:"telecom"`
	Patient  *Patient     `xml:"patient"`
}

type Patient struct {
	Names                    []Name                  `xml:"name"`
	AdministrativeGenderCode *Code                   `xml:"administrativeGenderCode"`
	BirthTime                *TimeValue              `xml:"birthTime"`
	RaceCodes                []Code                  `xml:"urn:hl7-org:sdtc raceCode"`
	EthnicGroupCodes         []Code                  `xml:"urn:hl7-org:sdtc ethnicGroupCode"`
	LanguageCommunications   []LanguageCommunication `xml:"languageCommunication"`
}

type LanguageCommunication struct {
	LanguageCode *Code `xml:"languageCode"`
}

type Name struct {
	Given  []string `xml:"given"`
	Family []string `xml:"family"`
}

type Address struct {
	Use                string   `xml:"use,attr"`
	StreetAddressLines []string `xml:"streetAddressLine"`
	City               []string `xml:"city"`
	State              []string `xml:"state"`
	PostalCode         []string `xml:"postalCode"`
	Country            []string `xml:"country"`
}

type Telecom struct {
	Use   string `xml:"use,attr"`
	Value string `xml:"value,attr"`
}

type Component struct {
	StructuredBody *StructuredBody `xml:"structuredBody"`
}

type StructuredBody struct {
	Components []SectionComponent `xml:"component"`
}

type SectionComponent struct {
	Section *Section `xml:"section"`
}

// Section is a body section. Sections may nest through component/section.
type Section struct {
	TemplateIDs []TemplateID       `xml:"templateId"`
	Code        *Code              `xml:"code"`
	Title       string             `xml:"title"`
	Entries     []Entry            `xml:"entry"`
	Components  []SectionComponent `xml:"component"`
}

type Entry struct {
	Act                     *Act                     `xml:"act"`
	Observation             *Observation             `xml:"observation"`
	SubstanceAdministration *SubstanceAdministration `xml:"substanceAdministration"`
	Encounter               *Encounter               `xml:"encounter"`
	Organizer               *Organizer               `xml:"organizer"`
	Procedure               *Procedure               `xml:"procedure"`
}

type EntryRelationship struct {
	TypeCode    string       `xml:"typeCode,attr"`
	Observation *Observation `xml:"observation"`
	Act         *Act         `xml:"act"`
}

type Act struct {
	TemplateIDs        []TemplateID        `xml:"templateId"`
	IDs                []InstanceID        `xml:"id"`
	Code               *Code               `xml:"code"`
	StatusCode         *Code               `xml:"statusCode"`
	EffectiveTime      *EffectiveTime      `xml:"effectiveTime"`
	EntryRelationships []EntryRelationship `xml:"entryRelationship"`
}

// Value is an ANY-typed observation value. Type carries the xsi:type
// (PQ, ST, CD, ...); Text holds character content for ST values.
type Value struct {
	Type        string `xml:"http://www.w3.org/2001/XMLSchema-instance type,attr"`
	Value       string `xml:"value,attr"`
	Unit        string `xml:"unit,attr"`
	Code        string `xml:"code,attr"`
	CodeSystem  string `xml:"codeSystem,attr"`
	DisplayName string `xml:"displayName,attr"`
	Text        string `xml:",chardata"`
}

type ObservationRange struct {
	Text string `xml:"text"`
}

type ReferenceRange struct {
	ObservationRange *ObservationRange `xml:"observationRange"`
}

type Observation struct {
	TemplateIDs         []TemplateID        `xml:"templateId"`
	IDs                 []InstanceID        `xml:"id"`
	Code                *Code               `xml:"code"`
	StatusCode          *Code               `xml:"statusCode"`
	EffectiveTime       *EffectiveTime      `xml:"effectiveTime"`
	Values              []Value             `xml:"value"`
	InterpretationCodes []Code              `xml:"interpretationCode"`
	ReferenceRanges     []ReferenceRange    `xml:"referenceRange"`
	Participants        []Participant       `xml:"participant"`
	EntryRelationships  []EntryRelationship `xml:"entryRelationship"`
}

type Participant struct {
	TypeCode        string           `xml:"typeCode,attr"`
	ParticipantRole *ParticipantRole `xml:"participantRole"`
}

type ParticipantRole struct {
	PlayingEntity *PlayingEntity `xml:"playingEntity"`
}

type PlayingEntity struct {
	Code *Code  `xml:"code"`
	Name string `xml:"name"`
}

type SubstanceAdministration struct {
	NegationInd        string              `xml:"negationInd,attr"`
	TemplateIDs        []TemplateID        `xml:"templateId"`
	IDs                []InstanceID        `xml:"id"`
	StatusCode         *Code               `xml:"statusCode"`
	EffectiveTimes     []EffectiveTime     `xml:"effectiveTime"`
	RouteCode          *Code               `xml:"routeCode"`
	DoseQuantity       *PhysicalQuantity   `xml:"doseQuantity"`
	Consumable         *Consumable         `xml:"consumable"`
	EntryRelationships []EntryRelationship `xml:"entryRelationship"`
}

type Consumable struct {
	ManufacturedProduct *ManufacturedProduct `xml:"manufacturedProduct"`
}

type ManufacturedProduct struct {
	ManufacturedMaterial *ManufacturedMaterial `xml:"manufacturedMaterial"`
}

type ManufacturedMaterial struct {
	Code          *Code  `xml:"code"`
	LotNumberText string `xml:"lotNumberText"`
}

type Encounter struct {
	TemplateIDs   []TemplateID   `xml:"templateId"`
	IDs           []InstanceID   `xml:"id"`
	Code          *Code          `xml:"code"`
	EffectiveTime *EffectiveTime `xml:"effectiveTime"`
	Performers    []Performer    `xml:"performer"`
}

type Performer struct {
	AssignedEntity *AssignedEntity `xml:"assignedEntity"`
}

type AssignedEntity struct {
	AssignedPerson *AssignedPerson `xml:"assignedPerson"`
}

type AssignedPerson struct {
	Names []Name `xml:"name"`
}

// Organizer groups related observations such as a lab panel or a vital
// signs set.
type Organizer struct {
	TemplateIDs   []TemplateID         `xml:"templateId"`
	IDs           []InstanceID         `xml:"id"`
	Code          *Code                `xml:"code"`
	StatusCode    *Code                `xml:"statusCode"`
	EffectiveTime *EffectiveTime       `xml:"effectiveTime"`
	Components    []OrganizerComponent `xml:"component"`
}

type OrganizerComponent struct {
	Observation *Observation `xml:"observation"`
}

type Procedure struct {
	TemplateIDs   []TemplateID   `xml:"templateId"`
	IDs           []InstanceID   `xml:"id"`
	Code          *Code          `xml:"code"`
	StatusCode    *Code          `xml:"statusCode"`
	EffectiveTime *EffectiveTime `xml:"effectiveTime"`
}

func hasTemplate(ids []TemplateID, oid string) bool {
	for _, t := range ids {
		if t.Root == oid {
			return true
		}
	}
	return false
}

func firstRoot(ids []InstanceID) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0].Root
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
