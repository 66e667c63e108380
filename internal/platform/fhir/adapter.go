package fhir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mneme/emr/internal/domain/record"
	"github.com/mneme/emr/internal/platform/codesystem"
)

var genderMap = map[string]string{
	"male":   "male",
	"female": "female",
	"other":  "other",
}

var encounterClassMap = map[string]string{
	"AMB":  "ambulatory",
	"EMER": "emergency",
	"IMP":  "inpatient",
	"VR":   "virtual",
	"HH":   "home",
}

var allergyCategoryMap = map[string]string{
	"food":        "food",
	"medication":  "medication",
	"environment": "environment",
	"biologic":    "biologic",
}

// Adapter extracts a canonical record from a FHIR R5 Bundle. It holds no
// per-document state and is safe for concurrent use.
type Adapter struct{}

func NewAdapter() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Format() record.Format {
	return record.FormatFHIR
}

// Extract decodes raw as a Bundle and maps every resource that refers to
// the bundle's first Patient. A reference belongs to the patient when its
// string contains the patient id.
func (a *Adapter) Extract(raw []byte) (*record.ExtractedPatient, error) {
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, record.Malformed(record.FormatFHIR, "Invalid FHIR Bundle", err)
	}
	if b.ResourceType != "" && b.ResourceType != "Bundle" {
		return nil, record.Malformed(record.FormatFHIR, "Invalid FHIR Bundle",
			fmt.Errorf("resourceType is %q, expected Bundle", b.ResourceType))
	}

	ix, err := newIndex(&b)
	if err != nil {
		return nil, record.Malformed(record.FormatFHIR, "Invalid FHIR Bundle", err)
	}

	pe := ix.first("Patient")
	if pe == nil {
		return nil, record.Extraction(record.FormatFHIR, "No Patient resource found in Bundle")
	}
	fp, err := decode[Patient](pe)
	if err != nil {
		return nil, record.Malformed(record.FormatFHIR, "Invalid FHIR Bundle", err)
	}

	x := &extraction{ix: ix, patientID: fp.ID}
	ex := record.NewExtractedPatient(x.patient(fp))
	if err := x.children(ex); err != nil {
		return nil, record.Malformed(record.FormatFHIR, "Invalid FHIR Bundle", err)
	}
	return ex, nil
}

// extraction holds the state of a single Extract call.
type extraction struct {
	ix        *index
	patientID string
}

func (x *extraction) belongs(ref *Reference) bool {
	if ref == nil || x.patientID == "" || ref.Reference == "" {
		return false
	}
	return strings.Contains(ref.Reference, x.patientID)
}

func (x *extraction) children(ex *record.ExtractedPatient) error {
	for _, e := range x.ix.entries {
		switch e.ResourceType {
		case "Condition":
			r, err := decode[Condition](e)
			if err != nil {
				return err
			}
			if x.belongs(r.Subject) {
				ex.Conditions = append(ex.Conditions, condition(r))
			}
		case "MedicationStatement":
			r, err := decode[MedicationUse](e)
			if err != nil {
				return err
			}
			if x.belongs(r.Subject) {
				ex.Medications = append(ex.Medications, x.medicationStatement(r))
			}
		case "MedicationRequest":
			r, err := decode[MedicationUse](e)
			if err != nil {
				return err
			}
			if x.belongs(r.Subject) {
				ex.Medications = append(ex.Medications, x.medicationRequest(r))
			}
		case "AllergyIntolerance":
			r, err := decode[AllergyIntolerance](e)
			if err != nil {
				return err
			}
			if x.belongs(r.Patient) {
				ex.Allergies = append(ex.Allergies, allergy(r))
			}
		case "Encounter":
			r, err := decode[Encounter](e)
			if err != nil {
				return err
			}
			if x.belongs(r.Subject) {
				ex.Encounters = append(ex.Encounters, encounter(r))
			}
		case "Observation":
			r, err := decode[Observation](e)
			if err != nil {
				return err
			}
			if x.belongs(r.Subject) {
				ex.Observations = append(ex.Observations, x.observation(r))
			}
		case "Immunization":
			r, err := decode[Immunization](e)
			if err != nil {
				return err
			}
			if x.belongs(r.Patient) {
				ex.Immunizations = append(ex.Immunizations, immunization(r))
			}
		case "Communication":
			r, err := decode[Communication](e)
			if err != nil {
				return err
			}
			if x.belongs(r.Subject) {
				ex.Messages = append(ex.Messages, x.message(r))
			}
		}
	}
	return nil
}

func (x *extraction) patient(fp *Patient) record.Patient {
	p := record.Patient{
		ExternalID:        record.Ptr(fp.ID),
		GivenNames:        []string{record.UnknownName},
		FamilyName:        record.UnknownName,
		DateOfBirth:       record.Ptr(fp.BirthDate),
		PreferredLanguage: preferredLanguage(fp.Communication),
	}

	if len(fp.Name) > 0 {
		name := fp.Name[0]
		if len(name.Given) > 0 {
			p.GivenNames = append([]string(nil), name.Given...)
		}
		if name.Family != "" {
			p.FamilyName = name.Family
		}
	}

	if fp.Gender != "" {
		if g, ok := genderMap[fp.Gender]; ok {
			p.SexAtBirth = &g
		} else if fp.Gender != "unknown" {
			p.SexAtBirth = record.Ptr(fp.Gender)
		}
	}

	if len(fp.Address) > 0 {
		addr := fp.Address[0]
		a := &record.Address{
			City:       record.Ptr(addr.City),
			State:      record.Ptr(addr.State),
			PostalCode: record.Ptr(addr.PostalCode),
			Country:    addr.Country,
		}
		if len(addr.Line) > 0 {
			a.Line1 = record.Ptr(addr.Line[0])
		}
		if len(addr.Line) > 1 {
			a.Line2 = record.Ptr(addr.Line[1])
		}
		if a.Country == "" {
			a.Country = record.DefaultCountry
		}
		p.Address = a
	}

	p.Phone, p.Email = firstTelecom(fp.Telecom)

	for _, c := range fp.Contact {
		contact := contactOf(c)
		switch contactRole(c) {
		case roleEmergency:
			if p.EmergencyContact == nil {
				p.EmergencyContact = contact
			}
		case roleGuardian:
			if p.LegalGuardian == nil {
				p.LegalGuardian = contact
			}
		default:
			if p.EmergencyContact == nil {
				p.EmergencyContact = contact
			}
		}
	}

	return p
}

type contactKind int

const (
	roleOther contactKind = iota
	roleEmergency
	roleGuardian
)

func contactRole(c PatientContact) contactKind {
	for _, rel := range c.Relationship {
		switch rel.Code() {
		case "C", "emergency":
			return roleEmergency
		case "PRN", "guardian", "parent":
			return roleGuardian
		}
	}
	return roleOther
}

func contactOf(c PatientContact) *record.Contact {
	out := &record.Contact{}
	if c.Name != nil {
		parts := append([]string(nil), c.Name.Given...)
		if c.Name.Family != "" {
			parts = append(parts, c.Name.Family)
		}
		name := strings.Join(parts, " ")
		if name == "" {
			name = c.Name.Text
		}
		out.Name = record.Ptr(name)
	}
	for i := range c.Relationship {
		if d := c.Relationship[i].Display(); d != "" {
			out.Relationship = &d
			break
		}
	}
	out.Phone, out.Email = firstTelecom(c.Telecom)
	return out
}

func firstTelecom(points []ContactPoint) (phone, email *string) {
	for _, t := range points {
		switch t.System {
		case "phone":
			if phone == nil {
				phone = record.Ptr(t.Value)
			}
		case "email":
			if email == nil {
				email = record.Ptr(t.Value)
			}
		}
	}
	return phone, email
}

func preferredLanguage(comms []PatientCommunication) string {
	for i := range comms {
		if !comms[i].Preferred {
			continue
		}
		if lang := comms[i].Language.Display(); lang != "" {
			return lang
		}
	}
	return record.DefaultLanguage
}

// dateOnly keeps the leading YYYY-MM-DD of a FHIR dateTime. Partial or
// unparsable values yield nil.
func dateOnly(s string) *string {
	t, ok := record.ParseDate(s)
	if !ok {
		return nil
	}
	d := t.Format(record.DateLayout)
	return &d
}

// coded returns the normalized system, code and display of a concept's
// first coding. The display falls back to the concept text, then fallback.
func coded(cc *CodeableConcept, fallback string) (system, code *string, display string) {
	display = fallback
	if cc == nil {
		return nil, nil, display
	}
	if c := cc.FirstCoding(); c != nil {
		if c.System != "" {
			s := codesystem.Normalize(c.System)
			system = &s
		}
		code = record.Ptr(c.Code)
		if c.Display != "" {
			display = c.Display
		} else if cc.Text != "" {
			display = cc.Text
		}
		return system, code, display
	}
	if cc.Text != "" {
		display = cc.Text
	}
	return nil, nil, display
}

func codeOr(cc *CodeableConcept, fallback string) string {
	if c := cc.Code(); c != "" {
		return c
	}
	return fallback
}

func condition(r *Condition) record.Condition {
	system, code, display := coded(r.Code, record.UnknownName)
	return record.Condition{
		ExternalID:         record.Ptr(r.ID),
		CodeSystem:         system,
		Code:               code,
		DisplayName:        display,
		ClinicalStatus:     codeOr(r.ClinicalStatus, record.DefaultClinicalStatus),
		VerificationStatus: codeOr(r.VerificationStatus, record.DefaultVerification),
		Severity:           record.Ptr(r.Severity.Code()),
		OnsetDate:          dateOnly(r.OnsetDateTime),
		AbatementDate:      dateOnly(r.AbatementDateTime),
	}
}

// medicationConcept returns the concept of a CodeableReference, resolving
// a reference to a Medication resource in the same bundle when needed.
func (x *extraction) medicationConcept(cr *CodeableReference) *CodeableConcept {
	if cr == nil {
		return nil
	}
	if cr.Concept != nil {
		return cr.Concept
	}
	if cr.Reference == nil {
		return nil
	}
	e, ok := x.ix.resolve(cr.Reference.Reference)
	if !ok || e.ResourceType != "Medication" {
		if cr.Reference.Display != "" {
			return &CodeableConcept{Text: cr.Reference.Display}
		}
		return nil
	}
	m, err := decode[Medication](e)
	if err != nil {
		return nil
	}
	return m.Code
}

func (x *extraction) medicationBase(r *MedicationUse) record.Medication {
	system, code, display := coded(x.medicationConcept(r.Medication), record.UnknownName)
	status := r.Status
	if status == "" {
		status = record.DefaultMedicationStatus
	}
	return record.Medication{
		ExternalID:  record.Ptr(r.ID),
		CodeSystem:  system,
		Code:        code,
		DisplayName: display,
		Status:      status,
		Route:       record.DefaultRoute,
	}
}

func (x *extraction) medicationStatement(r *MedicationUse) record.Medication {
	m := x.medicationBase(r)
	if len(r.Dosage) > 0 {
		d := r.Dosage[0]
		if len(d.DoseAndRate) > 0 && d.DoseAndRate[0].DoseQuantity != nil {
			q := d.DoseAndRate[0].DoseQuantity
			if q.Value != nil && *q.Value != 0 {
				v := strconv.FormatFloat(*q.Value, 'f', -1, 64)
				m.DoseQuantity = &v
			}
			m.DoseUnit = record.Ptr(q.Unit)
		}
		if d.Timing != nil && d.Timing.Code != nil {
			m.Frequency = record.Ptr(d.Timing.Code.Display())
		}
		if d.Route != nil {
			m.Route = codeOr(d.Route, record.DefaultRoute)
		}
		m.Instructions = record.Ptr(d.Text)
	}
	switch {
	case r.EffectiveDateTime != "":
		m.StartDate = dateOnly(r.EffectiveDateTime)
	case r.EffectivePeriod != nil:
		m.StartDate = dateOnly(r.EffectivePeriod.Start)
	}
	return m
}

func (x *extraction) medicationRequest(r *MedicationUse) record.Medication {
	m := x.medicationBase(r)
	if len(r.DosageInstruction) > 0 && r.DosageInstruction[0].AsNeeded {
		m.PRN = true
	}
	return m
}

func allergy(r *AllergyIntolerance) record.Allergy {
	_, _, display := coded(r.Code, record.UnknownName)
	a := record.Allergy{
		ExternalID:     record.Ptr(r.ID),
		DisplayName:    display,
		Criticality:    r.Criticality,
		ClinicalStatus: codeOr(r.ClinicalStatus, record.DefaultClinicalStatus),
		OnsetDate:      dateOnly(r.OnsetDateTime),
	}
	if a.Criticality == "" {
		a.Criticality = record.DefaultCriticality
	}
	if len(r.Category) > 0 {
		cat := r.Category[0]
		if mapped, ok := allergyCategoryMap[cat]; ok {
			cat = mapped
		}
		a.Category = &cat
	}
	for _, rx := range r.Reaction {
		reaction := record.Reaction{Severity: record.Ptr(rx.Severity)}
		for _, m := range rx.Manifestation {
			if m.Concept != nil {
				reaction.Manifestation = record.Ptr(m.Concept.Display())
				break
			}
		}
		a.Reactions = append(a.Reactions, reaction)
	}
	return a
}

func encounter(r *Encounter) record.Encounter {
	enc := record.Encounter{
		ExternalID:     record.Ptr(r.ID),
		Status:         r.Status,
		EncounterClass: record.DefaultEncounterClass,
	}
	if enc.Status == "" {
		enc.Status = record.DefaultEncounterStatus
	}
	if len(r.Type) > 0 {
		enc.EncounterType = record.Ptr(r.Type[0].Display())
	}
	for i := range r.Class {
		if c := r.Class[i].Code(); c != "" {
			if mapped, ok := encounterClassMap[c]; ok {
				c = mapped
			}
			enc.EncounterClass = c
			break
		}
	}
	if r.ActualPeriod != nil {
		enc.Date = record.Ptr(r.ActualPeriod.Start)
		enc.EndDate = record.Ptr(r.ActualPeriod.End)
	}
reasons:
	for _, reason := range r.Reason {
		for _, v := range reason.Value {
			if v.Concept != nil {
				if cc := v.Concept.Display(); cc != "" {
					enc.ChiefComplaint = &cc
					break reasons
				}
			}
		}
	}
	if r.Text != nil {
		enc.NarrativeNote = record.Ptr(r.Text.Div)
	}
	return enc
}

// encounterRef reduces an Observation.encounter reference to the id of the
// Encounter it names, so it can match Encounter.external_id.
func (x *extraction) encounterRef(ref *Reference) string {
	if ref == nil || ref.Reference == "" {
		return ""
	}
	if e, ok := x.ix.resolve(ref.Reference); ok && e.ResourceType == "Encounter" {
		return e.ID
	}
	if i := strings.LastIndex(ref.Reference, "Encounter/"); i >= 0 {
		return ref.Reference[i+len("Encounter/"):]
	}
	return ref.Reference
}

func (x *extraction) observation(r *Observation) record.Observation {
	system, code, display := coded(r.Code, record.UnknownName)
	obs := record.Observation{
		ExternalID:    record.Ptr(r.ID),
		EncounterRef:  x.encounterRef(r.Encounter),
		Category:      record.DefaultObservationCat,
		CodeSystem:    system,
		Code:          code,
		DisplayName:   display,
		EffectiveDate: record.Ptr(r.EffectiveDateTime),
	}
	if len(r.Category) > 0 {
		obs.Category = codeOr(&r.Category[0], record.DefaultObservationCat)
	}
	switch {
	case r.ValueQuantity != nil:
		obs.ValueQuantity = r.ValueQuantity.Value
		obs.ValueUnit = record.Ptr(r.ValueQuantity.Unit)
	case r.ValueString != "":
		obs.ValueString = &r.ValueString
	case r.ValueCodeableConcept != nil:
		obs.ValueString = record.Ptr(r.ValueCodeableConcept.Display())
	}
	if len(r.ReferenceRange) > 0 {
		rr := r.ReferenceRange[0]
		ref := &record.ReferenceRange{Text: record.Ptr(rr.Text)}
		if rr.Low != nil {
			ref.Low = rr.Low.Value
		}
		if rr.High != nil {
			ref.High = rr.High.Value
		}
		obs.ReferenceRange = ref
	}
	if len(r.Interpretation) > 0 {
		obs.Interpretation = record.Ptr(r.Interpretation[0].Code())
	}
	return obs
}

func immunization(r *Immunization) record.Immunization {
	imm := record.Immunization{
		ExternalID:  record.Ptr(r.ID),
		DisplayName: record.UnknownName,
		Status:      r.Status,
		Date:        dateOnly(r.OccurrenceDateTime),
		LotNumber:   record.Ptr(r.LotNumber),
	}
	if imm.Status == "" {
		imm.Status = record.DefaultImmunizationStat
	}
	if r.VaccineCode != nil {
		_, code, display := coded(r.VaccineCode, record.UnknownName)
		imm.VaccineCode = code
		imm.DisplayName = display
	}
	if r.Site != nil {
		imm.Site = record.Ptr(r.Site.Display())
	}
	return imm
}

func (x *extraction) message(r *Communication) record.Message {
	msg := record.Message{
		ExternalID:      record.Ptr(r.ID),
		SentDatetime:    record.Ptr(r.Sent),
		ReplyDatetime:   record.Ptr(r.Received),
		SenderName:      record.UnknownName,
		SenderIsPatient: true,
		Medium:          record.DefaultMedium,
	}
	for _, p := range r.Payload {
		if p.ContentString != "" {
			msg.MessageBody = p.ContentString
			break
		}
		if p.ContentCodeableConcept != nil {
			if text := p.ContentCodeableConcept.Display(); text != "" {
				msg.MessageBody = text
				break
			}
		}
	}
	if len(r.Category) > 0 {
		msg.Category = record.Ptr(r.Category[0].Code())
	}
	if r.Topic != nil {
		msg.Subject = record.Ptr(r.Topic.Text)
	}
	if r.Sender != nil {
		if r.Sender.Display != "" {
			msg.SenderName = r.Sender.Display
		}
		if r.Sender.Reference != "" {
			msg.SenderIsPatient = x.belongs(r.Sender)
		}
	}
	return msg
}
