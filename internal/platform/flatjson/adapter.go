package flatjson

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/mneme/emr/internal/domain/record"
	"github.com/mneme/emr/internal/platform/codesystem"
)

// Adapter maps oread JSON patient files onto the canonical record.
type Adapter struct{}

func NewAdapter() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Format() record.Format {
	return record.FormatFlatJSON
}

func (a *Adapter) Extract(raw []byte) (*record.ExtractedPatient, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, record.Malformed(record.FormatFlatJSON, "Invalid JSON", err)
	}

	var demo Demographics
	demoRaw := bytes.TrimSpace(doc.Demographics)
	switch {
	case len(demoRaw) > 0 && demoRaw[0] == '{':
		if err := json.Unmarshal(demoRaw, &demo); err != nil {
			return nil, record.Malformed(record.FormatFlatJSON, "Invalid JSON", err)
		}
	case doc.ID == "":
		return nil, record.Extraction(record.FormatFlatJSON, "No demographics found")
	}

	ex := record.NewExtractedPatient(patient(doc.ID, &demo))
	for _, p := range doc.ProblemList {
		ex.Conditions = append(ex.Conditions, condition(p))
	}
	for _, m := range doc.MedicationList {
		ex.Medications = append(ex.Medications, medication(m))
	}
	for _, al := range doc.AllergyList {
		ex.Allergies = append(ex.Allergies, allergy(al))
	}
	for _, e := range doc.Encounters {
		ex.Encounters = append(ex.Encounters, encounter(e))
	}
	for _, o := range doc.Observations {
		ex.Observations = append(ex.Observations, observation(o))
	}
	for _, i := range doc.ImmunizationRecord {
		ex.Immunizations = append(ex.Immunizations, immunization(i))
	}
	for _, m := range doc.PatientMessages {
		ex.Messages = append(ex.Messages, message(m))
	}
	for _, g := range doc.GrowthData {
		ex.GrowthData = append(ex.GrowthData, growthPoint(g))
	}
	return ex, nil
}

func or(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func system(c *Code) *string {
	if c == nil || c.System == "" {
		return nil
	}
	s := codesystem.Normalize(c.System)
	return &s
}

func code(c *Code) *string {
	if c == nil {
		return nil
	}
	return record.Ptr(c.Code)
}

func display(c *Code) string {
	if c == nil {
		return ""
	}
	return c.Display
}

func contact(c *Contact) *record.Contact {
	if c == nil {
		return nil
	}
	return &record.Contact{
		Name:         record.Ptr(c.Name),
		Relationship: record.Ptr(c.Relationship),
		Phone:        record.Ptr(c.Phone),
		Email:        record.Ptr(c.Email),
	}
}

func patient(id string, d *Demographics) record.Patient {
	p := record.Patient{
		ExternalID:        record.Ptr(id),
		GivenNames:        d.GivenNames,
		FamilyName:        or(d.FamilyName, record.UnknownName),
		DateOfBirth:       record.Ptr(d.DateOfBirth),
		SexAtBirth:        record.Ptr(d.SexAtBirth),
		GenderIdentity:    record.Ptr(d.GenderIdentity),
		Race:              d.Race,
		Ethnicity:         record.Ptr(d.Ethnicity),
		PreferredLanguage: or(d.PreferredLanguage, record.DefaultLanguage),
		Phone:             record.Ptr(d.Phone),
		Email:             record.Ptr(d.Email),
		EmergencyContact:  contact(d.EmergencyContact),
		LegalGuardian:     contact(d.LegalGuardian),
	}
	if len(p.GivenNames) == 0 {
		p.GivenNames = []string{record.UnknownName}
	}
	if addr := d.Address; addr != nil {
		p.Address = &record.Address{
			Line1:      record.Ptr(addr.Line1),
			Line2:      record.Ptr(addr.Line2),
			City:       record.Ptr(addr.City),
			State:      record.Ptr(addr.State),
			PostalCode: record.Ptr(addr.PostalCode),
			Country:    or(addr.Country, record.DefaultCountry),
		}
	}
	return p
}

func condition(p Problem) record.Condition {
	return record.Condition{
		ExternalID:         record.Ptr(p.ID),
		CodeSystem:         system(p.Code),
		Code:               code(p.Code),
		DisplayName:        or(p.DisplayName, or(display(p.Code), record.UnknownName)),
		ClinicalStatus:     or(p.ClinicalStatus, record.DefaultClinicalStatus),
		VerificationStatus: or(p.VerificationStatus, record.DefaultVerification),
		Severity:           record.Ptr(p.Severity),
		OnsetDate:          record.Ptr(p.OnsetDate),
		AbatementDate:      record.Ptr(p.AbatementDate),
		Notes:              record.Ptr(p.Notes),
	}
}

func medication(m Medication) record.Medication {
	return record.Medication{
		ExternalID:   record.Ptr(m.ID),
		CodeSystem:   system(m.Code),
		Code:         code(m.Code),
		DisplayName:  or(m.DisplayName, or(display(m.Code), record.UnknownName)),
		Status:       or(m.Status, record.DefaultMedicationStatus),
		DoseQuantity: record.Ptr(string(m.DoseQuantity)),
		DoseUnit:     record.Ptr(m.DoseUnit),
		Frequency:    record.Ptr(m.Frequency),
		Route:        or(m.Route, record.DefaultRoute),
		Instructions: record.Ptr(m.Instructions),
		PRN:          m.PRN,
		StartDate:    record.Ptr(m.StartDate),
		EndDate:      record.Ptr(m.EndDate),
		Prescriber:   record.Ptr(m.Prescriber),
		Indication:   record.Ptr(m.Indication),
	}
}

func allergy(a Allergy) record.Allergy {
	out := record.Allergy{
		ExternalID:     record.Ptr(a.ID),
		DisplayName:    or(a.DisplayName, record.UnknownName),
		Category:       record.Ptr(a.Category),
		Criticality:    or(a.Criticality, record.DefaultCriticality),
		ClinicalStatus: or(a.ClinicalStatus, record.DefaultClinicalStatus),
		OnsetDate:      record.Ptr(a.OnsetDate),
		Notes:          record.Ptr(a.Notes),
	}
	for _, r := range a.Reactions {
		out.Reactions = append(out.Reactions, record.Reaction{
			Manifestation: record.Ptr(r.Manifestation),
			Severity:      record.Ptr(r.Severity),
		})
	}
	return out
}

// rawOrNil drops JSON null so it is stored as SQL NULL rather than a jsonb
// null literal.
func rawOrNil(m json.RawMessage) json.RawMessage {
	if t := bytes.TrimSpace(m); len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return nil
	}
	return m
}

// planItem accepts either an object with description/category or a bare
// value, whose text becomes the description.
func planItem(raw json.RawMessage) record.PlanItem {
	var obj struct {
		Description *string `json:"description"`
		Category    string  `json:"category"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Description != nil {
		return record.PlanItem{Description: obj.Description, Category: record.Ptr(obj.Category)}
	} else if err == nil {
		return record.PlanItem{Description: record.Ptr(string(bytes.TrimSpace(raw))), Category: record.Ptr(obj.Category)}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return record.PlanItem{Description: record.Ptr(s)}
	}
	return record.PlanItem{Description: record.Ptr(strings.TrimSpace(string(raw)))}
}

func encounter(e Encounter) record.Encounter {
	out := record.Encounter{
		ExternalID:     record.Ptr(e.ID),
		EncounterType:  record.Ptr(e.Type),
		Status:         or(e.Status, record.DefaultEncounterStatus),
		EncounterClass: or(e.EncounterClass, record.DefaultEncounterClass),
		Date:           record.Ptr(e.Date),
		EndDate:        record.Ptr(e.EndDate),
		ChiefComplaint: record.Ptr(e.ChiefComplaint),
		HPI:            record.Ptr(e.HPI),
		PhysicalExam:   rawOrNil(e.PhysicalExam),
		NarrativeNote:  record.Ptr(e.NarrativeNote),
		BillingCodes:   rawOrNil(e.Billing),
	}
	if e.Provider != nil {
		out.ProviderName = record.Ptr(e.Provider.Name)
	}
	if e.Location != nil {
		out.LocationName = record.Ptr(e.Location.Name)
	}
	if vs := e.VitalSigns; vs != nil {
		out.VitalSigns = &record.VitalSigns{
			TemperatureF:           vs.TemperatureF,
			HeartRate:              vs.HeartRate,
			RespiratoryRate:        vs.RespiratoryRate,
			BloodPressureSystolic:  vs.BloodPressureSystolic,
			BloodPressureDiastolic: vs.BloodPressureDiastolic,
			OxygenSaturation:       vs.OxygenSaturation,
			WeightKg:               vs.WeightKg,
			HeightCm:               vs.HeightCm,
		}
	}
	for _, a := range e.Assessment {
		out.Assessment = append(out.Assessment, record.AssessmentItem{
			Condition: record.Ptr(or(a.Condition, a.Problem)),
			Status:    record.Ptr(a.Status),
			Notes:     record.Ptr(a.Notes),
		})
	}
	for _, raw := range e.Plan {
		out.Plan = append(out.Plan, planItem(raw))
	}
	return out
}

func observation(o Observation) record.Observation {
	out := record.Observation{
		ExternalID:     record.Ptr(o.ID),
		EncounterRef:   o.EncounterID,
		Category:       or(o.Category, record.DefaultObservationCat),
		CodeSystem:     system(o.Code),
		Code:           code(o.Code),
		DisplayName:    or(display(o.Code), or(o.DisplayName, record.UnknownName)),
		ValueQuantity:  o.ValueQuantity,
		ValueString:    record.Ptr(o.ValueString),
		ValueUnit:      record.Ptr(o.Unit),
		Interpretation: record.Ptr(o.Interpretation),
		EffectiveDate:  record.Ptr(o.EffectiveDate),
		Performer:      record.Ptr(o.Performer),
		Notes:          record.Ptr(o.Notes),
	}
	if rr := o.ReferenceRange; rr != nil {
		out.ReferenceRange = &record.ReferenceRange{Low: rr.Low, High: rr.High, Text: record.Ptr(rr.Text)}
	}
	return out
}

func immunization(i Immunization) record.Immunization {
	return record.Immunization{
		ExternalID:  record.Ptr(i.ID),
		VaccineCode: code(i.VaccineCode),
		DisplayName: or(i.DisplayName, record.UnknownName),
		Status:      or(i.Status, record.DefaultImmunizationStat),
		Date:        record.Ptr(i.Date),
		DoseNumber:  i.DoseNumber,
		SeriesDoses: i.SeriesDoses,
		Site:        record.Ptr(i.Site),
		LotNumber:   record.Ptr(i.LotNumber),
		Performer:   record.Ptr(i.Performer),
		Notes:       record.Ptr(i.Notes),
	}
}

func message(m Message) record.Message {
	fromPatient := true
	if m.SenderIsPatient != nil {
		fromPatient = *m.SenderIsPatient
	}
	return record.Message{
		ExternalID:      record.Ptr(m.ID),
		SentDatetime:    record.Ptr(m.SentDatetime),
		ReplyDatetime:   record.Ptr(m.ReplyDatetime),
		SenderName:      or(m.SenderName, record.UnknownName),
		SenderIsPatient: fromPatient,
		RecipientName:   record.Ptr(m.RecipientName),
		ReplierName:     record.Ptr(m.ReplierName),
		ReplierRole:     record.Ptr(m.ReplierRole),
		Category:        record.Ptr(m.Category),
		Medium:          or(m.Medium, record.DefaultMedium),
		Subject:         record.Ptr(m.Subject),
		MessageBody:     m.MessageBody,
		ReplyBody:       record.Ptr(m.ReplyBody),
	}
}

func growthPoint(g GrowthPoint) record.GrowthPoint {
	return record.GrowthPoint{
		ExternalID:          record.Ptr(g.ID),
		EncounterRef:        g.EncounterID,
		Date:                record.Ptr(g.Date),
		AgeInDays:           g.AgeInDays,
		WeightKg:            g.WeightKg,
		HeightCm:            g.HeightCm,
		HeadCircumferenceCm: g.HeadCircumferenceCm,
		BMI:                 g.BMI,
		WeightPercentile:    g.WeightPercentile,
		HeightPercentile:    g.HeightPercentile,
		BMIPercentile:       g.BMIPercentile,
	}
}
