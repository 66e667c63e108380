package ccda

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mneme/emr/internal/domain/record"
	"github.com/mneme/emr/internal/platform/codesystem"
)

var genderMap = map[string]string{
	"M":  "male",
	"F":  "female",
	"UN": "unknown",
}

var languageMap = map[string]string{
	"en": "English",
	"es": "Spanish",
	"zh": "Chinese",
	"vi": "Vietnamese",
}

var allergyCategoryMap = map[string]string{
	"416098002": "medication",
	"414285001": "food",
	"419199007": "environment",
}

var interpretationMap = map[string]string{
	"N": "normal",
	"H": "high",
	"L": "low",
	"A": "abnormal",
}

// Adapter extracts a canonical record from a C-CDA R2.1 document. It is
// safe for concurrent use because it holds no per-document state.
type Adapter struct {
	logger zerolog.Logger
}

// NewAdapter creates a C-CDA adapter. The logger receives Debug events for
// sections that are recognised but not imported.
func NewAdapter(logger zerolog.Logger) *Adapter {
	return &Adapter{logger: logger}
}

func (a *Adapter) Format() record.Format {
	return record.FormatCCDA
}

func (a *Adapter) Extract(raw []byte) (*record.ExtractedPatient, error) {
	var doc ClinicalDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		var syntaxErr *xml.SyntaxError
		if errors.As(err, &syntaxErr) || len(strings.TrimSpace(string(raw))) == 0 {
			return nil, record.Malformed(record.FormatCCDA, "Invalid XML", err)
		}
		return nil, record.Malformed(record.FormatCCDA, "Invalid C-CDA document", err)
	}

	role := patientRole(&doc)
	if role == nil {
		return nil, record.Extraction(record.FormatCCDA, "No recordTarget/patientRole found in document")
	}

	ix := indexSections(&doc)
	ex := record.NewExtractedPatient(patient(role))
	ex.Conditions = append(ex.Conditions, problems(ix[OIDProblemsSection])...)
	ex.Medications = append(ex.Medications, medications(ix[OIDMedicationsSection])...)
	ex.Allergies = append(ex.Allergies, allergies(ix[OIDAllergiesSection])...)
	ex.Encounters = append(ex.Encounters, encounters(ix[OIDEncountersSection])...)
	ex.Observations = append(ex.Observations, vitalSigns(ix[OIDVitalSignsSection])...)
	ex.Observations = append(ex.Observations, results(ix[OIDResultsSection])...)
	ex.Immunizations = append(ex.Immunizations, immunizations(ix[OIDImmunizationsSection])...)

	if s := ix[OIDProceduresSection]; s != nil {
		a.logger.Debug().Int("entries", len(s.Entries)).Int("procedures", procedureCount(s)).
			Msg("ccda: procedures section not imported")
	}
	if s := ix[OIDSocialHistorySection]; s != nil {
		a.logger.Debug().Int("entries", len(s.Entries)).Int("smoking_status", smokingStatusCount(s)).
			Msg("ccda: social history section not imported")
	}

	return ex, nil
}

func patientRole(doc *ClinicalDocument) *PatientRole {
	for i := range doc.RecordTarget {
		if doc.RecordTarget[i].PatientRole != nil {
			return doc.RecordTarget[i].PatientRole
		}
	}
	return nil
}

// indexSections maps each section template OID to the first section, in
// document order, that declares it. Nested sections are searched too.
func indexSections(doc *ClinicalDocument) map[string]*Section {
	ix := make(map[string]*Section)
	if doc.Component == nil || doc.Component.StructuredBody == nil {
		return ix
	}
	var walk func(comps []SectionComponent)
	walk = func(comps []SectionComponent) {
		for _, c := range comps {
			if c.Section == nil {
				continue
			}
			for _, t := range c.Section.TemplateIDs {
				if _, seen := ix[t.Root]; !seen {
					ix[t.Root] = c.Section
				}
			}
			walk(c.Section.Components)
		}
	}
	walk(doc.Component.StructuredBody.Components)
	return ix
}

// hl7Date parses the YYYYMMDD prefix of an HL7 TS value. Values shorter
// than eight digits, or not a calendar date, yield nil.
func hl7Date(v string) *string {
	v = strings.TrimSpace(v)
	if len(v) < 8 {
		return nil
	}
	t, err := time.Parse("20060102", v[:8])
	if err != nil {
		return nil
	}
	s := t.Format(record.DateLayout)
	return &s
}

// hl7DateTime parses an HL7 TS value at second precision when fourteen
// digits are present, or at day precision when only eight are.
func hl7DateTime(v string) *string {
	v = strings.TrimSpace(v)
	var (
		t   time.Time
		err error
	)
	switch {
	case len(v) >= 14:
		t, err = time.Parse("20060102150405", v[:14])
	case len(v) >= 8:
		t, err = time.Parse("20060102", v[:8])
	default:
		return nil
	}
	if err != nil {
		return nil
	}
	s := t.Format(record.DateTimeLayout)
	return &s
}

// coded returns the short code system, code and display of c.
func coded(c *Code) (system, code *string, display string) {
	if c == nil {
		return nil, nil, ""
	}
	if c.CodeSystem != "" {
		s := codesystem.FromOID(c.CodeSystem)
		system = &s
	}
	return system, record.Ptr(c.Code), c.DisplayName
}

func valueCode(v *Value) *Code {
	if v == nil {
		return nil
	}
	return &Code{Code: v.Code, CodeSystem: v.CodeSystem, DisplayName: v.DisplayName}
}

func firstValue(values []Value) *Value {
	if len(values) == 0 {
		return nil
	}
	return &values[0]
}

func statusOf(c *Code) string {
	if c == nil {
		return ""
	}
	return c.Code
}

func patient(role *PatientRole) record.Patient {
	p := record.Patient{
		ExternalID:        record.Ptr(firstRoot(role.IDs)),
		GivenNames:        []string{record.UnknownName},
		FamilyName:        record.UnknownName,
		PreferredLanguage: record.DefaultLanguage,
	}

	if pt := role.Patient; pt != nil {
		var given []string
		family := ""
		for _, n := range pt.Names {
			for _, g := range n.Given {
				if g = strings.TrimSpace(g); g != "" {
					given = append(given, g)
				}
			}
			if family == "" {
				family = strings.TrimSpace(first(n.Family))
			}
		}
		if len(given) > 0 {
			p.GivenNames = given
		}
		if family != "" {
			p.FamilyName = family
		}

		if pt.BirthTime != nil {
			p.DateOfBirth = hl7Date(pt.BirthTime.Value)
		}
		if pt.AdministrativeGenderCode != nil {
			if g, ok := genderMap[pt.AdministrativeGenderCode.Code]; ok {
				p.SexAtBirth = &g
			}
		}
		for _, rc := range pt.RaceCodes {
			if rc.DisplayName != "" {
				p.Race = append(p.Race, rc.DisplayName)
			}
		}
		for _, ec := range pt.EthnicGroupCodes {
			if ec.DisplayName != "" {
				p.Ethnicity = record.Ptr(ec.DisplayName)
				break
			}
		}
		for _, lc := range pt.LanguageCommunications {
			if lc.LanguageCode == nil || lc.LanguageCode.Code == "" {
				continue
			}
			code := lc.LanguageCode.Code
			prefix := code
			if len(prefix) > 2 {
				prefix = prefix[:2]
			}
			if lang, ok := languageMap[prefix]; ok {
				p.PreferredLanguage = lang
			} else {
				p.PreferredLanguage = code
			}
			break
		}
	}

	if len(role.Addrs) > 0 {
		addr := role.Addrs[0]
		a := &record.Address{
			City:       record.Ptr(strings.TrimSpace(first(addr.City))),
			State:      record.Ptr(strings.TrimSpace(first(addr.State))),
			PostalCode: record.Ptr(strings.TrimSpace(first(addr.PostalCode))),
			Country:    strings.TrimSpace(first(addr.Country)),
		}
		if len(addr.StreetAddressLines) > 0 {
			a.Line1 = record.Ptr(strings.TrimSpace(addr.StreetAddressLines[0]))
		}
		if len(addr.StreetAddressLines) > 1 {
			a.Line2 = record.Ptr(strings.TrimSpace(addr.StreetAddressLines[1]))
		}
		if a.Country == "" {
			a.Country = record.DefaultCountry
		}
		p.Address = a
	}

	for _, t := range role.Telecoms {
		switch {
		case t.Use == "HP" && p.Phone == nil:
			p.Phone = record.Ptr(strings.TrimPrefix(t.Value, "tel:"))
		case strings.HasPrefix(t.Value, "mailto:") && p.Email == nil:
			p.Email = record.Ptr(strings.TrimPrefix(t.Value, "mailto:"))
		}
	}

	return p
}

func procedureCount(s *Section) int {
	n := 0
	for _, e := range s.Entries {
		if e.Procedure != nil && hasTemplate(e.Procedure.TemplateIDs, OIDProcedureActivity) {
			n++
		}
	}
	return n
}

func smokingStatusCount(s *Section) int {
	n := 0
	for _, e := range s.Entries {
		if e.Observation != nil && hasTemplate(e.Observation.TemplateIDs, OIDSmokingStatus) {
			n++
		}
	}
	return n
}

// findObservation returns the first observation carrying oid among rels,
// descending through nested acts and observations.
func findObservation(rels []EntryRelationship, oid string) *Observation {
	for _, rel := range rels {
		if obs := rel.Observation; obs != nil {
			if hasTemplate(obs.TemplateIDs, oid) {
				return obs
			}
			if found := findObservation(obs.EntryRelationships, oid); found != nil {
				return found
			}
		}
		if act := rel.Act; act != nil {
			if found := findObservation(act.EntryRelationships, oid); found != nil {
				return found
			}
		}
	}
	return nil
}

// collectObservations returns every observation carrying oid among rels.
func collectObservations(rels []EntryRelationship, oid string) []*Observation {
	var out []*Observation
	for _, rel := range rels {
		if obs := rel.Observation; obs != nil {
			if hasTemplate(obs.TemplateIDs, oid) {
				out = append(out, obs)
			}
			out = append(out, collectObservations(obs.EntryRelationships, oid)...)
		}
		if act := rel.Act; act != nil {
			out = append(out, collectObservations(act.EntryRelationships, oid)...)
		}
	}
	return out
}

func problems(s *Section) []record.Condition {
	if s == nil {
		return nil
	}
	var out []record.Condition
	for _, e := range s.Entries {
		if e.Act == nil || !hasTemplate(e.Act.TemplateIDs, OIDProblemConcernAct) {
			continue
		}
		obs := findObservation(e.Act.EntryRelationships, OIDProblemObservation)
		if obs == nil {
			continue
		}

		c := valueCode(firstValue(obs.Values))
		if c == nil || c.Code == "" {
			c = obs.Code
		}
		system, code, display := coded(c)
		if display == "" {
			display = record.UnknownName
		}

		cond := record.Condition{
			ExternalID:         record.Ptr(firstRoot(obs.IDs)),
			CodeSystem:         system,
			Code:               code,
			DisplayName:        display,
			ClinicalStatus:     "resolved",
			VerificationStatus: record.DefaultVerification,
		}
		if statusOf(obs.StatusCode) == "active" {
			cond.ClinicalStatus = "active"
		}
		if et := obs.EffectiveTime; et != nil {
			if et.Low != nil {
				cond.OnsetDate = hl7Date(et.Low.Value)
			}
			if cond.ClinicalStatus == "resolved" && et.High != nil {
				cond.AbatementDate = hl7Date(et.High.Value)
			}
		}
		out = append(out, cond)
	}
	return out
}

func medications(s *Section) []record.Medication {
	if s == nil {
		return nil
	}
	var out []record.Medication
	for _, e := range s.Entries {
		sa := e.SubstanceAdministration
		if sa == nil || !hasTemplate(sa.TemplateIDs, OIDMedicationActivity) {
			continue
		}

		var material *Code
		if sa.Consumable != nil && sa.Consumable.ManufacturedProduct != nil && sa.Consumable.ManufacturedProduct.ManufacturedMaterial != nil {
			material = sa.Consumable.ManufacturedProduct.ManufacturedMaterial.Code
		}
		system, code, display := coded(material)
		if display == "" {
			display = "Unknown Medication"
		}

		med := record.Medication{
			ExternalID:  record.Ptr(firstRoot(sa.IDs)),
			CodeSystem:  system,
			Code:        code,
			DisplayName: display,
			Status:      record.DefaultMedicationStatus,
			Route:       record.DefaultRoute,
		}
		if st := statusOf(sa.StatusCode); st != "" && st != "active" {
			med.Status = st
		}

		lowSet, highSet := false, false
		for _, et := range sa.EffectiveTimes {
			if et.Low != nil && !lowSet {
				med.StartDate = hl7Date(et.Low.Value)
				lowSet = true
			}
			if et.High != nil && !highSet {
				med.EndDate = hl7Date(et.High.Value)
				highSet = true
			}
			if et.Operator == "A" && et.Period != nil && med.Frequency == nil {
				if et.Period.Value != "" && et.Period.Unit != "" {
					f := fmt.Sprintf("every %s %s", et.Period.Value, et.Period.Unit)
					med.Frequency = &f
				}
			}
		}

		if sa.DoseQuantity != nil {
			med.DoseQuantity = record.Ptr(sa.DoseQuantity.Value)
			med.DoseUnit = record.Ptr(sa.DoseQuantity.Unit)
		}
		if sa.RouteCode != nil && sa.RouteCode.DisplayName != "" {
			med.Route = strings.ToLower(sa.RouteCode.DisplayName)
		}
		out = append(out, med)
	}
	return out
}

func allergen(obs *Observation) string {
	for _, p := range obs.Participants {
		if p.ParticipantRole == nil || p.ParticipantRole.PlayingEntity == nil {
			continue
		}
		if c := p.ParticipantRole.PlayingEntity.Code; c != nil {
			return c.DisplayName
		}
	}
	return ""
}

func allergies(s *Section) []record.Allergy {
	if s == nil {
		return nil
	}
	var out []record.Allergy
	for _, e := range s.Entries {
		if e.Act == nil || !hasTemplate(e.Act.TemplateIDs, OIDAllergyConcernAct) {
			continue
		}
		obs := findObservation(e.Act.EntryRelationships, OIDAllergyObservation)
		if obs == nil {
			continue
		}

		a := record.Allergy{
			ExternalID:     record.Ptr(firstRoot(obs.IDs)),
			DisplayName:    "Unknown Allergen",
			Criticality:    record.DefaultCriticality,
			ClinicalStatus: "inactive",
		}
		if name := allergen(obs); name != "" {
			a.DisplayName = name
		}
		if statusOf(obs.StatusCode) == "active" {
			a.ClinicalStatus = "active"
		}

		for _, rxn := range collectObservations(obs.EntryRelationships, OIDReactionObservation) {
			reaction := record.Reaction{}
			if v := firstValue(rxn.Values); v != nil {
				reaction.Manifestation = record.Ptr(v.DisplayName)
			}
			if sev := findObservation(rxn.EntryRelationships, OIDSeverityObservation); sev != nil {
				if v := firstValue(sev.Values); v != nil && v.DisplayName != "" {
					level := strings.ToLower(v.DisplayName)
					reaction.Severity = &level
					if level == "severe" || level == "life-threatening" {
						a.Criticality = "high"
					}
				}
			}
			a.Reactions = append(a.Reactions, reaction)
		}

		if v := firstValue(obs.Values); v != nil {
			if cat, ok := allergyCategoryMap[v.Code]; ok {
				a.Category = &cat
			}
		}
		out = append(out, a)
	}
	return out
}

func personName(names []Name) string {
	if len(names) == 0 {
		return ""
	}
	parts := make([]string, 0, len(names[0].Given)+1)
	for _, g := range names[0].Given {
		if g = strings.TrimSpace(g); g != "" {
			parts = append(parts, g)
		}
	}
	if f := strings.TrimSpace(first(names[0].Family)); f != "" {
		parts = append(parts, f)
	}
	return strings.Join(parts, " ")
}

func encounters(s *Section) []record.Encounter {
	if s == nil {
		return nil
	}
	var out []record.Encounter
	for _, e := range s.Entries {
		enc := e.Encounter
		if enc == nil || !hasTemplate(enc.TemplateIDs, OIDEncounterActivity) {
			continue
		}
		_, _, display := coded(enc.Code)
		r := record.Encounter{
			ExternalID:     record.Ptr(firstRoot(enc.IDs)),
			EncounterType:  record.Ptr(display),
			Status:         record.DefaultEncounterStatus,
			EncounterClass: record.DefaultEncounterClass,
		}
		if et := enc.EffectiveTime; et != nil {
			switch {
			case et.Low != nil && et.Low.Value != "":
				r.Date = hl7DateTime(et.Low.Value)
			case et.Value != "":
				r.Date = hl7DateTime(et.Value)
			}
			if et.High != nil {
				r.EndDate = hl7DateTime(et.High.Value)
			}
		}
		for _, perf := range enc.Performers {
			if perf.AssignedEntity == nil || perf.AssignedEntity.AssignedPerson == nil {
				continue
			}
			r.ProviderName = record.Ptr(personName(perf.AssignedEntity.AssignedPerson.Names))
			break
		}
		out = append(out, r)
	}
	return out
}

func parseFloat(s string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &f
}

func effectiveDateTime(et *EffectiveTime) *string {
	if et == nil {
		return nil
	}
	if et.Value != "" {
		return hl7DateTime(et.Value)
	}
	if et.Low != nil {
		return hl7DateTime(et.Low.Value)
	}
	return nil
}

func vitalSigns(s *Section) []record.Observation {
	if s == nil {
		return nil
	}
	var out []record.Observation
	for _, e := range s.Entries {
		org := e.Organizer
		if org == nil || !hasTemplate(org.TemplateIDs, OIDVitalSignsOrganizer) {
			continue
		}
		when := effectiveDateTime(org.EffectiveTime)
		for _, comp := range org.Components {
			obs := comp.Observation
			if obs == nil || !hasTemplate(obs.TemplateIDs, OIDVitalSignObservation) {
				continue
			}
			system, code, display := coded(obs.Code)
			if display == "" {
				display = "Vital Sign"
			}
			o := record.Observation{
				ExternalID:    record.Ptr(firstRoot(obs.IDs)),
				Category:      "vital-signs",
				CodeSystem:    system,
				Code:          code,
				DisplayName:   display,
				EffectiveDate: when,
			}
			if v := firstValue(obs.Values); v != nil {
				o.ValueQuantity = parseFloat(v.Value)
				o.ValueUnit = record.Ptr(v.Unit)
			}
			out = append(out, o)
		}
	}
	return out
}

func results(s *Section) []record.Observation {
	if s == nil {
		return nil
	}
	var out []record.Observation
	for _, e := range s.Entries {
		org := e.Organizer
		if org == nil || !hasTemplate(org.TemplateIDs, OIDResultOrganizer) {
			continue
		}
		for _, comp := range org.Components {
			obs := comp.Observation
			if obs == nil || !hasTemplate(obs.TemplateIDs, OIDResultObservation) {
				continue
			}
			system, code, display := coded(obs.Code)
			if display == "" {
				display = "Lab Result"
			}
			o := record.Observation{
				ExternalID:    record.Ptr(firstRoot(obs.IDs)),
				Category:      record.DefaultObservationCat,
				CodeSystem:    system,
				Code:          code,
				DisplayName:   display,
				EffectiveDate: effectiveDateTime(obs.EffectiveTime),
			}
			if v := firstValue(obs.Values); v != nil {
				switch v.Type {
				case "PQ":
					o.ValueQuantity = parseFloat(v.Value)
					o.ValueUnit = record.Ptr(v.Unit)
				case "ST":
					o.ValueString = record.Ptr(strings.TrimSpace(v.Text))
				case "CD":
					o.ValueString = record.Ptr(v.DisplayName)
				}
			}
			if len(obs.InterpretationCodes) > 0 {
				ic := obs.InterpretationCodes[0].Code
				if mapped, ok := interpretationMap[ic]; ok {
					ic = mapped
				}
				o.Interpretation = record.Ptr(ic)
			}
			for _, rr := range obs.ReferenceRanges {
				if rr.ObservationRange != nil && strings.TrimSpace(rr.ObservationRange.Text) != "" {
					o.ReferenceRange = &record.ReferenceRange{Text: record.Ptr(strings.TrimSpace(rr.ObservationRange.Text))}
					break
				}
			}
			out = append(out, o)
		}
	}
	return out
}

func immunizations(s *Section) []record.Immunization {
	if s == nil {
		return nil
	}
	var out []record.Immunization
	for _, e := range s.Entries {
		sa := e.SubstanceAdministration
		if sa == nil || !hasTemplate(sa.TemplateIDs, OIDImmunizationActivity) {
			continue
		}
		var material *ManufacturedMaterial
		if sa.Consumable != nil && sa.Consumable.ManufacturedProduct != nil {
			material = sa.Consumable.ManufacturedProduct.ManufacturedMaterial
		}

		imm := record.Immunization{
			ExternalID:  record.Ptr(firstRoot(sa.IDs)),
			DisplayName: "Immunization",
			Status:      record.DefaultImmunizationStat,
		}
		if sa.NegationInd == "true" {
			imm.Status = "not-done"
		}
		if material != nil {
			_, code, display := coded(material.Code)
			imm.VaccineCode = code
			if display != "" {
				imm.DisplayName = display
			}
			imm.LotNumber = record.Ptr(strings.TrimSpace(material.LotNumberText))
		}
		for _, et := range sa.EffectiveTimes {
			if et.Value != "" {
				imm.Date = hl7Date(et.Value)
				break
			}
		}
		out = append(out, imm)
	}
	return out
}
