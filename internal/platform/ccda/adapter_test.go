package ccda

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mneme/emr/internal/domain/record"
)

const sampleDocument = `<?xml version="1.0" encoding="UTF-8"?>
<ClinicalDocument xmlns="urn:hl7-org:v3" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:sdtc="urn:hl7-org:sdtc">
  <templateId root="2.16.840.1.113883.10.20.22.1.2" extension="2015-08-01"/>
  <recordTarget>
    <patientRole>
      <id root="2.16.840.1.113883.19.5" extension="998991"/>
      <addr use="HP">
        <streetAddressLine>1357 Amber Drive</streetAddressLine>
        <streetAddressLine>Unit 2</streetAddressLine>
        <city>Beaverton</city>
        <state>OR</state>
        <postalCode>97006</postalCode>
      </addr>
      <telecom use="WP" value="tel:+1(555)555-1000"/>
      <telecom use="HP" value="tel:+1(555)555-2003"/>
      <telecom value="mailto:eve@example.org"/>
      <patient>
        <name use="L">
          <given>Eve</given>
          <given>Marie</given>
          <family>Everywoman</family>
        </name>
        <administrativeGenderCode code="F" codeSystem="2.16.840.1.113883.5.1"/>
        <birthTime value="19750501"/>
        <sdtc:raceCode code="2106-3" displayName="White"/>
        <sdtc:raceCode code="2028-9" displayName="Asian"/>
        <sdtc:ethnicGroupCode code="2186-5" displayName="Not Hispanic or Latino"/>
        <languageCommunication>
          <languageCode code="es-MX"/>
        </languageCommunication>
      </patient>
    </patientRole>
  </recordTarget>
  <component>
    <structuredBody>
      <component>
        <section>
          <templateId root="2.16.840.1.113883.10.20.22.2.5.1"/>
          <entry>
            <act classCode="ACT" moodCode="EVN">
              <templateId root="2.16.840.1.113883.10.20.22.4.3"/>
              <entryRelationship typeCode="SUBJ">
                <observation classCode="OBS" moodCode="EVN">
                  <templateId root="2.16.840.1.113883.10.20.22.4.4"/>
                  <id root="prob-1"/>
                  <statusCode code="completed"/>
                  <effectiveTime><low value="20100301"/><high value="20120301"/></effectiveTime>
                  <value xsi:type="CD" code="233604007" codeSystem="2.16.840.1.113883.6.96" displayName="Pneumonia"/>
                </observation>
              </entryRelationship>
            </act>
          </entry>
          <entry>
            <act classCode="ACT" moodCode="EVN">
              <templateId root="2.16.840.1.113883.10.20.22.4.3"/>
              <entryRelationship typeCode="SUBJ">
                <observation classCode="OBS" moodCode="EVN">
                  <templateId root="2.16.840.1.113883.10.20.22.4.4"/>
                  <statusCode code="active"/>
                  <effectiveTime><low value="2011"/><high value="20130101"/></effectiveTime>
                  <value xsi:type="CD" nullFlavor="UNK"/>
                </observation>
              </entryRelationship>
            </act>
          </entry>
        </section>
      </component>
      <component>
        <section>
          <templateId root="2.16.840.1.113883.10.20.22.2.1.1"/>
          <entry>
            <substanceAdministration classCode="SBADM" moodCode="EVN">
              <templateId root="2.16.840.1.113883.10.20.22.4.16"/>
              <id root="med-1"/>
              <statusCode code="active"/>
              <effectiveTime xsi:type="IVL_TS"><low value="20120806"/><high value="20121201"/></effectiveTime>
              <effectiveTime xsi:type="PIVL_TS" operator="A"><period value="12" unit="h"/></effectiveTime>
              <routeCode code="C38216" displayName="RESPIRATORY (INHALATION)"/>
              <doseQuantity value="1" unit="puff"/>
              <consumable>
                <manufacturedProduct>
                  <manufacturedMaterial>
                    <code code="573621" codeSystem="2.16.840.1.113883.6.88" displayName="Proventil HFA"/>
                  </manufacturedMaterial>
                </manufacturedProduct>
              </consumable>
            </substanceAdministration>
          </entry>
          <entry>
            <substanceAdministration classCode="SBADM" moodCode="EVN">
              <templateId root="2.16.840.1.113883.10.20.22.4.16"/>
              <statusCode code="completed"/>
            </substanceAdministration>
          </entry>
        </section>
      </component>
      <component>
        <section>
          <templateId root="2.16.840.1.113883.10.20.22.2.6.1"/>
          <entry>
            <act classCode="ACT" moodCode="EVN">
              <templateId root="2.16.840.1.113883.10.20.22.4.30"/>
              <entryRelationship typeCode="SUBJ">
                <observation classCode="OBS" moodCode="EVN">
                  <templateId root="2.16.840.1.113883.10.20.22.4.7"/>
                  <statusCode code="active"/>
                  <value xsi:type="CD" code="416098002" displayName="Drug allergy"/>
                  <participant typeCode="CSM">
                    <participantRole>
                      <playingEntity><code code="7980" displayName="Penicillin G"/></playingEntity>
                    </participantRole>
                  </participant>
                  <entryRelationship typeCode="MFST">
                    <observation classCode="OBS" moodCode="EVN">
                      <templateId root="2.16.840.1.113883.10.20.22.4.9"/>
                      <value xsi:type="CD" code="247472004" displayName="Hives"/>
                      <entryRelationship typeCode="SUBJ">
                        <observation classCode="OBS" moodCode="EVN">
                          <templateId root="2.16.840.1.113883.10.20.22.4.8"/>
                          <value xsi:type="CD" code="24484000" displayName="Severe"/>
                        </observation>
                      </entryRelationship>
                    </observation>
                  </entryRelationship>
                </observation>
              </entryRelationship>
            </act>
          </entry>
          <entry>
            <act classCode="ACT" moodCode="EVN">
              <templateId root="2.16.840.1.113883.10.20.22.4.30"/>
              <entryRelationship typeCode="SUBJ">
                <observation classCode="OBS" moodCode="EVN">
                  <templateId root="2.16.840.1.113883.10.20.22.4.7"/>
                  <statusCode code="completed"/>
                  <value xsi:type="CD" code="999999"/>
                </observation>
              </entryRelationship>
            </act>
          </entry>
        </section>
      </component>
      <component>
        <section>
          <templateId root="2.16.840.1.113883.10.20.22.2.22.1"/>
          <entry>
            <encounter classCode="ENC" moodCode="EVN">
              <templateId root="2.16.840.1.113883.10.20.22.4.49"/>
              <id root="enc-1"/>
              <code code="99213" displayName="Office outpatient visit"/>
              <effectiveTime><low value="20120815093000"/><high value="20120815100000"/></effectiveTime>
              <performer>
                <assignedEntity>
                  <assignedPerson><name><given>Henry</given><family>Seven</family></name></assignedPerson>
                </assignedEntity>
              </performer>
            </encounter>
          </entry>
        </section>
      </component>
      <component>
        <section>
          <templateId root="2.16.840.1.113883.10.20.22.2.4.1"/>
          <entry>
            <organizer classCode="CLUSTER" moodCode="EVN">
              <templateId root="2.16.840.1.113883.10.20.22.4.26"/>
              <effectiveTime value="20120815"/>
              <component>
                <observation classCode="OBS" moodCode="EVN">
                  <templateId root="2.16.840.1.113883.10.20.22.4.27"/>
                  <code code="8867-4" codeSystem="2.16.840.1.113883.6.1" displayName="Heart rate"/>
                  <value xsi:type="PQ" value="72" unit="/min"/>
                </observation>
              </component>
              <component>
                <observation classCode="OBS" moodCode="EVN">
                  <templateId root="2.16.840.1.113883.10.20.22.4.27"/>
                  <code code="8302-2" codeSystem="2.16.840.1.113883.6.1"/>
                  <value xsi:type="PQ" value="tall" unit="cm"/>
                </observation>
              </component>
            </organizer>
          </entry>
        </section>
      </component>
      <component>
        <section>
          <templateId root="2.16.840.1.113883.10.20.22.2.3.1"/>
          <entry>
            <organizer classCode="BATTERY" moodCode="EVN">
              <templateId root="2.16.840.1.113883.10.20.22.4.1"/>
              <component>
                <observation classCode="OBS" moodCode="EVN">
                  <templateId root="2.16.840.1.113883.10.20.22.4.2"/>
                  <code code="30313-1" codeSystem="2.16.840.1.113883.6.1" displayName="HGB"/>
                  <effectiveTime value="20120810080000"/>
                  <value xsi:type="PQ" value="10.2" unit="g/dL"/>
                  <interpretationCode code="L"/>
                  <referenceRange><observationRange><text>13.5-17.5 g/dL</text></observationRange></referenceRange>
                </observation>
              </component>
              <component>
                <observation classCode="OBS" moodCode="EVN">
                  <templateId root="2.16.840.1.113883.10.20.22.4.2"/>
                  <code code="5778-6" codeSystem="2.16.840.1.113883.6.1" displayName="Color of urine"/>
                  <value xsi:type="ST">Yellow</value>
                  <interpretationCode code="POS"/>
                </observation>
              </component>
            </organizer>
          </entry>
        </section>
      </component>
      <component>
        <section>
          <templateId root="2.16.840.1.113883.10.20.22.2.2.1"/>
          <entry>
            <substanceAdministration classCode="SBADM" moodCode="EVN" negationInd="false">
              <templateId root="2.16.840.1.113883.10.20.22.4.52"/>
              <effectiveTime value="20100815"/>
              <consumable>
                <manufacturedProduct>
                  <manufacturedMaterial>
                    <code code="88" codeSystem="2.16.840.1.113883.12.292" displayName="Influenza virus vaccine"/>
                    <lotNumberText>1</lotNumberText>
                  </manufacturedMaterial>
                </manufacturedProduct>
              </consumable>
            </substanceAdministration>
          </entry>
          <entry>
            <substanceAdministration classCode="SBADM" moodCode="EVN" negationInd="true">
              <templateId root="2.16.840.1.113883.10.20.22.4.52"/>
            </substanceAdministration>
          </entry>
        </section>
      </component>
      <component>
        <section>
          <templateId root="2.16.840.1.113883.10.20.22.2.7.1"/>
          <entry><procedure classCode="PROC" moodCode="EVN"/></entry>
        </section>
      </component>
    </structuredBody>
  </component>
</ClinicalDocument>`

func newTestAdapter() *Adapter {
	return NewAdapter(zerolog.Nop())
}

func TestAdapter_Extract_Patient(t *testing.T) {
	ex, err := newTestAdapter().Extract([]byte(sampleDocument))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	p := ex.Patient
	if record.Deref(p.ExternalID) != "2.16.840.1.113883.19.5" {
		t.Errorf("expected external id from id root, got %v", p.ExternalID)
	}
	if p.FamilyName != "Everywoman" || len(p.GivenNames) != 2 || p.GivenNames[1] != "Marie" {
		t.Errorf("unexpected name %v %s", p.GivenNames, p.FamilyName)
	}
	if record.Deref(p.DateOfBirth) != "1975-05-01" {
		t.Errorf("expected birth date 1975-05-01, got %v", p.DateOfBirth)
	}
	if record.Deref(p.SexAtBirth) != "female" {
		t.Errorf("expected female, got %v", p.SexAtBirth)
	}
	if record.Deref(p.Phone) != "+1(555)555-2003" {
		t.Errorf("expected home phone, got %v", p.Phone)
	}
	if record.Deref(p.Email) != "eve@example.org" {
		t.Errorf("expected email, got %v", p.Email)
	}
	if p.Address == nil || record.Deref(p.Address.Line2) != "Unit 2" || p.Address.Country != "US" {
		t.Errorf("unexpected address %+v", p.Address)
	}
	if len(p.Race) != 2 || p.Race[1] != "Asian" {
		t.Errorf("unexpected race %v", p.Race)
	}
	if record.Deref(p.Ethnicity) != "Not Hispanic or Latino" {
		t.Errorf("unexpected ethnicity %v", p.Ethnicity)
	}
	if p.PreferredLanguage != "Spanish" {
		t.Errorf("expected Spanish, got %s", p.PreferredLanguage)
	}
}

func TestAdapter_Extract_Sections(t *testing.T) {
	ex, err := newTestAdapter().Extract([]byte(sampleDocument))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	if len(ex.Conditions) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(ex.Conditions))
	}
	c := ex.Conditions[0]
	if record.Deref(c.CodeSystem) != "snomed" || record.Deref(c.Code) != "233604007" || c.DisplayName != "Pneumonia" {
		t.Errorf("unexpected condition coding %+v", c)
	}
	if c.ClinicalStatus != "resolved" || record.Deref(c.OnsetDate) != "2010-03-01" || record.Deref(c.AbatementDate) != "2012-03-01" {
		t.Errorf("unexpected resolved condition %+v", c)
	}
	active := ex.Conditions[1]
	if active.ClinicalStatus != "active" || active.DisplayName != "Unknown" {
		t.Errorf("unexpected active condition %+v", active)
	}
	if active.OnsetDate != nil {
		t.Errorf("expected short onset date to be absent, got %v", *active.OnsetDate)
	}
	if active.AbatementDate != nil {
		t.Errorf("expected no abatement for active condition, got %v", *active.AbatementDate)
	}

	if len(ex.Medications) != 2 {
		t.Fatalf("expected 2 medications, got %d", len(ex.Medications))
	}
	m := ex.Medications[0]
	if m.DisplayName != "Proventil HFA" || record.Deref(m.CodeSystem) != "rxnorm" {
		t.Errorf("unexpected medication %+v", m)
	}
	if record.Deref(m.Frequency) != "every 12 h" || m.Route != "respiratory (inhalation)" {
		t.Errorf("unexpected dosing %+v", m)
	}
	if record.Deref(m.StartDate) != "2012-08-06" || record.Deref(m.EndDate) != "2012-12-01" {
		t.Errorf("unexpected medication dates %v %v", m.StartDate, m.EndDate)
	}
	if record.Deref(m.DoseQuantity) != "1" || record.Deref(m.DoseUnit) != "puff" {
		t.Errorf("unexpected dose %+v", m)
	}
	bare := ex.Medications[1]
	if bare.DisplayName != "Unknown Medication" || bare.Status != "completed" || bare.Route != "oral" {
		t.Errorf("unexpected bare medication %+v", bare)
	}

	if len(ex.Allergies) != 2 {
		t.Fatalf("expected 2 allergies, got %d", len(ex.Allergies))
	}
	a := ex.Allergies[0]
	if a.DisplayName != "Penicillin G" || record.Deref(a.Category) != "medication" || a.Criticality != "high" {
		t.Errorf("unexpected allergy %+v", a)
	}
	if len(a.Reactions) != 1 || record.Deref(a.Reactions[0].Severity) != "severe" {
		t.Errorf("unexpected reactions %+v", a.Reactions)
	}
	other := ex.Allergies[1]
	if other.DisplayName != "Unknown Allergen" || other.Category != nil || other.Criticality != "low" || other.ClinicalStatus != "inactive" {
		t.Errorf("unexpected second allergy %+v", other)
	}
	if other.Reactions != nil {
		t.Errorf("expected nil reactions, got %+v", other.Reactions)
	}

	if len(ex.Encounters) != 1 {
		t.Fatalf("expected 1 encounter, got %d", len(ex.Encounters))
	}
	e := ex.Encounters[0]
	if record.Deref(e.Date) != "2012-08-15T09:30:00" || record.Deref(e.EndDate) != "2012-08-15T10:00:00" {
		t.Errorf("unexpected encounter times %v %v", e.Date, e.EndDate)
	}
	if record.Deref(e.ProviderName) != "Henry Seven" || record.Deref(e.EncounterType) != "Office outpatient visit" {
		t.Errorf("unexpected encounter %+v", e)
	}
	if e.Status != "finished" || e.EncounterClass != "ambulatory" {
		t.Errorf("unexpected encounter defaults %+v", e)
	}

	if len(ex.Observations) != 4 {
		t.Fatalf("expected 4 observations, got %d", len(ex.Observations))
	}
	hr := ex.Observations[0]
	if hr.Category != "vital-signs" || hr.ValueQuantity == nil || *hr.ValueQuantity != 72 || record.Deref(hr.EffectiveDate) != "2012-08-15T00:00:00" {
		t.Errorf("unexpected vital %+v", hr)
	}
	height := ex.Observations[1]
	if height.DisplayName != "Vital Sign" || height.ValueQuantity != nil {
		t.Errorf("expected unparsable vital to keep no value, got %+v", height)
	}
	hgb := ex.Observations[2]
	if hgb.Category != "laboratory" || hgb.ValueQuantity == nil || *hgb.ValueQuantity != 10.2 || record.Deref(hgb.Interpretation) != "low" {
		t.Errorf("unexpected lab result %+v", hgb)
	}
	if hgb.ReferenceRange == nil || record.Deref(hgb.ReferenceRange.Text) != "13.5-17.5 g/dL" {
		t.Errorf("unexpected reference range %+v", hgb.ReferenceRange)
	}
	urine := ex.Observations[3]
	if record.Deref(urine.ValueString) != "Yellow" || record.Deref(urine.Interpretation) != "POS" {
		t.Errorf("unexpected string result %+v", urine)
	}

	if len(ex.Immunizations) != 2 {
		t.Fatalf("expected 2 immunizations, got %d", len(ex.Immunizations))
	}
	imm := ex.Immunizations[0]
	if record.Deref(imm.VaccineCode) != "88" || record.Deref(imm.Date) != "2010-08-15" || imm.Status != "completed" || record.Deref(imm.LotNumber) != "1" {
		t.Errorf("unexpected immunization %+v", imm)
	}
	refused := ex.Immunizations[1]
	if refused.Status != "not-done" || refused.DisplayName != "Immunization" {
		t.Errorf("unexpected refused immunization %+v", refused)
	}

	if len(ex.Messages) != 0 || len(ex.GrowthData) != 0 {
		t.Errorf("expected no messages or growth data")
	}
}

func TestAdapter_Extract_NestedSection(t *testing.T) {
	doc := `<ClinicalDocument xmlns="urn:hl7-org:v3">
  <recordTarget><patientRole><patient/></patientRole></recordTarget>
  <component><structuredBody>
    <component><section>
      <templateId root="1.2.3"/>
      <component><section>
        <templateId root="2.16.840.1.113883.10.20.22.2.2.1"/>
        <entry><substanceAdministration negationInd="false">
          <templateId root="2.16.840.1.113883.10.20.22.4.52"/>
        </substanceAdministration></entry>
      </section></component>
    </section></component>
  </structuredBody></component>
</ClinicalDocument>`

	ex, err := newTestAdapter().Extract([]byte(doc))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(ex.Immunizations) != 1 {
		t.Errorf("expected immunization from nested section, got %d", len(ex.Immunizations))
	}
	if ex.Patient.FamilyName != "Unknown" || ex.Patient.PreferredLanguage != "English" {
		t.Errorf("unexpected patient defaults %+v", ex.Patient)
	}
	if ex.Conditions == nil || ex.Encounters == nil {
		t.Errorf("expected empty, non-nil child groups")
	}
}

func TestAdapter_Extract_NoPatientRole(t *testing.T) {
	doc := `<ClinicalDocument xmlns="urn:hl7-org:v3"><recordTarget/></ClinicalDocument>`
	_, err := newTestAdapter().Extract([]byte(doc))
	if !record.IsExtraction(err) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
}

func TestAdapter_Extract_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		prefix string
	}{
		{"syntax", `<ClinicalDocument xmlns="urn:hl7-org:v3"><recordTarget>`, "Invalid XML"},
		{"empty", ``, "Invalid XML"},
		{"wrong root", `<Bundle xmlns="urn:hl7-org:v3"/>`, "Invalid C-CDA document"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestAdapter().Extract([]byte(tt.doc))
			if !record.IsMalformed(err) {
				t.Fatalf("expected MalformedInputError, got %v", err)
			}
			if !strings.HasPrefix(err.Error(), tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, err.Error())
			}
		})
	}
}

func TestHL7Dates(t *testing.T) {
	tests := []struct {
		in       string
		date     string
		dateTime string
	}{
		{"20240131", "2024-01-31", "2024-01-31T00:00:00"},
		{"20240131143005", "2024-01-31", "2024-01-31T14:30:05"},
		{"20240131143005-0500", "2024-01-31", "2024-01-31T14:30:05"},
		{"2024", "", ""},
		{"20241399", "", ""},
	}
	for _, tt := range tests {
		if got := record.Deref(hl7Date(tt.in)); got != tt.date {
			t.Errorf("hl7Date(%q) = %q, want %q", tt.in, got, tt.date)
		}
		if got := record.Deref(hl7DateTime(tt.in)); got != tt.dateTime {
			t.Errorf("hl7DateTime(%q) = %q, want %q", tt.in, got, tt.dateTime)
		}
	}
}

func TestSkippedSectionCounts(t *testing.T) {
	procs := &Section{Entries: []Entry{
		{Procedure: &Procedure{TemplateIDs: []TemplateID{{Root: OIDProcedureActivity}}}},
		{Procedure: &Procedure{TemplateIDs: []TemplateID{{Root: "1.2.3"}}}},
		{Act: &Act{}},
	}}
	if n := procedureCount(procs); n != 1 {
		t.Errorf("procedureCount = %d, want 1", n)
	}

	social := &Section{Entries: []Entry{
		{Observation: &Observation{TemplateIDs: []TemplateID{{Root: OIDSmokingStatus}}}},
		{Observation: &Observation{TemplateIDs: []TemplateID{{Root: OIDSmokingStatus}, {Root: "1.2.3"}}}},
		{Observation: &Observation{}},
	}}
	if n := smokingStatusCount(social); n != 2 {
		t.Errorf("smokingStatusCount = %d, want 2", n)
	}
}
