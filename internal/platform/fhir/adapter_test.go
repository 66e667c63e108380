package fhir

import (
	"strings"
	"testing"

	"github.com/mneme/emr/internal/domain/record"
)

const sampleBundle = `{
  "resourceType": "Bundle",
  "type": "collection",
  "entry": [
    {
      "fullUrl": "urn:uuid:p1",
      "resource": {
        "resourceType": "Patient",
        "id": "p1",
        "name": [{"family": "Rivera", "given": ["Maria", "Elena"]}, {"family": "Other"}],
        "gender": "female",
        "birthDate": "1980-05-12",
        "address": [{"line": ["12 Oak St", "Apt 4"], "city": "Austin", "state": "TX", "postalCode": "78701"}],
        "telecom": [
          {"system": "email", "value": "maria@example.org"},
          {"system": "phone", "value": "555-0100"},
          {"system": "phone", "value": "555-0199"}
        ],
        "contact": [
          {"relationship": [{"coding": [{"code": "PRN", "display": "Parent"}]}], "name": {"given": ["Rosa"], "family": "Rivera"}},
          {"relationship": [{"coding": [{"code": "C"}], "text": "Emergency contact"}], "name": {"given": ["Luis"]},
           "telecom": [{"system": "phone", "value": "555-0111"}]}
        ],
        "communication": [
          {"language": {"text": "French"}},
          {"language": {"coding": [{"code": "es", "display": "Spanish"}]}, "preferred": true}
        ]
      }
    },
    {
      "fullUrl": "urn:uuid:c1",
      "resource": {
        "resourceType": "Condition",
        "id": "c1",
        "subject": {"reference": "urn:uuid:p1"},
        "code": {"coding": [{"system": "http://snomed.info/sct", "code": "38341003", "display": "Hypertension"}]},
        "clinicalStatus": {"coding": [{"code": "active"}]},
        "onsetDateTime": "2019-03-01T08:00:00Z"
      }
    },
    {
      "resource": {
        "resourceType": "Condition",
        "id": "c2",
        "subject": {"reference": "Patient/someone-else"},
        "code": {"text": "Not ours"}
      }
    },
    {
      "fullUrl": "urn:uuid:med1",
      "resource": {"resourceType": "Medication", "id": "med1",
        "code": {"coding": [{"system": "http://www.nlm.nih.gov/research/umls/rxnorm", "code": "197361", "display": "Amlodipine 5 MG"}]}}
    },
    {
      "resource": {
        "resourceType": "MedicationStatement",
        "id": "ms1",
        "status": "active",
        "subject": {"reference": "Patient/p1"},
        "medication": {"reference": {"reference": "urn:uuid:med1"}},
        "dosage": [{
          "text": "Take one daily",
          "timing": {"code": {"text": "daily"}},
          "route": {"coding": [{"code": "PO"}]},
          "doseAndRate": [{"doseQuantity": {"value": 5, "unit": "mg"}}]
        }],
        "effectivePeriod": {"start": "2020-01-01"}
      }
    },
    {
      "resource": {
        "resourceType": "MedicationRequest",
        "id": "mr1",
        "subject": {"reference": "Patient/p1"},
        "medication": {"concept": {"text": "Albuterol inhaler"}},
        "dosageInstruction": [{"asNeeded": true}]
      }
    },
    {
      "resource": {
        "resourceType": "AllergyIntolerance",
        "id": "a1",
        "patient": {"reference": "Patient/p1"},
        "code": {"text": "Peanut"},
        "category": ["food"],
        "reaction": [{"manifestation": [{"concept": {"coding": [{"display": "Hives"}]}}], "severity": "moderate"}]
      }
    },
    {
      "fullUrl": "urn:uuid:e1",
      "resource": {
        "resourceType": "Encounter",
        "id": "e1",
        "status": "completed",
        "subject": {"reference": "Patient/p1"},
        "class": [{"coding": [{"code": "EMER"}]}],
        "type": [{"coding": [{"display": "Emergency visit"}]}],
        "actualPeriod": {"start": "2024-02-01T09:00:00Z", "end": "2024-02-01T11:00:00Z"},
        "reason": [{"value": [{"concept": {"text": "Chest pain"}}]}],
        "text": {"status": "generated", "div": "<div>Seen in ED</div>"}
      }
    },
    {
      "resource": {
        "resourceType": "Observation",
        "id": "o1",
        "subject": {"reference": "Patient/p1"},
        "encounter": {"reference": "urn:uuid:e1"},
        "category": [{"coding": [{"code": "vital-signs"}]}],
        "code": {"coding": [{"system": "http://loinc.org", "code": "8867-4", "display": "Heart rate"}]},
        "valueQuantity": {"value": 88, "unit": "/min"},
        "referenceRange": [{"low": {"value": 60}, "high": {"value": 100}}],
        "interpretation": [{"coding": [{"code": "N"}]}],
        "effectiveDateTime": "2024-02-01T09:10:00Z"
      }
    },
    {
      "resource": {
        "resourceType": "Observation",
        "id": "o2",
        "subject": {"reference": "Patient/p1"},
        "encounter": {"reference": "Encounter/e1"},
        "code": {"text": "Mood"},
        "valueCodeableConcept": {"text": "Calm"}
      }
    },
    {
      "resource": {
        "resourceType": "Immunization",
        "id": "i1",
        "status": "completed",
        "patient": {"reference": "Patient/p1"},
        "vaccineCode": {"coding": [{"system": "http://hl7.org/fhir/sid/cvx", "code": "140", "display": "Influenza"}]},
        "occurrenceDateTime": "2023-10-05T10:00:00Z",
        "site": {"coding": [{"display": "Left arm"}]},
        "lotNumber": "LOT-9"
      }
    },
    {
      "resource": {
        "resourceType": "Communication",
        "id": "m1",
        "subject": {"reference": "Patient/p1"},
        "sent": "2024-03-01T12:00:00Z",
        "category": [{"coding": [{"code": "notification"}]}],
        "topic": {"text": "Refill"},
        "payload": [{"contentString": "Please refill my prescription"}]
      }
    }
  ]
}`

func TestAdapter_Extract(t *testing.T) {
	ex, err := NewAdapter().Extract([]byte(sampleBundle))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	p := ex.Patient
	if p.FamilyName != "Rivera" {
		t.Errorf("expected family Rivera, got %s", p.FamilyName)
	}
	if len(p.GivenNames) != 2 || p.GivenNames[0] != "Maria" {
		t.Errorf("unexpected given names %v", p.GivenNames)
	}
	if record.Deref(p.SexAtBirth) != "female" {
		t.Errorf("expected female, got %v", p.SexAtBirth)
	}
	if record.Deref(p.Phone) != "555-0100" || record.Deref(p.Email) != "maria@example.org" {
		t.Errorf("unexpected telecom phone=%v email=%v", p.Phone, p.Email)
	}
	if p.Address == nil || record.Deref(p.Address.Line2) != "Apt 4" || p.Address.Country != "US" {
		t.Errorf("unexpected address %+v", p.Address)
	}
	if p.PreferredLanguage != "Spanish" {
		t.Errorf("expected Spanish, got %s", p.PreferredLanguage)
	}
	if p.LegalGuardian == nil || record.Deref(p.LegalGuardian.Name) != "Rosa Rivera" {
		t.Errorf("unexpected guardian %+v", p.LegalGuardian)
	}
	if p.EmergencyContact == nil || record.Deref(p.EmergencyContact.Relationship) != "Emergency contact" {
		t.Errorf("unexpected emergency contact %+v", p.EmergencyContact)
	}

	if len(ex.Conditions) != 1 {
		t.Fatalf("expected 1 condition, got %d", len(ex.Conditions))
	}
	c := ex.Conditions[0]
	if record.Deref(c.CodeSystem) != "snomed" || record.Deref(c.Code) != "38341003" {
		t.Errorf("unexpected condition coding %v %v", c.CodeSystem, c.Code)
	}
	if c.VerificationStatus != "confirmed" || record.Deref(c.OnsetDate) != "2019-03-01" {
		t.Errorf("unexpected condition defaults %+v", c)
	}

	if len(ex.Medications) != 2 {
		t.Fatalf("expected 2 medications, got %d", len(ex.Medications))
	}
	ms := ex.Medications[0]
	if ms.DisplayName != "Amlodipine 5 MG" || record.Deref(ms.CodeSystem) != "rxnorm" {
		t.Errorf("expected medication resolved through reference, got %+v", ms)
	}
	if record.Deref(ms.DoseQuantity) != "5" || record.Deref(ms.Frequency) != "daily" || ms.Route != "PO" {
		t.Errorf("unexpected dosage %+v", ms)
	}
	if record.Deref(ms.StartDate) != "2020-01-01" {
		t.Errorf("expected start date from period, got %v", ms.StartDate)
	}
	mr := ex.Medications[1]
	if !mr.PRN || mr.DisplayName != "Albuterol inhaler" || mr.Status != "active" {
		t.Errorf("unexpected request %+v", mr)
	}

	if len(ex.Allergies) != 1 {
		t.Fatalf("expected 1 allergy, got %d", len(ex.Allergies))
	}
	a := ex.Allergies[0]
	if a.DisplayName != "Peanut" || record.Deref(a.Category) != "food" || a.Criticality != "low" {
		t.Errorf("unexpected allergy %+v", a)
	}
	if len(a.Reactions) != 1 || record.Deref(a.Reactions[0].Manifestation) != "Hives" {
		t.Errorf("unexpected reactions %+v", a.Reactions)
	}

	if len(ex.Encounters) != 1 {
		t.Fatalf("expected 1 encounter, got %d", len(ex.Encounters))
	}
	e := ex.Encounters[0]
	if e.EncounterClass != "emergency" || record.Deref(e.ChiefComplaint) != "Chest pain" {
		t.Errorf("unexpected encounter %+v", e)
	}

	if len(ex.Observations) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(ex.Observations))
	}
	o := ex.Observations[0]
	if o.EncounterRef != "e1" || ex.Observations[1].EncounterRef != "e1" {
		t.Errorf("expected encounter refs to reduce to e1, got %q %q", o.EncounterRef, ex.Observations[1].EncounterRef)
	}
	if o.ValueQuantity == nil || *o.ValueQuantity != 88 || o.Category != "vital-signs" {
		t.Errorf("unexpected observation %+v", o)
	}
	if o.ReferenceRange == nil || *o.ReferenceRange.High != 100 {
		t.Errorf("unexpected reference range %+v", o.ReferenceRange)
	}
	if record.Deref(ex.Observations[1].ValueString) != "Calm" || ex.Observations[1].Category != "laboratory" {
		t.Errorf("unexpected coded observation %+v", ex.Observations[1])
	}

	if len(ex.Immunizations) != 1 {
		t.Fatalf("expected 1 immunization, got %d", len(ex.Immunizations))
	}
	imm := ex.Immunizations[0]
	if record.Deref(imm.VaccineCode) != "140" || record.Deref(imm.Date) != "2023-10-05" || record.Deref(imm.Site) != "Left arm" {
		t.Errorf("unexpected immunization %+v", imm)
	}

	if len(ex.Messages) != 1 || ex.Messages[0].MessageBody != "Please refill my prescription" {
		t.Fatalf("unexpected messages %+v", ex.Messages)
	}
	if len(ex.GrowthData) != 0 {
		t.Errorf("expected no growth data")
	}
}

func TestAdapter_Extract_NoPatient(t *testing.T) {
	doc := `{"resourceType":"Bundle","type":"collection","entry":[{"resource":{"resourceType":"Condition","id":"c1"}}]}`
	_, err := NewAdapter().Extract([]byte(doc))
	if err == nil {
		t.Fatal("expected error")
	}
	if !record.IsExtraction(err) {
		t.Fatalf("expected ExtractionError, got %T", err)
	}
	if err.Error() != "No Patient resource found in Bundle" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestAdapter_Extract_EmptyBundle(t *testing.T) {
	_, err := NewAdapter().Extract([]byte(`{"resourceType":"Bundle","type":"collection"}`))
	if !record.IsExtraction(err) {
		t.Fatalf("expected ExtractionError for bundle with zero entries, got %v", err)
	}
}

func TestAdapter_Extract_Malformed(t *testing.T) {
	tests := []string{
		`not json`,
		`[1,2,3]`,
		`{"resourceType":"Patient","id":"p1"}`,
		`{"resourceType":"Bundle","entry":[{"resource":{"resourceType":"Patient","id":"p1","name":"oops"}}]}`,
	}
	for _, doc := range tests {
		_, err := NewAdapter().Extract([]byte(doc))
		if !record.IsMalformed(err) {
			t.Errorf("Extract(%q): expected MalformedInputError, got %v", doc, err)
			continue
		}
		if !strings.HasPrefix(err.Error(), "Invalid FHIR Bundle") {
			t.Errorf("unexpected message %q", err.Error())
		}
	}
}

func TestAdapter_Extract_Defaults(t *testing.T) {
	doc := `{"resourceType":"Bundle","entry":[
		{"resource":{"resourceType":"Patient","id":"p9","gender":"unknown"}},
		{"resource":{"resourceType":"Condition","id":"c1","subject":{"reference":"Patient/p9"}}},
		{"resource":{"resourceType":"Encounter","id":"e1","subject":{"reference":"Patient/p9"},"class":[{"coding":[{"code":"FLD"}]}]}}
	]}`
	ex, err := NewAdapter().Extract([]byte(doc))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if ex.Patient.FamilyName != "Unknown" || ex.Patient.GivenNames[0] != "Unknown" {
		t.Errorf("expected Unknown placeholders, got %+v", ex.Patient)
	}
	if ex.Patient.SexAtBirth != nil {
		t.Errorf("expected unknown gender to map to absent, got %v", *ex.Patient.SexAtBirth)
	}
	if ex.Patient.PreferredLanguage != "English" {
		t.Errorf("expected English default, got %s", ex.Patient.PreferredLanguage)
	}
	c := ex.Conditions[0]
	if c.DisplayName != "Unknown" || c.ClinicalStatus != "active" {
		t.Errorf("unexpected condition defaults %+v", c)
	}
	if ex.Encounters[0].EncounterClass != "FLD" || ex.Encounters[0].Status != "finished" {
		t.Errorf("expected identity fallback for class, got %+v", ex.Encounters[0])
	}
}

// A resource whose reference merely contains the patient id is attributed
// to the patient.
func TestAdapter_Extract_ContainmentMatch(t *testing.T) {
	doc := `{"resourceType":"Bundle","entry":[
		{"resource":{"resourceType":"Patient","id":"12"}},
		{"resource":{"resourceType":"Condition","id":"c1","subject":{"reference":"Patient/123"},"code":{"text":"x"}}}
	]}`
	ex, err := NewAdapter().Extract([]byte(doc))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(ex.Conditions) != 1 {
		t.Errorf("expected containment match to attribute the condition, got %d", len(ex.Conditions))
	}
}

func TestAdapter_Extract_EntryOnce(t *testing.T) {
	doc := `{"resourceType":"Bundle","entry":[
		{"fullUrl":"urn:uuid:p1","resource":{"resourceType":"Patient","id":"p1"}},
		{"fullUrl":"urn:uuid:c1","resource":{"resourceType":"Condition","id":"c1","subject":{"reference":"Patient/p1"}}}
	]}`
	ex, err := NewAdapter().Extract([]byte(doc))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(ex.Conditions) != 1 {
		t.Errorf("expected entry indexed under two keys to be extracted once, got %d", len(ex.Conditions))
	}
}

func TestIndex_Resolve(t *testing.T) {
	b := &Bundle{Entry: []BundleEntry{
		{FullURL: "https://ehr.example/fhir/Encounter/e1", Resource: []byte(`{"resourceType":"Encounter","id":"e1"}`)},
	}}
	ix, err := newIndex(b)
	if err != nil {
		t.Fatalf("newIndex() error: %v", err)
	}
	for _, ref := range []string{"Encounter/e1", "https://ehr.example/fhir/Encounter/e1", "https://other.example/Encounter/e1"} {
		if _, ok := ix.resolve(ref); !ok {
			t.Errorf("expected %q to resolve", ref)
		}
	}
	if _, ok := ix.resolve("Encounter/e2"); ok {
		t.Error("expected Encounter/e2 not to resolve")
	}
}
