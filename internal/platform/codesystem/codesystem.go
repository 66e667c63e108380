// Package codesystem maps clinical code-system identifiers to short names and
// checks code formats per system.
package codesystem

import "strings"

// Short code-system names used throughout the canonical record.
const (
	SNOMED = "snomed"
	ICD10  = "icd10"
	RxNorm = "rxnorm"
	LOINC  = "loinc"
	CVX    = "cvx"
)

// FHIR terminology URIs.
const (
	SNOMEDURI = "http://snomed.info/sct"
	ICD10URI  = "http://hl7.org/fhir/sid/icd-10-cm"
	RxNormURI = "http://www.nlm.nih.gov/research/umls/rxnorm"
	LOINCURI  = "http://loinc.org"
	CVXURI    = "http://hl7.org/fhir/sid/cvx"
)

// HL7 v3 OIDs as carried in C-CDA codeSystem attributes.
const (
	SNOMEDOID  = "2.16.840.1.113883.6.96"
	ICD10CMOID = "2.16.840.1.113883.6.90"
	ICD10OID   = "2.16.840.1.113883.6.3"
	RxNormOID  = "2.16.840.1.113883.6.88"
	LOINCOID   = "2.16.840.1.113883.6.1"
	CVXOID     = "2.16.840.1.113883.12.292"
)

var aliases = map[string]string{
	SNOMEDURI:   SNOMED,
	"snomed":    SNOMED,
	"snomed-ct": SNOMED,
	"snomedct":  SNOMED,
	"sct":       SNOMED,

	ICD10URI:                         ICD10,
	"http://hl7.org/fhir/sid/icd-10": ICD10,
	"icd10":                          ICD10,
	"icd-10":                         ICD10,
	"icd-10-cm":                      ICD10,
	"icd10cm":                        ICD10,

	RxNormURI: RxNorm,
	"rxnorm":  RxNorm,

	LOINCURI: LOINC,
	"loinc":  LOINC,

	CVXURI: CVX,
	"cvx":  CVX,
}

var oids = map[string]string{
	SNOMEDOID:  SNOMED,
	ICD10CMOID: ICD10,
	ICD10OID:   ICD10,
	RxNormOID:  RxNorm,
	LOINCOID:   LOINC,
	CVXOID:     CVX,
}

// Normalize maps a system URI or alternate spelling to its short name.
// Unrecognized values are returned unchanged.
func Normalize(system string) string {
	if short, ok := aliases[strings.ToLower(strings.TrimSpace(system))]; ok {
		return short
	}
	return system
}

// FromOID maps a C-CDA codeSystem OID to its short name. Unknown OIDs are
// returned unchanged.
func FromOID(oid string) string {
	if short, ok := oids[oid]; ok {
		return short
	}
	return oid
}
