package codesystem

import (
	"regexp"
	"strconv"
)

type rule struct {
	name  string
	valid func(code string) bool
}

var (
	snomedPattern = regexp.MustCompile(`^\d{6,18}$`)
	icd10Pattern  = regexp.MustCompile(`^[A-Za-z]\d{2}(\.[A-Za-z0-9]{1,4})?$`)
	rxnormPattern = regexp.MustCompile(`^\d+$`)
	loincPattern  = regexp.MustCompile(`^\d+-\d$`)
)

var rules = map[string]rule{
	SNOMED: {name: "SNOMED CT", valid: snomedPattern.MatchString},
	ICD10:  {name: "ICD-10-CM", valid: icd10Pattern.MatchString},
	RxNorm: {name: "RxNorm", valid: rxnormPattern.MatchString},
	LOINC:  {name: "LOINC", valid: loincPattern.MatchString},
	CVX:    {name: "CVX", valid: validCVX},
}

// CVX codes are integers from 1 to 999.
func validCVX(code string) bool {
	n, err := strconv.Atoi(code)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 999
}

// Validate checks code against the format rule for system. It returns
// ok=true when the code matches, when either argument is empty, or when the
// system has no rule. On failure msg is a human-readable explanation.
func Validate(system, code string) (ok bool, msg string) {
	if system == "" || code == "" {
		return true, ""
	}
	r, found := rules[Normalize(system)]
	if !found {
		return true, ""
	}
	if r.valid(code) {
		return true, ""
	}
	return false, "Invalid " + r.name + " code format: " + code
}
