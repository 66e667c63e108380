// Package fhir extracts canonical patient records from FHIR R5 Bundles.
package fhir

// Resource carries the fields shared by every resource in a bundle entry.
type Resource struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// FirstCoding returns the first coding, or nil when the concept has none.
func (cc *CodeableConcept) FirstCoding() *Coding {
	if cc == nil || len(cc.Coding) == 0 {
		return nil
	}
	return &cc.Coding[0]
}

// Code returns the first coding code.
func (cc *CodeableConcept) Code() string {
	if c := cc.FirstCoding(); c != nil {
		return c.Code
	}
	return ""
}

// Display returns the concept text, falling back to the first coding display.
func (cc *CodeableConcept) Display() string {
	if cc == nil {
		return ""
	}
	if cc.Text != "" {
		return cc.Text
	}
	if c := cc.FirstCoding(); c != nil {
		return c.Display
	}
	return ""
}

// CodingDisplay returns the first coding display, falling back to text.
func (cc *CodeableConcept) CodingDisplay() string {
	if c := cc.FirstCoding(); c != nil && c.Display != "" {
		return c.Display
	}
	if cc == nil {
		return ""
	}
	return cc.Text
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

// CodeableReference is the R5 datatype pairing a concept with a reference.
type CodeableReference struct {
	Concept   *CodeableConcept `json:"concept,omitempty"`
	Reference *Reference       `json:"reference,omitempty"`
}

type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Text   string   `json:"text,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

type Address struct {
	Use        string   `json:"use,omitempty"`
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
}

type ContactPoint struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
	Use    string `json:"use,omitempty"`
}

// Period bounds are kept as the raw FHIR dateTime strings; partial
// precision such as "2024" is legal in FHIR and is resolved downstream.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type Quantity struct {
	Value *float64 `json:"value,omitempty"`
	Unit  string   `json:"unit,omitempty"`
	Code  string   `json:"code,omitempty"`
}

type Narrative struct {
	Status string `json:"status,omitempty"`
	Div    string `json:"div,omitempty"`
}
