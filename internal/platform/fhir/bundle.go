package fhir

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// entry is one decoded bundle entry. raw keeps the resource JSON so the
// adapter can decode it into the concrete type once it knows the type.
type entry struct {
	Resource
	fullURL string
	raw     json.RawMessage
}

func (e *entry) key() string {
	if e.ResourceType == "" || e.ID == "" {
		return ""
	}
	return e.ResourceType + "/" + e.ID
}

// index maps entries by fullUrl and by "Type/id". The same entry may sit
// under both keys; entries keeps each one once, in bundle order.
type index struct {
	entries []*entry
	byRef   map[string]*entry
}

func newIndex(b *Bundle) (*index, error) {
	ix := &index{byRef: make(map[string]*entry, len(b.Entry)*2)}
	for i, be := range b.Entry {
		if len(be.Resource) == 0 || string(be.Resource) == "null" {
			continue
		}
		e := &entry{fullURL: be.FullURL, raw: be.Resource}
		if err := json.Unmarshal(be.Resource, &e.Resource); err != nil {
			return nil, fmt.Errorf("entry[%d]: %w", i, err)
		}
		ix.entries = append(ix.entries, e)
		for _, k := range []string{e.fullURL, e.key()} {
			if k == "" {
				continue
			}
			if _, exists := ix.byRef[k]; !exists {
				ix.byRef[k] = e
			}
		}
	}
	return ix, nil
}

// resolve looks up a literal reference. Relative references that carry a
// server base ("https://x/fhir/Patient/1") fall back to their Type/id tail.
func (ix *index) resolve(ref string) (*entry, bool) {
	if ref == "" {
		return nil, false
	}
	if e, ok := ix.byRef[ref]; ok {
		return e, true
	}
	parts := strings.Split(strings.TrimSuffix(ref, "/"), "/")
	if len(parts) >= 2 {
		if e, ok := ix.byRef[parts[len(parts)-2]+"/"+parts[len(parts)-1]]; ok {
			return e, true
		}
	}
	return nil, false
}

func (ix *index) first(resourceType string) *entry {
	for _, e := range ix.entries {
		if e.ResourceType == resourceType {
			return e
		}
	}
	return nil
}

func decode[T any](e *entry) (*T, error) {
	var v T
	if err := json.Unmarshal(e.raw, &v); err != nil {
		name := e.key()
		if name == "" {
			name = e.ResourceType
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &v, nil
}
