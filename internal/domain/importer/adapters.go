package importer

import (
	"fmt"
	"mime"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mneme/emr/internal/domain/record"
	"github.com/mneme/emr/internal/platform/ccda"
	"github.com/mneme/emr/internal/platform/fhir"
	"github.com/mneme/emr/internal/platform/flatjson"
)

// AdapterFor returns the adapter for format.
func AdapterFor(format record.Format, logger zerolog.Logger) (record.Adapter, error) {
	switch format {
	case record.FormatFHIR:
		return fhir.NewAdapter(), nil
	case record.FormatCCDA:
		return ccda.NewAdapter(logger), nil
	case record.FormatFlatJSON:
		return flatjson.NewAdapter(), nil
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

// DefaultAdapters returns one adapter per supported format.
func DefaultAdapters(logger zerolog.Logger) []record.Adapter {
	out := make([]record.Adapter, 0, len(record.Formats))
	for _, f := range record.Formats {
		a, _ := AdapterFor(f, logger)
		out = append(out, a)
	}
	return out
}

var contentTypes = map[string]record.Format{
	"application/fhir+json": record.FormatFHIR,
	"application/xml":       record.FormatCCDA,
	"text/xml":              record.FormatCCDA,
	"application/cda+xml":   record.FormatCCDA,
	"application/json":      record.FormatFlatJSON,
}

// FormatFromContentType maps a request Content-Type to a format. Media type
// parameters such as charset are ignored.
func FormatFromContentType(contentType string) (record.Format, bool) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	f, ok := contentTypes[mt]
	return f, ok
}

// ParseFormat accepts a format name or one of its short aliases.
func ParseFormat(name string) (record.Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fhir", "fhir-r5", "fhir+json":
		return record.FormatFHIR, nil
	case "ccda", "c-cda", "cda", "xml":
		return record.FormatCCDA, nil
	case "json", "oread", "oread-json", "flat-json":
		return record.FormatFlatJSON, nil
	}
	return "", fmt.Errorf("unknown format %q (expected fhir, ccda or json)", name)
}
