package cda

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Clinical domains a document section can declare.
const (
	DomainAllergies     = "allergies"
	DomainProblems      = "problems"
	DomainMedications   = "medications"
	DomainImmunizations = "immunizations"
	DomainVitals        = "vitals"
	DomainResults       = "results"
	DomainProcedures    = "procedures"
	DomainNotes         = "notes"
)

// Section template identifiers are standardized constants, not logic: each
// dotted OID below is fixed by the C-CDA specification.
const (
	TemplateAllergies     = "2.16.840.1.113883.10.20.22.2.6.1"
	TemplateProblems      = "2.16.840.1.113883.10.20.22.2.5.1"
	TemplateMedications   = "2.16.840.1.113883.10.20.22.2.1.1"
	TemplateImmunizations = "2.16.840.1.113883.10.20.22.2.2.1"
	TemplateVitals        = "2.16.840.1.113883.10.20.22.2.4.1"
	TemplateResults       = "2.16.840.1.113883.10.20.22.2.3.1"
	TemplateProcedures    = "2.16.840.1.113883.10.20.22.2.7.1"
	TemplateNotes         = "1.3.6.1.4.1.19376.1.5.3.1.3.4"
)

// Registry maps each clinical domain to the template identifiers that mark
// its sections. A domain may carry more than one identifier; vendors that
// split resolved problems into a second section register it here.
type Registry struct {
	Templates map[string][]string `yaml:"templates"`
}

// DefaultRegistry returns the standard C-CDA section identifiers.
func DefaultRegistry() Registry {
	return Registry{Templates: map[string][]string{
		DomainAllergies:     {TemplateAllergies},
		DomainProblems:      {TemplateProblems},
		DomainMedications:   {TemplateMedications},
		DomainImmunizations: {TemplateImmunizations},
		DomainVitals:        {TemplateVitals},
		DomainResults:       {TemplateResults},
		DomainProcedures:    {TemplateProcedures},
		DomainNotes:         {TemplateNotes},
	}}
}

// LoadRegistry reads a yaml override file, falling back to the defaults when
// no path is given. Domains absent from the file keep their default
// identifiers.
func LoadRegistry(path string) (Registry, error) {
	reg := DefaultRegistry()
	if path == "" {
		return reg, nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return reg, err
	}
	var override Registry
	if err := yaml.Unmarshal(content, &override); err != nil {
		return Registry{}, err
	}
	if len(override.Templates) == 0 {
		return Registry{}, fmt.Errorf("template registry %s is empty", path)
	}
	for domain, ids := range override.Templates {
		if len(ids) > 0 {
			reg.Templates[domain] = ids
		}
	}
	return reg, nil
}

// TemplateIDs returns the identifiers registered for a domain.
func (r Registry) TemplateIDs(domain string) []string {
	return r.Templates[domain]
}

// Sections returns every section in the document registered to the domain, in
// registry order then document order.
func (r Registry) Sections(root *Node, domain string) []*Node {
	var out []*Node
	for _, id := range r.Templates[domain] {
		out = append(out, SectionsByTemplateID(root, id)...)
	}
	return out
}
