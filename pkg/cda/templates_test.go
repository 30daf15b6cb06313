package cda

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()

	domains := []string{
		DomainAllergies, DomainProblems, DomainMedications, DomainImmunizations,
		DomainVitals, DomainResults, DomainProcedures, DomainNotes,
	}
	for _, domain := range domains {
		if len(reg.TemplateIDs(domain)) == 0 {
			t.Errorf("domain %s has no template identifiers", domain)
		}
	}
	if ids := reg.TemplateIDs(DomainAllergies); ids[0] != TemplateAllergies {
		t.Errorf("allergies template = %q, want %q", ids[0], TemplateAllergies)
	}
}

func TestLoadRegistryOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	content := `templates:
  problems:
    - "2.16.840.1.113883.10.20.22.2.5.1"
    - "2.16.840.1.113883.10.20.22.2.20"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	if ids := reg.TemplateIDs(DomainProblems); len(ids) != 2 {
		t.Fatalf("problems templates = %d, want 2", len(ids))
	}
	// Domains not named in the override keep their defaults.
	if ids := reg.TemplateIDs(DomainVitals); len(ids) != 1 || ids[0] != TemplateVitals {
		t.Errorf("vitals templates = %v, want default", ids)
	}
}

func TestLoadRegistryMissingFile(t *testing.T) {
	reg, err := LoadRegistry(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	// Defaults still come back so a caller can proceed.
	if len(reg.TemplateIDs(DomainAllergies)) == 0 {
		t.Error("expected default registry alongside the error")
	}
}

func TestLoadRegistryEmptyPath(t *testing.T) {
	reg, err := LoadRegistry("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reg.Templates) != 8 {
		t.Errorf("domains = %d, want 8", len(reg.Templates))
	}
}
