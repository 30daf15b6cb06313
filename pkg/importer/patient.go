package importer

import (
	"context"
	"strings"

	"github.com/mychart-explorer/importer/pkg/cda"
)

// extractPatient reads the demographics out of the document header. Only the
// first patientRole is considered; documents with none are rejected whole.
func extractPatient(root *cda.Node) (*Patient, error) {
	role := cda.FindFirst(root, ".//cda:recordTarget/cda:patientRole")
	if role == nil {
		return nil, ErrMissingPatient
	}
	patientEl := cda.FindFirst(role, "cda:patient")

	given := cda.FindFirstText(patientEl, "cda:name/cda:given")
	family := cda.FindFirstText(patientEl, "cda:name/cda:family")
	fullName := strings.TrimSpace(given + " " + family)

	patient := &Patient{
		MRN:           optional(cda.FindFirstAttr(role, "cda:id", "extension")),
		FullName:      &fullName,
		DOB:           optional(cda.FindFirstAttr(patientEl, "cda:birthTime", "value")),
		Gender:        optional(cda.FindFirstAttr(patientEl, "cda:administrativeGenderCode", "displayName")),
		MaritalStatus: optional(cda.FindFirstAttr(patientEl, "cda:maritalStatusCode", "displayName")),
		Race:          optional(cda.FindFirstAttr(patientEl, "cda:raceCode", "displayName")),
		Ethnicity:     optional(cda.FindFirstAttr(patientEl, "cda:ethnicGroupCode", "displayName")),
		Deceased:      cda.FindFirstAttr(patientEl, "sdtc:deceasedInd", "value") == "true",
		DeceasedDate:  optional(cda.FindFirstAttr(patientEl, "sdtc:deceasedTime", "value")),
	}
	return patient, nil
}

// resolvePatient returns the identity owning this document's facts: the
// existing row for the (mrn, full_name, dob) triple, or a freshly inserted
// one. An existing row is returned unchanged; a newer document never updates
// demographics.
func resolvePatient(ctx context.Context, repo *Repository, root *cda.Node) (*Patient, error) {
	candidate, err := extractPatient(root)
	if err != nil {
		return nil, err
	}
	existing, err := repo.FindPatientByIdentity(ctx, candidate.MRN, candidate.FullName, candidate.DOB)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if err := repo.CreatePatient(ctx, candidate); err != nil {
		return nil, err
	}
	return candidate, nil
}

// optional maps an absent lookup result to SQL NULL.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
