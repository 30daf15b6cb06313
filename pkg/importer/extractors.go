package importer

import (
	"context"
	"strings"

	"github.com/mychart-explorer/importer/pkg/cda"
	"github.com/mychart-explorer/importer/pkg/common/logger"
)

// An extractorFunc maps one located section into rows and reports how many
// were genuinely new. Extractors never fail a document over one bad entry;
// only a store error escalates.
type extractorFunc func(ctx context.Context, repo *Repository, root, section *cda.Node, patientID uint) (int, error)

type sectionExtractor struct {
	Name   string
	Domain string
	Fn     extractorFunc
}

// sectionExtractors returns the dispatch table in processing order.
func sectionExtractors() []sectionExtractor {
	return []sectionExtractor{
		{Name: "Allergies", Domain: cda.DomainAllergies, Fn: extractAllergies},
		{Name: "Problems", Domain: cda.DomainProblems, Fn: extractProblems},
		{Name: "Medications", Domain: cda.DomainMedications, Fn: extractMedications},
		{Name: "Immunizations", Domain: cda.DomainImmunizations, Fn: extractImmunizations},
		{Name: "Vitals", Domain: cda.DomainVitals, Fn: extractVitals},
		{Name: "Results", Domain: cda.DomainResults, Fn: extractResults},
		{Name: "Procedures", Domain: cda.DomainProcedures, Fn: extractProcedures},
		{Name: "Clinical Notes", Domain: cda.DomainNotes, Fn: extractNotes},
	}
}

// guardEntry runs one entry's extraction and turns a panic into a skipped
// entry. A malformed entry must never take its section down with it.
func guardEntry(section string, fn func() (bool, error)) (inserted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.WithField("section", section).Warnf("skipping malformed entry: %v", r)
			inserted = false
			err = nil
		}
	}()
	return fn()
}

func extractAllergies(ctx context.Context, repo *Repository, root, section *cda.Node, patientID uint) (int, error) {
	count := 0
	for _, entry := range cda.FindAll(section, ".//cda:entry") {
		inserted, err := guardEntry("allergies", func() (bool, error) {
			// "No known allergies" boilerplate carries a negated observation.
			if cda.FindFirst(entry, ".//cda:observation[@negationInd='true']") != nil {
				return false, nil
			}
			row := &Allergy{
				PatientID:     patientID,
				Substance:     optional(cda.ResolveDisplayName(root, entry, ".//cda:participant/cda:participantRole/cda:playingEntity/cda:code")),
				Reaction:      optional(cda.FindFirstAttr(entry, ".//cda:entryRelationship/cda:observation/cda:value", "displayName")),
				Status:        optional(cda.FindFirstAttr(entry, ".//cda:act/cda:statusCode", "code")),
				EffectiveDate: optional(cda.FindFirstAttr(entry, ".//cda:effectiveTime/cda:low", "value")),
			}
			return repo.InsertIfAbsent(ctx, row)
		})
		if err != nil {
			return count, err
		}
		if inserted {
			count++
		}
	}
	return count, nil
}

func extractProblems(ctx context.Context, repo *Repository, root, section *cda.Node, patientID uint) (int, error) {
	count := 0
	for _, entry := range cda.FindAll(section, ".//cda:entry") {
		obs := cda.FindFirst(entry, ".//cda:observation")
		if obs == nil {
			continue
		}
		inserted, err := guardEntry("problems", func() (bool, error) {
			row := &Problem{
				PatientID:    patientID,
				ProblemName:  optional(cda.ResolveDisplayName(root, obs, "cda:value")),
				Status:       optional(cda.FindFirstAttr(obs, ".//cda:entryRelationship/cda:observation/cda:value", "displayName")),
				OnsetDate:    optional(cda.FindFirstAttr(obs, "cda:effectiveTime/cda:low", "value")),
				ResolvedDate: optional(cda.FindFirstAttr(obs, "cda:effectiveTime/cda:high", "value")),
			}
			return repo.InsertIfAbsent(ctx, row)
		})
		if err != nil {
			return count, err
		}
		if inserted {
			count++
		}
	}
	return count, nil
}

func extractMedications(ctx context.Context, repo *Repository, root, section *cda.Node, patientID uint) (int, error) {
	count := 0
	for _, sa := range cda.FindAll(section, ".//cda:entry/cda:substanceAdministration") {
		inserted, err := guardEntry("medications", func() (bool, error) {
			row := &Medication{
				PatientID:      patientID,
				MedicationName: optional(cda.ResolveDisplayName(root, sa, ".//cda:consumable/cda:manufacturedProduct/cda:manufacturedMaterial/cda:code")),
				// Sig instructions are usually stored by narrative reference,
				// so they resolve through the same fallback chain as names.
				Instructions: optional(cda.ResolveText(root, sa, "cda:text")),
				Status:       optional(cda.FindFirstAttr(sa, "cda:statusCode", "code")),
				StartDate:    optional(cda.FindFirstAttr(sa, "cda:effectiveTime/cda:low", "value")),
				EndDate:      optional(cda.FindFirstAttr(sa, "cda:effectiveTime/cda:high", "value")),
			}
			return repo.InsertIfAbsent(ctx, row)
		})
		if err != nil {
			return count, err
		}
		if inserted {
			count++
		}
	}
	return count, nil
}

func extractImmunizations(ctx context.Context, repo *Repository, root, section *cda.Node, patientID uint) (int, error) {
	count := 0
	for _, sa := range cda.FindAll(section, ".//cda:entry/cda:substanceAdministration") {
		inserted, err := guardEntry("immunizations", func() (bool, error) {
			// The administration date is usually a scalar effectiveTime, but
			// some vendors emit an interval; fall back to its low bound.
			date := cda.FindFirstAttr(sa, "cda:effectiveTime", "value")
			if date == "" {
				date = cda.FindFirstAttr(sa, "cda:effectiveTime/cda:low", "value")
			}
			row := &Immunization{
				PatientID:        patientID,
				VaccineName:      optional(cda.ResolveDisplayName(root, sa, "cda:consumable/cda:manufacturedProduct/cda:manufacturedMaterial/cda:code")),
				DateAdministered: optional(date),
			}
			return repo.InsertIfAbsent(ctx, row)
		})
		if err != nil {
			return count, err
		}
		if inserted {
			count++
		}
	}
	return count, nil
}

func extractVitals(ctx context.Context, repo *Repository, root, section *cda.Node, patientID uint) (int, error) {
	count := 0
	for _, obs := range cda.FindAll(section, ".//cda:component/cda:observation") {
		vitalSign := cda.ResolveDisplayName(root, obs, "cda:code")
		if vitalSign == "" {
			continue
		}
		inserted, err := guardEntry("vitals", func() (bool, error) {
			row := &Vital{
				PatientID:     patientID,
				VitalSign:     &vitalSign,
				Value:         optional(cda.FindFirstAttr(obs, "cda:value", "value")),
				Unit:          optional(cda.FindFirstAttr(obs, "cda:value", "unit")),
				EffectiveDate: optional(cda.FindFirstAttr(obs, "cda:effectiveTime", "value")),
			}
			return repo.InsertIfAbsent(ctx, row)
		})
		if err != nil {
			return count, err
		}
		if inserted {
			count++
		}
	}
	return count, nil
}

func extractResults(ctx context.Context, repo *Repository, root, section *cda.Node, patientID uint) (int, error) {
	count := 0
	for _, obs := range cda.FindAll(section, ".//cda:component/cda:observation") {
		testName := cda.ResolveDisplayName(root, obs, "cda:code")
		if testName == "" {
			continue
		}
		inserted, err := guardEntry("results", func() (bool, error) {
			var value, unit string
			if valueEl := cda.FindFirst(obs, "cda:value"); valueEl != nil {
				value = valueEl.Attr("value")
				if value == "" {
					value = valueEl.Attr("displayName")
				}
				if value == "" {
					value = valueEl.TrimmedText()
				}
				unit = valueEl.Attr("unit")
			}
			row := &Result{
				PatientID:      patientID,
				TestName:       &testName,
				Value:          optional(value),
				Unit:           optional(unit),
				ReferenceRange: optional(cda.FindFirstText(obs, ".//cda:referenceRange/cda:observationRange/cda:text")),
				Interpretation: optional(cda.FindFirstAttr(obs, "cda:interpretationCode", "displayName")),
				EffectiveDate:  optional(cda.FindFirstAttr(obs, "cda:effectiveTime", "value")),
			}
			return repo.InsertIfAbsent(ctx, row)
		})
		if err != nil {
			return count, err
		}
		if inserted {
			count++
		}
	}

	// Lab exports embed narrative notes inside results sections; run the
	// notes extraction over the same section so neither is lost.
	noteCount, err := extractNotes(ctx, repo, root, section, patientID)
	if err != nil {
		return count, err
	}
	return count + noteCount, nil
}

func extractProcedures(ctx context.Context, repo *Repository, root, section *cda.Node, patientID uint) (int, error) {
	count := 0
	for _, proc := range cda.FindAll(section, ".//cda:entry/cda:procedure") {
		// Implant and device procedures name themselves on the playing
		// device rather than the procedure code.
		name := cda.ResolveDisplayName(root, proc, "cda:code")
		if name == "" {
			name = cda.ResolveDisplayName(root, proc, ".//cda:participant/cda:participantRole/cda:playingDevice/cda:code")
		}
		if name == "" {
			logger.Log.WithField("section", "procedures").Debug("skipping entry with no resolvable name")
			continue
		}
		inserted, err := guardEntry("procedures", func() (bool, error) {
			date := cda.FindFirstAttr(proc, "cda:effectiveTime/cda:low", "value")
			if date == "" {
				date = cda.FindFirstAttr(proc, "cda:effectiveTime", "value")
			}
			row := &Procedure{
				PatientID:     patientID,
				ProcedureName: &name,
				Date:          optional(date),
				Provider:      optional(cda.FindFirstText(proc, ".//cda:performer/cda:assignedEntity/cda:assignedPerson/cda:name")),
			}
			return repo.InsertIfAbsent(ctx, row)
		})
		if err != nil {
			return count, err
		}
		if inserted {
			count++
		}
	}
	return count, nil
}

// extractNotes turns a section's narrative text block into one note row. It
// runs both for dedicated notes sections and, piggybacked, for results
// sections that carry narrative.
func extractNotes(ctx context.Context, repo *Repository, root, section *cda.Node, patientID uint) (int, error) {
	textEl := cda.FindFirst(section, "cda:text")
	if textEl == nil {
		return 0, nil
	}
	content := strings.Join(textEl.TextPieces(), "\n")
	if content == "" {
		return 0, nil
	}

	title := cda.FindFirstText(section, "cda:title")
	if title == "" {
		title = "Clinical Note"
	}
	noteType := cda.FindFirstAttr(section, "cda:code", "displayName")
	if noteType == "" {
		noteType = "Note"
	}

	// Prefer the encompassing encounter's start; a document without one dates
	// the note by its own effectiveTime.
	noteDate := cda.FindFirstAttr(root, ".//cda:encompassingEncounter/cda:effectiveTime/cda:low", "value")
	if noteDate == "" {
		noteDate = cda.FindFirstAttr(root, "cda:effectiveTime", "value")
	}

	var provider string
	if enc := cda.FindFirst(root, ".//cda:encompassingEncounter"); enc != nil {
		provider = cda.FindFirst(enc, ".//cda:assignedPerson/cda:name").AllText()
	}

	row := &Note{
		PatientID:   patientID,
		NoteType:    &noteType,
		NoteDate:    optional(noteDate),
		NoteTitle:   &title,
		NoteContent: &content,
		Provider:    optional(provider),
	}
	inserted, err := repo.InsertIfAbsent(ctx, row)
	if err != nil {
		return 0, err
	}
	if inserted {
		return 1, nil
	}
	return 0, nil
}
