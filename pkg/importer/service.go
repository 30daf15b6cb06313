package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mychart-explorer/importer/pkg/cda"
	"github.com/mychart-explorer/importer/pkg/common/logger"
)

// Import-run outcomes recorded in the audit table.
const (
	RunImported         = "imported"
	RunSkippedParse     = "skipped_parse"
	RunSkippedNoPatient = "skipped_no_patient"
)

// Summary reports what one document contributed.
type Summary struct {
	RunID     string         `json:"run_id"`
	Source    string         `json:"source"`
	PatientID uint           `json:"patient_id"`
	Counts    map[string]int `json:"counts"`
	NewRows   int            `json:"new_rows"`
}

// BatchSummary aggregates a multi-file run. Per-file failures never abort the
// batch; they are counted here instead.
type BatchSummary struct {
	Succeeded int        `json:"succeeded"`
	Skipped   int        `json:"skipped"`
	Failed    int        `json:"failed"`
	Summaries []*Summary `json:"summaries"`
}

// Service ingests CDA documents one at a time. Each document runs inside its
// own transaction: either every extractor's inserts commit together or none
// do. The service gives no thread-safety guarantees across concurrent calls
// sharing one store; callers wanting throughput serialize here.
type Service struct {
	db       *gorm.DB
	repo     *Repository
	registry cda.Registry
}

func NewService(db *gorm.DB, registry cda.Registry) *Service {
	return &Service{
		db:       db,
		repo:     NewRepository(db),
		registry: registry,
	}
}

// ImportFile processes one document from disk.
func (s *Service) ImportFile(ctx context.Context, path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return s.ImportDocument(ctx, filepath.Base(path), data)
}

// ImportDocument parses and persists one document. A parse failure or a
// missing patient role skips the document before any domain rows are written;
// any unexpected store failure mid-extraction rolls the whole document back.
func (s *Service) ImportDocument(ctx context.Context, source string, data []byte) (*Summary, error) {
	runID := uuid.New().String()
	log := logger.WithFields(logrus.Fields{"file": source, "run_id": runID})

	root, err := cda.Parse(data)
	if err != nil {
		log.WithError(err).Error("document is not well-formed XML, skipping")
		s.recordRun(ctx, runID, source, RunSkippedParse, nil)
		return nil, err
	}

	summary := &Summary{
		RunID:  runID,
		Source: source,
		Counts: map[string]int{},
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		patient, err := resolvePatient(ctx, repo, root)
		if err != nil {
			return err
		}
		summary.PatientID = patient.ID

		for _, ext := range sectionExtractors() {
			sections := s.registry.Sections(root, ext.Domain)
			if len(sections) == 0 {
				continue
			}
			total := 0
			for _, section := range sections {
				n, err := ext.Fn(ctx, repo, root, section, patient.ID)
				if err != nil {
					return fmt.Errorf("extract %s: %w", ext.Name, err)
				}
				total += n
			}
			summary.Counts[ext.Name] = total
			summary.NewRows += total
			if total > 0 {
				log.WithField("section", ext.Name).Infof("found %d new record(s)", total)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrMissingPatient) {
			log.Error("could not find patient in document, skipping")
			s.recordRun(ctx, runID, source, RunSkippedNoPatient, nil)
			return nil, err
		}
		log.WithError(err).Error("import failed, document rolled back")
		return nil, err
	}

	s.recordRun(ctx, runID, source, RunImported, summary.Counts)
	return summary, nil
}

// ImportBatch processes each file against the same store, committing per
// file. Missing files are skipped, failing files are counted and the batch
// continues.
func (s *Service) ImportBatch(ctx context.Context, paths []string) *BatchSummary {
	batch := &BatchSummary{}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			logger.WithField("file", path).Warn("file not found, skipping")
			batch.Skipped++
			continue
		}
		logger.WithField("file", filepath.Base(path)).Info("processing file")
		summary, err := s.ImportFile(ctx, path)
		if err != nil {
			batch.Failed++
			continue
		}
		batch.Succeeded++
		batch.Summaries = append(batch.Summaries, summary)
	}
	return batch
}

// recordRun writes the audit row for one processed document. Auditing is
// best-effort: a failure to record never fails the import itself.
func (s *Service) recordRun(ctx context.Context, runID, source, status string, counts map[string]int) {
	run := &ImportRun{
		ID:         runID,
		SourceFile: source,
		Status:     status,
		Counts:     datatypes.JSONMap{},
	}
	for name, n := range counts {
		run.Counts[name] = n
	}
	if err := s.repo.RecordRun(ctx, run); err != nil {
		logger.WithField("file", source).WithError(err).Warn("failed to record import run")
	}
}
