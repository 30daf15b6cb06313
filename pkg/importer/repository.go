package importer

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrMissingPatient means the document carries no patientRole subtree, so no
// facts in it can be attached to anyone. The document is skipped whole.
var ErrMissingPatient = errors.New("document has no patient role")

// Patient is one logical identity per (mrn, full_name, dob) triple. A later
// document for the same triple reuses the row; demographics are
// first-write-wins and never updated.
//
// The dedup-key columns here and on the domain models below stay nullable on
// purpose: both SQLite and Postgres treat NULL as distinct from NULL inside a
// UNIQUE constraint, so rows whose key fields are absent do not collapse into
// one another. That is the source system's behavior, kept intentionally.
type Patient struct {
	ID            uint    `gorm:"primaryKey" json:"id"`
	MRN           *string `gorm:"column:mrn;uniqueIndex:idx_patient_identity" json:"mrn"`
	FullName      *string `gorm:"uniqueIndex:idx_patient_identity" json:"full_name"`
	DOB           *string `gorm:"column:dob;uniqueIndex:idx_patient_identity" json:"dob"`
	Gender        *string `json:"gender"`
	MaritalStatus *string `json:"marital_status"`
	Race          *string `json:"race"`
	Ethnicity     *string `json:"ethnicity"`
	Deceased      bool    `json:"deceased"`
	DeceasedDate  *string `json:"deceased_date"`
}

func (Patient) TableName() string {
	return "patients"
}

type Allergy struct {
	ID            uint    `gorm:"primaryKey" json:"id"`
	PatientID     uint    `gorm:"uniqueIndex:idx_allergy_nk" json:"patient_id"`
	Substance     *string `gorm:"uniqueIndex:idx_allergy_nk" json:"substance"`
	Reaction      *string `json:"reaction"`
	Status        *string `json:"status"`
	EffectiveDate *string `gorm:"uniqueIndex:idx_allergy_nk" json:"effective_date"`

	Patient Patient `gorm:"foreignKey:PatientID" json:"-"`
}

func (Allergy) TableName() string {
	return "allergies"
}

type Problem struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	PatientID    uint    `gorm:"uniqueIndex:idx_problem_nk" json:"patient_id"`
	ProblemName  *string `gorm:"uniqueIndex:idx_problem_nk" json:"problem_name"`
	Status       *string `json:"status"`
	OnsetDate    *string `gorm:"uniqueIndex:idx_problem_nk" json:"onset_date"`
	ResolvedDate *string `json:"resolved_date"`

	Patient Patient `gorm:"foreignKey:PatientID" json:"-"`
}

func (Problem) TableName() string {
	return "problems"
}

type Medication struct {
	ID             uint    `gorm:"primaryKey" json:"id"`
	PatientID      uint    `gorm:"uniqueIndex:idx_medication_nk" json:"patient_id"`
	MedicationName *string `gorm:"uniqueIndex:idx_medication_nk" json:"medication_name"`
	Instructions   *string `json:"instructions"`
	Status         *string `json:"status"`
	StartDate      *string `gorm:"uniqueIndex:idx_medication_nk" json:"start_date"`
	EndDate        *string `json:"end_date"`

	Patient Patient `gorm:"foreignKey:PatientID" json:"-"`
}

func (Medication) TableName() string {
	return "medications"
}

type Immunization struct {
	ID               uint    `gorm:"primaryKey" json:"id"`
	PatientID        uint    `gorm:"uniqueIndex:idx_immunization_nk" json:"patient_id"`
	VaccineName      *string `gorm:"uniqueIndex:idx_immunization_nk" json:"vaccine_name"`
	DateAdministered *string `gorm:"uniqueIndex:idx_immunization_nk" json:"date_administered"`

	Patient Patient `gorm:"foreignKey:PatientID" json:"-"`
}

func (Immunization) TableName() string {
	return "immunizations"
}

type Vital struct {
	ID            uint    `gorm:"primaryKey" json:"id"`
	PatientID     uint    `gorm:"uniqueIndex:idx_vital_nk" json:"patient_id"`
	VitalSign     *string `gorm:"uniqueIndex:idx_vital_nk" json:"vital_sign"`
	Value         *string `json:"value"`
	Unit          *string `json:"unit"`
	EffectiveDate *string `gorm:"uniqueIndex:idx_vital_nk" json:"effective_date"`

	Patient Patient `gorm:"foreignKey:PatientID" json:"-"`
}

func (Vital) TableName() string {
	return "vitals"
}

type Result struct {
	ID             uint    `gorm:"primaryKey" json:"id"`
	PatientID      uint    `gorm:"uniqueIndex:idx_result_nk" json:"patient_id"`
	TestName       *string `gorm:"uniqueIndex:idx_result_nk" json:"test_name"`
	Value          *string `json:"value"`
	Unit           *string `json:"unit"`
	ReferenceRange *string `json:"reference_range"`
	Interpretation *string `json:"interpretation"`
	EffectiveDate  *string `gorm:"uniqueIndex:idx_result_nk" json:"effective_date"`

	Patient Patient `gorm:"foreignKey:PatientID" json:"-"`
}

func (Result) TableName() string {
	return "results"
}

type Procedure struct {
	ID            uint    `gorm:"primaryKey" json:"id"`
	PatientID     uint    `gorm:"uniqueIndex:idx_procedure_nk" json:"patient_id"`
	ProcedureName *string `gorm:"uniqueIndex:idx_procedure_nk" json:"procedure_name"`
	Date          *string `gorm:"uniqueIndex:idx_procedure_nk" json:"date"`
	Provider      *string `json:"provider"`

	Patient Patient `gorm:"foreignKey:PatientID" json:"-"`
}

func (Procedure) TableName() string {
	return "procedures"
}

type Note struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	PatientID   uint    `gorm:"uniqueIndex:idx_note_nk" json:"patient_id"`
	NoteType    *string `json:"note_type"`
	NoteDate    *string `gorm:"uniqueIndex:idx_note_nk" json:"note_date"`
	NoteTitle   *string `gorm:"uniqueIndex:idx_note_nk" json:"note_title"`
	NoteContent *string `json:"note_content"`
	Provider    *string `json:"provider"`

	Patient Patient `gorm:"foreignKey:PatientID" json:"-"`
}

func (Note) TableName() string {
	return "notes"
}

// ImportRun is the audit record written once per processed document.
type ImportRun struct {
	ID         string            `gorm:"primaryKey" json:"id"`
	SourceFile string            `json:"source_file"`
	Status     string            `json:"status"`
	Counts     datatypes.JSONMap `json:"counts"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (ImportRun) TableName() string {
	return "import_runs"
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the given transaction. The import
// service scopes one transaction per document and hands the bound repository
// to every extractor.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&Patient{},
		&Allergy{},
		&Problem{},
		&Medication{},
		&Immunization{},
		&Vital{},
		&Result{},
		&Procedure{},
		&Note{},
		&ImportRun{},
	)
}

// FindPatientByIdentity looks up a patient by the exact natural-key triple.
// Returns nil without error when no row matches. A nil key field compares as
// SQL NULL and therefore never matches an existing row, mirroring the store's
// NULL semantics rather than papering over them.
func (r *Repository) FindPatientByIdentity(ctx context.Context, mrn, fullName, dob *string) (*Patient, error) {
	var patient Patient
	err := r.db.WithContext(ctx).
		Where("mrn = ? AND full_name = ? AND dob = ?", mrn, fullName, dob).
		First(&patient).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &patient, nil
}

func (r *Repository) CreatePatient(ctx context.Context, patient *Patient) error {
	return r.db.WithContext(ctx).Create(patient).Error
}

// InsertIfAbsent appends the row unless a row with the same natural key
// already exists. A natural-key collision is the expected outcome of a
// duplicate fact and reports false, never an error.
func (r *Repository) InsertIfAbsent(ctx context.Context, row interface{}) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) RecordRun(ctx context.Context, run *ImportRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(run).Error
}
