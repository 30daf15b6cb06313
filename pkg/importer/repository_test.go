package importer

import (
	"context"
	"testing"
)

func strp(s string) *string { return &s }

func TestInsertIfAbsent(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	patient := &Patient{MRN: strp("MRN-1"), FullName: strp("Jane Doe"), DOB: strp("19800704")}
	if err := repo.CreatePatient(ctx, patient); err != nil {
		t.Fatal(err)
	}

	row := &Allergy{
		PatientID:     patient.ID,
		Substance:     strp("Penicillin"),
		EffectiveDate: strp("20150301"),
	}
	inserted, err := repo.InsertIfAbsent(ctx, row)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatal("first insert reported not inserted")
	}

	dup := &Allergy{
		PatientID:     patient.ID,
		Substance:     strp("Penicillin"),
		EffectiveDate: strp("20150301"),
		Reaction:      strp("Hives"), // non-key fields do not defeat dedup
	}
	inserted, err = repo.InsertIfAbsent(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate insert must not error: %v", err)
	}
	if inserted {
		t.Fatal("duplicate natural key was inserted")
	}

	if got := count(t, db, &Allergy{}); got != 1 {
		t.Errorf("allergies = %d, want 1", got)
	}
}

func TestUniqueConstraintEnforcedByStore(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	patient := &Patient{MRN: strp("MRN-1"), FullName: strp("Jane Doe"), DOB: strp("19800704")}
	if err := repo.CreatePatient(ctx, patient); err != nil {
		t.Fatal(err)
	}

	row := func() *Result {
		return &Result{PatientID: patient.ID, TestName: strp("Hemoglobin"), EffectiveDate: strp("20230531")}
	}
	if err := db.Create(row()).Error; err != nil {
		t.Fatal(err)
	}
	// Bypassing InsertIfAbsent still cannot duplicate the fact.
	if err := db.Create(row()).Error; err == nil {
		t.Fatal("store accepted a duplicate natural key")
	}
}

func TestNullKeyFieldsStayDistinct(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	patient := &Patient{MRN: strp("MRN-1"), FullName: strp("Jane Doe"), DOB: strp("19800704")}
	if err := repo.CreatePatient(ctx, patient); err != nil {
		t.Fatal(err)
	}

	// NULL compares unequal to NULL inside the UNIQUE constraint, so rows
	// with absent key fields accumulate. Inherited from the source system
	// on purpose; see DESIGN.md.
	for i := 0; i < 2; i++ {
		inserted, err := repo.InsertIfAbsent(ctx, &Result{PatientID: patient.ID})
		if err != nil {
			t.Fatal(err)
		}
		if !inserted {
			t.Fatal("null-keyed row did not insert")
		}
	}
	if got := count(t, db, &Result{}); got != 2 {
		t.Errorf("results = %d, want 2", got)
	}
}

func TestFindPatientByIdentity(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	created := &Patient{MRN: strp("MRN-1"), FullName: strp("Jane Doe"), DOB: strp("19800704")}
	if err := repo.CreatePatient(ctx, created); err != nil {
		t.Fatal(err)
	}

	found, err := repo.FindPatientByIdentity(ctx, strp("MRN-1"), strp("Jane Doe"), strp("19800704"))
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || found.ID != created.ID {
		t.Fatalf("found = %v, want id %d", found, created.ID)
	}

	missing, err := repo.FindPatientByIdentity(ctx, strp("MRN-2"), strp("Jane Doe"), strp("19800704"))
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Fatal("lookup with a differing mrn matched")
	}

	// A nil field compares as SQL NULL and never matches.
	nilMatch, err := repo.FindPatientByIdentity(ctx, nil, strp("Jane Doe"), strp("19800704"))
	if err != nil {
		t.Fatal(err)
	}
	if nilMatch != nil {
		t.Fatal("nil mrn matched a non-null row")
	}
}
