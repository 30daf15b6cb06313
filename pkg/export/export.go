// Package export flattens an imported database into a single JSON document,
// the shape the record viewer consumes: the first patient's demographics at
// the top level plus one array per domain table.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/mychart-explorer/importer/pkg/common/logger"
	"github.com/mychart-explorer/importer/pkg/importer"
)

// Snapshot collects the first patient and every row belonging to them. An
// empty database yields an empty document rather than an error.
func Snapshot(ctx context.Context, db *gorm.DB) (map[string]interface{}, error) {
	var patient importer.Patient
	err := db.WithContext(ctx).Order("id").First(&patient).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Log.Warn("no patient found in the database, export will be empty")
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, err
	}

	data, err := toMap(patient)
	if err != nil {
		return nil, err
	}
	data["patient_id"] = patient.ID

	tables := []struct {
		name string
		rows interface{}
	}{
		{"allergies", &[]importer.Allergy{}},
		{"problems", &[]importer.Problem{}},
		{"medications", &[]importer.Medication{}},
		{"immunizations", &[]importer.Immunization{}},
		{"vitals", &[]importer.Vital{}},
		{"results", &[]importer.Result{}},
		{"procedures", &[]importer.Procedure{}},
		{"notes", &[]importer.Note{}},
	}
	for _, table := range tables {
		if err := db.WithContext(ctx).Where("patient_id = ?", patient.ID).Find(table.rows).Error; err != nil {
			return nil, fmt.Errorf("export %s: %w", table.name, err)
		}
		data[table.name] = table.rows
	}
	return data, nil
}

// WriteFile writes the snapshot to path as indented JSON.
func WriteFile(ctx context.Context, db *gorm.DB, path string) error {
	data, err := Snapshot(ctx, db)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	logger.Log.Infof("exported data to %s", path)
	return nil
}

func toMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
