package template

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// subjectCodeColumn is the CSV column that keys each derived profile.
const subjectCodeColumn = "subject.code"

// ApplyCSV derives one profile per CSV row. Column headers are dotted
// paths into the profile document (`dicom.date-increment`,
// `dicom.fields.PatientID.replace-with`, `export.subject.code`); each
// row's values overwrite those paths, preserving the type of the value
// they replace. Derived profiles are written to outputDir as
// deid_<subject.code>.yml and the returned map points each subject code
// at its file.
func ApplyCSV(templatePath, csvPath, outputDir string) (map[string]string, error) {
	data, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, fmt.Errorf("could not read profile: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	header, rows, err := readCSV(csvPath)
	if err != nil {
		return nil, err
	}
	codeCol, err := validateCSV(header, rows)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("could not create output directory: %w", err)
	}

	paths := make(map[string]string, len(rows))
	for _, row := range rows {
		code := row[codeCol]
		derived := deepCopy(doc).(map[string]any)
		for i, col := range header {
			if i == codeCol {
				continue
			}
			if err := updatePath(derived, col, row[i]); err != nil {
				log.Infof("column %q did not match anything in template: %v", col, err)
			}
		}
		out, err := yaml.Marshal(derived)
		if err != nil {
			return nil, fmt.Errorf("could not serialize profile for %q: %w", code, err)
		}
		// Derived profiles must still parse and validate.
		if _, err := Parse(out); err != nil {
			return nil, fmt.Errorf("derived profile for %q: %w", code, err)
		}
		dest := filepath.Join(outputDir, fmt.Sprintf("deid_%s.yml", code))
		if err := os.WriteFile(dest, out, 0644); err != nil {
			return nil, fmt.Errorf("could not write profile for %q: %w", code, err)
		}
		paths[code] = dest
	}
	return paths, nil
}

func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("could not open CSV: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("could not read CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, nil, fmt.Errorf("%w: CSV has no data rows", ErrValidation)
	}
	return records[0], records[1:], nil
}

// validateCSV checks the subject code column is present and unique, and
// returns its position.
func validateCSV(header []string, rows [][]string) (int, error) {
	codeCol := -1
	for i, col := range header {
		if col == subjectCodeColumn {
			codeCol = i
			break
		}
	}
	if codeCol < 0 {
		return 0, fmt.Errorf("%w: column %s is missing from CSV", ErrValidation, subjectCodeColumn)
	}
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		code := row[codeCol]
		if seen[code] {
			return 0, fmt.Errorf("%w: %s is not unique in CSV (%q)", ErrValidation, subjectCodeColumn, code)
		}
		seen[code] = true
	}
	return codeCol, nil
}

// updatePath overwrites the value at a dotted path. A path crossing a
// `fields` key addresses the rule list: the next component names the
// field entry and the final component the action key to update.
func updatePath(doc map[string]any, path, value string) error {
	parts := strings.Split(path, ".")
	cur := doc
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "fields" {
			fields, ok := cur["fields"].([]any)
			if !ok {
				return fmt.Errorf("no fields list at %q", strings.Join(parts[:i+1], "."))
			}
			if i+2 != len(parts)-1 {
				return fmt.Errorf("fields path must be fields.<name>.<action>")
			}
			return updateField(fields, parts[i+1], parts[i+2], value)
		}
		next, ok := cur[parts[i]].(map[string]any)
		if !ok {
			return fmt.Errorf("no element at %q", strings.Join(parts[:i+1], "."))
		}
		cur = next
	}
	key := parts[len(parts)-1]
	old, ok := cur[key]
	if !ok {
		return fmt.Errorf("no element at %q", path)
	}
	cur[key] = coerceLike(old, value)
	return nil
}

func updateField(fields []any, name, action, value string) error {
	for _, f := range fields {
		entry, ok := f.(map[string]any)
		if !ok {
			continue
		}
		if entry["name"] != name {
			continue
		}
		old, ok := entry[action]
		if !ok {
			return fmt.Errorf("field %q has no action %q", name, action)
		}
		entry[action] = coerceLike(old, value)
		return nil
	}
	return fmt.Errorf("no field named %q", name)
}

// coerceLike converts value to the type of old so derived profiles keep
// the template's value types.
func coerceLike(old any, value string) any {
	switch old.(type) {
	case bool:
		if b, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return b
		}
	case int:
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	case float64:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return value
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	}
	return v
}
