package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const csvTemplate = `
name: csv-base
dicom:
  date-increment: -10
  fields:
    - name: PatientID
      replace-with: PLACEHOLDER
    - name: PatientBirthDate
      remove: true
export:
  subject:
    code: DEFAULT
    whitelist:
      metadata: [firstname]
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestApplyCSV(t *testing.T) {
	dir := t.TempDir()
	tmplPath := writeFile(t, dir, "profile.yml", csvTemplate)
	csvPath := writeFile(t, dir, "mapping.csv",
		"subject.code,dicom.date-increment,dicom.fields.PatientID.replace-with,export.subject.code\n"+
			"001,-15,IDA,FLYWHEEL\n"+
			"002,-20,IDB,WHEEL\n")

	outDir := filepath.Join(dir, "derived")
	paths, err := ApplyCSV(tmplPath, csvPath, outDir)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	data, err := os.ReadFile(paths["001"])
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))

	dicom := doc["dicom"].(map[string]any)
	// Value types follow the template: date-increment stays an int.
	assert.Equal(t, -15, dicom["date-increment"])

	fields := dicom["fields"].([]any)
	first := fields[0].(map[string]any)
	assert.Equal(t, "IDA", first["replace-with"])
	second := fields[1].(map[string]any)
	assert.Equal(t, true, second["remove"])

	export := doc["export"].(map[string]any)
	subject := export["subject"].(map[string]any)
	assert.Equal(t, "FLYWHEEL", subject["code"])

	// Derived profiles parse and validate.
	p, err := Load(paths["002"])
	require.NoError(t, err)
	assert.Equal(t, -20, p.Options.DateIncrement)
}

func TestApplyCSVRequiresSubjectCode(t *testing.T) {
	dir := t.TempDir()
	tmplPath := writeFile(t, dir, "profile.yml", csvTemplate)
	csvPath := writeFile(t, dir, "mapping.csv", "dicom.date-increment\n-15\n")

	_, err := ApplyCSV(tmplPath, csvPath, dir)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestApplyCSVRejectsDuplicateCodes(t *testing.T) {
	dir := t.TempDir()
	tmplPath := writeFile(t, dir, "profile.yml", csvTemplate)
	csvPath := writeFile(t, dir, "mapping.csv", "subject.code\n001\n001\n")

	_, err := ApplyCSV(tmplPath, csvPath, dir)
	assert.ErrorIs(t, err, ErrValidation)
}

// A column that matches nothing in the template is logged and skipped,
// not an error.
func TestApplyCSVSkipsUnmatchedColumns(t *testing.T) {
	dir := t.TempDir()
	tmplPath := writeFile(t, dir, "profile.yml", csvTemplate)
	csvPath := writeFile(t, dir, "mapping.csv",
		"subject.code,dicom.does-not-exist\n001,42\n")

	paths, err := ApplyCSV(tmplPath, csvPath, dir)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	p, err := Load(paths["001"])
	require.NoError(t, err)
	assert.Equal(t, -10, p.Options.DateIncrement)
}
