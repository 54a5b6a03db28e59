package manifest

import (
	"strings"
	"testing"
)

const sampleManifest = `{
	"project_name": "visual-behavior",
	"manifest_version": "0.3.0",
	"metadata_file_id_column_name": "file_id",
	"data_pipeline": [
		{"name": "obscache", "version": "2.10.0", "comment": "release build"},
		{"name": "stimulus", "version": "1.1.0"}
	],
	"metadata_files": {
		"session_table": {"key": "metadata/session_table.csv", "size": 120, "md5": "abc123"},
		"experiment_table": {"key": "metadata/experiment_table.csv"}
	},
	"data_files": {
		"9001": {"key": "data/9001.nwb", "size": 4096, "md5": "def456"}
	}
}`

func TestParse(t *testing.T) {
	m, err := Parse(strings.NewReader(sampleManifest))
	if err != nil {
		t.Fatalf("Parse: %s", err)
	}
	if m.Project != "visual-behavior" || m.Version != "0.3.0" {
		t.Errorf("identity = %s v%s", m.Project, m.Version)
	}
	if m.FileIDColumn != "file_id" {
		t.Errorf("FileIDColumn = %s", m.FileIDColumn)
	}
	names := m.TableNames()
	if len(names) != 2 || names[0] != "experiment_table" || names[1] != "session_table" {
		t.Errorf("TableNames = %v", names)
	}
	rec, ok := m.MetadataFiles["session_table"]
	if !ok || rec.Key != "metadata/session_table.csv" || rec.Size != 120 || rec.MD5 != "abc123" {
		t.Errorf("session_table record = %+v", rec)
	}
	rec, ok = m.DataFile("9001")
	if !ok || rec.Key != "data/9001.nwb" {
		t.Errorf("DataFile(9001) = %+v ok=%v", rec, ok)
	}
	if _, ok = m.DataFile("9999"); ok {
		t.Error("DataFile(9999) should be absent")
	}
}

func TestParseMissingFields(t *testing.T) {
	var table = []struct {
		name string
		doc  string
	}{
		{"empty", `{}`},
		{"no version", `{"project_name": "p"}`},
		{"no id column", `{"project_name": "p", "manifest_version": "1.0.0",
			"data_pipeline": [], "metadata_files": {}}`},
		{"no metadata files", `{"project_name": "p", "manifest_version": "1.0.0",
			"metadata_file_id_column_name": "file_id", "data_pipeline": []}`},
		{"bad json", `{`},
	}
	for _, tab := range table {
		if _, err := Parse(strings.NewReader(tab.doc)); err == nil {
			t.Errorf("%s: expected an error", tab.name)
		}
	}
}

func TestPipelineVersion(t *testing.T) {
	m, err := Parse(strings.NewReader(sampleManifest))
	if err != nil {
		t.Fatal(err)
	}
	v, err := m.PipelineVersion("obscache")
	if err != nil || v != "2.10.0" {
		t.Errorf("PipelineVersion = %q, %v", v, err)
	}
	if _, err = m.PipelineVersion("absent"); err == nil {
		t.Error("expected an error for a missing pipeline entry")
	}

	// duplicate entries are an integrity problem, not a pick-one
	m.Pipeline = append(m.Pipeline, PipelineEntry{Name: "obscache", Version: "9.9.9"})
	if _, err = m.PipelineVersion("obscache"); err == nil {
		t.Error("expected an error for duplicate pipeline entries")
	}
}
