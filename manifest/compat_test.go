package manifest

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func manifestWithPipeline(version string) *Manifest {
	return &Manifest{
		Project:  "vb",
		Version:  "0.1.0",
		Pipeline: []PipelineEntry{{Name: "obscache", Version: version}},
	}
}

func TestCheckBounds(t *testing.T) {
	checker := &Checker{
		Consumer: "obscache",
		Table: CompatTable{
			"2.10.0": {"obscache": {Min: "2.9.0", Max: "3.0.0"}},
		},
	}
	m := manifestWithPipeline("2.10.0")

	var table = []struct {
		client string
		ok     bool
	}{
		{"2.8.9", false}, // below the inclusive lower bound
		{"2.9.0", true},  // lower bound is inclusive
		{"2.9.5", true},
		{"3.0.0", false}, // upper bound is exclusive
		{"3.1.0", false},
	}
	for _, tab := range table {
		checker.Client = tab.client
		err := checker.Check(m)
		if tab.ok && err != nil {
			t.Errorf("client %s: unexpected error %s", tab.client, err)
		}
		if !tab.ok {
			ie, ok := err.(IncompatibleError)
			if !ok {
				t.Errorf("client %s: got %v, expected IncompatibleError", tab.client, err)
				continue
			}
			if ie.Unknown || ie.Client != tab.client || ie.Pipeline != "2.10.0" {
				t.Errorf("client %s: error detail %+v", tab.client, ie)
			}
		}
	}
}

func TestCheckUnknownPipeline(t *testing.T) {
	checker := NewChecker()
	err := checker.Check(manifestWithPipeline("0.0.1-prerelease"))
	ie, ok := err.(IncompatibleError)
	if !ok || !ie.Unknown {
		t.Errorf("got %v, expected an unknown-compatibility error", err)
	}
}

func TestCheckMissingPipelineEntry(t *testing.T) {
	checker := NewChecker()
	m := &Manifest{Project: "vb", Version: "0.1.0"}
	if err := checker.Check(m); err == nil {
		t.Error("expected an error when the manifest has no obscache pipeline entry")
	}
}

func TestCheckDefaults(t *testing.T) {
	// the released client version must pass against the built-in table
	checker := NewChecker()
	for pv := range DefaultCompatTable() {
		if err := checker.Check(manifestWithPipeline(pv)); err != nil {
			t.Errorf("pipeline %s: %s", pv, err)
		}
	}
}

func TestLoadCompatTable(t *testing.T) {
	dir, err := ioutil.TempDir("", "obscache-compat-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "compat.toml")
	doc := `
[pipeline."2.11.0".obscache]
min = "0.3.0"
max = "1.0.0"

[pipeline."2.11.0".othersdk]
min = "4.0.0"
max = "5.0.0"
`
	if err := ioutil.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadCompatTable(path)
	if err != nil {
		t.Fatalf("LoadCompatTable: %s", err)
	}
	iv, ok := table["2.11.0"]["obscache"]
	if !ok || iv.Min != "0.3.0" || iv.Max != "1.0.0" {
		t.Errorf("table = %+v", table)
	}

	checker := &Checker{Consumer: "obscache", Client: "0.3.1", Table: table}
	if err := checker.Check(manifestWithPipeline("2.11.0")); err != nil {
		t.Errorf("Check with loaded table: %s", err)
	}

	// an empty file is a configuration error
	empty := filepath.Join(dir, "empty.toml")
	ioutil.WriteFile(empty, nil, 0644)
	if _, err := LoadCompatTable(empty); err == nil {
		t.Error("expected an error for an empty compatibility table")
	}
}
