package project

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io/ioutil"
	"os"
	"testing"

	"github.com/pkg/errors"

	"github.com/neurodata/obscache/manifest"
	"github.com/neurodata/obscache/store"
)

const sessionCSV = `session_id,file_id,experiment_ids
501,,"[601, 602]"
503,,"[601]"
503,,"[602]"
504,,
505,,"[603]"
`

const experimentCSV = `experiment_id,file_id,session_id
42,888,900
601,777,501
602,779,501
603,,501
`

var artifacts = map[string]string{
	"777": "nwb for experiment 601",
	"779": "nwb for experiment 602",
	"888": "nwb for experiment 42",
}

func put(t *testing.T, mem *store.Memory, key, contents string) manifest.FileRecord {
	t.Helper()
	w, err := mem.Create(key)
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte(contents))
	w.Close()
	digest := md5.Sum([]byte(contents))
	return manifest.FileRecord{
		Key:  key,
		Size: int64(len(contents)),
		MD5:  hex.EncodeToString(digest[:]),
	}
}

func recJSON(rec manifest.FileRecord) map[string]interface{} {
	return map[string]interface{}{"key": rec.Key, "size": rec.Size, "md5": rec.MD5}
}

// putManifest writes a complete release at the given version into mem:
// both tables, all artifacts, and the manifest naming them.
func putManifest(t *testing.T, mem *store.Memory, version, pipeline string) {
	t.Helper()
	sessions := put(t, mem, "metadata/"+version+"/session_table.csv", sessionCSV)
	experiments := put(t, mem, "metadata/"+version+"/experiment_table.csv", experimentCSV)
	datafiles := make(map[string]interface{})
	for id, contents := range artifacts {
		rec := put(t, mem, "data/"+version+"/"+id+".nwb", contents)
		datafiles[id] = recJSON(rec)
	}
	doc := map[string]interface{}{
		"project_name":                 "vb",
		"manifest_version":             version,
		"metadata_file_id_column_name": "file_id",
		"data_pipeline": []interface{}{
			map[string]interface{}{"name": "obscache", "version": pipeline},
		},
		"metadata_files": map[string]interface{}{
			"session_table":    recJSON(sessions),
			"experiment_table": recJSON(experiments),
		},
		"data_files": datafiles,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	w, err := mem.Create("manifests/vb_manifest_v" + version + ".json")
	if err != nil {
		t.Fatal(err)
	}
	w.Write(raw)
	w.Close()
}

func newFixture(t *testing.T) (*store.Memory, Options) {
	t.Helper()
	mem := store.NewMemory()
	putManifest(t, mem, "0.1.0", "2.10.0")
	dir, err := ioutil.TempDir("", "project")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return mem, Options{Project: "vb", CacheDir: dir}
}

func TestNewPicksLatest(t *testing.T) {
	mem, opt := newFixture(t)
	putManifest(t, mem, "0.2.0", "2.10.0")

	c, err := New(mem, opt)
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	if v := c.Manifest().Version; v != "0.2.0" {
		t.Errorf("version = %s, expected the latest", v)
	}

	opt.Version = "0.1.0"
	c, err = New(mem, opt)
	if err != nil {
		t.Fatal(err)
	}
	if v := c.Manifest().Version; v != "0.1.0" {
		t.Errorf("pinned version = %s", v)
	}
}

func TestNewUnknownVersion(t *testing.T) {
	mem, opt := newFixture(t)
	opt.Version = "9.9.9"
	_, err := New(mem, opt)
	if _, ok := errors.Cause(err).(manifest.NotFoundError); !ok {
		t.Fatalf("got %v, expected NotFoundError", err)
	}
}

func TestNewIncompatible(t *testing.T) {
	mem, opt := newFixture(t)
	opt.Checker = &manifest.Checker{
		Consumer: "obscache",
		Client:   "1.0.0",
		Table:    manifest.DefaultCompatTable(),
	}
	_, err := New(mem, opt)
	if _, ok := errors.Cause(err).(manifest.IncompatibleError); !ok {
		t.Fatalf("got %v, expected IncompatibleError", err)
	}
}

func TestSkipVersionCheck(t *testing.T) {
	mem, opt := newFixture(t)
	putManifest(t, mem, "0.3.0", "99.0.0") // pipeline unknown to the table

	opt.Version = "0.3.0"
	if _, err := New(mem, opt); err == nil {
		t.Fatal("expected an unknown-pipeline error")
	}
	opt.SkipVersionCheck = true
	if _, err := New(mem, opt); err != nil {
		t.Fatalf("New with check skipped: %s", err)
	}
}

func TestResolveDirect(t *testing.T) {
	mem, opt := newFixture(t)
	c, err := New(mem, opt)
	if err != nil {
		t.Fatal(err)
	}
	fid, err := c.Resolve("experiment", 42)
	if err != nil {
		t.Fatalf("Resolve: %s", err)
	}
	if fid != "888" {
		t.Errorf("file id = %q, expected 888", fid)
	}
}

func TestResolveFollowsFirstReference(t *testing.T) {
	mem, opt := newFixture(t)
	c, err := New(mem, opt)
	if err != nil {
		t.Fatal(err)
	}
	// session 501 has no file id of its own; its artifact is the first
	// listed experiment's (601 -> 777)
	fid, err := c.Resolve("session", 501)
	if err != nil {
		t.Fatalf("Resolve: %s", err)
	}
	if fid != "777" {
		t.Errorf("file id = %q, expected 777", fid)
	}
}

func TestResolveErrors(t *testing.T) {
	mem, opt := newFixture(t)
	c, err := New(mem, opt)
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.Resolve("session", 999)
	if nf, ok := err.(RecordNotFoundError); !ok || nf.ID != 999 {
		t.Errorf("missing id: got %v, expected RecordNotFoundError", err)
	}

	_, err = c.Resolve("donor", 1)
	if nf, ok := err.(RecordNotFoundError); !ok || !nf.Unknown {
		t.Errorf("unknown type: got %v", err)
	}

	_, err = c.Resolve("session", 503)
	if amb, ok := err.(AmbiguousRecordError); !ok || amb.Count != 2 {
		t.Errorf("duplicate id: got %v, expected AmbiguousRecordError", err)
	}

	// 504 has neither a file id nor references
	if _, err = c.Resolve("session", 504); err == nil {
		t.Error("expected an error for a record with no artifact source")
	}

	// 505 references experiment 603, which is itself indirect; a second
	// level of indirection is not supported
	if _, err = c.Resolve("session", 505); err == nil {
		t.Error("expected an error for two-level indirection")
	}
}

func TestArtifactPath(t *testing.T) {
	mem, opt := newFixture(t)
	c, err := New(mem, opt)
	if err != nil {
		t.Fatal(err)
	}

	path, err := c.ArtifactPath("experiment", 42)
	if err != nil {
		t.Fatalf("ArtifactPath: %s", err)
	}
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != artifacts["888"] {
		t.Errorf("content = %q", raw)
	}

	// removing the remote object proves the second call is a cache hit
	mem.Delete("data/0.1.0/888.nwb")
	path2, err := c.ArtifactPath("experiment", 42)
	if err != nil {
		t.Fatalf("second ArtifactPath: %s", err)
	}
	if path2 != path {
		t.Errorf("paths differ: %s vs %s", path, path2)
	}
}

func TestInvalidate(t *testing.T) {
	mem, opt := newFixture(t)
	c, err := New(mem, opt)
	if err != nil {
		t.Fatal(err)
	}
	path, err := c.ArtifactPath("session", 501)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Invalidate("777"); err != nil {
		t.Fatalf("Invalidate: %s", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("artifact still present after Invalidate")
	}
	if _, err := c.ArtifactPath("session", 501); err != nil {
		t.Fatalf("ArtifactPath after Invalidate: %s", err)
	}

	if err := c.Invalidate("no-such-file"); err == nil {
		t.Error("expected an error for an undeclared file id")
	}
}

func TestTableAccess(t *testing.T) {
	mem, opt := newFixture(t)
	c, err := New(mem, opt)
	if err != nil {
		t.Fatal(err)
	}
	tab, err := c.Table("experiment_table")
	if err != nil {
		t.Fatalf("Table: %s", err)
	}
	if tab.Len() != 4 {
		t.Errorf("Len = %d", tab.Len())
	}
}
