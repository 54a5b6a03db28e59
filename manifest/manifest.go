// Package manifest handles the versioned descriptors a data release ships
// with: discovering which manifest versions exist for a project, selecting
// and parsing one, and checking that the running client is compatible with
// the pipeline that produced it.
//
// A manifest names the metadata tables available in the release, the column
// holding the stable file id linking table rows to downloadable artifacts,
// and the version of the processing pipeline that wrote the data. Exactly
// one manifest is active per cache session.
package manifest

import (
	"io"
	"sort"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"
)

// A FileRecord locates one object in the release store and carries what the
// manifest knows about it for verification. MD5 is a hex digest and may be
// empty for releases that do not record digests.
type FileRecord struct {
	Key  string
	Size int64
	MD5  string
}

// A PipelineEntry identifies one component of the pipeline which produced
// the release.
type PipelineEntry struct {
	Name    string
	Version string
	Comment string
}

// Manifest is the parsed, immutable descriptor of one release version.
type Manifest struct {
	Project      string
	Version      string
	FileIDColumn string
	Pipeline     []PipelineEntry

	// MetadataFiles maps a table name to the object holding its CSV.
	MetadataFiles map[string]FileRecord

	// DataFiles maps a file id to the artifact object it names.
	DataFiles map[string]FileRecord
}

// Parse reads a manifest JSON document. Missing required fields are errors:
// a manifest that cannot name its tables or file id column is unusable.
func Parse(r io.Reader) (*Manifest, error) {
	obj, err := jason.NewObjectFromReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "parsing manifest")
	}
	m := &Manifest{
		MetadataFiles: make(map[string]FileRecord),
		DataFiles:     make(map[string]FileRecord),
	}
	if m.Project, err = obj.GetString("project_name"); err != nil {
		return nil, errors.Wrap(err, "manifest: project_name")
	}
	if m.Version, err = obj.GetString("manifest_version"); err != nil {
		return nil, errors.Wrap(err, "manifest: manifest_version")
	}
	if m.FileIDColumn, err = obj.GetString("metadata_file_id_column_name"); err != nil {
		return nil, errors.Wrap(err, "manifest: metadata_file_id_column_name")
	}

	pipeline, err := obj.GetObjectArray("data_pipeline")
	if err != nil {
		return nil, errors.Wrap(err, "manifest: data_pipeline")
	}
	for _, p := range pipeline {
		var entry PipelineEntry
		if entry.Name, err = p.GetString("name"); err != nil {
			return nil, errors.Wrap(err, "manifest: data_pipeline name")
		}
		if entry.Version, err = p.GetString("version"); err != nil {
			return nil, errors.Wrap(err, "manifest: data_pipeline version")
		}
		entry.Comment, _ = p.GetString("comment")
		m.Pipeline = append(m.Pipeline, entry)
	}

	mdfiles, err := obj.GetObject("metadata_files")
	if err != nil {
		return nil, errors.Wrap(err, "manifest: metadata_files")
	}
	for name, v := range mdfiles.Map() {
		rec, err := parseFileRecord(v)
		if err != nil {
			return nil, errors.Wrapf(err, "manifest: metadata_files[%s]", name)
		}
		m.MetadataFiles[name] = rec
	}

	// data_files is optional; without it downloads cannot be verified
	// against the manifest, but metadata-only use still works.
	if datafiles, err := obj.GetObject("data_files"); err == nil {
		for id, v := range datafiles.Map() {
			rec, err := parseFileRecord(v)
			if err != nil {
				return nil, errors.Wrapf(err, "manifest: data_files[%s]", id)
			}
			m.DataFiles[id] = rec
		}
	}
	return m, nil
}

func parseFileRecord(v *jason.Value) (FileRecord, error) {
	var rec FileRecord
	obj, err := v.Object()
	if err != nil {
		return rec, err
	}
	if rec.Key, err = obj.GetString("key"); err != nil {
		return rec, errors.Wrap(err, "key")
	}
	rec.Size, _ = obj.GetInt64("size")
	rec.MD5, _ = obj.GetString("md5")
	return rec, nil
}

// TableNames returns the names of the metadata tables in this release,
// sorted.
func (m *Manifest) TableNames() []string {
	names := make([]string, 0, len(m.MetadataFiles))
	for name := range m.MetadataFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DataFile returns the artifact record for the given file id.
func (m *Manifest) DataFile(fileID string) (FileRecord, bool) {
	rec, ok := m.DataFiles[fileID]
	return rec, ok
}

// PipelineVersion returns the version of the named pipeline component.
// It is an error for the manifest to carry zero or multiple entries with
// that name.
func (m *Manifest) PipelineVersion(name string) (string, error) {
	var found []string
	for _, p := range m.Pipeline {
		if p.Name == name {
			found = append(found, p.Version)
		}
	}
	if len(found) != 1 {
		return "", errors.Errorf(
			"manifest %s v%s: expected exactly 1 data_pipeline entry named %q, found %d",
			m.Project, m.Version, name, len(found))
	}
	return found[0], nil
}
