// Package project ties the layers of the cache together into one session
// against a released dataset: it discovers the wanted manifest version,
// verifies the release is compatible with this client, loads metadata
// tables on demand, and resolves record identifiers to verified local
// artifact paths.
package project

import (
	"log"
	"sync"

	"github.com/pkg/errors"

	"github.com/neurodata/obscache/filecache"
	"github.com/neurodata/obscache/manifest"
	"github.com/neurodata/obscache/metadata"
	"github.com/neurodata/obscache/store"
)

// Options configures a session. Project and CacheDir are required.
type Options struct {
	// Project is the released dataset name, e.g. "visual-behavior-ophys".
	Project string

	// Version pins a manifest version. Empty means the latest release.
	Version string

	// CacheDir is the local directory artifacts are installed under.
	CacheDir string

	// SkipVersionCheck disables the compatibility check. Use only against
	// unreleased manifests; the skip is logged.
	SkipVersionCheck bool

	// Checker overrides the compatibility checker. Nil means the built-in
	// client version and table.
	Checker *manifest.Checker

	// MaxDownloads limits simultaneous artifact downloads. 0 means the
	// filecache default.
	MaxDownloads int

	// StructuredColumns adds column names to decode as literals, on top
	// of metadata.DefaultStructuredColumns.
	StructuredColumns []string

	// RecordTypes overrides the record type set. Nil means
	// DefaultRecordTypes.
	RecordTypes []RecordType
}

// A Cache is one session against one manifest version of one project. It
// is safe for concurrent use. The manifest and compatibility check are
// settled at construction; tables and artifact downloads happen lazily.
type Cache struct {
	m      *manifest.Manifest
	tables *metadata.Store
	files  *filecache.Cache
	types  map[string]RecordType

	mu      sync.Mutex
	indexes map[string]*index
}

// New opens a session. The store should already be scoped to the project's
// namespace (see store.NewWithPrefix). The compatibility check runs here,
// before any table can be loaded, and a failure is fatal for the session.
func New(s store.ROStore, opt Options) (*Cache, error) {
	if opt.Project == "" {
		return nil, errors.New("project name is required")
	}
	if opt.CacheDir == "" {
		return nil, errors.New("cache directory is required")
	}

	cat := manifest.NewCatalog(s, opt.Project)
	version := opt.Version
	if version == "" {
		var err error
		version, err = cat.LatestVersion()
		if err != nil {
			return nil, err
		}
	}
	m, err := cat.Load(version)
	if err != nil {
		return nil, err
	}
	log.Printf("project %s: using manifest version %s", opt.Project, version)

	if opt.SkipVersionCheck {
		log.Printf("project %s: compatibility check skipped for manifest %s",
			opt.Project, version)
	} else {
		checker := opt.Checker
		if checker == nil {
			checker = manifest.NewChecker()
		}
		if err := checker.Check(m); err != nil {
			return nil, err
		}
	}

	files, err := filecache.New(opt.CacheDir, s, opt.MaxDownloads)
	if err != nil {
		return nil, err
	}

	rts := opt.RecordTypes
	if rts == nil {
		rts = DefaultRecordTypes()
	}
	types := make(map[string]RecordType, len(rts))
	for _, rt := range rts {
		types[rt.Name] = rt
	}

	return &Cache{
		m:       m,
		tables:  metadata.NewStore(s, m, opt.StructuredColumns),
		files:   files,
		types:   types,
		indexes: make(map[string]*index),
	}, nil
}

// Manifest returns the manifest this session is bound to.
func (c *Cache) Manifest() *manifest.Manifest {
	return c.m
}

// Table returns a loaded metadata table by name, for callers that want the
// tabular metadata itself rather than a resolved artifact.
func (c *Cache) Table(name string) (*metadata.Table, error) {
	return c.tables.Table(name)
}

// ArtifactPath resolves a record to its artifact and returns the verified
// local path, downloading on first use.
func (c *Cache) ArtifactPath(recordType string, id int64) (string, error) {
	fileID, err := c.Resolve(recordType, id)
	if err != nil {
		return "", err
	}
	return c.PathByFileID(fileID)
}

// PathByFileID returns the verified local path for a file id the manifest
// declares, downloading on first use.
func (c *Cache) PathByFileID(fileID string) (string, error) {
	rec, ok := c.m.DataFile(fileID)
	if !ok {
		return "", errors.Errorf("manifest %s v%s declares no data file %q",
			c.m.Project, c.m.Version, fileID)
	}
	return c.files.Get(fileID, rec)
}

// Invalidate removes the local copy of a file id's artifact, if any. The
// next request downloads it again.
func (c *Cache) Invalidate(fileID string) error {
	rec, ok := c.m.DataFile(fileID)
	if !ok {
		return errors.Errorf("manifest %s v%s declares no data file %q",
			c.m.Project, c.m.Version, fileID)
	}
	return c.files.Invalidate(fileID, rec)
}
