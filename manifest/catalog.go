package manifest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/mod/semver"

	"github.com/neurodata/obscache/store"
)

// manifests live under this prefix inside the project's store namespace.
const manifestPrefix = "manifests/"

// A NotFoundError reports an unknown project or manifest version. It is not
// retryable.
type NotFoundError struct {
	Project string
	Version string // empty when the project itself has no manifests
}

func (e NotFoundError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("project %s: no manifests found", e.Project)
	}
	return fmt.Sprintf("project %s: no manifest version %s", e.Project, e.Version)
}

// A Catalog discovers the manifest versions a project has released and
// loads them. It performs remote listing calls but never downloads data
// artifacts.
type Catalog struct {
	s       store.ROStore // scoped to the project prefix
	project string
}

// NewCatalog returns a catalog for the named project. The store should
// already be scoped to the project's namespace (see store.NewWithPrefix).
func NewCatalog(s store.ROStore, project string) *Catalog {
	return &Catalog{s: s, project: project}
}

// Versions lists every released manifest version, sorted ascending by
// semantic version. Keys under the manifest prefix that do not parse as a
// manifest name for this project are ignored.
func (c *Catalog) Versions() ([]string, error) {
	keys, err := c.s.ListPrefix(manifestPrefix)
	if err != nil {
		return nil, errors.Wrapf(err, "listing manifests for %s", c.project)
	}
	var versions []string
	for _, key := range keys {
		v, ok := c.parseKey(key)
		if ok {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return compareVersions(versions[i], versions[j]) < 0
	})
	return versions, nil
}

// LatestVersion returns the highest released version by semantic version
// order. Plain lexical order would put v0.9.0 after v0.10.0, which is why
// this exists.
func (c *Catalog) LatestVersion() (string, error) {
	versions, err := c.Versions()
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", NotFoundError{Project: c.project}
	}
	return versions[len(versions)-1], nil
}

// Load fetches and parses the manifest for the given version.
func (c *Catalog) Load(version string) (*Manifest, error) {
	rac, _, err := c.s.Open(c.key(version))
	if store.IsNotExist(err) {
		return nil, NotFoundError{Project: c.project, Version: version}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening manifest %s v%s", c.project, version)
	}
	defer rac.Close()
	m, err := Parse(store.NewReader(rac))
	if err != nil {
		return nil, errors.Wrapf(err, "manifest %s v%s", c.project, version)
	}
	if m.Version != version {
		return nil, errors.Errorf(
			"manifest %s v%s declares version %s", c.project, version, m.Version)
	}
	return m, nil
}

// key returns the store key for the given manifest version.
func (c *Catalog) key(version string) string {
	return manifestPrefix + c.project + "_manifest_v" + version + ".json"
}

// parseKey extracts the version from a manifest key, e.g.
// "manifests/visual-behavior_manifest_v0.185.1.json" -> "0.185.1".
func (c *Catalog) parseKey(key string) (string, bool) {
	name := strings.TrimPrefix(key, manifestPrefix)
	rest := strings.TrimPrefix(name, c.project+"_manifest_v")
	if rest == name || !strings.HasSuffix(rest, ".json") {
		return "", false
	}
	v := strings.TrimSuffix(rest, ".json")
	if !validVersion(v) {
		return "", false
	}
	return v, true
}

// compareVersions orders two version strings by semver. The x/mod package
// wants a leading "v", which release manifests do not carry.
func compareVersions(a, b string) int {
	return semver.Compare("v"+a, "v"+b)
}

func validVersion(v string) bool {
	return semver.IsValid("v" + v)
}
