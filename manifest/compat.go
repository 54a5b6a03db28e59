package manifest

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// ClientVersion is the version of this library, used when checking a
// manifest's declared pipeline version for compatibility.
const ClientVersion = "0.3.1"

// DefaultConsumer is the pipeline component name this library looks for in
// a manifest's data_pipeline list.
const DefaultConsumer = "obscache"

// An Interval is a half-open version range [Min, Max).
type Interval struct {
	Min string `toml:"min"`
	Max string `toml:"max"`
}

// Contains reports whether v falls inside the interval, comparing by
// semantic version.
func (iv Interval) Contains(v string) bool {
	return compareVersions(v, iv.Min) >= 0 && compareVersions(v, iv.Max) < 0
}

// A CompatTable maps a producing pipeline version to the client version
// intervals acceptable for each consumer. A pipeline version with no entry
// is an error at check time, not a pass: table schemas are versioned
// implicitly through the manifest, so unknown compatibility means the
// tables cannot be trusted.
type CompatTable map[string]map[string]Interval

// DefaultCompatTable returns the compatibility table for the released
// pipeline versions. A fresh copy is returned each time so callers and
// tests can modify theirs freely.
func DefaultCompatTable() CompatTable {
	return CompatTable{
		"2.9.0":  {DefaultConsumer: {Min: "0.1.0", Max: "1.0.0"}},
		"2.10.0": {DefaultConsumer: {Min: "0.1.0", Max: "1.0.0"}},
		"2.10.2": {DefaultConsumer: {Min: "0.2.0", Max: "1.0.0"}},
	}
}

// LoadCompatTable reads a compatibility table from a TOML file, for use
// against releases newer than this library's built-in table. The format is
//
//	[pipeline."2.11.0".obscache]
//	min = "0.3.0"
//	max = "1.0.0"
func LoadCompatTable(path string) (CompatTable, error) {
	var doc struct {
		Pipeline CompatTable `toml:"pipeline"`
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, errors.Wrapf(err, "reading compatibility table %s", path)
	}
	if len(doc.Pipeline) == 0 {
		return nil, errors.Errorf("compatibility table %s has no pipeline entries", path)
	}
	return doc.Pipeline, nil
}

// An IncompatibleError means the manifest's producing pipeline version and
// the running client version cannot be used together. It must not be
// silently downgraded; callers wanting to read an unreleased manifest
// anyway have to opt out of checking explicitly.
type IncompatibleError struct {
	Pipeline string // the producing pipeline version from the manifest
	Consumer string
	Client   string // the running client version
	Interval Interval
	Unknown  bool // true if Pipeline has no entry in the table
}

func (e IncompatibleError) Error() string {
	if e.Unknown {
		return fmt.Sprintf(
			"no compatibility listed for pipeline version %s", e.Pipeline)
	}
	return fmt.Sprintf(
		"data written by pipeline %s requires %s >= %s and < %s, but this is %s %s",
		e.Pipeline, e.Consumer, e.Interval.Min, e.Interval.Max, e.Consumer, e.Client)
}

// A Checker validates that the running client may read the data a manifest
// describes. The zero value is not usable; call NewChecker, which fills in
// the released defaults, and override fields as needed (tests override
// Client and Table).
type Checker struct {
	Consumer string
	Client   string
	Table    CompatTable
}

// NewChecker returns a checker for this library version against the
// built-in compatibility table.
func NewChecker() *Checker {
	return &Checker{
		Consumer: DefaultConsumer,
		Client:   ClientVersion,
		Table:    DefaultCompatTable(),
	}
}

// Check extracts the manifest's declared pipeline version and verifies the
// running client version falls in the registered interval. It must run
// before any metadata table from the manifest is trusted.
func (c *Checker) Check(m *Manifest) error {
	pv, err := m.PipelineVersion(c.Consumer)
	if err != nil {
		return err
	}
	consumers, ok := c.Table[pv]
	if !ok {
		return IncompatibleError{Pipeline: pv, Consumer: c.Consumer, Client: c.Client, Unknown: true}
	}
	iv, ok := consumers[c.Consumer]
	if !ok {
		return IncompatibleError{Pipeline: pv, Consumer: c.Consumer, Client: c.Client, Unknown: true}
	}
	if !validVersion(c.Client) || !validVersion(iv.Min) || !validVersion(iv.Max) {
		return errors.Errorf(
			"malformed version in compatibility check: client %q, interval [%q, %q)",
			c.Client, iv.Min, iv.Max)
	}
	if !iv.Contains(c.Client) {
		return IncompatibleError{Pipeline: pv, Consumer: c.Consumer, Client: c.Client, Interval: iv}
	}
	return nil
}
