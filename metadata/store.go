package metadata

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"io/ioutil"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/neurodata/obscache/manifest"
	"github.com/neurodata/obscache/store"
	"github.com/neurodata/obscache/util"
)

// A DecodeError reports a structured column cell that could not be decoded.
// It is fatal for the whole table load; a partially decoded table is worse
// than no table.
type DecodeError struct {
	Table  string
	Column string
	Line   int // 1-based line in the CSV, header is line 1
	Err    error
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("table %s line %d column %s: %s", e.Table, e.Line, e.Column, e.Err)
}

// A Store loads and caches the metadata tables of one manifest for the
// lifetime of a cache session. Loading the same table twice returns the
// same immutable Table. Loads for distinct tables proceed independently;
// concurrent loads for the same table are collapsed to one fetch.
type Store struct {
	s store.ROStore
	m *manifest.Manifest

	structured map[string]bool

	mu       sync.Mutex
	tables   map[string]*Table
	inflight map[string]*loadflight
}

type loadflight struct {
	wg    sync.WaitGroup
	table *Table
	err   error
}

// NewStore returns a table store for the given manifest. The structured
// argument lists additional column names to decode as Python literals, on
// top of DefaultStructuredColumns.
func NewStore(s store.ROStore, m *manifest.Manifest, structured []string) *Store {
	cols := make(map[string]bool)
	for _, c := range DefaultStructuredColumns {
		cols[c] = true
	}
	for _, c := range structured {
		cols[c] = true
	}
	return &Store{
		s:          s,
		m:          m,
		structured: cols,
		tables:     make(map[string]*Table),
		inflight:   make(map[string]*loadflight),
	}
}

// Table returns the named metadata table, fetching and decoding it on
// first use. Load failures are not cached, so a transient fetch error does
// not poison the session.
func (st *Store) Table(name string) (*Table, error) {
	st.mu.Lock()
	if t, ok := st.tables[name]; ok {
		st.mu.Unlock()
		return t, nil
	}
	if f, ok := st.inflight[name]; ok {
		st.mu.Unlock()
		f.wg.Wait()
		return f.table, f.err
	}
	f := &loadflight{}
	f.wg.Add(1)
	st.inflight[name] = f
	st.mu.Unlock()

	f.table, f.err = st.load(name)

	st.mu.Lock()
	if f.err == nil {
		st.tables[name] = f.table
	}
	delete(st.inflight, name)
	st.mu.Unlock()
	f.wg.Done()
	return f.table, f.err
}

func (st *Store) load(name string) (*Table, error) {
	rec, ok := st.m.MetadataFiles[name]
	if !ok {
		return nil, errors.Errorf("manifest %s v%s declares no table %q",
			st.m.Project, st.m.Version, name)
	}
	rac, size, err := st.s.Open(rec.Key)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching table %s (%s)", name, rec.Key)
	}
	defer rac.Close()

	// tables are small, so read fully and verify against the manifest
	// before parsing anything
	raw, err := ioutil.ReadAll(store.NewReader(rac))
	if err != nil {
		return nil, errors.Wrapf(err, "reading table %s (%s)", name, rec.Key)
	}
	if rec.Size != 0 && rec.Size != size {
		return nil, errors.Errorf("table %s (%s): size %d does not match manifest size %d",
			name, rec.Key, size, rec.Size)
	}
	if ok, _ := util.VerifyReaderMD5(bytes.NewReader(raw), rec.MD5); !ok {
		return nil, errors.Errorf("table %s (%s): checksum mismatch", name, rec.Key)
	}
	return st.parse(name, bytes.NewReader(raw))
}

func (st *Store) parse(name string, r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "table %s: reading header", name)
	}
	t := &Table{Name: name, Columns: header}
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.Wrapf(err, "table %s line %d", name, line)
		}
		row := make(Row, len(header))
		for i, col := range header {
			v, err := st.decodeCell(col, record[i])
			if err != nil {
				return nil, DecodeError{Table: name, Column: col, Line: line, Err: err}
			}
			row[col] = v
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// decodeCell turns the raw CSV text of one cell into its typed value.
// Empty cells are null. Structured columns go through the literal decoder;
// everything else is typed int64 -> float64 -> bool -> string.
func (st *Store) decodeCell(column, text string) (interface{}, error) {
	if text == "" {
		return nil, nil
	}
	if st.structured[column] {
		return ParseLiteral(text)
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f, nil
	}
	switch text {
	case "True", "true", "TRUE":
		return true, nil
	case "False", "false", "FALSE":
		return false, nil
	}
	return text, nil
}
