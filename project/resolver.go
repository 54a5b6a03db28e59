package project

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/neurodata/obscache/metadata"
)

// A RecordType describes how one kind of record maps to its artifact. A
// record either carries a file id directly in the manifest's file id
// column, or groups other records: when RefColumn is set, a row with a
// null file id is resolved by following the first id listed in RefColumn
// into RefType's table. Normalize, when set, is applied to every row of
// the type's table before it is indexed.
type RecordType struct {
	Name      string
	Table     string
	IDColumn  string
	RefColumn string
	RefType   string
	Normalize func(metadata.Row) metadata.Row
}

// DefaultRecordTypes mirrors the tables a released dataset ships: sessions
// and behavior-only sessions group ophys experiments, and experiments carry
// their artifact directly.
func DefaultRecordTypes() []RecordType {
	return []RecordType{
		{
			Name:      "session",
			Table:     "session_table",
			IDColumn:  "session_id",
			RefColumn: "experiment_ids",
			RefType:   "experiment",
		},
		{
			Name:      "behavior",
			Table:     "behavior_table",
			IDColumn:  "behavior_id",
			RefColumn: "experiment_ids",
			RefType:   "experiment",
		},
		{
			Name:     "experiment",
			Table:    "experiment_table",
			IDColumn: "experiment_id",
		},
	}
}

// A RecordNotFoundError reports a lookup for an id with no matching row,
// or for a record type the cache was not configured with.
type RecordNotFoundError struct {
	Type    string
	ID      int64
	Unknown bool // true when the record type itself is unknown
}

func (e RecordNotFoundError) Error() string {
	if e.Unknown {
		return fmt.Sprintf("unknown record type %q", e.Type)
	}
	return fmt.Sprintf("no %s record %d", e.Type, e.ID)
}

// An AmbiguousRecordError means more than one row in a table shares the
// same primary identifier. A well-formed release never produces this, so
// it indicates a table integrity problem rather than a caller mistake.
type AmbiguousRecordError struct {
	Type  string
	ID    int64
	Count int
}

func (e AmbiguousRecordError) Error() string {
	return fmt.Sprintf("%d %s records share id %d", e.Count, e.Type, e.ID)
}

// source is a record's artifact source, decided once when the table is
// indexed. Exactly one of fileID or refs is meaningful.
type source struct {
	fileID string
	refs   []int64
}

// index maps record ids to their artifact sources for one record type.
// Duplicate ids are remembered so lookups can report the integrity
// violation instead of silently picking a row.
type index struct {
	sources map[int64]source
	dups    map[int64]int
}

// buildIndex walks the type's table once, deciding each row's artifact
// source. Rows with a null or non-integer id are skipped; they cannot be
// looked up anyway.
func buildIndex(rt RecordType, tab *metadata.Table, fileIDColumn string) *index {
	idx := &index{
		sources: make(map[int64]source, tab.Len()),
		dups:    make(map[int64]int),
	}
	for i := 0; i < tab.Len(); i++ {
		row := tab.Row(i)
		if rt.Normalize != nil {
			row = rt.Normalize(row)
		}
		id, ok := metadata.AsInt64(row[rt.IDColumn])
		if !ok {
			continue
		}
		if _, seen := idx.sources[id]; seen {
			if idx.dups[id] == 0 {
				idx.dups[id] = 2
			} else {
				idx.dups[id]++
			}
			continue
		}
		idx.sources[id] = decodeSource(rt, row, fileIDColumn)
	}
	return idx
}

// decodeSource picks the row's artifact source: a direct file id when the
// file id cell is non-null, otherwise the listed references.
func decodeSource(rt RecordType, row metadata.Row, fileIDColumn string) source {
	if row[fileIDColumn] != nil {
		if fid, ok := metadata.AsString(row[fileIDColumn]); ok {
			return source{fileID: fid}
		}
	}
	if rt.RefColumn == "" {
		return source{}
	}
	list, ok := metadata.AsList(row[rt.RefColumn])
	if !ok {
		return source{}
	}
	var refs []int64
	for _, v := range list {
		if n, ok := metadata.AsInt64(v); ok {
			refs = append(refs, n)
		}
	}
	return source{refs: refs}
}

// lookup returns the source for id, enforcing the zero-row and
// duplicate-row error cases.
func (idx *index) lookup(rt string, id int64) (source, error) {
	if n := idx.dups[id]; n > 0 {
		return source{}, AmbiguousRecordError{Type: rt, ID: id, Count: n}
	}
	src, ok := idx.sources[id]
	if !ok {
		return source{}, RecordNotFoundError{Type: rt, ID: id}
	}
	return src, nil
}

// Resolve maps a record to the file id of its artifact. Records with a
// direct file id resolve immediately; grouping records follow the first
// listed reference into the referenced table, one level deep only.
func (c *Cache) Resolve(recordType string, id int64) (string, error) {
	rt, ok := c.types[recordType]
	if !ok {
		return "", RecordNotFoundError{Type: recordType, Unknown: true}
	}
	idx, err := c.indexFor(rt)
	if err != nil {
		return "", err
	}
	src, err := idx.lookup(rt.Name, id)
	if err != nil {
		return "", err
	}
	if src.fileID != "" {
		return src.fileID, nil
	}
	if len(src.refs) == 0 {
		return "", errors.Errorf("%s record %d has no artifact and no references",
			rt.Name, id)
	}

	// one level of indirection: the referenced record must be direct
	refType, ok := c.types[rt.RefType]
	if !ok {
		return "", errors.Errorf("%s records reference unconfigured type %q",
			rt.Name, rt.RefType)
	}
	refIdx, err := c.indexFor(refType)
	if err != nil {
		return "", err
	}
	refID := src.refs[0]
	refSrc, err := refIdx.lookup(refType.Name, refID)
	if err != nil {
		return "", errors.Wrapf(err, "following %s record %d", rt.Name, id)
	}
	if refSrc.fileID == "" {
		return "", errors.Errorf(
			"%s record %d references %s record %d, which has no direct artifact",
			rt.Name, id, refType.Name, refID)
	}
	return refSrc.fileID, nil
}

// indexFor returns the memoized index for a record type, building it on
// first use. Concurrent builders for the same type are harmless; the table
// behind them is immutable and the last stored index wins.
func (c *Cache) indexFor(rt RecordType) (*index, error) {
	c.mu.Lock()
	idx, ok := c.indexes[rt.Name]
	c.mu.Unlock()
	if ok {
		return idx, nil
	}
	tab, err := c.tables.Table(rt.Table)
	if err != nil {
		return nil, err
	}
	idx = buildIndex(rt, tab, c.m.FileIDColumn)
	c.mu.Lock()
	c.indexes[rt.Name] = idx
	c.mu.Unlock()
	return idx, nil
}
