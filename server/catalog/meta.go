package catalog

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"

	"github.com/petreldb/petrel-server/server/common"
)

// ColMeta describes one column of a table.
type ColMeta struct {
	TabName string
	Name    string
	Type    common.ColType
	Len     int
	Offset  int
	Indexed bool
}

// IndexMeta describes one index: an ordered list of column references.
// Keys are the concatenation of the column payloads in declared order.
type IndexMeta struct {
	TabName   string
	Cols      []ColMeta
	ColTotLen int
}

// Name identifies the index within its table: the column names joined
// with underscores, which is also how the index file is named.
func (ix *IndexMeta) Name() string {
	names := make([]string, len(ix.Cols))
	for i := range ix.Cols {
		names[i] = ix.Cols[i].Name
	}
	return strings.Join(names, "_")
}

// ColNames lists the indexed columns in declared order.
func (ix *IndexMeta) ColNames() []string {
	names := make([]string, len(ix.Cols))
	for i := range ix.Cols {
		names[i] = ix.Cols[i].Name
	}
	return names
}

// ColTypes and ColLens describe the key layout for the B+-tree.
func (ix *IndexMeta) ColTypes() []common.ColType {
	types := make([]common.ColType, len(ix.Cols))
	for i := range ix.Cols {
		types[i] = ix.Cols[i].Type
	}
	return types
}

func (ix *IndexMeta) ColLens() []int {
	lens := make([]int, len(ix.Cols))
	for i := range ix.Cols {
		lens[i] = ix.Cols[i].Len
	}
	return lens
}

// BuildKey concatenates the index columns out of one record image.
func (ix *IndexMeta) BuildKey(data []byte) []byte {
	key := make([]byte, 0, ix.ColTotLen)
	for i := range ix.Cols {
		col := &ix.Cols[i]
		key = append(key, data[col.Offset:col.Offset+col.Len]...)
	}
	return key
}

// TabMeta describes one table. Column order is the CREATE TABLE order,
// which is also the record layout order.
type TabMeta struct {
	Name    string
	Cols    []ColMeta
	Indexes []*IndexMeta
}

// Col finds a column by name.
func (t *TabMeta) Col(name string) (*ColMeta, bool) {
	for i := range t.Cols {
		if t.Cols[i].Name == name {
			return &t.Cols[i], true
		}
	}
	return nil, false
}

// Index finds an index by its exact column list.
func (t *TabMeta) Index(cols []string) (*IndexMeta, bool) {
	for _, ix := range t.Indexes {
		if len(ix.Cols) != len(cols) {
			continue
		}
		match := true
		for i := range cols {
			if ix.Cols[i].Name != cols[i] {
				match = false
				break
			}
		}
		if match {
			return ix, true
		}
	}
	return nil, false
}

// buildIndexMeta resolves an ordered column-name list against the table.
func (t *TabMeta) buildIndexMeta(cols []string) (*IndexMeta, error) {
	ix := &IndexMeta{TabName: t.Name}
	for _, name := range cols {
		col, ok := t.Col(name)
		if !ok {
			return nil, errors.Wrapf(common.ErrColumnNotFound, "%s.%s", t.Name, name)
		}
		ix.Cols = append(ix.Cols, *col)
		ix.ColTotLen += col.Len
	}
	return ix, nil
}

// refreshIndexedFlags recomputes the per-column index flag after an
// index is created or dropped.
func (t *TabMeta) refreshIndexedFlags() {
	for i := range t.Cols {
		t.Cols[i].Indexed = false
	}
	for _, ix := range t.Indexes {
		for i := range ix.Cols {
			if col, ok := t.Col(ix.Cols[i].Name); ok {
				col.Indexed = true
			}
		}
	}
}

// RecordSize is the fixed width of the table's records.
func (t *TabMeta) RecordSize() int {
	size := 0
	for i := range t.Cols {
		size += t.Cols[i].Len
	}
	return size
}

// DbMeta is the full catalog of one database.
type DbMeta struct {
	Name string
	Tabs map[string]*TabMeta
}

func newDbMeta(name string) *DbMeta {
	return &DbMeta{Name: name, Tabs: make(map[string]*TabMeta)}
}

// The catalog file is line oriented text with an xxhash64 trailer so a
// torn write is caught at open:
//
//	db <name>
//	table <name> <ncols>
//	col <name> <type> <len> <indexed>
//	index <col1> <col2> ...
//	...
//	crc <hex>
func (db *DbMeta) marshal() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "db %s\n", db.Name)
	// Deterministic order keeps the checksum stable.
	names := make([]string, 0, len(db.Tabs))
	for name := range db.Tabs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tab := db.Tabs[name]
		fmt.Fprintf(&b, "table %s %d\n", tab.Name, len(tab.Cols))
		for _, col := range tab.Cols {
			indexed := 0
			if col.Indexed {
				indexed = 1
			}
			fmt.Fprintf(&b, "col %s %d %d %d\n", col.Name, int(col.Type), col.Len, indexed)
		}
		for _, ix := range tab.Indexes {
			fmt.Fprintf(&b, "index %s\n", strings.Join(ix.ColNames(), " "))
		}
	}
	sum := xxhash.Checksum64(b.Bytes())
	fmt.Fprintf(&b, "crc %016x\n", sum)
	return b.Bytes()
}

func (db *DbMeta) unmarshal(data []byte) error {
	crcAt := bytes.LastIndex(data, []byte("crc "))
	if crcAt < 0 {
		return errors.Wrap(common.ErrInternal, "catalog missing checksum")
	}
	var want uint64
	if _, err := fmt.Sscanf(string(data[crcAt:]), "crc %x", &want); err != nil {
		return errors.Wrap(common.ErrInternal, "catalog checksum malformed")
	}
	if got := xxhash.Checksum64(data[:crcAt]); got != want {
		return errors.Wrapf(common.ErrInternal, "catalog checksum mismatch: %016x != %016x", got, want)
	}

	db.Tabs = make(map[string]*TabMeta)
	sc := bufio.NewScanner(bytes.NewReader(data[:crcAt]))
	var tab *TabMeta
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "db":
			db.Name = fields[1]
		case "table":
			tab = &TabMeta{Name: fields[1]}
			db.Tabs[tab.Name] = tab
		case "col":
			if tab == nil || len(fields) != 5 {
				return errors.Wrap(common.ErrInternal, "catalog col line out of place")
			}
			typ, _ := strconv.Atoi(fields[2])
			length, _ := strconv.Atoi(fields[3])
			indexed, _ := strconv.Atoi(fields[4])
			col := ColMeta{
				TabName: tab.Name,
				Name:    fields[1],
				Type:    common.ColType(typ),
				Len:     length,
				Offset:  tab.RecordSize(),
				Indexed: indexed != 0,
			}
			tab.Cols = append(tab.Cols, col)
		case "index":
			if tab == nil || len(fields) < 2 {
				return errors.Wrap(common.ErrInternal, "catalog index line out of place")
			}
			ix, err := tab.buildIndexMeta(fields[1:])
			if err != nil {
				return err
			}
			tab.Indexes = append(tab.Indexes, ix)
		}
	}
	return sc.Err()
}

func (db *DbMeta) save(path string) error {
	if err := os.WriteFile(path, db.marshal(), 0644); err != nil {
		return errors.Wrapf(err, "write catalog %s", path)
	}
	return nil
}

func (db *DbMeta) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read catalog %s", path)
	}
	return db.unmarshal(data)
}
