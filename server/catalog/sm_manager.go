package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/petreldb/petrel-server/logger"
	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/storage/bufferpool"
	"github.com/petreldb/petrel-server/server/storage/disk"
	"github.com/petreldb/petrel-server/server/storage/heap"
	"github.com/petreldb/petrel-server/server/storage/index"
)

const metaFile = "db.meta"

// SmManager owns the catalog and the open file handles of the current
// database. DDL, metadata lookups and the physical undo/redo helpers
// all live here.
type SmManager struct {
	mu sync.RWMutex

	DB *DbMeta

	disk *disk.DiskManager
	bpm  *bufferpool.BufferPoolManager
	rm   *heap.RmManager
	ix   *index.IxManager

	dbDir string
	Fhs   map[string]*heap.RmFileHandle   // table name -> record file
	Ihs   map[string]*index.IxIndexHandle // table_col1_col2 -> index
}

func NewSmManager(dm *disk.DiskManager, bpm *bufferpool.BufferPoolManager,
	rm *heap.RmManager, ix *index.IxManager) *SmManager {
	return &SmManager{
		disk: dm,
		bpm:  bpm,
		rm:   rm,
		ix:   ix,
		Fhs:  make(map[string]*heap.RmFileHandle),
		Ihs:  make(map[string]*index.IxIndexHandle),
	}
}

// DbDir returns the directory of the open database.
func (sm *SmManager) DbDir() string { return sm.dbDir }

func (sm *SmManager) tablePath(tab string) string {
	return filepath.Join(sm.dbDir, tab+".tbl")
}

func (sm *SmManager) indexPath(tab, idxName string) string {
	return filepath.Join(sm.dbDir, fmt.Sprintf("%s_%s.idx", tab, idxName))
}

func indexKey(tab, idxName string) string {
	return tab + "_" + idxName
}

// IsDatabase reports whether dir holds a database.
func IsDatabase(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, metaFile))
	return err == nil
}

// CreateDatabase lays out an empty database directory.
func (sm *SmManager) CreateDatabase(dir string) error {
	if IsDatabase(dir) {
		return errors.Wrapf(common.ErrDatabaseExists, "%s", dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}
	db := newDbMeta(filepath.Base(dir))
	return db.save(filepath.Join(dir, metaFile))
}

// OpenDatabase loads the catalog and opens every table and index file.
func (sm *SmManager) OpenDatabase(dir string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	db := newDbMeta(filepath.Base(dir))
	if err := db.load(filepath.Join(dir, metaFile)); err != nil {
		return err
	}
	sm.DB = db
	sm.dbDir = dir
	for name, tab := range db.Tabs {
		fh, err := sm.rm.OpenFile(sm.tablePath(name))
		if err != nil {
			return err
		}
		sm.Fhs[name] = fh
		for _, ix := range tab.Indexes {
			ih, err := sm.ix.OpenFile(sm.indexPath(name, ix.Name()))
			if err != nil {
				return err
			}
			sm.Ihs[indexKey(name, ix.Name())] = ih
		}
	}
	logger.Infof("database %s opened: %d tables", db.Name, len(db.Tabs))
	return nil
}

// CloseDatabase writes the catalog back and closes every file.
func (sm *SmManager) CloseDatabase() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.DB == nil {
		return nil
	}
	if err := sm.DB.save(filepath.Join(sm.dbDir, metaFile)); err != nil {
		return err
	}
	for name, fh := range sm.Fhs {
		if err := sm.rm.CloseFile(fh); err != nil {
			return err
		}
		delete(sm.Fhs, name)
	}
	for key, ih := range sm.Ihs {
		if err := sm.ix.CloseFile(ih); err != nil {
			return err
		}
		delete(sm.Ihs, key)
	}
	sm.DB = nil
	return nil
}

// flushMeta persists the catalog after a DDL statement.
func (sm *SmManager) flushMeta() error {
	return sm.DB.save(filepath.Join(sm.dbDir, metaFile))
}

// Table looks up a table's metadata.
func (sm *SmManager) Table(name string) (*TabMeta, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	tab, ok := sm.DB.Tabs[name]
	if !ok {
		return nil, errors.Wrapf(common.ErrTableNotFound, "%s", name)
	}
	return tab, nil
}

// FileHandle returns the record file of a table.
func (sm *SmManager) FileHandle(name string) (*heap.RmFileHandle, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	fh, ok := sm.Fhs[name]
	if !ok {
		return nil, errors.Wrapf(common.ErrTableNotFound, "%s", name)
	}
	return fh, nil
}

// IndexHandle returns the named index of a table. The name is the
// underscore-joined column list, as IndexMeta.Name produces it.
func (sm *SmManager) IndexHandle(tab, idxName string) (*index.IxIndexHandle, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	ih, ok := sm.Ihs[indexKey(tab, idxName)]
	if !ok {
		return nil, errors.Wrapf(common.ErrIndexNotFound, "%s(%s)", tab, idxName)
	}
	return ih, nil
}

// CreateTable builds the record file for a new table.
func (sm *SmManager) CreateTable(name string, cols []ColMeta) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.DB.Tabs[name]; ok {
		return errors.Wrapf(common.ErrTableExists, "%s", name)
	}
	tab := &TabMeta{Name: name}
	offset := 0
	for _, col := range cols {
		col.TabName = name
		col.Offset = offset
		col.Indexed = false
		offset += col.Len
		tab.Cols = append(tab.Cols, col)
	}
	if err := sm.rm.CreateFile(sm.tablePath(name), offset); err != nil {
		return err
	}
	fh, err := sm.rm.OpenFile(sm.tablePath(name))
	if err != nil {
		return err
	}
	sm.DB.Tabs[name] = tab
	sm.Fhs[name] = fh
	return sm.flushMeta()
}

// DropTable removes a table, its record file and its indexes.
func (sm *SmManager) DropTable(name string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	tab, ok := sm.DB.Tabs[name]
	if !ok {
		return errors.Wrapf(common.ErrTableNotFound, "%s", name)
	}
	for _, ix := range tab.Indexes {
		key := indexKey(name, ix.Name())
		if err := sm.ix.CloseFile(sm.Ihs[key]); err != nil {
			return err
		}
		delete(sm.Ihs, key)
		if err := sm.ix.DestroyFile(sm.indexPath(name, ix.Name())); err != nil {
			return err
		}
	}
	if err := sm.rm.CloseFile(sm.Fhs[name]); err != nil {
		return err
	}
	delete(sm.Fhs, name)
	if err := sm.rm.DestroyFile(sm.tablePath(name)); err != nil {
		return err
	}
	delete(sm.DB.Tabs, name)
	return sm.flushMeta()
}

// CreateIndex builds an index over an ordered column list and backfills
// it from the table's live records.
func (sm *SmManager) CreateIndex(tabName string, cols []string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	tab, ok := sm.DB.Tabs[tabName]
	if !ok {
		return errors.Wrapf(common.ErrTableNotFound, "%s", tabName)
	}
	if _, ok := tab.Index(cols); ok {
		return errors.Wrapf(common.ErrIndexExists, "%s(%v)", tabName, cols)
	}
	ix, err := tab.buildIndexMeta(cols)
	if err != nil {
		return err
	}
	path := sm.indexPath(tabName, ix.Name())
	if err := sm.ix.CreateFile(path, ix.ColTypes(), ix.ColLens()); err != nil {
		return err
	}
	ih, err := sm.ix.OpenFile(path)
	if err != nil {
		return err
	}
	fh := sm.Fhs[tabName]
	scan, err := heap.NewRmScan(fh)
	if err != nil {
		return err
	}
	for !scan.IsEnd() {
		rec, err := fh.GetRecord(scan.Rid())
		if err != nil {
			return err
		}
		if err := ih.InsertEntry(ix.BuildKey(rec.Data), rec.Rid); err != nil {
			return err
		}
		if err := scan.Next(); err != nil {
			return err
		}
	}
	tab.Indexes = append(tab.Indexes, ix)
	tab.refreshIndexedFlags()
	sm.Ihs[indexKey(tabName, ix.Name())] = ih
	return sm.flushMeta()
}

// DropIndex removes the index over the given column list.
func (sm *SmManager) DropIndex(tabName string, cols []string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	tab, ok := sm.DB.Tabs[tabName]
	if !ok {
		return errors.Wrapf(common.ErrTableNotFound, "%s", tabName)
	}
	ix, ok := tab.Index(cols)
	if !ok {
		return errors.Wrapf(common.ErrIndexNotFound, "%s(%v)", tabName, cols)
	}
	key := indexKey(tabName, ix.Name())
	if err := sm.ix.CloseFile(sm.Ihs[key]); err != nil {
		return err
	}
	delete(sm.Ihs, key)
	if err := sm.ix.DestroyFile(sm.indexPath(tabName, ix.Name())); err != nil {
		return err
	}
	for i, cand := range tab.Indexes {
		if cand == ix {
			tab.Indexes = append(tab.Indexes[:i], tab.Indexes[i+1:]...)
			break
		}
	}
	tab.refreshIndexedFlags()
	return sm.flushMeta()
}

// FlushAll forces every data page and the catalog to disk.
func (sm *SmManager) FlushAll() error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for _, fh := range sm.Fhs {
		if err := sm.bpm.FlushAllPages(fh.Fd()); err != nil {
			return err
		}
	}
	for _, ih := range sm.Ihs {
		if err := sm.bpm.FlushAllPages(ih.Fd()); err != nil {
			return err
		}
	}
	return sm.DB.save(filepath.Join(sm.dbDir, metaFile))
}
