package catalog

import (
	"github.com/pkg/errors"

	"github.com/petreldb/petrel-server/server/common"
)

// Physical undo and redo of single-record changes. Both the rollback
// path and crash recovery funnel through these so index files always
// track the heap.

func (sm *SmManager) eachIndexKey(tab *TabMeta, data []byte, fn func(tabName, idxName string, key []byte) error) error {
	for _, ix := range tab.Indexes {
		if err := fn(tab.Name, ix.Name(), ix.BuildKey(data)); err != nil {
			return err
		}
	}
	return nil
}

func (sm *SmManager) insertIndexEntries(tab *TabMeta, data []byte, rid common.Rid, tolerateDup bool) error {
	return sm.eachIndexKey(tab, data, func(tabName, idxName string, key []byte) error {
		ih, err := sm.IndexHandle(tabName, idxName)
		if err != nil {
			return err
		}
		if err := ih.InsertEntry(key, rid); err != nil {
			if tolerateDup && errors.Is(err, common.ErrUniqueConstraint) {
				return nil
			}
			return err
		}
		return nil
	})
}

func (sm *SmManager) deleteIndexEntries(tab *TabMeta, data []byte) error {
	return sm.eachIndexKey(tab, data, func(tabName, idxName string, key []byte) error {
		ih, err := sm.IndexHandle(tabName, idxName)
		if err != nil {
			return err
		}
		if err := ih.DeleteEntry(key); err != nil && !errors.Is(err, common.ErrIndexEntryNotFound) {
			return err
		}
		return nil
	})
}

// RollbackInsert removes the record a transaction inserted at rid.
func (sm *SmManager) RollbackInsert(tabName string, rid common.Rid) error {
	tab, err := sm.Table(tabName)
	if err != nil {
		return err
	}
	fh, err := sm.FileHandle(tabName)
	if err != nil {
		return err
	}
	rec, err := fh.GetRecord(rid)
	if err != nil {
		return err
	}
	if err := sm.deleteIndexEntries(tab, rec.Data); err != nil {
		return err
	}
	return fh.DeleteRecord(rid)
}

// RollbackDelete puts a deleted record back where it was.
func (sm *SmManager) RollbackDelete(tabName string, rid common.Rid, data []byte) error {
	tab, err := sm.Table(tabName)
	if err != nil {
		return err
	}
	fh, err := sm.FileHandle(tabName)
	if err != nil {
		return err
	}
	if err := fh.InsertRecordAt(rid, data); err != nil {
		return err
	}
	return sm.insertIndexEntries(tab, data, rid, true)
}

// RollbackUpdate restores the pre-update image of the record at rid.
func (sm *SmManager) RollbackUpdate(tabName string, rid common.Rid, oldData []byte) error {
	tab, err := sm.Table(tabName)
	if err != nil {
		return err
	}
	fh, err := sm.FileHandle(tabName)
	if err != nil {
		return err
	}
	curr, err := fh.GetRecord(rid)
	if err != nil {
		return err
	}
	if err := sm.deleteIndexEntries(tab, curr.Data); err != nil {
		return err
	}
	if err := fh.UpdateRecord(rid, oldData); err != nil {
		return err
	}
	return sm.insertIndexEntries(tab, oldData, rid, true)
}

// RedoInsert replays an insert during recovery.
func (sm *SmManager) RedoInsert(tabName string, rid common.Rid, data []byte) error {
	tab, err := sm.Table(tabName)
	if err != nil {
		return err
	}
	fh, err := sm.FileHandle(tabName)
	if err != nil {
		return err
	}
	if err := fh.InsertRecordAt(rid, data); err != nil {
		return err
	}
	return sm.insertIndexEntries(tab, data, rid, true)
}

// RedoDelete replays a delete during recovery.
func (sm *SmManager) RedoDelete(tabName string, rid common.Rid, data []byte) error {
	tab, err := sm.Table(tabName)
	if err != nil {
		return err
	}
	fh, err := sm.FileHandle(tabName)
	if err != nil {
		return err
	}
	if err := sm.deleteIndexEntries(tab, data); err != nil {
		return err
	}
	err = fh.DeleteRecord(rid)
	if err != nil && !errors.Is(err, common.ErrRecordNotFound) {
		return err
	}
	return nil
}

// RedoUpdate replays an update during recovery.
func (sm *SmManager) RedoUpdate(tabName string, rid common.Rid, oldData, newData []byte) error {
	tab, err := sm.Table(tabName)
	if err != nil {
		return err
	}
	fh, err := sm.FileHandle(tabName)
	if err != nil {
		return err
	}
	if err := sm.deleteIndexEntries(tab, oldData); err != nil {
		return err
	}
	if err := fh.UpdateRecord(rid, newData); err != nil {
		return err
	}
	return sm.insertIndexEntries(tab, newData, rid, true)
}
