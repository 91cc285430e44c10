package catalog

import (
	"github.com/petreldb/petrel-server/server/common"
)

// Index maintenance entry points for the write executors. Unlike the
// recovery variants these enforce uniqueness and clean up after a
// partial failure.

// InsertIndexEntries adds rid under every index of the table. If an
// entry collides, the entries added so far are removed again and the
// unique-constraint error is returned.
func (sm *SmManager) InsertIndexEntries(tabName string, data []byte, rid common.Rid) error {
	tab, err := sm.Table(tabName)
	if err != nil {
		return err
	}
	var done []*IndexMeta
	for _, ix := range tab.Indexes {
		ih, err := sm.IndexHandle(tab.Name, ix.Name())
		if err != nil {
			return err
		}
		if err := ih.InsertEntry(ix.BuildKey(data), rid); err != nil {
			for _, d := range done {
				if dh, derr := sm.IndexHandle(tab.Name, d.Name()); derr == nil {
					dh.DeleteEntry(d.BuildKey(data))
				}
			}
			return err
		}
		done = append(done, ix)
	}
	return nil
}

// DeleteIndexEntries removes the entries of a record image.
func (sm *SmManager) DeleteIndexEntries(tabName string, data []byte) error {
	tab, err := sm.Table(tabName)
	if err != nil {
		return err
	}
	return sm.deleteIndexEntries(tab, data)
}
