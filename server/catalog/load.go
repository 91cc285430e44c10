package catalog

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/petreldb/petrel-server/logger"
	"github.com/petreldb/petrel-server/server/common"
)

// LoadTable bulk-inserts rows from a CSV file into a table. A .snappy
// suffix marks a block-compressed file that is decompressed first. The
// first CSV line is a header and is skipped.
func (sm *SmManager) LoadTable(tabName, path string) (int, error) {
	tab, err := sm.Table(tabName)
	if err != nil {
		return 0, err
	}
	fh, err := sm.FileHandle(tabName)
	if err != nil {
		return 0, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(common.ErrFileNotFound, "%s: %v", path, err)
	}
	if strings.HasSuffix(path, ".snappy") {
		raw, err = snappy.Decode(nil, raw)
		if err != nil {
			return 0, errors.Wrapf(err, "decompress %s", path)
		}
	}

	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = len(tab.Cols)
	header := true
	count := 0
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, errors.Wrapf(err, "parse %s", path)
		}
		if header {
			header = false
			continue
		}
		data, err := encodeRow(tab, fields)
		if err != nil {
			return count, err
		}
		rid, err := fh.InsertRecord(data)
		if err != nil {
			return count, err
		}
		if err := sm.insertIndexEntries(tab, data, rid, false); err != nil {
			return count, err
		}
		count++
	}
	logger.Infof("loaded %d rows from %s into %s", count, path, tabName)
	return count, nil
}

func encodeRow(tab *TabMeta, fields []string) ([]byte, error) {
	data := make([]byte, tab.RecordSize())
	for i, col := range tab.Cols {
		var v common.Value
		switch col.Type {
		case common.TypeInt:
			n, err := strconv.ParseInt(fields[i], 10, 32)
			if err != nil {
				return nil, errors.Wrapf(common.ErrIncompatibleType, "%q as INT", fields[i])
			}
			v.SetInt(int32(n))
		case common.TypeBigInt:
			n, err := strconv.ParseInt(fields[i], 10, 64)
			if err != nil {
				return nil, errors.Wrapf(common.ErrIncompatibleType, "%q as BIGINT", fields[i])
			}
			v.SetBigInt(n)
		case common.TypeFloat:
			f, err := strconv.ParseFloat(fields[i], 32)
			if err != nil {
				return nil, errors.Wrapf(common.ErrIncompatibleType, "%q as FLOAT", fields[i])
			}
			v.SetFloat(float32(f))
		case common.TypeString:
			v.SetStr(fields[i])
		case common.TypeDatetime:
			v.SetDatetime(fields[i])
		}
		if err := v.InitRaw(col.Len); err != nil {
			return nil, err
		}
		copy(data[col.Offset:], v.Raw)
	}
	return data, nil
}
