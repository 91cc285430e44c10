package wal

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/petreldb/petrel-server/server/common"
)

// LogType enumerates the write-ahead log record kinds.
type LogType int32

const (
	LogBegin LogType = iota
	LogCommit
	LogAbort
	LogInsert
	LogDelete
	LogUpdate
)

func (t LogType) String() string {
	switch t {
	case LogBegin:
		return "BEGIN"
	case LogCommit:
		return "COMMIT"
	case LogAbort:
		return "ABORT"
	case LogInsert:
		return "INSERT"
	case LogDelete:
		return "DELETE"
	case LogUpdate:
		return "UPDATE"
	}
	return "UNKNOWN"
}

// LogRecord is one entry of the write-ahead log. Data records carry the
// before and after images needed for physical undo and redo; the LSN is
// the record's byte offset in the log file.
type LogRecord struct {
	Type    LogType
	LSN     int64
	PrevLSN int64
	TxnID   int

	TabName string
	Rid     common.Rid
	OldData []byte // delete image, update before image
	NewData []byte // insert image, update after image
}

// recordHdrSize covers Type, TotLen, TxnID, LSN, PrevLSN.
const recordHdrSize = 4 + 4 + 4 + 8 + 8

func (r *LogRecord) size() int {
	return recordHdrSize + 4 + len(r.TabName) + 8 + 4 + len(r.OldData) + 4 + len(r.NewData)
}

func (r *LogRecord) marshal() []byte {
	buf := make([]byte, r.size())
	binary.LittleEndian.PutUint32(buf[0:], uint32(r.Type))
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(buf)))
	binary.LittleEndian.PutUint32(buf[8:], uint32(r.TxnID))
	binary.LittleEndian.PutUint64(buf[12:], uint64(r.LSN))
	binary.LittleEndian.PutUint64(buf[20:], uint64(r.PrevLSN))

	off := recordHdrSize
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.TabName)))
	off += 4
	copy(buf[off:], r.TabName)
	off += len(r.TabName)
	binary.LittleEndian.PutUint32(buf[off:], uint32(r.Rid.PageNo))
	binary.LittleEndian.PutUint32(buf[off+4:], uint32(r.Rid.SlotNo))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.OldData)))
	off += 4
	copy(buf[off:], r.OldData)
	off += len(r.OldData)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.NewData)))
	off += 4
	copy(buf[off:], r.NewData)
	return buf
}

// unmarshalRecord parses one record from the head of buf. Returns the
// record and its total length.
func unmarshalRecord(buf []byte) (*LogRecord, int, error) {
	if len(buf) < recordHdrSize {
		return nil, 0, errors.Wrap(common.ErrInternal, "truncated log header")
	}
	totLen := int(binary.LittleEndian.Uint32(buf[4:]))
	if totLen < recordHdrSize || totLen > len(buf) {
		return nil, 0, errors.Wrapf(common.ErrInternal, "log record length %d", totLen)
	}
	r := &LogRecord{
		Type:    LogType(int32(binary.LittleEndian.Uint32(buf[0:]))),
		TxnID:   int(int32(binary.LittleEndian.Uint32(buf[8:]))),
		LSN:     int64(binary.LittleEndian.Uint64(buf[12:])),
		PrevLSN: int64(binary.LittleEndian.Uint64(buf[20:])),
	}
	off := recordHdrSize
	tabLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	r.TabName = string(buf[off : off+tabLen])
	off += tabLen
	r.Rid.PageNo = int(int32(binary.LittleEndian.Uint32(buf[off:])))
	r.Rid.SlotNo = int(int32(binary.LittleEndian.Uint32(buf[off+4:])))
	off += 8
	oldLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if oldLen > 0 {
		r.OldData = append([]byte(nil), buf[off:off+oldLen]...)
	}
	off += oldLen
	newLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if newLen > 0 {
		r.NewData = append([]byte(nil), buf[off:off+newLen]...)
	}
	return r, totLen, nil
}
