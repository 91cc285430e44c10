package wal

import (
	"sync"

	"github.com/petreldb/petrel-server/logger"
	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/storage/disk"
)

// LogManager buffers log records in memory and appends them to the log
// file in order. LSNs are byte offsets, so the next LSN is always the
// file size plus the buffered bytes.
type LogManager struct {
	mu sync.Mutex

	logFile    *disk.LogFile
	buf        []byte
	globalLSN  int64 // next LSN to hand out
	persistLSN int64 // everything below this is on disk
}

func NewLogManager(lf *disk.LogFile, bufSize int) (*LogManager, error) {
	size, err := lf.Size()
	if err != nil {
		return nil, err
	}
	if bufSize <= 0 {
		bufSize = common.LogBufferSize
	}
	return &LogManager{
		logFile:    lf,
		buf:        make([]byte, 0, bufSize),
		globalLSN:  size,
		persistLSN: size,
	}, nil
}

// Append stamps rec with its LSN, buffers it and returns the LSN. The
// buffer spills to disk when full.
func (lm *LogManager) Append(rec *LogRecord) (int64, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	rec.LSN = lm.globalLSN
	data := rec.marshal()
	if len(lm.buf)+len(data) > cap(lm.buf) {
		if err := lm.flushLocked(); err != nil {
			return common.InvalidLSN, err
		}
	}
	lm.buf = append(lm.buf, data...)
	lm.globalLSN += int64(len(data))
	return rec.LSN, nil
}

// Flush forces the buffered records to disk.
func (lm *LogManager) Flush() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.flushLocked()
}

func (lm *LogManager) flushLocked() error {
	if len(lm.buf) == 0 {
		return nil
	}
	if err := lm.logFile.Append(lm.buf); err != nil {
		return err
	}
	lm.persistLSN += int64(len(lm.buf))
	lm.buf = lm.buf[:0]
	return nil
}

// PersistLSN reports the durable prefix of the log.
func (lm *LogManager) PersistLSN() int64 {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.persistLSN
}

// GlobalLSN reports the next LSN to be assigned.
func (lm *LogManager) GlobalLSN() int64 {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.globalLSN
}

// Records reads the whole durable log back in append order.
func (lm *LogManager) Records() ([]*LogRecord, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	size, err := lm.logFile.Size()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, size)
	if _, err := lm.logFile.ReadAt(data, 0); err != nil {
		return nil, err
	}
	var recs []*LogRecord
	for off := 0; off < len(data); {
		rec, n, err := unmarshalRecord(data[off:])
		if err != nil {
			// A torn tail write ends the usable log.
			logger.Warnf("log scan stops at offset %d: %v", off, err)
			break
		}
		recs = append(recs, rec)
		off += n
	}
	return recs, nil
}
