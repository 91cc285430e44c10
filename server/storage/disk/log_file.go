package disk

import (
	"io"
	"os"

	"github.com/juju/errors"

	"github.com/petreldb/petrel-server/server/common"
)

// The write-ahead log is a byte stream, not a paged file, so it gets its
// own open/read/write path next to the page API.

// LogFile wraps the database's single WAL file.
type LogFile struct {
	f *os.File
}

// OpenLogFile opens (creating if needed) the WAL at path.
func OpenLogFile(path string) (*LogFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Annotatef(common.ErrUnixError, "open log %s: %v", path, err)
	}
	return &LogFile{f: f}, nil
}

// Size returns the current byte length of the log.
func (lf *LogFile) Size() (int64, error) {
	st, err := lf.f.Stat()
	if err != nil {
		return 0, errors.Annotatef(common.ErrUnixError, "stat log: %v", err)
	}
	return st.Size(), nil
}

// ReadAt reads into buf starting at offset. Returns the bytes read; a
// short read at the tail is not an error.
func (lf *LogFile) ReadAt(buf []byte, offset int64) (int, error) {
	n, err := lf.f.ReadAt(buf, offset)
	if err != nil && n == 0 {
		return 0, errors.Annotatef(common.ErrUnixError, "read log at %d: %v", offset, err)
	}
	return n, nil
}

// Append writes buf at the end of the log and syncs.
func (lf *LogFile) Append(buf []byte) error {
	if _, err := lf.f.Seek(0, io.SeekEnd); err != nil {
		return errors.Annotatef(common.ErrUnixError, "seek log: %v", err)
	}
	if _, err := lf.f.Write(buf); err != nil {
		return errors.Annotatef(common.ErrUnixError, "append log: %v", err)
	}
	if err := lf.f.Sync(); err != nil {
		return errors.Annotatef(common.ErrUnixError, "sync log: %v", err)
	}
	return nil
}

// Close closes the WAL file.
func (lf *LogFile) Close() error {
	if err := lf.f.Close(); err != nil {
		return errors.Annotatef(common.ErrUnixError, "close log: %v", err)
	}
	return nil
}
