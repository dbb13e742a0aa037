package storage

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/kestreldb/kestrel/common"
)

// DiskManager abstracts byte-level page I/O against the single database
// file. The buffer pool is its only caller.
type DiskManager interface {
	// ReadPage fills buf with the on-disk image of the page. Pages that
	// have never been written read as zeroes.
	ReadPage(pid common.PageID, buf []byte) error
	// WritePage persists buf as the new on-disk image of the page,
	// growing the file as needed.
	WritePage(pid common.PageID, buf []byte) error
	// Shutdown syncs and closes the file.
	Shutdown() error
}

// FileDiskManager is the standard DiskManager over an OS file. ReadAt and
// WriteAt are safe for concurrent use, so no extra locking is needed here.
type FileDiskManager struct {
	file      *os.File
	numWrites atomic.Int64
}

// NewFileDiskManager opens (or creates) the database file at path.
func NewFileDiskManager(path string) (*FileDiskManager, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, errors.Annotatef(err, "opening database file %q", path)
	}
	return &FileDiskManager{file: file}, nil
}

func (d *FileDiskManager) ReadPage(pid common.PageID, buf []byte) error {
	common.Assert(len(buf) == common.PageSize, "read buffer must be one page")
	common.Assert(pid.IsValid(), "reading invalid page id")

	offset := int64(pid) * int64(common.PageSize)
	n, err := d.file.ReadAt(buf, offset)
	if err == io.EOF || (err == nil && n < common.PageSize) {
		// The page was allocated but never flushed; the tail reads as
		// zeroes.
		clear(buf[n:])
		return nil
	}
	if err != nil {
		return errors.Annotatef(err, "reading page %d", pid)
	}
	return nil
}

func (d *FileDiskManager) WritePage(pid common.PageID, buf []byte) error {
	common.Assert(len(buf) == common.PageSize, "write buffer must be one page")
	common.Assert(pid.IsValid(), "writing invalid page id")

	offset := int64(pid) * int64(common.PageSize)
	if _, err := d.file.WriteAt(buf, offset); err != nil {
		return errors.Annotatef(err, "writing page %d", pid)
	}
	d.numWrites.Add(1)
	return nil
}

// NumWrites returns the number of page writes issued since startup.
func (d *FileDiskManager) NumWrites() int64 { return d.numWrites.Load() }

func (d *FileDiskManager) Shutdown() error {
	if err := d.file.Sync(); err != nil {
		_ = d.file.Close()
		return errors.Annotate(err, "syncing database file")
	}
	return errors.Annotate(d.file.Close(), "closing database file")
}
