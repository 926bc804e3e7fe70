package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/tchajed/goose/machine/disk"
	"golang.org/x/sys/unix"
)

const BlockSize = 4096

type BlockDevice interface {
	ReadBlock(blockno uint64) ([]byte, error)
	WriteBlock(blockno uint64, data []byte) error
	GetTotalBlockCount() uint32
	Close() error
}

type FileBlockDevice struct {
	file       *os.File
	blockcount uint64
}

// NewFileBlockDevice opens (creating if needed) the image at path and sizes
// it to blockcount blocks. The image is locked exclusively until Close.
func NewFileBlockDevice(path string, blockcount uint64) (*FileBlockDevice, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(ErrDeviceIO, "open %s: %v", path, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		return nil, errors.Wrapf(ErrDeviceIO, "lock %s: %v", path, err)
	}
	err = file.Truncate(int64(blockcount * BlockSize))
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(ErrDeviceIO, "truncate %s: %v", path, err)
	}

	return &FileBlockDevice{
		file:       file,
		blockcount: blockcount,
	}, nil
}

// OpenFileBlockDevice opens an existing image, taking the block count from
// its size.
func OpenFileBlockDevice(path string) (*FileBlockDevice, error) {
	fsize, err := GetFileSize(path)
	if err != nil {
		return nil, errors.Wrapf(ErrDeviceIO, "stat %s: %v", path, err)
	}
	return NewFileBlockDevice(path, uint64(fsize/BlockSize))
}

func (f *FileBlockDevice) ReadBlock(blockno uint64) ([]byte, error) {
	if blockno >= f.blockcount {
		return nil, errors.Wrapf(ErrDeviceIO, "read block %d of %d", blockno, f.blockcount)
	}
	data := make([]byte, BlockSize)
	nbytes, err := f.file.ReadAt(data, int64(blockno*BlockSize))
	if err != nil {
		return nil, errors.Wrapf(ErrDeviceIO, "read block %d: %v", blockno, err)
	}
	if nbytes != BlockSize {
		return nil, errors.Wrapf(ErrDeviceIO, "short read of block %d", blockno)
	}
	return data, nil
}

func (f *FileBlockDevice) WriteBlock(blockno uint64, data []byte) error {
	if blockno >= f.blockcount {
		return errors.Wrapf(ErrDeviceIO, "write block %d of %d", blockno, f.blockcount)
	}
	if len(data) != BlockSize {
		return errors.Wrapf(ErrDeviceIO, "write of %d bytes to block %d", len(data), blockno)
	}
	nbytes, err := f.file.WriteAt(data, int64(blockno*BlockSize))
	if err != nil {
		return errors.Wrapf(ErrDeviceIO, "write block %d: %v", blockno, err)
	}
	if nbytes != BlockSize {
		return errors.Wrapf(ErrDeviceIO, "short write of block %d", blockno)
	}
	return nil
}

func (f *FileBlockDevice) GetTotalBlockCount() uint32 {
	return uint32(f.blockcount)
}

func (f *FileBlockDevice) Close() error {
	if err := f.file.Sync(); err != nil {
		f.file.Close()
		return errors.Wrapf(ErrDeviceIO, "sync %s: %v", f.file.Name(), err)
	}
	// closing the descriptor drops the flock
	return f.file.Close()
}

// MemBlockDevice keeps the image in memory. It is what the tests run on.
type MemBlockDevice struct {
	d          disk.Disk
	blockcount uint64
}

func NewMemBlockDevice(blockcount uint64) *MemBlockDevice {
	if disk.BlockSize != BlockSize {
		panic(ErrUnreachable)
	}
	return &MemBlockDevice{
		d:          disk.NewMemDisk(blockcount),
		blockcount: blockcount,
	}
}

func (m *MemBlockDevice) ReadBlock(blockno uint64) ([]byte, error) {
	if blockno >= m.blockcount {
		return nil, errors.Wrapf(ErrDeviceIO, "read block %d of %d", blockno, m.blockcount)
	}
	blk := m.d.Read(blockno)
	data := make([]byte, BlockSize)
	copy(data, blk)
	return data, nil
}

func (m *MemBlockDevice) WriteBlock(blockno uint64, data []byte) error {
	if blockno >= m.blockcount {
		return errors.Wrapf(ErrDeviceIO, "write block %d of %d", blockno, m.blockcount)
	}
	if len(data) != BlockSize {
		return errors.Wrapf(ErrDeviceIO, "write of %d bytes to block %d", len(data), blockno)
	}
	m.d.Write(blockno, data)
	return nil
}

func (m *MemBlockDevice) GetTotalBlockCount() uint32 {
	return uint32(m.blockcount)
}

func (m *MemBlockDevice) Close() error {
	m.d.Close()
	return nil
}
