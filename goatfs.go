package main

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// GoatFS is the handle for one image. It owns the device, the mount flag and
// the free bitmap of the current mount. Every exported method takes the lock,
// so a single GoatFS may be shared between goroutines.
type GoatFS struct {
	mu      sync.Mutex
	dev     BlockDevice
	sb      *Superblock
	bitmap  *FreeBitmap
	mounted bool
}

func NewGoatFS(dev BlockDevice) *GoatFS {
	return &GoatFS{
		dev: dev,
	}
}

func (fs *GoatFS) String() string {
	return "goatfs"
}

func (fs *GoatFS) IsMounted() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.mounted
}

// Format reinitialises the image. It refuses to run while mounted.
func (fs *GoatFS) Format() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	logrus.Debugf("[in ] op=%s", "Format")
	if fs.mounted {
		logrus.Errorf("op=%s, err=%v", "Format", ErrAlreadyMounted)
		return ErrAlreadyMounted
	}
	if err := Makefs(fs.dev); err != nil {
		logrus.Errorf("op=%s, err=%v", "Format", err)
		return err
	}
	logrus.Debugf("[out] op=%s", "Format")
	return nil
}

// GetSuperblock returns the superblock read at mount time.
func (fs *GoatFS) GetSuperblock() (Superblock, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.mounted {
		return Superblock{}, ErrNotMounted
	}
	return *fs.sb, nil
}

// FreeBlocks counts the blocks the current mount can still allocate.
func (fs *GoatFS) FreeBlocks() (uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.mounted {
		return 0, ErrNotMounted
	}
	return fs.bitmap.NumFree(), nil
}

func (fs *GoatFS) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.sb = nil
	fs.bitmap = nil
	fs.mounted = false
	return fs.dev.Close()
}
