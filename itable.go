package main

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Create claims the first free inode slot, scanning inode blocks in order and
// slots in order within each block, and returns its inumber.
func (fs *GoatFS) Create() (uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	logrus.Debugf("[in ] op=%s", "Create")
	if err := fs.requireValid(); err != nil {
		logrus.Errorf("op=%s, err=%v", "Create", err)
		return 0, err
	}
	for blkno := uint32(1); blkno <= fs.sb.InodeBlocks; blkno++ {
		ib, err := loadInodeBlock(fs.dev, blkno)
		if err != nil {
			logrus.Errorf("op=%s, err=%v", "Create", err)
			return 0, err
		}
		for slot := range ib.Inodes {
			if ib.Inodes[slot].IsValid() {
				continue
			}
			ib.Inodes[slot] = Inode{Valid: InodeValid}
			if err := syncInodeBlock(fs.dev, blkno, ib); err != nil {
				logrus.Errorf("op=%s, err=%v", "Create", err)
				return 0, err
			}
			inumber := inumberOf(blkno, uint32(slot))
			logrus.Debugf("[out] op=%s, inumber=%d", "Create", inumber)
			return inumber, nil
		}
	}
	logrus.Errorf("op=%s, err=%v", "Create", ErrTableExhausted)
	return 0, ErrTableExhausted
}

// Remove frees every block the inode owns and zeroes its record.
func (fs *GoatFS) Remove(inumber uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	logrus.Debugf("[in ] op=%s, inumber=%d", "Remove", inumber)
	if err := fs.requireValid(); err != nil {
		logrus.Errorf("op=%s, err=%v", "Remove", err)
		return err
	}
	ctx, err := NewInoContext(fs.dev, fs.sb, inumber)
	if err != nil {
		logrus.Errorf("op=%s, inumber=%d, err=%v", "Remove", inumber, err)
		return err
	}
	if err := ctx.LoadValidInode(); err != nil {
		logrus.Errorf("op=%s, inumber=%d, err=%v", "Remove", inumber, err)
		return err
	}
	// collect first so a bad pointer leaves both bitmap and inode untouched
	blocks, err := reachableBlocks(fs.dev, fs.sb, ctx.coreCache)
	if err != nil {
		logrus.Errorf("op=%s, inumber=%d, err=%v", "Remove", inumber, err)
		return errors.Wrapf(err, "inode %d", inumber)
	}
	// the record goes first: blocks are only reusable once no valid inode
	// points at them
	*ctx.coreCache = Inode{}
	if err := ctx.SyncInode(); err != nil {
		logrus.Errorf("op=%s, inumber=%d, err=%v", "Remove", inumber, err)
		return err
	}
	for _, blk := range blocks {
		if err := fs.bitmap.MarkFree(blk); err != nil {
			logrus.Warnf("inumber %d: not freeing block %d: %v", inumber, blk, err)
			continue
		}
		logrus.Debugf("free block %d of inumber %d", blk, inumber)
	}
	logrus.Debugf("[out] op=%s, inumber=%d, freed=%d", "Remove", inumber, len(blocks))
	return nil
}

// Stat returns the size in bytes of inode inumber.
func (fs *GoatFS) Stat(inumber uint32) (uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	logrus.Debugf("[in ] op=%s, inumber=%d", "Stat", inumber)
	if !fs.mounted {
		return 0, ErrNotMounted
	}
	ctx, err := NewInoContext(fs.dev, fs.sb, inumber)
	if err != nil {
		return 0, err
	}
	if err := ctx.LoadValidInode(); err != nil {
		return 0, err
	}
	logrus.Debugf("[out] op=%s, inumber=%d, size=%d", "Stat", inumber, ctx.coreCache.Size)
	return ctx.coreCache.Size, nil
}

// Inumbers lists the valid inodes in table order.
func (fs *GoatFS) Inumbers() ([]uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.mounted {
		return nil, ErrNotMounted
	}
	var inumbers []uint32
	for blkno := uint32(1); blkno <= fs.sb.InodeBlocks; blkno++ {
		ib, err := loadInodeBlock(fs.dev, blkno)
		if err != nil {
			return nil, err
		}
		for slot := range ib.Inodes {
			if ib.Inodes[slot].IsValid() {
				inumbers = append(inumbers, inumberOf(blkno, uint32(slot)))
			}
		}
	}
	return inumbers, nil
}
