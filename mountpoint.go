package main

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Mount validates the superblock and rebuilds the free bitmap by walking every
// inode. The handle is only marked mounted once the walk has finished.
func (fs *GoatFS) Mount() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	logrus.Debugf("[in ] op=%s", "Mount")
	if fs.mounted {
		logrus.Errorf("op=%s, err=%v", "Mount", ErrAlreadyMounted)
		return ErrAlreadyMounted
	}
	sb, err := loadSuperblock(fs.dev)
	if err != nil {
		logrus.Errorf("op=%s, err=%v", "Mount", err)
		return err
	}
	// never hand out a block past the end of the device
	nblocks := sb.Blocks
	if devBlocks := fs.dev.GetTotalBlockCount(); sb.Blocks != devBlocks {
		logrus.Warnf("superblock describes %d blocks, device has %d", sb.Blocks, devBlocks)
		nblocks = Min(sb.Blocks, devBlocks)
	}
	bm, err := buildBitmap(fs.dev, sb, nblocks)
	if err != nil {
		logrus.Errorf("op=%s, err=%v", "Mount", err)
		return err
	}
	fs.sb = sb
	fs.bitmap = bm
	fs.mounted = true
	logrus.Debugf("[out] op=%s, blocks=%d, free=%d", "Mount", bm.Len(), bm.NumFree())
	return nil
}

// Unmount drops the bitmap. Nothing needs flushing: every operation has
// already written what it changed.
func (fs *GoatFS) Unmount() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	logrus.Debugf("[in ] op=%s", "Unmount")
	if !fs.mounted {
		return ErrNotMounted
	}
	fs.sb = nil
	fs.bitmap = nil
	fs.mounted = false
	logrus.Debugf("[out] op=%s", "Unmount")
	return nil
}

// loadSuperblock reads block 0 and validates it.
func loadSuperblock(dev BlockDevice) (*Superblock, error) {
	if dev == nil {
		return nil, ErrUnreachable
	}
	var sb Superblock
	sbbytes, err := dev.ReadBlock(0)
	if err != nil {
		return nil, err
	}
	err = StructOf(sbbytes, &sb)
	if err != nil {
		return nil, errors.Wrap(err, "decode superblock")
	}
	if err := sb.Validate(); err != nil {
		return nil, err
	}
	return &sb, nil
}

// requireValid re-reads the superblock so create and remove notice an image
// that was damaged behind the mount.
func (fs *GoatFS) requireValid() error {
	if !fs.mounted {
		return ErrNotMounted
	}
	_, err := loadSuperblock(fs.dev)
	return err
}

// buildBitmap sizes the bitmap to nblocks, which may be smaller than the
// superblock's count when the device is short.
func buildBitmap(dev BlockDevice, sb *Superblock, nblocks uint32) (*FreeBitmap, error) {
	if sb.InodeBlocks >= nblocks {
		return nil, errors.Wrapf(ErrInodeBlocksExceedDevice, "%d inode blocks, device has %d blocks", sb.InodeBlocks, nblocks)
	}
	bm := NewFreeBitmap(nblocks, sb.InodeBlocks)
	for blkno := uint32(1); blkno <= sb.InodeBlocks; blkno++ {
		ib, err := loadInodeBlock(dev, blkno)
		if err != nil {
			return nil, err
		}
		for slot := range ib.Inodes {
			inode := &ib.Inodes[slot]
			if !inode.IsValid() {
				continue
			}
			inumber := inumberOf(blkno, uint32(slot))
			blocks, err := reachableBlocks(dev, sb, inode)
			if err != nil {
				return nil, errors.Wrapf(err, "inode %d", inumber)
			}
			for _, blk := range blocks {
				if bm.IsUsed(blk) {
					logrus.Warnf("block %d of inode %d is already in use", blk, inumber)
				}
				if err := bm.MarkUsed(blk); err != nil {
					return nil, errors.Wrapf(err, "inode %d", inumber)
				}
			}
		}
	}
	return bm, nil
}

// reachableBlocks lists every block an inode owns: its direct blocks, its
// indirect block and the blocks the indirect block points at. Pointers
// outside [1, Blocks) are reported as ErrCorruptPointer.
func reachableBlocks(dev BlockDevice, sb *Superblock, inode *Inode) ([]uint32, error) {
	var blocks []uint32
	check := func(blk uint32) error {
		if blk >= sb.Blocks {
			return errors.Wrapf(ErrCorruptPointer, "block %d of %d", blk, sb.Blocks)
		}
		return nil
	}
	for _, blk := range inode.Direct {
		if blk == 0 {
			continue
		}
		if err := check(blk); err != nil {
			return nil, err
		}
		blocks = append(blocks, blk)
	}
	if inode.Indirect == 0 {
		return blocks, nil
	}
	if err := check(inode.Indirect); err != nil {
		return nil, err
	}
	blocks = append(blocks, inode.Indirect)
	ind, err := loadIndirectBlock(dev, inode.Indirect)
	if err != nil {
		return nil, err
	}
	for _, blk := range ind.Pointers {
		if blk == 0 {
			continue
		}
		if err := check(blk); err != nil {
			return nil, err
		}
		blocks = append(blocks, blk)
	}
	return blocks, nil
}
