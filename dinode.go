package main

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// InoContext is a loaded inode plus what is needed to map its file offsets to
// device blocks.
type InoContext struct {
	dev       BlockDevice
	nblocks   uint32
	inumber   uint32
	blkno     uint32 // inode block holding the record
	slot      uint32
	coreCache *Inode
	indirect  *IndirectBlock // loaded lazily by Bmap
	dirty     bool
}

func NewInoContext(dev BlockDevice, sb *Superblock, inumber uint32) (*InoContext, error) {
	if inumber >= sb.Inodes {
		return nil, errors.Wrapf(ErrInumberOutOfRange, "inumber %d of %d", inumber, sb.Inodes)
	}
	blkno, slot := inodeLocation(inumber)
	if blkno > sb.InodeBlocks {
		return nil, errors.Wrapf(ErrInumberOutOfRange, "inode block %d of %d", blkno, sb.InodeBlocks)
	}
	return &InoContext{
		dev:     dev,
		nblocks: sb.Blocks,
		inumber: inumber,
		blkno:   blkno,
		slot:    slot,
	}, nil
}

func (ctx *InoContext) LoadInode() error {
	blkBuf, err := ctx.dev.ReadBlock(uint64(ctx.blkno))
	logrus.Debugf("LoadInode of inumber: %d blk=%d slot=%d", ctx.inumber, ctx.blkno, ctx.slot)
	if err != nil {
		return err
	}
	return ctx.fromBytes(blkBuf)
}

// LoadValidInode loads the inode and fails with ErrInodeNotFound when the
// slot is free.
func (ctx *InoContext) LoadValidInode() error {
	if err := ctx.LoadInode(); err != nil {
		return err
	}
	if !ctx.coreCache.IsValid() {
		return errors.Wrapf(ErrInodeNotFound, "inumber %d", ctx.inumber)
	}
	return nil
}

func (ctx *InoContext) fromBytes(blkBuf []byte) error {
	off := ctx.slot * InodeSize
	ino := Inode{}
	err := StructOf(blkBuf[off:off+InodeSize], &ino)
	if err != nil {
		return err
	}
	ctx.coreCache = &ino
	ctx.indirect = nil
	ctx.dirty = false
	return nil
}

// SyncInode writes the cached record back into its slot, leaving the other
// inodes of the block untouched.
func (ctx *InoContext) SyncInode() error {
	blkBuf, err := ctx.dev.ReadBlock(uint64(ctx.blkno))
	if err != nil {
		return err
	}
	inoBytes, err := BytesOf(ctx.coreCache)
	if err != nil {
		return err
	}
	copy(blkBuf[ctx.slot*InodeSize:], inoBytes)
	logrus.Debugf("sync inumber %d (blk: %d slot: %d) size=%d", ctx.inumber, ctx.blkno, ctx.slot, ctx.coreCache.Size)
	if err := ctx.dev.WriteBlock(uint64(ctx.blkno), blkBuf); err != nil {
		return err
	}
	ctx.dirty = false
	return nil
}

func (ctx *InoContext) checkPointer(blk uint32) error {
	if blk >= ctx.nblocks {
		return errors.Wrapf(ErrCorruptPointer, "inumber %d points at block %d of %d", ctx.inumber, blk, ctx.nblocks)
	}
	return nil
}

func (ctx *InoContext) loadIndirect() (*IndirectBlock, error) {
	if ctx.indirect != nil {
		return ctx.indirect, nil
	}
	if err := ctx.checkPointer(ctx.coreCache.Indirect); err != nil {
		return nil, err
	}
	ind, err := loadIndirectBlock(ctx.dev, ctx.coreCache.Indirect)
	if err != nil {
		return nil, err
	}
	ctx.indirect = ind
	return ind, nil
}

// allocBlock takes a block from bm and zeroes it on the device, so a pointer
// to it never exposes what a removed file left there. The block goes back to
// bm if zeroing fails.
func allocBlock(dev BlockDevice, bm *FreeBitmap, inumber uint32) (uint32, error) {
	blk, ok := bm.Alloc()
	if !ok {
		return 0, errors.Wrapf(ErrBlockAllocationExhausted, "inumber %d", inumber)
	}
	if err := dev.WriteBlock(uint64(blk), make([]byte, BlockSize)); err != nil {
		bm.MarkFree(blk)
		return 0, err
	}
	logrus.Debugf("alloc block %d for inumber %d", blk, inumber)
	return blk, nil
}

// Bmap maps file block vblk to a device block. With a nil bitmap it only
// looks: a hole comes back as block 0. With a bitmap, missing blocks (and the
// indirect block, if needed first) are allocated zeroed; fresh reports whether
// the returned block was just allocated.
// The inode itself is not written here; the caller syncs it once.
func (ctx *InoContext) Bmap(vblk uint32, bm *FreeBitmap) (blk uint32, fresh bool, err error) {
	ino := ctx.coreCache
	if vblk < PointersPerInode {
		blk = ino.Direct[vblk]
		if blk != 0 || bm == nil {
			return blk, false, ctx.checkPointer(blk)
		}
		blk, err = allocBlock(ctx.dev, bm, ctx.inumber)
		if err != nil {
			return 0, false, err
		}
		ino.Direct[vblk] = blk
		ctx.dirty = true
		return blk, true, nil
	}

	ivblk := vblk - PointersPerInode
	if ivblk >= PointersPerBlock {
		return 0, false, errors.Wrapf(ErrOffsetExceedsMaxFileSize, "file block %d", vblk)
	}
	if ino.Indirect == 0 {
		if bm == nil {
			return 0, false, nil
		}
		indBlk, err := allocBlock(ctx.dev, bm, ctx.inumber)
		if err != nil {
			return 0, false, err
		}
		ino.Indirect = indBlk
		ctx.indirect = &IndirectBlock{}
		ctx.dirty = true
	}
	ind, err := ctx.loadIndirect()
	if err != nil {
		return 0, false, err
	}
	blk = ind.Pointers[ivblk]
	if blk != 0 || bm == nil {
		return blk, false, ctx.checkPointer(blk)
	}
	blk, err = allocBlock(ctx.dev, bm, ctx.inumber)
	if err != nil {
		return 0, false, err
	}
	ind.Pointers[ivblk] = blk
	if err := syncIndirectBlock(ctx.dev, ino.Indirect, ind); err != nil {
		ind.Pointers[ivblk] = 0
		bm.MarkFree(blk)
		return 0, false, err
	}
	return blk, true, nil
}

// Read copies file bytes starting at off into bytes. The range is clamped to
// the file size; holes read as zeros.
func (ctx *InoContext) Read(off uint64, bytes []byte) (uint64, error) {
	fsize := uint64(ctx.coreCache.Size)
	if off >= fsize {
		return 0, nil
	}
	end := Min(off+uint64(len(bytes)), fsize)
	readLen := uint64(0)
	for pos := off; pos < end; {
		vblk := pos / BlockSize
		inBlockStart := pos % BlockSize
		chunk := Min(end-pos, BlockSize-inBlockStart)
		dst := bytes[readLen : readLen+chunk]

		blk, _, err := ctx.Bmap(uint32(vblk), nil)
		if err != nil {
			return readLen, err
		}
		if blk == 0 {
			clear(dst)
		} else {
			blkBuf, err := ctx.dev.ReadBlock(uint64(blk))
			if err != nil {
				return readLen, err
			}
			copy(dst, blkBuf[inBlockStart:inBlockStart+chunk])
		}
		readLen += chunk
		pos += chunk
	}
	return readLen, nil
}

// Write copies bytes into the file at off, allocating blocks from bm as it
// goes. If the bitmap runs dry the bytes already written are kept and counted.
// The inode is written once, after the last block.
func (ctx *InoContext) Write(off uint64, bytes []byte, bm *FreeBitmap) (written uint64, err error) {
	if off+uint64(len(bytes)) > MaxFileSize {
		return 0, errors.Wrapf(ErrOffsetExceedsMaxFileSize, "write of %d bytes at %d, max %d", len(bytes), off, MaxFileSize)
	}
	defer func() {
		if end := off + written; written > 0 && end > uint64(ctx.coreCache.Size) {
			ctx.coreCache.Size = uint32(end)
			ctx.dirty = true
		}
		if ctx.dirty {
			if serr := ctx.SyncInode(); serr != nil && err == nil {
				err = serr
			}
		}
	}()

	total := uint64(len(bytes))
	for written < total {
		pos := off + written
		vblk := pos / BlockSize
		inBlockStart := pos % BlockSize
		chunk := Min(total-written, BlockSize-inBlockStart)

		blk, fresh, err := ctx.Bmap(uint32(vblk), bm)
		if err != nil {
			return written, err
		}
		// a partial block that may already hold data is read first
		var blkBuf []byte
		if fresh || chunk == BlockSize {
			blkBuf = make([]byte, BlockSize)
		} else {
			blkBuf, err = ctx.dev.ReadBlock(uint64(blk))
			if err != nil {
				return written, err
			}
		}
		copy(blkBuf[inBlockStart:], bytes[written:written+chunk])
		if err := ctx.dev.WriteBlock(uint64(blk), blkBuf); err != nil {
			return written, err
		}
		written += chunk
	}
	return written, nil
}

// Read reads up to len(buf) bytes of inode inumber starting at offset.
func (fs *GoatFS) Read(inumber uint32, buf []byte, offset uint64) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	logrus.Debugf("[in ] op=%s, inumber=%d, len=%d, off=%d", "Read", inumber, len(buf), offset)
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
	n, err := ctx.Read(offset, buf)
	if err != nil {
		logrus.Errorf("op=%s, inumber=%d, err=%v", "Read", inumber, err)
		return int(n), err
	}
	logrus.Debugf("[out] op=%s, inumber=%d, n=%d", "Read", inumber, n)
	return int(n), nil
}

// Write writes data into inode inumber at offset and returns how many bytes
// landed. A short count comes with ErrBlockAllocationExhausted.
func (fs *GoatFS) Write(inumber uint32, data []byte, offset uint64) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	logrus.Debugf("[in ] op=%s, inumber=%d, data=%s, len=%d, off=%d", "Write", inumber, PreviewBuffer(data, 16), len(data), offset)
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
	n, err := ctx.Write(offset, data, fs.bitmap)
	if err != nil {
		logrus.Errorf("op=%s, inumber=%d, written=%d, err=%v", "Write", inumber, n, err)
		return int(n), err
	}
	logrus.Debugf("[out] op=%s, inumber=%d, n=%d", "Write", inumber, n)
	return int(n), nil
}
