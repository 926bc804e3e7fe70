package main

import (
	"github.com/diskfs/go-diskfs/util/bitmap"
	"github.com/pkg/errors"
)

// FreeBitmap tracks which blocks are in use for the lifetime of a mount. It
// is never written to the image; Mount rebuilds it from the inode table.
// Blocks 0..reserved (superblock and inode table) are used from the start and
// can never be freed.
type FreeBitmap struct {
	bits     *bitmap.Bitmap
	nblocks  uint32
	reserved uint32
}

func NewFreeBitmap(nblocks, reserved uint32) *FreeBitmap {
	b := &FreeBitmap{
		bits:     bitmap.NewBits(int(nblocks)),
		nblocks:  nblocks,
		reserved: reserved,
	}
	for blkno := uint32(0); blkno <= reserved && blkno < nblocks; blkno++ {
		b.bits.Set(int(blkno))
	}
	return b
}

func (b *FreeBitmap) Len() uint32 {
	return b.nblocks
}

func (b *FreeBitmap) MarkUsed(blkno uint32) error {
	if blkno >= b.nblocks {
		return errors.Wrapf(ErrCorruptPointer, "block %d of %d", blkno, b.nblocks)
	}
	return b.bits.Set(int(blkno))
}

func (b *FreeBitmap) MarkFree(blkno uint32) error {
	if blkno <= b.reserved {
		return errors.Wrapf(ErrCorruptPointer, "block %d is reserved", blkno)
	}
	if blkno >= b.nblocks {
		return errors.Wrapf(ErrCorruptPointer, "block %d of %d", blkno, b.nblocks)
	}
	return b.bits.Clear(int(blkno))
}

func (b *FreeBitmap) IsUsed(blkno uint32) bool {
	if blkno >= b.nblocks {
		return false
	}
	used, err := b.bits.IsSet(int(blkno))
	return err == nil && used
}

// Alloc marks the lowest free block used and returns it. Reserved blocks are
// never handed out.
func (b *FreeBitmap) Alloc() (uint32, bool) {
	idx := b.bits.FirstFree(int(b.reserved) + 1)
	if idx <= int(b.reserved) || uint32(idx) >= b.nblocks {
		return 0, false
	}
	if err := b.bits.Set(idx); err != nil {
		return 0, false
	}
	return uint32(idx), true
}

func (b *FreeBitmap) NumFree() uint32 {
	var n uint32
	for blkno := uint32(0); blkno < b.nblocks; blkno++ {
		if !b.IsUsed(blkno) {
			n++
		}
	}
	return n
}

// Used lists the used blocks in ascending order.
func (b *FreeBitmap) Used() []uint32 {
	var used []uint32
	for blkno := uint32(0); blkno < b.nblocks; blkno++ {
		if b.IsUsed(blkno) {
			used = append(used, blkno)
		}
	}
	return used
}
