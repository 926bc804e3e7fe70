package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFreeBitmap(t *testing.T) {
	assert := assert.New(t)
	b := NewFreeBitmap(16, 1)
	assert.Equal(uint32(16), b.Len())
	assert.Equal(uint32(14), b.NumFree(), "superblock and one inode block")

	blk, ok := b.Alloc()
	assert.True(ok)
	assert.Equal(uint32(2), blk, "lowest free block comes first")

	assert.NoError(b.MarkUsed(4))
	blk, ok = b.Alloc()
	assert.True(ok)
	assert.Equal(uint32(3), blk)
	blk, ok = b.Alloc()
	assert.True(ok)
	assert.Equal(uint32(5), blk, "should not allocate something marked used")

	assert.NoError(b.MarkFree(3))
	assert.False(b.IsUsed(3))
	blk, ok = b.Alloc()
	assert.True(ok)
	assert.Equal(uint32(3), blk, "freed blocks are reused first-fit")

	assert.Equal([]uint32{0, 1, 2, 3, 4, 5}, b.Used())
}

func TestFreeBitmapNeverAllocatesReserved(t *testing.T) {
	b := NewFreeBitmap(6, 2)
	for i := 0; i < 3; i++ {
		blk, ok := b.Alloc()
		assert.True(t, ok)
		assert.Greater(t, blk, uint32(2))
	}
	_, ok := b.Alloc()
	assert.False(t, ok, "only reserved blocks are left")
	assert.Equal(t, uint32(0), b.NumFree())
}

func TestFreeBitmapReservedStayUsed(t *testing.T) {
	b := NewFreeBitmap(8, 2)
	for blkno := uint32(0); blkno <= 2; blkno++ {
		assert.True(t, b.IsUsed(blkno))
		assert.ErrorIs(t, b.MarkFree(blkno), ErrCorruptPointer, "block %d", blkno)
		assert.True(t, b.IsUsed(blkno))
	}
	assert.NoError(t, b.MarkUsed(3))
	assert.NoError(t, b.MarkFree(3))
}

func TestFreeBitmapExhausted(t *testing.T) {
	b := NewFreeBitmap(3, 0)
	assert.NoError(t, b.MarkUsed(1))
	assert.NoError(t, b.MarkUsed(2))
	_, ok := b.Alloc()
	assert.False(t, ok)
	assert.Equal(t, uint32(0), b.NumFree())
}

func TestFreeBitmapOutOfRange(t *testing.T) {
	b := NewFreeBitmap(8, 1)
	assert.ErrorIs(t, b.MarkUsed(8), ErrCorruptPointer)
	assert.ErrorIs(t, b.MarkFree(8), ErrCorruptPointer)
	assert.False(t, b.IsUsed(100))
}
