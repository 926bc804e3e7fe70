package main

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ======== block 0 ========

const MagicNumber = uint32(0xf0f03410)

type Superblock struct {
	MagicNum    uint32
	Blocks      uint32 // total blocks in the image
	InodeBlocks uint32 // blocks 1..InodeBlocks hold the inode table
	Inodes      uint32 // InodeBlocks * InodesPerBlock
}

// Validate reports the first geometry rule the superblock breaks.
func (sb *Superblock) Validate() error {
	if sb.MagicNum != MagicNumber {
		return errors.Wrapf(ErrBadMagicNumber, "magic 0x%08x", sb.MagicNum)
	}
	if uint64(sb.Inodes) != uint64(sb.InodeBlocks)*InodesPerBlock {
		return errors.Wrapf(ErrInodeCountMismatch, "%d inodes in %d inode blocks", sb.Inodes, sb.InodeBlocks)
	}
	if sb.InodeBlocks > sb.Blocks {
		return errors.Wrapf(ErrInodeBlocksExceedDevice, "%d inode blocks, %d blocks", sb.InodeBlocks, sb.Blocks)
	}
	return nil
}

// InodeBlocksFor is ceil(blocks / 10).
func InodeBlocksFor(blocks uint32) uint32 {
	return CeilDiv(blocks, 10)
}

// ======== blocks 1..InodeBlocks ========

const (
	InodeSize        = 32
	PointerSize      = 4
	PointersPerInode = 5
	InodesPerBlock   = BlockSize / InodeSize
	PointersPerBlock = BlockSize / PointerSize
	MaxFileSize      = (PointersPerInode + PointersPerBlock) * BlockSize
)

const InodeValid = uint32(1)

type Inode struct {
	Valid    uint32
	Size     uint32
	Direct   [PointersPerInode]uint32
	Indirect uint32 // 0 when the inode has no indirect block
}

func (ino *Inode) IsValid() bool {
	return ino.Valid == InodeValid
}

type InodeBlock struct {
	Inodes [InodesPerBlock]Inode
}

// ======== indirect blocks ========

type IndirectBlock struct {
	Pointers [PointersPerBlock]uint32
}

// 打包后的大小必须和磁盘布局一致，否则 slot 偏移全错
func init() {
	for _, rec := range []struct {
		v    interface{}
		size int
	}{
		{&Inode{}, InodeSize},
		{&InodeBlock{}, BlockSize},
		{&IndirectBlock{}, BlockSize},
	} {
		n, err := SizeOf(rec.v)
		if err != nil || n != rec.size {
			logrus.Panicf("%T packs to %d bytes (err=%v), want %d", rec.v, n, err, rec.size)
		}
	}
}

// inodeLocation maps an inumber to its inode block and the slot within it.
func inodeLocation(inumber uint32) (blkno uint32, slot uint32) {
	blkno = inumber/InodesPerBlock + 1
	slot = inumber - (blkno-1)*InodesPerBlock
	return
}

func inumberOf(blkno uint32, slot uint32) uint32 {
	return (blkno-1)*InodesPerBlock + slot
}

func loadInodeBlock(dev BlockDevice, blkno uint32) (*InodeBlock, error) {
	data, err := dev.ReadBlock(uint64(blkno))
	if err != nil {
		return nil, err
	}
	var ib InodeBlock
	if err := StructOf(data, &ib); err != nil {
		return nil, errors.Wrapf(err, "decode inode block %d", blkno)
	}
	return &ib, nil
}

func syncInodeBlock(dev BlockDevice, blkno uint32, ib *InodeBlock) error {
	data, err := BlockOf(ib)
	if err != nil {
		return err
	}
	return dev.WriteBlock(uint64(blkno), data)
}

func loadIndirectBlock(dev BlockDevice, blkno uint32) (*IndirectBlock, error) {
	data, err := dev.ReadBlock(uint64(blkno))
	if err != nil {
		return nil, err
	}
	var ind IndirectBlock
	if err := StructOf(data, &ind); err != nil {
		return nil, errors.Wrapf(err, "decode indirect block %d", blkno)
	}
	return &ind, nil
}

func syncIndirectBlock(dev BlockDevice, blkno uint32, ind *IndirectBlock) error {
	data, err := BlockOf(ind)
	if err != nil {
		return err
	}
	return dev.WriteBlock(uint64(blkno), data)
}
