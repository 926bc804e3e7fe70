package main

import (
	"github.com/sirupsen/logrus"
)

// Makefs writes a fresh superblock sized to the device and zeroes every other
// block. Whatever the image held before is gone.
func Makefs(dev BlockDevice) error {
	totalBlocks := dev.GetTotalBlockCount()
	logrus.Info("totalBlocks: ", totalBlocks)
	inodeBlocks := InodeBlocksFor(totalBlocks)
	superblock := &Superblock{
		MagicNum:    MagicNumber,
		Blocks:      totalBlocks,
		InodeBlocks: inodeBlocks,
		Inodes:      inodeBlocks * InodesPerBlock,
	}
	superblockData, err := BlockOf(superblock)
	if err != nil {
		return err
	}
	err = dev.WriteBlock(0, superblockData)
	if err != nil {
		return err
	}
	logrus.Debugf("superblock: %s", JsonStringify(superblock))

	zero := make([]byte, BlockSize)
	for blkno := uint64(1); blkno < uint64(totalBlocks); blkno++ {
		err = dev.WriteBlock(blkno, zero)
		if err != nil {
			return err
		}
	}
	logrus.Infof("formatted %d blocks, %d inode blocks, %d inodes", totalBlocks, inodeBlocks, superblock.Inodes)
	return nil
}
