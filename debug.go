package main

import (
	"bytes"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Debug prints the superblock and every valid inode to w. It reads the image
// directly and works whether or not the handle is mounted.
func (fs *GoatFS) Debug(w io.Writer) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	logrus.Debugf("[in ] op=%s", "Debug")

	var sb Superblock
	sbbytes, err := fs.dev.ReadBlock(0)
	if err != nil {
		return err
	}
	if err := StructOf(sbbytes, &sb); err != nil {
		return err
	}

	buf := bytes.NewBuffer(nil)
	fmt.Fprintf(buf, "SuperBlock:\n")
	if sb.MagicNum != MagicNumber {
		fmt.Fprintf(buf, "    magic number is invalid\n")
		_, err := w.Write(buf.Bytes())
		return err
	}
	fmt.Fprintf(buf, "    magic number is valid\n")
	fmt.Fprintf(buf, "    %d blocks\n", sb.Blocks)
	fmt.Fprintf(buf, "    %d inode blocks\n", sb.InodeBlocks)
	fmt.Fprintf(buf, "    %d inodes\n", sb.Inodes)

	lastInodeBlock := Min(sb.InodeBlocks, fs.dev.GetTotalBlockCount()-1)
	for blkno := uint32(1); blkno <= lastInodeBlock; blkno++ {
		ib, err := loadInodeBlock(fs.dev, blkno)
		if err != nil {
			return err
		}
		for slot := range ib.Inodes {
			inode := &ib.Inodes[slot]
			if !inode.IsValid() {
				continue
			}
			fmt.Fprintf(buf, "Inode %d:\n", inumberOf(blkno, uint32(slot)))
			fmt.Fprintf(buf, "    size: %d bytes\n", inode.Size)
			fmt.Fprintf(buf, "    direct blocks:")
			for _, blk := range inode.Direct {
				if blk != 0 {
					fmt.Fprintf(buf, " %d", blk)
				}
			}
			fmt.Fprintf(buf, "\n")
			if inode.Indirect == 0 {
				continue
			}
			fmt.Fprintf(buf, "    indirect block: %d\n", inode.Indirect)
			fmt.Fprintf(buf, "    indirect data blocks:")
			if inode.Indirect < sb.Blocks {
				ind, err := loadIndirectBlock(fs.dev, inode.Indirect)
				if err != nil {
					return err
				}
				for _, blk := range ind.Pointers {
					if blk != 0 {
						fmt.Fprintf(buf, " %d", blk)
					}
				}
			}
			fmt.Fprintf(buf, "\n")
		}
	}
	_, err = w.Write(buf.Bytes())
	logrus.Debugf("[out] op=%s", "Debug")
	return err
}
