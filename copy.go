package main

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const copyChunk = 4 * BlockSize

// CopyIn appends everything read from r to inode inumber, starting at offset
// 0. It returns the number of bytes that made it onto the image, which is
// short when the device fills up.
func CopyIn(fs *GoatFS, inumber uint32, r io.Reader) (int64, error) {
	buf := make([]byte, copyChunk)
	var offset int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			written, err := fs.Write(inumber, buf[:n], uint64(offset))
			offset += int64(written)
			if err != nil {
				return offset, err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return offset, errors.Wrap(rerr, "copyin")
		}
	}
	logrus.Debugf("copyin: %d bytes into inumber %d", offset, inumber)
	return offset, nil
}

// CopyOut writes the whole of inode inumber to w.
func CopyOut(fs *GoatFS, inumber uint32, w io.Writer) (int64, error) {
	buf := make([]byte, copyChunk)
	var offset int64
	for {
		n, err := fs.Read(inumber, buf, uint64(offset))
		if err != nil {
			return offset, err
		}
		if n == 0 {
			break
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return offset, errors.Wrap(err, "copyout")
		}
		offset += int64(n)
	}
	logrus.Debugf("copyout: %d bytes from inumber %d", offset, inumber)
	return offset, nil
}
