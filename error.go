package main

import "github.com/pkg/errors"

type FsErr struct {
	Code int
	Msg  string
}

func (e FsErr) Error() string {
	return e.Msg
}
func (e FsErr) GetCode() int {
	return e.Code
}

var ErrUnreachable = NewFsErr(1, "unreachable")
var ErrNotMounted = NewFsErr(2, "filesystem is not mounted")
var ErrAlreadyMounted = NewFsErr(3, "filesystem is already mounted")
var ErrBadMagicNumber = NewFsErr(4, "bad magic number")
var ErrInodeCountMismatch = NewFsErr(5, "inode count does not match inode blocks")
var ErrInodeBlocksExceedDevice = NewFsErr(6, "inode blocks exceed total blocks")
var ErrInumberOutOfRange = NewFsErr(7, "inumber out of range")
var ErrInodeNotFound = NewFsErr(8, "inode not found")
var ErrTableExhausted = NewFsErr(9, "inode table exhausted")
var ErrBlockAllocationExhausted = NewFsErr(10, "no free blocks")
var ErrOffsetExceedsMaxFileSize = NewFsErr(11, "offset exceeds max file size")
var ErrDeviceIO = NewFsErr(12, "device i/o error")
var ErrCorruptPointer = NewFsErr(13, "block pointer out of range")

func NewFsErr(code int, msg string) FsErr {
	return FsErr{
		Code: code,
		Msg:  msg,
	}
}

// ExitCode maps err to a process exit status. Errors that are not FsErr
// values exit with 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var fsErr FsErr
	if errors.As(err, &fsErr) {
		return fsErr.GetCode()
	}
	return 1
}
