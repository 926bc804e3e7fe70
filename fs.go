/**
把 inode 表通过 FUSE 暴露为一个扁平目录：每个有效 inode 是根目录下的一个普通文件，
文件名是它的 inumber。

NodeId 1 是根目录，inumber k 对应 NodeId k+2。
*/
package main

import (
	"strconv"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type GoatFUSE struct {
	fuse.RawFileSystem
	fs        *GoatFS
	openfiles *OpenfileMap
	nodes     *nodeTable
}

const RootIno = 1

func NewGoatFUSE(fs *GoatFS) *GoatFUSE {
	return &GoatFUSE{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		fs:            fs,
		openfiles:     NewOpenfileMap(),
		nodes:         newNodeTable(),
	}
}

func nodeOfInumber(inumber uint32) uint64 {
	return uint64(inumber) + 2
}

func inumberOfNode(nodeID uint64) (uint32, bool) {
	if nodeID < 2 || nodeID-2 > uint64(^uint32(0)) {
		return 0, false
	}
	return uint32(nodeID - 2), true
}

// parseInumber turns a directory entry name back into an inumber.
func parseInumber(name string) (uint32, error) {
	n, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(ErrInumberOutOfRange, "%q", name)
	}
	return uint32(n), nil
}

// toStatus maps filesystem errors onto errno values for the kernel.
func toStatus(err error) fuse.Status {
	switch {
	case err == nil:
		return fuse.OK
	case errors.Is(err, ErrInodeNotFound), errors.Is(err, ErrInumberOutOfRange):
		return fuse.ENOENT
	case errors.Is(err, ErrBlockAllocationExhausted), errors.Is(err, ErrTableExhausted):
		return fuse.Status(syscall.ENOSPC)
	case errors.Is(err, ErrOffsetExceedsMaxFileSize):
		return fuse.Status(syscall.EFBIG)
	default:
		return fuse.EIO
	}
}

func (g *GoatFUSE) Init(server *fuse.Server) {
	logrus.Debugf("op=%s", "Init")
}

func (g *GoatFUSE) String() string {
	return "goatfs"
}

func (g *GoatFUSE) SetDebug(dbg bool) {
	logrus.Debugf("op=%s, debug=%v", "SetDebug", dbg)
}

func rootAttr() fuse.Attr {
	return fuse.Attr{
		Ino:     RootIno,
		Mode:    fuse.S_IFDIR | 0755,
		Nlink:   2,
		Blksize: BlockSize,
	}
}

func fileAttr(inumber uint32, size uint32) fuse.Attr {
	return fuse.Attr{
		Ino:     nodeOfInumber(inumber),
		Size:    uint64(size),
		Blocks:  uint64(CeilDiv(size, 512)),
		Mode:    fuse.S_IFREG | 0644,
		Nlink:   1,
		Blksize: BlockSize,
	}
}

func (g *GoatFUSE) StatFs(cancel <-chan struct{}, header *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	logrus.Debugf("[in ] op=%s", "StatFs")
	sb, err := g.fs.GetSuperblock()
	if err != nil {
		return toStatus(err)
	}
	free, err := g.fs.FreeBlocks()
	if err != nil {
		return toStatus(err)
	}
	inumbers, err := g.fs.Inumbers()
	if err != nil {
		return toStatus(err)
	}
	out.Blocks = uint64(sb.Blocks)
	out.Bfree = uint64(free)
	out.Bavail = uint64(free)
	out.Files = uint64(sb.Inodes)
	out.Ffree = uint64(sb.Inodes) - uint64(len(inumbers))
	out.Bsize = BlockSize
	out.Frsize = BlockSize
	out.NameLen = 255
	logrus.Debugf("[out] op=%s, free=%d", "StatFs", free)
	return fuse.OK
}

// Lookup 根据文件名（即 inumber）查找文件
func (g *GoatFUSE) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) (code fuse.Status) {
	logrus.Infof("[in ] op=%s, ino=%v, name=%s", "Lookup", header.NodeId, name)
	if header.NodeId != RootIno {
		logrus.Errorf("Lookup %q called on non-Directory node %d", name, header.NodeId)
		return fuse.ENOTDIR
	}
	inumber, err := parseInumber(name)
	if err != nil {
		return toStatus(err)
	}
	size, err := g.fs.Stat(inumber)
	if err != nil {
		return toStatus(err)
	}
	out.NodeId, out.Generation = g.nodes.Register(inumber)
	out.Attr = fileAttr(inumber, size)
	logrus.Infof("[out] op=%s, ino=%v, name=%s", "Lookup", out.NodeId, name)
	return fuse.OK
}

func (g *GoatFUSE) Forget(nodeID, nlookup uint64) {
	logrus.Debugf("[in ] op=%s, node=%v, nlookup=%v", "Forget", nodeID, nlookup)
	if g.nodes.Forget(nodeID, int(nlookup)) {
		logrus.Debugf("[out] op=%s, node=%v released", "Forget", nodeID)
	}
}

func (g *GoatFUSE) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) (code fuse.Status) {
	logrus.Infof("[in ] op=%s, ino=%v", "GetAttr", input.NodeId)
	if input.NodeId == RootIno {
		out.Attr = rootAttr()
		return fuse.OK
	}
	inumber, ok := inumberOfNode(input.NodeId)
	if !ok {
		return fuse.ENOENT
	}
	size, err := g.fs.Stat(inumber)
	if err != nil {
		logrus.Errorf("GetAttr failed: %v", err)
		return toStatus(err)
	}
	out.Attr = fileAttr(inumber, size)
	logrus.Infof("[out] op=%s", "GetAttr")
	return fuse.OK
}

// SetAttr only reports attributes back; there are no permissions or
// timestamps to store, and files cannot shrink.
func (g *GoatFUSE) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) (code fuse.Status) {
	logrus.Infof("[in ] op=%s, ino=%v, valid=%v", "SetAttr", input.NodeId, input.Valid)
	inumber, ok := inumberOfNode(input.NodeId)
	if !ok {
		return fuse.EPERM
	}
	size, err := g.fs.Stat(inumber)
	if err != nil {
		return toStatus(err)
	}
	if input.Valid&fuse.FATTR_SIZE != 0 && input.Size != uint64(size) {
		logrus.Warnf("SetAttr: resizing inumber %d from %d to %d is not supported", inumber, size, input.Size)
		return fuse.ENOSYS
	}
	out.Attr = fileAttr(inumber, size)
	logrus.Infof("[out] op=%s", "SetAttr")
	return fuse.OK
}

// Create 忽略文件名，分配下一个空闲 inode
func (g *GoatFUSE) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) (code fuse.Status) {
	logrus.Infof("[in ] op=%s, name=%s, parent_ino=%v, flags=%v", "Create", name, input.NodeId, DecodeFlags(input.Flags))
	if input.NodeId != RootIno {
		return fuse.ENOTDIR
	}
	inumber, err := g.fs.Create()
	if err != nil {
		logrus.Errorf("Create failed: %v", err)
		return toStatus(err)
	}
	out.NodeId, out.Generation = g.nodes.Register(inumber)
	out.Attr = fileAttr(inumber, 0)
	out.OpenOut = fuse.OpenOut{
		Fh: g.openfiles.Register(inumber, input.Flags),
	}
	logrus.Infof("[out] op=%s, inumber=%v", "Create", inumber)
	return fuse.OK
}

func (g *GoatFUSE) Unlink(cancel <-chan struct{}, header *fuse.InHeader, name string) (code fuse.Status) {
	logrus.Infof("[in ] op=%s, name=%s, ino=%v", "Unlink", name, header.NodeId)
	if header.NodeId != RootIno {
		return fuse.ENOTDIR
	}
	inumber, err := parseInumber(name)
	if err != nil {
		return toStatus(err)
	}
	if g.openfiles.IsOpen(inumber) {
		logrus.Warnf("Unlink: inumber %d is still open", inumber)
	}
	if err := g.fs.Remove(inumber); err != nil {
		logrus.Errorf("Unlink failed: %v", err)
		return toStatus(err)
	}
	g.nodes.Retire(inumber)
	logrus.Debugf("[out] op=%s", "Unlink")
	return fuse.OK
}

func (g *GoatFUSE) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) (status fuse.Status) {
	logrus.Infof("[in ] op=%s, ino=%v, flags=%v", "Open", input.NodeId, DecodeFlags(input.Flags))
	inumber, ok := inumberOfNode(input.NodeId)
	if !ok {
		return fuse.EISDIR
	}
	if _, err := g.fs.Stat(inumber); err != nil {
		return toStatus(err)
	}
	out.Fh = g.openfiles.Register(inumber, input.Flags)
	return fuse.OK
}

func (g *GoatFUSE) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	logrus.Infof("[in ] op=%s, ino=%v, off=%d", "Read", input.NodeId, input.Offset)
	inumber, ok := inumberOfNode(input.NodeId)
	if !ok {
		return nil, fuse.EISDIR
	}
	n, err := g.fs.Read(inumber, buf, input.Offset)
	if err != nil {
		logrus.Errorf("Read failed: %v", err)
		return nil, toStatus(err)
	}
	logrus.Infof("[out] op=%s, inumber=%v, nbytes=%v, out=%s", "Read", inumber, n, PreviewBuffer(buf[:n], 64))
	return fuse.ReadResultData(buf[:n]), fuse.OK
}

func (g *GoatFUSE) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (written uint32, code fuse.Status) {
	logrus.Infof("[in ] op=%s, ino=%v, len=%d, off=%d", "Write", input.NodeId, len(data), input.Offset)
	inumber, ok := inumberOfNode(input.NodeId)
	if !ok {
		return 0, fuse.EISDIR
	}
	offset := input.Offset
	if fh := g.openfiles.Get(input.Fh); fh != nil && fh.flags&O_APPEND != 0 {
		size, err := g.fs.Stat(inumber)
		if err != nil {
			return 0, toStatus(err)
		}
		offset = uint64(size)
	}
	n, err := g.fs.Write(inumber, data, offset)
	if err != nil && n == 0 {
		logrus.Errorf("Write failed: %v", err)
		return 0, toStatus(err)
	}
	logrus.Infof("[out] op=%s n=%v", "Write", n)
	return uint32(n), fuse.OK
}

func (g *GoatFUSE) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {
	logrus.Infof("[in ] op=%s, ino=%v, fh=%v", "Release", input.NodeId, input.Fh)
	g.openfiles.Remove(input.Fh)
}

func (g *GoatFUSE) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) (status fuse.Status) {
	logrus.Infof("[in ] op=%s, ino=%v", "OpenDir", input.NodeId)
	if input.NodeId != RootIno {
		return fuse.ENOTDIR
	}
	out.Fh = g.openfiles.Register(0, input.Flags)
	return fuse.OK
}

func (g *GoatFUSE) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, l *fuse.DirEntryList) fuse.Status {
	logrus.Infof("[in ] op=%s, ino=%v, off=%d", "ReadDir", input.NodeId, input.Offset)
	if input.NodeId != RootIno {
		return fuse.ENOTDIR
	}
	ents, err := g.rootEntries()
	if err != nil {
		logrus.Errorf("op=%s, err=%s", "ReadDir", err)
		return toStatus(err)
	}
	for i, e := range ents {
		if uint64(i) < input.Offset {
			continue
		}
		if !l.AddDirEntry(e) {
			break
		}
	}
	logrus.Debugf("op=%s, entries=%d", "ReadDir", len(ents))
	return fuse.OK
}

func (g *GoatFUSE) ReadDirPlus(cancel <-chan struct{}, input *fuse.ReadIn, l *fuse.DirEntryList) fuse.Status {
	logrus.Infof("op=%s, ino=%v, offset=%v, size=%v", "ReadDirPlus", input.NodeId, input.Offset, input.Size)
	if input.NodeId != RootIno {
		return fuse.ENOTDIR
	}
	ents, err := g.rootEntries()
	if err != nil {
		logrus.Errorf("op=%s, err=%s", "ReadDirPlus", err)
		return toStatus(err)
	}
	for i, e := range ents {
		if uint64(i) < input.Offset {
			continue
		}
		entryDest := l.AddDirLookupEntry(e)
		if entryDest == nil {
			break
		}
		entryDest.Ino = uint64(fuse.FUSE_UNKNOWN_INO)
		// No need to fill attributes for . and ..
		if e.Name == "." || e.Name == ".." {
			continue
		}
		if stat := g.Lookup(cancel, &input.InHeader, e.Name, entryDest); stat != fuse.OK {
			logrus.Errorf("ReadDirPlus: failed to lookup %s", e.Name)
			return stat
		}
	}
	logrus.Debugf("op=%s, entries=%d", "ReadDirPlus", len(ents))
	return fuse.OK
}

// rootEntries lists the root directory: "." and ".." then one entry per
// valid inode in table order.
func (g *GoatFUSE) rootEntries() ([]fuse.DirEntry, error) {
	inumbers, err := g.fs.Inumbers()
	if err != nil {
		return nil, err
	}
	ents := []fuse.DirEntry{
		{Name: ".", Ino: RootIno, Mode: fuse.S_IFDIR},
		{Name: "..", Ino: RootIno, Mode: fuse.S_IFDIR},
	}
	for _, inumber := range inumbers {
		ents = append(ents, fuse.DirEntry{
			Name: strconv.FormatUint(uint64(inumber), 10),
			Ino:  nodeOfInumber(inumber),
			Mode: fuse.S_IFREG,
		})
	}
	return ents, nil
}

func (g *GoatFUSE) ReleaseDir(input *fuse.ReleaseIn) {
	logrus.Infof("[in ] op=%s, fh=%d", "ReleaseDir", input.Fh)
	g.openfiles.Remove(input.Fh)
}

func (g *GoatFUSE) Flush(cancel <-chan struct{}, input *fuse.FlushIn) fuse.Status {
	return fuse.OK
}

func (g *GoatFUSE) Fsync(cancel <-chan struct{}, input *fuse.FsyncIn) (code fuse.Status) {
	return fuse.OK
}
