package main

import (
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFUSE(t *testing.T, nblocks uint64) *GoatFUSE {
	t.Helper()
	return NewGoatFUSE(newTestFS(t, nblocks))
}

func fuseCreate(t *testing.T, g *GoatFUSE, flags uint32) *fuse.CreateOut {
	t.Helper()
	in := &fuse.CreateIn{}
	in.NodeId = RootIno
	in.Flags = flags
	out := &fuse.CreateOut{}
	require.Equal(t, fuse.OK, g.Create(nil, in, "ignored.txt", out))
	return out
}

func fuseWrite(g *GoatFUSE, node, fh uint64, data []byte, off uint64) (uint32, fuse.Status) {
	in := &fuse.WriteIn{}
	in.NodeId = node
	in.Fh = fh
	in.Offset = off
	in.Size = uint32(len(data))
	return g.Write(nil, in, data)
}

func fuseRead(t *testing.T, g *GoatFUSE, node uint64, size int, off uint64) ([]byte, fuse.Status) {
	t.Helper()
	in := &fuse.ReadIn{}
	in.NodeId = node
	in.Offset = off
	in.Size = uint32(size)
	res, status := g.Read(nil, in, make([]byte, size))
	if status != fuse.OK {
		return nil, status
	}
	data, status := res.Bytes(make([]byte, size))
	res.Done()
	return data, status
}

func TestFUSENodeMapping(t *testing.T) {
	assert.Equal(t, uint64(2), nodeOfInumber(0))
	inumber, ok := inumberOfNode(7)
	assert.True(t, ok)
	assert.Equal(t, uint32(5), inumber)
	_, ok = inumberOfNode(RootIno)
	assert.False(t, ok)

	inumber, err := parseInumber("42")
	require.NoError(t, err)
	assert.Equal(t, uint32(42), inumber)
	_, err = parseInumber("notes.txt")
	assert.ErrorIs(t, err, ErrInumberOutOfRange)
}

func TestFUSEToStatus(t *testing.T) {
	assert.Equal(t, fuse.OK, toStatus(nil))
	assert.Equal(t, fuse.ENOENT, toStatus(ErrInodeNotFound))
	assert.Equal(t, fuse.Status(syscall.ENOSPC), toStatus(ErrBlockAllocationExhausted))
	assert.Equal(t, fuse.Status(syscall.ENOSPC), toStatus(ErrTableExhausted))
	assert.Equal(t, fuse.Status(syscall.EFBIG), toStatus(ErrOffsetExceedsMaxFileSize))
	assert.Equal(t, fuse.EIO, toStatus(ErrDeviceIO))
}

func TestFUSECreateWriteRead(t *testing.T) {
	g := newTestFUSE(t, 20)
	out := fuseCreate(t, g, O_RDWR|O_CREAT)
	assert.Equal(t, nodeOfInumber(0), out.NodeId)
	assert.Equal(t, uint32(fuse.S_IFREG|0644), out.Attr.Mode)
	assert.Equal(t, 1, g.openfiles.Count())

	n, status := fuseWrite(g, out.NodeId, out.Fh, []byte("hello fuse"), 0)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, uint32(10), n)

	data, status := fuseRead(t, g, out.NodeId, 64, 6)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, "fuse", string(data))

	attrIn := &fuse.GetAttrIn{}
	attrIn.NodeId = out.NodeId
	attr := &fuse.AttrOut{}
	require.Equal(t, fuse.OK, g.GetAttr(nil, attrIn, attr))
	assert.Equal(t, uint64(10), attr.Size)

	release := &fuse.ReleaseIn{}
	release.NodeId = out.NodeId
	release.Fh = out.Fh
	g.Release(nil, release)
	assert.Equal(t, 0, g.openfiles.Count())
}

func TestFUSEAppend(t *testing.T) {
	g := newTestFUSE(t, 20)
	out := fuseCreate(t, g, O_WRONLY|O_APPEND)
	_, status := fuseWrite(g, out.NodeId, out.Fh, []byte("abc"), 0)
	require.Equal(t, fuse.OK, status)
	_, status = fuseWrite(g, out.NodeId, out.Fh, []byte("def"), 0)
	require.Equal(t, fuse.OK, status)

	data, status := fuseRead(t, g, out.NodeId, 16, 0)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, "abcdef", string(data))
}

func TestFUSELookupAndUnlink(t *testing.T) {
	g := newTestFUSE(t, 20)
	fuseCreate(t, g, O_RDWR)
	fuseCreate(t, g, O_RDWR)

	root := &fuse.InHeader{NodeId: RootIno}
	entry := &fuse.EntryOut{}
	require.Equal(t, fuse.OK, g.Lookup(nil, root, "1", entry))
	assert.Equal(t, nodeOfInumber(1), entry.NodeId)
	assert.Equal(t, fuse.ENOENT, g.Lookup(nil, root, "7", &fuse.EntryOut{}))
	assert.Equal(t, fuse.ENOENT, g.Lookup(nil, root, "readme", &fuse.EntryOut{}))
	assert.Equal(t, fuse.ENOTDIR, g.Lookup(nil, &fuse.InHeader{NodeId: nodeOfInumber(1)}, "0", &fuse.EntryOut{}))

	require.Equal(t, fuse.OK, g.Unlink(nil, root, "0"))
	assert.Equal(t, fuse.ENOENT, g.Lookup(nil, root, "0", &fuse.EntryOut{}))
	assert.Equal(t, fuse.ENOENT, g.Unlink(nil, root, "0"))

	ents, err := g.rootEntries()
	require.NoError(t, err)
	var names []string
	for _, e := range ents {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{".", "..", "1"}, names)
}

func TestFUSERootAttr(t *testing.T) {
	g := newTestFUSE(t, 20)
	in := &fuse.GetAttrIn{}
	in.NodeId = RootIno
	out := &fuse.AttrOut{}
	require.Equal(t, fuse.OK, g.GetAttr(nil, in, out))
	assert.Equal(t, uint32(fuse.S_IFDIR|0755), out.Mode)

	in.NodeId = nodeOfInumber(3)
	assert.Equal(t, fuse.ENOENT, g.GetAttr(nil, in, &fuse.AttrOut{}))
}

func TestFUSESetAttr(t *testing.T) {
	g := newTestFUSE(t, 20)
	out := fuseCreate(t, g, O_RDWR)
	_, status := fuseWrite(g, out.NodeId, out.Fh, []byte("12345"), 0)
	require.Equal(t, fuse.OK, status)

	in := &fuse.SetAttrIn{}
	in.NodeId = out.NodeId
	in.Valid = fuse.FATTR_MODE
	attr := &fuse.AttrOut{}
	require.Equal(t, fuse.OK, g.SetAttr(nil, in, attr))
	assert.Equal(t, uint64(5), attr.Size)

	in.Valid = fuse.FATTR_SIZE
	in.Size = 0
	assert.Equal(t, fuse.ENOSYS, g.SetAttr(nil, in, &fuse.AttrOut{}), "files cannot shrink")
}

func TestFUSEWriteFull(t *testing.T) {
	// 10 blocks leave 8 for data
	g := newTestFUSE(t, 10)
	out := fuseCreate(t, g, O_RDWR)

	n, status := fuseWrite(g, out.NodeId, out.Fh, fill(9*BlockSize, 0), 0)
	assert.Equal(t, fuse.OK, status, "a short write is still a write")
	assert.Equal(t, uint32(7*BlockSize), n)

	n, status = fuseWrite(g, out.NodeId, out.Fh, []byte("more"), 9*BlockSize)
	assert.Equal(t, fuse.Status(syscall.ENOSPC), status)
	assert.Equal(t, uint32(0), n)

	n, status = fuseWrite(g, out.NodeId, out.Fh, []byte("x"), MaxFileSize)
	assert.Equal(t, fuse.Status(syscall.EFBIG), status)
	assert.Equal(t, uint32(0), n)
}

func TestFUSEStatFs(t *testing.T) {
	g := newTestFUSE(t, 20)
	fuseCreate(t, g, O_RDWR)
	out := &fuse.StatfsOut{}
	require.Equal(t, fuse.OK, g.StatFs(nil, &fuse.InHeader{NodeId: RootIno}, out))
	assert.Equal(t, uint64(20), out.Blocks)
	assert.Equal(t, uint64(17), out.Bfree)
	assert.Equal(t, uint64(256), out.Files)
	assert.Equal(t, uint64(255), out.Ffree)
	assert.Equal(t, uint32(BlockSize), out.Bsize)
}

func TestFUSEOpenDir(t *testing.T) {
	g := newTestFUSE(t, 20)
	in := &fuse.OpenIn{}
	in.NodeId = RootIno
	out := &fuse.OpenOut{}
	require.Equal(t, fuse.OK, g.OpenDir(nil, in, out))
	assert.Equal(t, 1, g.openfiles.Count())

	release := &fuse.ReleaseIn{}
	release.Fh = out.Fh
	g.ReleaseDir(release)
	assert.Equal(t, 0, g.openfiles.Count())

	in.NodeId = nodeOfInumber(0)
	assert.Equal(t, fuse.ENOTDIR, g.OpenDir(nil, in, &fuse.OpenOut{}))
}
