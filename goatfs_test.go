package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestFS formats and mounts an in-memory image of nblocks blocks.
func newTestFS(t *testing.T, nblocks uint64) *GoatFS {
	t.Helper()
	fs := NewGoatFS(NewMemBlockDevice(nblocks))
	require.NoError(t, fs.Format())
	require.NoError(t, fs.Mount())
	t.Cleanup(func() { fs.Close() })
	return fs
}

// fill returns n bytes cycling through 0x01..0xfe, shifted by seed.
func fill(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((i+int(seed))%0xfe + 1)
	}
	return b
}

func TestGoatFSFormatWhileMounted(t *testing.T) {
	fs := newTestFS(t, 20)
	assert.ErrorIs(t, fs.Format(), ErrAlreadyMounted)
	assert.True(t, fs.IsMounted())
}

func TestGoatFSNotMounted(t *testing.T) {
	fs := NewGoatFS(NewMemBlockDevice(20))
	require.NoError(t, fs.Format())

	_, err := fs.Create()
	assert.ErrorIs(t, err, ErrNotMounted)
	assert.ErrorIs(t, fs.Remove(0), ErrNotMounted)
	_, err = fs.Stat(0)
	assert.ErrorIs(t, err, ErrNotMounted)
	_, err = fs.Read(0, make([]byte, 1), 0)
	assert.ErrorIs(t, err, ErrNotMounted)
	_, err = fs.Write(0, []byte("x"), 0)
	assert.ErrorIs(t, err, ErrNotMounted)
	_, err = fs.GetSuperblock()
	assert.ErrorIs(t, err, ErrNotMounted)
	_, err = fs.FreeBlocks()
	assert.ErrorIs(t, err, ErrNotMounted)
	assert.ErrorIs(t, fs.Unmount(), ErrNotMounted)
}

func TestGoatFSGeometry(t *testing.T) {
	fs := newTestFS(t, 20)
	sb, err := fs.GetSuperblock()
	require.NoError(t, err)
	assert.Equal(t, MagicNumber, sb.MagicNum)
	assert.Equal(t, uint32(20), sb.Blocks)
	assert.Equal(t, uint32(2), sb.InodeBlocks)
	assert.Equal(t, uint32(2*InodesPerBlock), sb.Inodes)

	free, err := fs.FreeBlocks()
	require.NoError(t, err)
	assert.Equal(t, uint32(20-1-2), free)
}

// The walkthrough a user of the shell would do on a fresh 20 block image.
func TestGoatFSHelloScenario(t *testing.T) {
	fs := newTestFS(t, 20)

	inumber, err := fs.Create()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), inumber)

	n, err := fs.Write(0, []byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	size, err := fs.Stat(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), size)

	buf := make([]byte, 5)
	n, err = fs.Read(0, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))

	require.NoError(t, fs.Remove(0))
	_, err = fs.Stat(0)
	assert.ErrorIs(t, err, ErrInodeNotFound)

	inumber, err = fs.Create()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), inumber)
}

func TestGoatFSPersistsAcrossRemount(t *testing.T) {
	fs := newTestFS(t, 100)
	inumber, err := fs.Create()
	require.NoError(t, err)
	data := fill(7*BlockSize+123, 3)
	n, err := fs.Write(inumber, data, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	freeBefore, err := fs.FreeBlocks()
	require.NoError(t, err)

	require.NoError(t, fs.Unmount())
	require.NoError(t, fs.Mount())

	size, err := fs.Stat(inumber)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(data)), size)
	got := make([]byte, len(data))
	n, err = fs.Read(inumber, got, 0)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.True(t, bytes.Equal(data, got))

	freeAfter, err := fs.FreeBlocks()
	require.NoError(t, err)
	assert.Equal(t, freeBefore, freeAfter)
}
