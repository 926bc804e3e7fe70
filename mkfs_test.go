package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakefs(t *testing.T) {
	for _, n := range []uint32{2, 5, 9, 10, 11, 19, 20, 21, 100, 1000, 1281} {
		dev := NewMemBlockDevice(uint64(n))
		require.NoError(t, Makefs(dev), "blocks=%d", n)

		sb, err := loadSuperblock(dev)
		require.NoError(t, err, "blocks=%d", n)
		assert.Equal(t, n, sb.Blocks)
		assert.Equal(t, (n+9)/10, sb.InodeBlocks, "inode blocks for %d blocks", n)
		assert.Equal(t, sb.InodeBlocks*InodesPerBlock, sb.Inodes)

		fs := NewGoatFS(dev)
		require.NoError(t, fs.Mount(), "blocks=%d", n)
		free, err := fs.FreeBlocks()
		require.NoError(t, err)
		assert.Equal(t, n-1-sb.InodeBlocks, free)
		require.NoError(t, fs.Close())
	}
}

func TestMakefsZeroesImage(t *testing.T) {
	dev := NewMemBlockDevice(20)
	require.NoError(t, dev.WriteBlock(5, fill(BlockSize, 0)))
	require.NoError(t, dev.WriteBlock(1, fill(BlockSize, 9)))

	require.NoError(t, Makefs(dev))

	for _, blkno := range []uint64{1, 5} {
		data, err := dev.ReadBlock(blkno)
		require.NoError(t, err)
		assert.Equal(t, make([]byte, BlockSize), data, "block %d", blkno)
	}
}

func TestMakefsFileImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")

	dev, err := NewFileBlockDevice(path, 20)
	require.NoError(t, err)
	fs := NewGoatFS(dev)
	require.NoError(t, fs.Format())
	require.NoError(t, fs.Mount())
	inumber, err := fs.Create()
	require.NoError(t, err)
	_, err = fs.Write(inumber, []byte("on disk"), 0)
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	dev, err = OpenFileBlockDevice(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(20), dev.GetTotalBlockCount())
	fs = NewGoatFS(dev)
	defer fs.Close()
	require.NoError(t, fs.Mount())
	buf := make([]byte, 16)
	n, err := fs.Read(inumber, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "on disk", string(buf[:n]))
}
