package main

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// 打开文件表，管理 FUSE 发出的文件把手

type FileHandle struct {
	fh      uint64
	inumber uint32
	flags   uint32
}

type OpenfileMap struct {
	mu      sync.Mutex
	nextgen uint64
	// key: fh
	files map[uint64]*FileHandle
}

func NewOpenfileMap() *OpenfileMap {
	m := &OpenfileMap{
		nextgen: 1,
		files:   map[uint64]*FileHandle{},
	}
	return m
}

func (m *OpenfileMap) Get(fh uint64) *FileHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[fh]
}

func (m *OpenfileMap) Register(inumber uint32, flags uint32) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	fh := m.nextgen
	m.nextgen++
	m.files[fh] = &FileHandle{
		fh:      fh,
		inumber: inumber,
		flags:   flags,
	}
	logrus.Debugf("[FS_HANDLE] Register fh=%v inumber=%v flags=%s", fh, inumber, Join(DecodeFlags(flags), "|"))
	return fh
}

func (m *OpenfileMap) Remove(fh uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[fh]; ok {
		logrus.Debugf("[FS_HANDLE] Remove fh=%v, inumber=%v", fh, f.inumber)
		delete(m.files, fh)
	}
}

func (m *OpenfileMap) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

// IsOpen reports whether any handle still refers to inumber.
func (m *OpenfileMap) IsOpen(inumber uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.inumber == inumber {
			return true
		}
	}
	return false
}
