package main

import (
	log "github.com/sirupsen/logrus"

	"sync"
)

// inumber 和 nodeid 是不同的概念
// 前者是 inode 表里的下标，后者是内核视角下的 inode，二者满足 nodeid = inumber + 2

// handled 记录内核对一个 nodeid 的引用
type handled struct {
	inumber  uint32
	regNum   uint64 // 这个 inumber 第几次被使用，也叫 generation
	useCount int    // 内核 lookup 的次数，Forget 时归还
}

// nodeTable tracks what the kernel knows about each inumber. A removed inumber
// is handed out again by Create, so every reuse gets a new generation and the
// (NodeId, Generation) pair stays unique.
type nodeTable struct {
	sync.RWMutex
	handles map[uint32]*handled
	// 只记录被删除过的 inumber，其余都是第 1 代
	gens map[uint32]uint64
}

func newNodeTable() *nodeTable {
	return &nodeTable{
		handles: map[uint32]*handled{},
		gens:    map[uint32]uint64{},
	}
}

func (m *nodeTable) generationLocked(inumber uint32) uint64 {
	if gen, ok := m.gens[inumber]; ok {
		return gen
	}
	return 1
}

// Register counts one kernel lookup of inumber and returns its NodeId and
// generation.
func (m *nodeTable) Register(inumber uint32) (nodeID, regNum uint64) {
	m.Lock()
	defer m.Unlock()
	gen := m.generationLocked(inumber)
	obj, ok := m.handles[inumber]
	if !ok {
		obj = &handled{inumber: inumber}
		m.handles[inumber] = obj
	}
	obj.regNum = gen
	obj.useCount++
	return nodeOfInumber(inumber), obj.regNum
}

// Retire is called when inumber is removed so whoever gets the slot next sees
// a newer generation.
func (m *nodeTable) Retire(inumber uint32) {
	m.Lock()
	defer m.Unlock()
	m.gens[inumber] = m.generationLocked(inumber) + 1
}

func (m *nodeTable) Count() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.handles)
}

// Forget drops useCount lookups of nodeID and reports whether the kernel has
// let go of it entirely.
func (m *nodeTable) Forget(nodeID uint64, useCount int) (forgotten bool) {
	inumber, ok := inumberOfNode(nodeID)
	if !ok {
		return false
	}
	m.Lock()
	defer m.Unlock()
	obj, ok := m.handles[inumber]
	if !ok {
		log.Warnf("forget of unknown node %d", nodeID)
		return false
	}
	obj.useCount -= useCount
	if obj.useCount < 0 {
		log.Panicf("underflow: node %d, useCount %d, object %d", nodeID, useCount, obj.useCount)
	}
	if obj.useCount == 0 {
		delete(m.handles, inumber)
		forgotten = true
	}
	return forgotten
}
