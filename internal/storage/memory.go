package storage

import (
	"strings"
	"sync"
)

// MemoryDB implements DB using an in-memory map.
type MemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates a new in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// Put stores a key-value pair.
func (m *MemoryDB) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = copyBytes(value)
	return nil
}

// Delete removes a key.
func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

// Has checks if a key exists.
func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

// ForEach iterates over all keys with the given prefix.
// Iteration works on a snapshot so fn may write to the database.
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	p := string(prefix)
	type kv struct {
		k string
		v []byte
	}
	m.mu.RLock()
	var snap []kv
	for k, v := range m.data {
		if strings.HasPrefix(k, p) {
			snap = append(snap, kv{k, v})
		}
	}
	m.mu.RUnlock()

	for _, e := range snap {
		if err := fn([]byte(e.k), e.v); err != nil {
			return err
		}
	}
	return nil
}

// DropPrefix deletes every key starting with prefix.
func (m *MemoryDB) DropPrefix(prefix []byte) error {
	p := string(prefix)
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if strings.HasPrefix(k, p) {
			delete(m.data, k)
		}
	}
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	return nil
}

// NewBatch returns a batch applied under a single write lock.
func (m *MemoryDB) NewBatch() Batch {
	return &memoryBatch{db: m}
}

type memoryOp struct {
	key   string
	value []byte // nil means delete
}

type memoryBatch struct {
	db  *MemoryDB
	ops []memoryOp
}

func (mb *memoryBatch) Put(key, value []byte) error {
	v := copyBytes(value)
	if v == nil {
		v = []byte{}
	}
	mb.ops = append(mb.ops, memoryOp{key: string(key), value: v})
	return nil
}

func (mb *memoryBatch) Delete(key []byte) error {
	mb.ops = append(mb.ops, memoryOp{key: string(key)})
	return nil
}

func (mb *memoryBatch) Commit() error {
	mb.db.mu.Lock()
	defer mb.db.mu.Unlock()
	for _, op := range mb.ops {
		if op.value == nil {
			delete(mb.db.data, op.key)
		} else {
			mb.db.data[op.key] = op.value
		}
	}
	mb.ops = nil
	return nil
}
