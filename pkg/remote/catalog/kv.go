package catalog

import (
	"bytes"
	"errors"
	"sort"
	"sync"
)

// ErrKeyNotFound is returned by Txn.Get for missing keys.
var ErrKeyNotFound = errors.New("key not found")

// Txn is a key/value transaction. Values returned by Get and passed to Scan
// callbacks are owned by the caller.
type Txn interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error

	// Scan calls fn for every key starting with prefix, in ascending order.
	// fn must not modify the transaction.
	Scan(prefix []byte, fn func(key, value []byte) error) error
}

// KV is the storage the catalog is persisted in. Update applies all changes
// made by fn atomically, or none of them if fn returns an error.
type KV interface {
	View(fn func(Txn) error) error
	Update(fn func(Txn) error) error
	Close() error
}

// MemoryKV is a KV held in process memory.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) View(fn func(Txn) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memoryTxn{base: m.data, readOnly: true})
}

func (m *MemoryKV) Update(fn func(Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn := &memoryTxn{base: m.data, pending: make(map[string][]byte)}
	if err := fn(txn); err != nil {
		return err
	}
	for k, v := range txn.pending {
		if v == nil {
			delete(m.data, k)
		} else {
			m.data[k] = v
		}
	}
	return nil
}

func (m *MemoryKV) Close() error {
	return nil
}

var errReadOnlyTxn = errors.New("write in read-only transaction")

// memoryTxn buffers writes in pending; a nil pending value marks a delete.
type memoryTxn struct {
	base     map[string][]byte
	pending  map[string][]byte
	readOnly bool
}

func (t *memoryTxn) Get(key []byte) ([]byte, error) {
	if v, ok := t.pending[string(key)]; ok {
		if v == nil {
			return nil, ErrKeyNotFound
		}
		return bytes.Clone(v), nil
	}
	v, ok := t.base[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(v), nil
}

func (t *memoryTxn) Set(key, value []byte) error {
	if t.readOnly {
		return errReadOnlyTxn
	}
	if value == nil {
		value = []byte{}
	}
	t.pending[string(key)] = bytes.Clone(value)
	return nil
}

func (t *memoryTxn) Delete(key []byte) error {
	if t.readOnly {
		return errReadOnlyTxn
	}
	t.pending[string(key)] = nil
	return nil
}

func (t *memoryTxn) Scan(prefix []byte, fn func(key, value []byte) error) error {
	p := string(prefix)
	keys := make([]string, 0)
	seen := make(map[string]struct{})

	for k := range t.pending {
		if len(k) >= len(p) && k[:len(p)] == p {
			keys = append(keys, k)
			seen[k] = struct{}{}
		}
	}
	for k := range t.base {
		if _, dup := seen[k]; dup {
			continue
		}
		if len(k) >= len(p) && k[:len(p)] == p {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, err := t.Get([]byte(k))
		if errors.Is(err, ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}
