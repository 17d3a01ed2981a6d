package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"zkledger/storage"
)

// Manager is the ledger's keyed state store. Writes are buffered in a dirty
// set and journaled so a failed operation can be rolled back to a snapshot;
// Commit flushes the dirty set to the backing database atomically.
//
// Manager is not safe for concurrent use. The ledger facade serialises access.
type Manager struct {
	db      storage.Database
	dirty   map[string][]byte
	journal []journalEntry
}

type journalEntry struct {
	key       string
	prev      []byte
	prevDirty bool
}

// NewManager creates a state manager over db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string][]byte)}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) get(key []byte) ([]byte, error) {
	hashed := string(kvKey(key))
	if value, ok := m.dirty[hashed]; ok {
		return value, nil
	}
	value, err := m.db.Get([]byte(hashed))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (m *Manager) set(key []byte, value []byte) {
	hashed := string(kvKey(key))
	prev, prevDirty := m.dirty[hashed]
	m.journal = append(m.journal, journalEntry{key: hashed, prev: prev, prevDirty: prevDirty})
	m.dirty[hashed] = value
}

// KVPut stores the provided value under key using RLP encoding. The key is
// hashed with keccak256 before it reaches the database.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.set(key, encoded)
	return nil
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key. Deleting an absent key is not an error.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.set(key, nil)
	return nil
}

// Snapshot returns an identifier for the current write set.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot undoes every write made after the snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.prevDirty {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:id]
}

// Commit flushes buffered writes to the database in a single batch.
func (m *Manager) Commit() error {
	if len(m.dirty) == 0 {
		return nil
	}
	if err := m.db.Write(m.dirty); err != nil {
		return fmt.Errorf("state commit: %w", err)
	}
	m.dirty = make(map[string][]byte)
	m.journal = m.journal[:0]
	return nil
}

// Pending reports the number of keys written since the last commit.
func (m *Manager) Pending() int {
	return len(m.dirty)
}
