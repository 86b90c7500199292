package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"surveyledger/storage"
)

var errJournalClosed = errors.New("state: journal already closed")

type journalEntry struct {
	value   []byte
	deleted bool
}

// Journal buffers writes on top of committed state. Reads observe the
// journal's own writes first. Commit flushes every buffered write in one
// storage batch; Discard drops them. A journal is single use and not safe for
// concurrent use.
type Journal struct {
	db      storage.Database
	pending map[string]journalEntry
	order   []string
	closed  bool
}

// KVPut buffers an RLP-encoded write.
func (j *Journal) KVPut(key []byte, value interface{}) error {
	if j.closed {
		return errJournalClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	j.record(kvKey(key), journalEntry{value: encoded})
	return nil
}

// KVGet reads through the journal to committed state.
func (j *Journal) KVGet(key []byte, out interface{}) (bool, error) {
	if j.closed {
		return false, errJournalClosed
	}
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	if entry, ok := j.pending[string(hashed)]; ok {
		if entry.deleted {
			return false, nil
		}
		return decodeInto(entry.value, out)
	}
	data, err := j.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return decodeInto(data, out)
}

// KVDelete buffers a removal.
func (j *Journal) KVDelete(key []byte) error {
	if j.closed {
		return errJournalClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	j.record(kvKey(key), journalEntry{deleted: true})
	return nil
}

func (j *Journal) record(hashed []byte, entry journalEntry) {
	k := string(hashed)
	if _, exists := j.pending[k]; !exists {
		j.order = append(j.order, k)
	}
	j.pending[k] = entry
}

// Dirty reports the number of distinct keys touched by the journal.
func (j *Journal) Dirty() int { return len(j.order) }

// Commit writes the buffered changes atomically and closes the journal.
func (j *Journal) Commit() error {
	if j.closed {
		return errJournalClosed
	}
	j.closed = true
	batch := storage.NewBatch()
	for _, k := range j.order {
		entry := j.pending[k]
		if entry.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), entry.value)
	}
	return j.db.Write(batch)
}

// Discard drops the buffered changes. Discarding a closed journal is a no-op
// so callers can defer it unconditionally.
func (j *Journal) Discard() {
	if j.closed {
		return
	}
	j.closed = true
	j.pending = nil
	j.order = nil
}
