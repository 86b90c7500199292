package events

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"surveyledger/core/types"
	"surveyledger/storage"
)

var (
	logHeadKey      = []byte("events/head")
	logRecordPrefix = []byte("events/record/")
)

type storedAttribute struct {
	Key   string
	Value string
}

type storedRecord struct {
	Sequence   uint64
	Type       string
	Attributes []storedAttribute
}

func recordKey(seq uint64) []byte {
	key := make([]byte, len(logRecordPrefix)+8)
	copy(key, logRecordPrefix)
	binary.BigEndian.PutUint64(key[len(logRecordPrefix):], seq)
	return key
}

func encodeRecord(record Record) ([]byte, error) {
	stored := storedRecord{Sequence: record.Sequence}
	if record.Event != nil {
		stored.Type = record.Event.Type
		keys := make([]string, 0, len(record.Event.Attributes))
		for k := range record.Event.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			stored.Attributes = append(stored.Attributes, storedAttribute{Key: k, Value: record.Event.Attributes[k]})
		}
	}
	return rlp.EncodeToBytes(stored)
}

func decodeRecord(data []byte) (Record, error) {
	var stored storedRecord
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return Record{}, err
	}
	evt := &types.Event{Type: stored.Type, Attributes: make(map[string]string, len(stored.Attributes))}
	for _, attr := range stored.Attributes {
		evt.Attributes[attr.Key] = attr.Value
	}
	return Record{Sequence: stored.Sequence, Event: evt}, nil
}

// LoadLog rebuilds the log from the records persisted in db. An empty
// database yields an empty log.
func LoadLog(db storage.Database) (*Log, error) {
	log := NewLog()
	raw, err := db.Get(logHeadKey)
	if errors.Is(err, storage.ErrNotFound) {
		return log, nil
	}
	if err != nil {
		return nil, fmt.Errorf("events: load head: %w", err)
	}
	if len(raw) != 8 {
		return nil, fmt.Errorf("events: corrupt head")
	}
	head := binary.BigEndian.Uint64(raw)
	log.records = make([]Record, 0, head)
	for seq := uint64(1); seq <= head; seq++ {
		data, err := db.Get(recordKey(seq))
		if err != nil {
			return nil, fmt.Errorf("events: load record %d: %w", seq, err)
		}
		record, err := decodeRecord(data)
		if err != nil {
			return nil, fmt.Errorf("events: decode record %d: %w", seq, err)
		}
		if record.Sequence != seq {
			return nil, fmt.Errorf("events: record %d stored as %d", seq, record.Sequence)
		}
		log.records = append(log.records, record)
	}
	return log, nil
}

// Stage queues the records after seq, and the new head, on batch.
func (l *Log) Stage(seq uint64, batch *storage.Batch) error {
	records := l.Since(seq)
	if len(records) == 0 {
		return nil
	}
	for _, record := range records {
		data, err := encodeRecord(record)
		if err != nil {
			return fmt.Errorf("events: encode record %d: %w", record.Sequence, err)
		}
		batch.Put(recordKey(record.Sequence), data)
	}
	head := make([]byte, 8)
	binary.BigEndian.PutUint64(head, records[len(records)-1].Sequence)
	batch.Put(logHeadKey, head)
	return nil
}
