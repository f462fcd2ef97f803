// Package ledger persists the node's event stream to disk. Every committed
// record is a compressed JSON entry under a monotonically increasing
// sequence number, so operators can audit what the node observed and when.
package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/klauspost/compress/zstd"

	"PrivMesh/internal/events"
	"PrivMesh/internal/logger"
)

const (
	// syncInterval is the interval between WAL syncs. Commits are
	// non-blocking (NoSync); a background goroutine makes them durable.
	syncInterval = 100 * time.Millisecond

	// keyPrefix namespaces event records inside the database.
	keyPrefix = "e:"
)

// Record is one persisted event.
type Record struct {
	Seq       uint64          `json:"seq"`
	Event     string          `json:"event"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Ledger is an append-only event log backed by Pebble. Records are
// zstd-compressed JSON; sequence numbers survive restarts.
type Ledger struct {
	db  *pebble.DB
	enc *zstd.Encoder
	dec *zstd.Decoder

	seq atomic.Uint64 // seq is the last assigned sequence number

	stopSync chan struct{}
	wg       sync.WaitGroup
}

// Open opens (or creates) a ledger at the given path and recovers the last
// sequence number from disk.
func Open(path string) (*Ledger, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(8 << 20),
		MemTableSize: 8 << 20,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	l := &Ledger{
		db:       db,
		enc:      enc,
		dec:      dec,
		stopSync: make(chan struct{}),
	}

	last, err := l.lastSeq()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	l.seq.Store(last)

	l.startSyncLoop()

	return l, nil
}

// Commit appends one event record. The payload is marshaled to JSON; the
// write is buffered and synced by the background goroutine.
func (l *Ledger) Commit(event string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		raw = data
	}

	rec := Record{
		Seq:       l.seq.Add(1),
		Event:     event,
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	compressed := l.enc.EncodeAll(data, nil)

	if err := l.db.Set(recordKey(rec.Seq), compressed, pebble.NoSync); err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	return nil
}

// Recent returns up to n of the most recent records, oldest first.
func (l *Ledger) Recent(n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}

	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "\xff"),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger iterator: %w", err)
	}
	defer iter.Close()

	records := make([]Record, 0, n)
	for ok := iter.Last(); ok && len(records) < n; ok = iter.Prev() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		rec, err := l.decode(value)
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}

	// Reverse into ascending sequence order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	return records, nil
}

// Seq returns the last assigned sequence number.
func (l *Ledger) Seq() uint64 {
	return l.seq.Load()
}

// Attach subscribes the ledger to the bus so that every listed event type
// is committed as it is emitted. Commit failures are logged, never
// propagated to emitters.
func (l *Ledger) Attach(bus *events.Bus, types ...events.Type) {
	handler := func(t events.Type, payload any) {
		if err := l.Commit(string(t), payload); err != nil {
			logger.Warn("ledger commit failed", "event", string(t), "error", err)
		}
	}

	if len(types) == 0 {
		bus.SubscribeAll(handler)
		return
	}

	for _, t := range types {
		bus.Subscribe(t, handler)
	}
}

// Close stops the sync goroutine, performs a final sync and closes the
// database.
func (l *Ledger) Close() error {
	close(l.stopSync)
	l.wg.Wait()

	if err := l.db.LogData(nil, pebble.Sync); err != nil {
		return err
	}

	l.enc.Close()
	l.dec.Close()

	return l.db.Close()
}

// lastSeq recovers the highest committed sequence number.
func (l *Ledger) lastSeq() (uint64, error) {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "\xff"),
	})
	if err != nil {
		return 0, fmt.Errorf("ledger iterator: %w", err)
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}

	key := iter.Key()
	if len(key) != len(keyPrefix)+8 {
		return 0, fmt.Errorf("malformed ledger key %q", key)
	}

	return binary.BigEndian.Uint64(key[len(keyPrefix):]), nil
}

// decode decompresses and unmarshals one stored record.
func (l *Ledger) decode(value []byte) (Record, error) {
	data, err := l.dec.DecodeAll(value, nil)
	if err != nil {
		return Record{}, fmt.Errorf("decompress record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal record: %w", err)
	}

	return rec, nil
}

// recordKey builds the storage key for a sequence number. Big-endian
// encoding keeps lexicographic and numeric order identical.
func recordKey(seq uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], seq)

	return key
}

// startSyncLoop starts the background WAL sync goroutine.
func (l *Ledger) startSyncLoop() {
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()

		ticker := time.NewTicker(syncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = l.db.LogData(nil, pebble.Sync)
			case <-l.stopSync:
				return
			}
		}
	}()
}
