package capture

import (
	"encoding/binary"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/soliktomasz/BusLane-sub000/internal/storage/pebble"
)

// Recorder appends captured messages to the store and serves reads.
type Recorder struct {
	db *pebblestore.DB

	mu      sync.Mutex
	lastSeq map[string]uint64
}

// NewRecorder returns a Recorder over an open store.
func NewRecorder(db *pebblestore.DB) *Recorder {
	return &Recorder{db: db, lastSeq: map[string]uint64{}}
}

// Record appends one captured payload for entity and returns the assigned
// local sequence number.
func (r *Recorder) Record(entity string, receivedAt time.Time, payload []byte) (uint64, error) {
	if entity == "" {
		return 0, errors.New("capture: entity is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	seq, err := r.nextSeqLocked(entity)
	if err != nil {
		return 0, err
	}
	rec := encodeRecord(encodeHeader(receivedAt.UnixMilli()), payload)
	b := r.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyEntry(entity, seq), rec, nil); err != nil {
		return 0, err
	}
	var mb [8]byte
	binary.BigEndian.PutUint64(mb[:], seq)
	if err := b.Set(keyMeta(entity), mb[:], nil); err != nil {
		return 0, err
	}
	if err := r.db.CommitBatch(b); err != nil {
		return 0, err
	}
	r.lastSeq[entity] = seq
	return seq, nil
}

func (r *Recorder) nextSeqLocked(entity string) (uint64, error) {
	if last, ok := r.lastSeq[entity]; ok {
		return last + 1, nil
	}
	v, err := r.db.Get(keyMeta(entity))
	switch {
	case err == nil && len(v) >= 8:
		return binary.BigEndian.Uint64(v[:8]) + 1, nil
	case errors.Is(err, pebblestore.ErrNotFound):
		return 1, nil
	case err != nil:
		return 0, err
	default:
		return 1, nil
	}
}

// Entry is one captured message.
type Entry struct {
	Seq          uint64 `json:"seq"`
	ReceivedAtMs int64  `json:"receivedAtMs"`
	Payload      []byte `json:"payload"`
}

// ReadOptions controls Read. FromSeq zero starts at the first (or last, when
// Reverse) entry. Limit zero means no limit.
type ReadOptions struct {
	FromSeq uint64
	Limit   int
	Reverse bool
}

// Read returns captured entries for entity in sequence order, or descending
// when Reverse.
func (r *Recorder) Read(entity string, opts ReadOptions) ([]Entry, error) {
	low := keyEntry(entity, 0)
	hi := keyEntry(entity, ^uint64(0))
	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var items []Entry
	collect := func() bool {
		dec, ok := decodeRecord(iter.Value())
		if ok {
			items = append(items, Entry{
				Seq:          seqFromEntryKey(iter.Key()),
				ReceivedAtMs: decodeHeader(dec.header),
				Payload:      dec.payload,
			})
		}
		return opts.Limit == 0 || len(items) < opts.Limit
	}

	if opts.Reverse {
		ok := iter.Last()
		if opts.FromSeq > 0 {
			ok = iter.SeekLT(keyEntry(entity, opts.FromSeq+1))
		}
		for ; ok && iter.Valid(); ok = iter.Prev() {
			if !collect() {
				break
			}
		}
		return items, nil
	}

	ok := iter.First()
	if opts.FromSeq > 0 {
		ok = iter.SeekGE(keyEntry(entity, opts.FromSeq))
	}
	for ; ok && iter.Valid(); ok = iter.Next() {
		if !collect() {
			break
		}
	}
	return items, nil
}

// TrimToMaxBytes deletes oldest entries until the entity's total stored bytes
// fit within maxBytes. Returns the number of deleted entries.
func (r *Recorder) TrimToMaxBytes(entity string, maxBytes int64) (int, error) {
	if maxBytes <= 0 {
		return 0, nil
	}
	low := keyEntry(entity, 0)
	hi := keyEntry(entity, ^uint64(0))
	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return 0, err
	}

	type sized struct {
		seq  uint64
		size int64
	}
	var total int64
	var entries []sized
	for ok := iter.First(); ok && iter.Valid(); ok = iter.Next() {
		sz := int64(len(iter.Key()) + len(iter.Value()))
		total += sz
		entries = append(entries, sized{seq: seqFromEntryKey(iter.Key()), size: sz})
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	if total <= maxBytes {
		return 0, nil
	}

	b := r.db.NewBatch()
	defer b.Close()
	removed := 0
	for _, e := range entries {
		if total <= maxBytes {
			break
		}
		if err := b.Delete(keyEntry(entity, e.seq), nil); err != nil {
			return 0, err
		}
		total -= e.size
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	if err := r.db.CommitBatch(b); err != nil {
		return 0, err
	}
	return removed, nil
}

// Entities lists all entities with captured entries, sorted.
func (r *Recorder) Entities() ([]string, error) {
	iter, err := r.db.NewIter(&pebble.IterOptions{
		LowerBound: capPrefix,
		UpperBound: append(append([]byte(nil), capPrefix...), 0xff),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	seen := map[string]struct{}{}
	for ok := iter.First(); ok && iter.Valid(); ok = iter.Next() {
		k := string(iter.Key())
		// Entry keys end with "/e/" plus 8 binary bytes; only meta keys count.
		if len(k) >= len(entrySeg)+8 && k[len(k)-8-len(entrySeg):len(k)-8] == string(entrySeg) {
			continue
		}
		if !strings.HasSuffix(k, string(metaSuffix)) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(k, string(capPrefix)), string(metaSuffix))
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
