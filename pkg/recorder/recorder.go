package recorder

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/okamiya/dexrig/pkg/events"
)

// Journal persists every bus event to a Pebble database so a session can be
// replayed or audited after the process exits. Keys sort by time:
//
//	ev:<unix-ms, 20 digits>:<seq, 12 digits> → Entry JSON
//
// The sequence breaks ties between events recorded in the same millisecond.
type Journal struct {
	db  *pebble.DB
	log *zap.SugaredLogger

	mu   sync.Mutex
	seq  uint64
	subs []*events.Subscription
}

// Entry is the stored form of one event. Payload stays raw JSON so readers
// can decode it against whatever type the tag implies.
type Entry struct {
	Type    string          `json:"type"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func Open(path string, log *zap.SugaredLogger) (*Journal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db, log: log}, nil
}

// Attach subscribes the journal to every event tag on bus. Detach undoes it.
func (j *Journal) Attach(bus *events.Bus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, t := range events.AllTypes() {
		j.subs = append(j.subs, bus.Subscribe(t, events.ListenerFunc(j.record)))
	}
}

func (j *Journal) Detach(bus *events.Bus) {
	j.mu.Lock()
	subs := j.subs
	j.subs = nil
	j.mu.Unlock()
	for _, sub := range subs {
		bus.Unsubscribe(sub)
	}
}

func (j *Journal) record(ev events.Event) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		if j.log != nil {
			j.log.Warnw("journal: payload not serializable", "type", ev.Type, "err", err)
		}
		payload = nil
	}
	entry := Entry{Type: ev.Type.String(), Time: ev.Time, Payload: payload}
	data, err := json.Marshal(entry)
	if err != nil {
		if j.log != nil {
			j.log.Warnw("journal: encode failed", "type", ev.Type, "err", err)
		}
		return
	}

	j.mu.Lock()
	j.seq++
	key := eventKey(ev.Time.UnixMilli(), j.seq)
	j.mu.Unlock()

	if err := j.db.Set(key, data, pebble.NoSync); err != nil && j.log != nil {
		j.log.Warnw("journal: write failed", "type", ev.Type, "err", err)
	}
}

// Recent returns up to limit stored entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	prefix := []byte(prefixEvent)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Entry
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var entry Entry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Key schema:
//
//	ev:<timestamp>:<seq> → event entry
//
// Timestamp and sequence are zero-padded for lexicographic sorting.
const prefixEvent = "ev:"

func eventKey(unixMilli int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%012d", prefixEvent, unixMilli, seq))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
