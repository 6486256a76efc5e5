// Package timeseries holds the append-only sequence of population snapshots.
package timeseries

import (
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/sehir-simulator/model"
)

// ErrOutOfOrder indicates a snapshot whose step does not follow the latest one.
var ErrOutOfOrder = errors.New("snapshot step out of order")

// Series is an in-memory, thread-safe, append-only store of snapshots.
type Series struct {
	mu sync.RWMutex

	snapshots []model.Snapshot

	subs   map[int]func(model.Snapshot)
	nextID int
}

// New constructs an empty series.
func New() *Series {
	return &Series{subs: make(map[int]func(model.Snapshot))}
}

// Append adds s at the end of the series. The first snapshot may carry any
// step; each later one must be exactly one more than its predecessor.
// Subscribers are not called; see Publish.
func (ts *Series) Append(s model.Snapshot) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if n := len(ts.snapshots); n > 0 {
		last := ts.snapshots[n-1].Step
		if s.Step != last+1 {
			return fmt.Errorf("%w: got step %d after %d", ErrOutOfOrder, s.Step, last)
		}
	}
	ts.snapshots = append(ts.snapshots, s)
	return nil
}

// Publish hands s to every subscriber in registration order. It holds no
// lock while subscribers run, so they may read the series; callers publish
// once they have released any lock a subscriber could need.
func (ts *Series) Publish(s model.Snapshot) {
	ts.mu.RLock()
	subs := make([]func(model.Snapshot), 0, len(ts.subs))
	for id := 0; id < ts.nextID; id++ {
		if fn, ok := ts.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	ts.mu.RUnlock()

	for _, fn := range subs {
		fn(s)
	}
}

// All returns a copy of every snapshot in step order.
func (ts *Series) All() []model.Snapshot {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return append([]model.Snapshot(nil), ts.snapshots...)
}

// Latest returns the most recent snapshot, or false when empty.
func (ts *Series) Latest() (model.Snapshot, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if len(ts.snapshots) == 0 {
		return model.Snapshot{}, false
	}
	return ts.snapshots[len(ts.snapshots)-1], true
}

// At returns the snapshot for step, or false if the series does not hold it.
func (ts *Series) At(step int) (model.Snapshot, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if len(ts.snapshots) == 0 {
		return model.Snapshot{}, false
	}
	idx := step - ts.snapshots[0].Step
	if idx < 0 || idx >= len(ts.snapshots) {
		return model.Snapshot{}, false
	}
	return ts.snapshots[idx], true
}

// Subscribe registers fn to be called on every Publish, in registration
// order. It returns an unsubscribe function that is safe to call twice.
func (ts *Series) Subscribe(fn func(model.Snapshot)) (unsubscribe func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	id := ts.nextID
	ts.nextID++
	ts.subs[id] = fn

	return func() {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		delete(ts.subs, id)
	}
}
