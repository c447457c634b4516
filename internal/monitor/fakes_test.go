package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fentz26/recontrole/internal/models"
	"github.com/fentz26/recontrole/internal/notify"
)

// fakeSource serves a fixed snapshot.
type fakeSource struct {
	mu        sync.Mutex
	incidents []models.Incident
	err       error
	block     bool
	calls     int
	author    string
}

func (f *fakeSource) set(incidents ...models.Incident) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incidents = incidents
}

func (f *fakeSource) FetchAuthored(ctx context.Context, author string) ([]models.Incident, error) {
	f.mu.Lock()
	f.calls++
	f.author = author
	block, err := f.block, f.err
	out := append([]models.Incident(nil), f.incidents...)
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// memCache mirrors the store's cache semantics in memory.
type memCache struct {
	mu       sync.Mutex
	records  map[string]models.Incident
	readErr  error
	writeErr error
}

func newMemCache(records ...models.Incident) *memCache {
	c := &memCache{records: make(map[string]models.Incident)}
	for _, r := range records {
		c.records[r.ID] = r
	}
	return c
}

func (c *memCache) ReadAll(ctx context.Context) ([]models.Incident, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	out := make([]models.Incident, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *memCache) ReplaceAll(ctx context.Context, records []models.Incident) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.records = make(map[string]models.Incident)
	for _, r := range records {
		if r.Deleted || r.ID == "" {
			continue
		}
		c.records[r.ID] = r
	}
	return nil
}

func (c *memCache) get(id string) (models.Incident, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[id]
	return r, ok
}

// memLedger is an append-only in-memory notification history.
type memLedger struct {
	mu        sync.Mutex
	entries   []models.NotificationEntry
	lookupErr error
	recordErr error
	pruneErr  error
}

func (l *memLedger) RecordNotification(ctx context.Context, tr models.Transition, at time.Time) (*models.NotificationEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recordErr != nil {
		return nil, l.recordErr
	}
	e := models.NotificationEntry{
		IncidentID: tr.IncidentID,
		OldStatus:  tr.Old,
		NewStatus:  tr.New,
		NotifiedAt: at,
	}
	l.entries = append(l.entries, e)
	return &e, nil
}

func (l *memLedger) LastNotifiedStatus(ctx context.Context, id string) (models.Status, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lookupErr != nil {
		return models.StatusPending, false, l.lookupErr
	}
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].IncidentID == id {
			return l.entries[i].NewStatus, true, nil
		}
	}
	return models.StatusPending, false, nil
}

func (l *memLedger) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pruneErr != nil {
		return 0, l.pruneErr
	}
	kept := l.entries[:0]
	var pruned int64
	for _, e := range l.entries {
		if e.NotifiedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return pruned, nil
}

func (l *memLedger) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// recordingDispatcher captures dispatched notifications.
type recordingDispatcher struct {
	mu    sync.Mutex
	sent  []notify.Notification
	panic bool
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, n notify.Notification) {
	if d.panic {
		panic("dispatcher exploded")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type staticAuth struct {
	id string
}

func (a staticAuth) CurrentUserID() (string, bool) { return a.id, a.id != "" }

// memRecorder keeps recorded cycles.
type memRecorder struct {
	mu     sync.Mutex
	cycles []models.Cycle
}

func (r *memRecorder) Record(ctx context.Context, c models.Cycle, remote []models.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, c)
	return nil
}

// fakeClock advances one second per reading.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

var granted = notify.PermissionFunc(func(context.Context) bool { return true })

// harness bundles a task with its fakes.
type harness struct {
	source     *fakeSource
	cache      *memCache
	ledger     *memLedger
	dispatcher *recordingDispatcher
	recorder   *memRecorder
	clock      *fakeClock
	task       *Task
}

func newHarness(cached ...models.Incident) *harness {
	h := &harness{
		source:     &fakeSource{},
		cache:      newMemCache(cached...),
		ledger:     &memLedger{},
		dispatcher: &recordingDispatcher{},
		recorder:   &memRecorder{},
		clock:      newFakeClock(),
	}
	h.task = New(h.source, h.cache, h.ledger, h.dispatcher, staticAuth{id: "U"}, granted,
		WithRecorder(h.recorder),
		WithClock(h.clock.Now),
	)
	return h
}

func incident(id string, status models.Status) models.Incident {
	return models.Incident{ID: id, Status: status, Category: "Mouse", Location: "Lab3", Author: "U"}
}
