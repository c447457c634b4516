package controlplane

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/recontrole/internal/models"
	"github.com/fentz26/recontrole/internal/monitor"
	"github.com/fentz26/recontrole/internal/notify"
	"github.com/fentz26/recontrole/internal/remote"
	"github.com/fentz26/recontrole/internal/scheduler"
	"github.com/fentz26/recontrole/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReports struct {
	mu      sync.Mutex
	all     []models.Incident
	err     error
	created []remote.NewReport
	deleted []string
}

func (f *fakeReports) FetchAll(ctx context.Context) ([]models.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Incident(nil), f.all...), nil
}

func (f *fakeReports) Create(ctx context.Context, author string, r remote.NewReport) (*models.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, r)
	return &models.Incident{
		ID:          "new-1",
		Status:      models.StatusPending,
		Category:    r.Category,
		Location:    r.Location,
		Author:      author,
		Description: r.Description,
		Photo:       r.Photo,
		CreatedAt:   time.UnixMilli(1700000000000),
	}, nil
}

func (f *fakeReports) SoftDelete(ctx context.Context, id, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inc := range f.all {
		if inc.ID != id {
			continue
		}
		if inc.Author != userID {
			return remote.ErrNotAuthor
		}
		f.deleted = append(f.deleted, id)
		return nil
	}
	return remote.ErrNotFound
}

func (f *fakeReports) FetchAuthored(ctx context.Context, author string) ([]models.Incident, error) {
	all, err := f.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Incident
	for _, inc := range all {
		if inc.Author == author {
			out = append(out, inc)
		}
	}
	return out, nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, n notify.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
}

func (d *recordingDispatcher) ids() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.sent))
	for _, n := range d.sent {
		ids = append(ids, n.IncidentID)
	}
	return ids
}

type userAuth string

func (u userAuth) CurrentUserID() (string, bool) { return string(u), u != "" }

type fakeWork struct {
	info      scheduler.WorkInfo
	triggered int
}

func (f *fakeWork) Status(name string) (scheduler.WorkInfo, bool) {
	if name != f.info.Name {
		return scheduler.WorkInfo{}, false
	}
	return f.info, true
}

func (f *fakeWork) RunNow(name string) bool {
	if name != f.info.Name {
		return false
	}
	f.triggered++
	return true
}

func newTestServer(t *testing.T, user string) (*Server, *store.Store, *fakeReports) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reports := &fakeReports{}
	service := NewService(st, reports, userAuth(user))
	return NewServer(service, "127.0.0.1:0"), st, reports
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func incident(id, author, location string, status models.Status) models.Incident {
	return models.Incident{
		ID:          id,
		Status:      status,
		Category:    "Lighting",
		Location:    location,
		Author:      author,
		Description: "lamp out",
		CreatedAt:   time.UnixMilli(1700000000000),
	}
}

func TestHealthEndpoint_OK(t *testing.T) {
	s, _, _ := newTestServer(t, "u1")

	w := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.True(t, health.OK)
	assert.Equal(t, "ok", health.DB)
	assert.NotEmpty(t, health.Version)
	assert.NotEmpty(t, health.Time)
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer(t, "u1")

	w := do(t, s, http.MethodPost, "/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthEndpoint_DBError(t *testing.T) {
	s, st, _ := newTestServer(t, "u1")
	require.NoError(t, st.Close())

	w := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.False(t, health.OK)
	assert.NotEqual(t, "ok", health.DB)
}

func TestListReports_ServesCache(t *testing.T) {
	s, st, reports := newTestServer(t, "u1")
	reports.err = errors.New("remote must not be called")

	require.NoError(t, st.ReplaceAll(context.Background(), []models.Incident{
		incident("a", "u1", "Lab 2", models.StatusPending),
		incident("b", "u2", "Lab 1", models.StatusFinished),
	}))

	w := do(t, s, http.MethodGet, "/reports", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var groups []models.LocationGroup
	require.NoError(t, json.NewDecoder(w.Body).Decode(&groups))
	require.Len(t, groups, 2)
	assert.Equal(t, "Lab 1", groups[0].Location)
	assert.Equal(t, "b", groups[0].Incidents[0].ID)
	assert.Equal(t, models.StatusFinished, groups[0].Incidents[0].Status)
}

func TestListReports_RefreshReplacesCache(t *testing.T) {
	s, st, reports := newTestServer(t, "u1")
	ctx := context.Background()

	require.NoError(t, st.ReplaceAll(ctx, []models.Incident{
		incident("mine", "u1", "Lab 1", models.StatusPending),
		incident("theirs", "u2", "Lab 1", models.StatusPending),
	}))
	gone := incident("gone", "u2", "Lab 3", models.StatusPending)
	gone.Deleted = true
	reports.all = []models.Incident{
		incident("mine", "u1", "Lab 1", models.StatusFinished),
		incident("theirs", "u2", "Lab 1", models.StatusInProgress),
		gone,
	}

	w := do(t, s, http.MethodGet, "/reports?refresh=true", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var groups []models.LocationGroup
	require.NoError(t, json.NewDecoder(w.Body).Decode(&groups))
	require.Len(t, groups, 1, "deleted reports are not listed")

	for _, id := range []string{"mine", "theirs"} {
		cached, err := st.FindByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, cached)
	}
	cached, err := st.FindByID(ctx, "mine")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, cached.Status)
}

func TestMonitorCycleKeepsOtherUsersReports(t *testing.T) {
	s, st, reports := newTestServer(t, "u1")
	ctx := context.Background()

	reports.all = []models.Incident{
		incident("mine", "u1", "Lab 1", models.StatusPending),
		incident("theirs", "u2", "Lab 2", models.StatusPending),
	}
	w := do(t, s, http.MethodGet, "/reports?refresh=true", nil)
	require.Equal(t, http.StatusOK, w.Code)

	sent := &recordingDispatcher{}
	task := monitor.New(reports, st.Baseline(), st, sent, userAuth("u1"),
		notify.PermissionFunc(func(context.Context) bool { return true }))

	rep := task.RunCycle(ctx)
	require.Equal(t, scheduler.Success, rep.Outcome)

	// A status change after a list refresh is still seen by the monitor.
	reports.mu.Lock()
	reports.all[0].Status = models.StatusFinished
	reports.mu.Unlock()
	w = do(t, s, http.MethodGet, "/reports?refresh=true", nil)
	require.Equal(t, http.StatusOK, w.Code)

	rep = task.RunCycle(ctx)
	require.Equal(t, scheduler.Success, rep.Outcome)
	assert.Equal(t, 1, rep.Transitions)
	require.Len(t, sent.ids(), 1)
	assert.Equal(t, "mine", sent.ids()[0])

	w = do(t, s, http.MethodGet, "/reports", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var groups []models.LocationGroup
	require.NoError(t, json.NewDecoder(w.Body).Decode(&groups))

	listed := map[string]bool{}
	for _, g := range groups {
		for _, inc := range g.Incidents {
			listed[inc.ID] = true
		}
	}
	assert.True(t, listed["mine"])
	assert.True(t, listed["theirs"], "other users' reports survive a monitor cycle")
}

func TestListReports_Unauthenticated(t *testing.T) {
	s, _, _ := newTestServer(t, "")

	w := do(t, s, http.MethodGet, "/reports", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListReports_RemoteFailure(t *testing.T) {
	s, _, reports := newTestServer(t, "u1")
	reports.err = errors.New("boom")

	w := do(t, s, http.MethodGet, "/reports?refresh=1", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCreateReport(t *testing.T) {
	s, st, reports := newTestServer(t, "u1")
	photo := base64.StdEncoding.EncodeToString([]byte("jpeg"))

	w := do(t, s, http.MethodPost, "/reports", createReportRequest{
		Category:    "Lighting",
		Location:    "Lab 1",
		Description: "lamp out",
		Photo:       photo,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var inc models.Incident
	require.NoError(t, json.NewDecoder(w.Body).Decode(&inc))
	assert.Equal(t, "new-1", inc.ID)
	assert.Equal(t, "u1", inc.Author)
	assert.Equal(t, models.StatusPending, inc.Status)
	require.Len(t, reports.created, 1)

	cached, err := st.FindByID(context.Background(), "new-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, photo, cached.Photo)
}

func TestCreateReport_Invalid(t *testing.T) {
	s, _, reports := newTestServer(t, "u1")

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing fields", createReportRequest{Category: "Lighting"}},
		{"bad photo", createReportRequest{Category: "c", Location: "l", Description: "d", Photo: "%%%"}},
		{"not json", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/reports", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, reports.created)
}

func TestDeleteReport(t *testing.T) {
	s, st, reports := newTestServer(t, "u1")
	ctx := context.Background()
	reports.all = []models.Incident{
		incident("mine", "u1", "Lab 1", models.StatusPending),
		incident("theirs", "u2", "Lab 1", models.StatusPending),
	}
	require.NoError(t, st.ReplaceAll(ctx, reports.all))

	w := do(t, s, http.MethodDelete, "/reports/mine", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"mine"}, reports.deleted)

	cached, err := st.FindByID(ctx, "mine")
	require.NoError(t, err)
	assert.Nil(t, cached)

	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodDelete, "/reports/theirs", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/reports/nope", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodGet, "/reports/mine", nil).Code)
}

func TestMonitorEndpoints(t *testing.T) {
	s, st, _ := newTestServer(t, "u1")
	ctx := context.Background()

	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/monitor/run", nil).Code,
		"nothing scheduled in this process")

	work := &fakeWork{info: scheduler.WorkInfo{Name: "occurrence_monitor_work", State: scheduler.StateEnqueued}}
	s.service.AttachScheduler(work, "occurrence_monitor_work")

	start := time.Unix(1700000000, 0)
	require.NoError(t, st.WriteCycle(ctx, models.Cycle{
		ID:        "c1",
		StartedAt: start,
		EndedAt:   start.Add(time.Second),
		Outcome:   scheduler.Success.String(),
		Reason:    "completed",
		Fetched:   3,
	}))

	w := do(t, s, http.MethodGet, "/monitor?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status MonitorStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.True(t, status.Scheduled)
	require.Len(t, status.Cycles, 1)
	assert.Equal(t, "c1", status.Cycles[0].ID)
	assert.Equal(t, 3, status.Cycles[0].Fetched)

	assert.Equal(t, http.StatusAccepted, do(t, s, http.MethodPost, "/monitor/run", nil).Code)
	assert.Equal(t, 1, work.triggered)
}

func TestLedgerEndpoint(t *testing.T) {
	s, st, _ := newTestServer(t, "u1")
	ctx := context.Background()

	_, err := st.RecordNotification(ctx, models.Transition{
		IncidentID: "a",
		Old:        models.StatusPending,
		New:        models.StatusInProgress,
	}, time.Now())
	require.NoError(t, err)

	w := do(t, s, http.MethodGet, "/ledger/a", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var entries []models.NotificationEntry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, models.StatusInProgress, entries[0].NewStatus)

	w = do(t, s, http.MethodGet, "/ledger/unknown", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestReportsWithoutRemote(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()

	s := NewServer(NewService(st, nil, userAuth("u1")), "127.0.0.1:0")

	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/reports", nil).Code)

	require.NoError(t, st.ReplaceAll(context.Background(), []models.Incident{
		incident("a", "u1", "Lab 1", models.StatusPending),
	}))
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/reports", nil).Code, "cache still served")
}
