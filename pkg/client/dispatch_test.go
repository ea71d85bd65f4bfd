package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakeops/warden/pkg/events"
	"github.com/stakeops/warden/pkg/storage"
	"github.com/stakeops/warden/pkg/types"
)

type fakeOps struct {
	mu     sync.Mutex
	active map[string]types.OperationKind
}

func newFakeOps() *fakeOps {
	return &fakeOps{active: make(map[string]types.OperationKind)}
}

func (f *fakeOps) Start(node string, kind types.OperationKind, startedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.active[node]; ok {
		return &types.BusyError{Target: node, Kind: existing, Since: time.Now().UTC()}
	}
	f.active[node] = kind
	return nil
}

func (f *fakeOps) Finish(node string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, node)
}

func (f *fakeOps) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

type fakeWindows struct {
	mu   sync.Mutex
	open map[string]types.OperationKind
}

func newFakeWindows() *fakeWindows {
	return &fakeWindows{open: make(map[string]types.OperationKind)}
}

func (f *fakeWindows) Start(node string, kind types.OperationKind, estimatedMinutes int, host string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.open[node]; ok {
		return &types.BusyError{Target: node, Kind: existing, Since: time.Now().UTC()}
	}
	f.open[node] = kind
	return nil
}

func (f *fakeWindows) End(node string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.open[node]; !ok {
		return false
	}
	delete(f.open, node)
	return true
}

func (f *fakeWindows) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

type fakeAudit struct {
	mu         sync.Mutex
	rows       map[uint]*storage.MaintenanceOperation
	nextID     uint
	failCreate bool
}

func newFakeAudit() *fakeAudit {
	return &fakeAudit{rows: make(map[uint]*storage.MaintenanceOperation)}
}

func (f *fakeAudit) CreateOperation(op *storage.MaintenanceOperation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return errors.New("database is locked")
	}
	f.nextID++
	op.ID = f.nextID
	saved := *op
	f.rows[op.ID] = &saved
	return nil
}

func (f *fakeAudit) CompleteOperation(id uint, status string, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return errors.New("row not found")
	}
	row.Status = status
	row.Error = errMsg
	return nil
}

func (f *fakeAudit) row(id uint) storage.MaintenanceOperation {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		return *row
	}
	return storage.MaintenanceOperation{}
}

type fakeBroker struct {
	mu     sync.Mutex
	events []*events.Event
}

func (f *fakeBroker) Publish(event *events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeBroker) eventTypes() []events.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]events.EventType, 0, len(f.events))
	for _, e := range f.events {
		kinds = append(kinds, e.Type)
	}
	return kinds
}

type dispatchHarness struct {
	dispatcher *Dispatcher
	ops        *fakeOps
	windows    *fakeWindows
	audit      *fakeAudit
	broker     *fakeBroker
}

func newDispatchHarness(t *testing.T, handler http.Handler) *dispatchHarness {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	agent := New(&Config{
		Host:    "val-host-1",
		BaseURL: server.URL,
		APIKey:  "secret-key",
		Timeout: 5 * time.Second,
	})
	agent.pollInterval = 10 * time.Millisecond

	h := &dispatchHarness{
		ops:     newFakeOps(),
		windows: newFakeWindows(),
		audit:   newFakeAudit(),
		broker:  &fakeBroker{},
	}
	h.dispatcher = NewDispatcher(&DispatcherConfig{
		Clients:    map[string]*Client{"val-host-1": agent},
		Operations: h.ops,
		Windows:    h.windows,
		Audit:      h.audit,
		Broker:     h.broker,
		RPCTimeout: 2 * time.Second,
	})
	h.dispatcher.restartPause = time.Millisecond
	return h
}

func (h *dispatchHarness) released() bool {
	return h.ops.count() == 0 && h.windows.count() == 0
}

func pruningRequest() *Request {
	return &Request{
		Node:      "node-1",
		Host:      "val-host-1",
		Kind:      types.OperationPruning,
		StartedBy: "schedule",
		Pruning: &types.PruningRequest{
			NodeName:     "node-1",
			ServiceName:  "osmosisd",
			DeployPath:   "/opt/osmosis",
			BlocksToKeep: 100000,
		},
	}
}

func ctxb() context.Context { return context.Background() }

func TestDispatchPruningLifecycle(t *testing.T) {
	h := newDispatchHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pruning/execute":
			writeJSON(w, http.StatusOK, types.AgentResponse{Success: true, JobID: "pruning_node-1_7"})
		case "/operation/status/pruning_node-1_7":
			writeJSON(w, http.StatusOK, types.AgentResponse{
				Success: true, JobID: "pruning_node-1_7", Status: "completed",
			})
		default:
			writeJSON(w, http.StatusNotFound, types.AgentResponse{Success: false, Error: "unexpected path"})
		}
	}))

	jobID, err := h.dispatcher.Dispatch(ctxb(), pruningRequest())
	require.NoError(t, err)
	assert.Equal(t, "pruning_node-1_7", jobID)

	require.Eventually(t, h.released, 2*time.Second, 10*time.Millisecond,
		"claims should be released once the job is terminal")

	row := h.audit.row(1)
	assert.Equal(t, storage.StatusCompleted, row.Status)
	assert.Equal(t, "pruning", row.Kind)
	assert.Equal(t, "node-1", row.TargetName)
	assert.Empty(t, row.Error)

	kinds := h.broker.eventTypes()
	assert.Contains(t, kinds, events.EventOperationStarted)
	assert.Contains(t, kinds, events.EventMaintenanceStarted)
	assert.Contains(t, kinds, events.EventOperationCompleted)
	assert.Contains(t, kinds, events.EventMaintenanceEnded)

	// Completion is announced while the window is still open.
	completedIdx, endedIdx := -1, -1
	for i, k := range kinds {
		switch k {
		case events.EventOperationCompleted:
			completedIdx = i
		case events.EventMaintenanceEnded:
			endedIdx = i
		}
	}
	assert.Less(t, completedIdx, endedIdx)
}

func TestDispatchBusyNodeRollsBackWindow(t *testing.T) {
	h := newDispatchHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("agent should not be contacted when the node is busy")
	}))
	require.NoError(t, h.ops.Start("node-1", types.OperationSnapshotCreate, "schedule"))

	_, err := h.dispatcher.Dispatch(ctxb(), pruningRequest())
	require.Error(t, err)
	assert.True(t, types.IsBusy(err))

	// The window claimed before the failed operation claim must not
	// stay open.
	assert.Equal(t, 0, h.windows.count())
	assert.Empty(t, h.broker.eventTypes())
}

func TestDispatchStartFailureReleasesClaims(t *testing.T) {
	h := newDispatchHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, types.AgentResponse{Success: false, Error: "pruner exploded"})
	}))

	_, err := h.dispatcher.Dispatch(ctxb(), pruningRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pruner exploded")

	assert.True(t, h.released())
	row := h.audit.row(1)
	assert.Equal(t, storage.StatusFailed, row.Status)
	assert.Contains(t, row.Error, "pruner exploded")

	kinds := h.broker.eventTypes()
	assert.Contains(t, kinds, events.EventOperationFailed)
}

func TestDispatchAuditFailureClosesClaims(t *testing.T) {
	h := newDispatchHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("agent should not be contacted when the audit insert fails")
	}))
	h.audit.failCreate = true

	_, err := h.dispatcher.Dispatch(ctxb(), pruningRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit record failed")
	assert.True(t, h.released())
	assert.Empty(t, h.broker.eventTypes())
}

func TestDispatchUnknownHost(t *testing.T) {
	h := newDispatchHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := pruningRequest()
	req.Host = "ghost-host"
	_, err := h.dispatcher.Dispatch(ctxb(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	assert.True(t, h.released())
}

func TestDispatchRejectsUnknownKind(t *testing.T) {
	h := newDispatchHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := pruningRequest()
	req.Kind = types.OperationKind("defrag")
	_, err := h.dispatcher.Dispatch(ctxb(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfigInvalid))
}

func TestDispatchJobFailureMarksAuditRow(t *testing.T) {
	h := newDispatchHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pruning/execute":
			writeJSON(w, http.StatusOK, types.AgentResponse{Success: true, JobID: "pruning_node-1_8"})
		default:
			writeJSON(w, http.StatusOK, types.AgentResponse{
				Success: true, JobID: "pruning_node-1_8", Status: "failed",
				Error: "cosmos-pruner exited with status 1",
			})
		}
	}))

	_, err := h.dispatcher.Dispatch(ctxb(), pruningRequest())
	require.NoError(t, err)

	require.Eventually(t, h.released, 2*time.Second, 10*time.Millisecond)

	row := h.audit.row(1)
	assert.Equal(t, storage.StatusFailed, row.Status)
	assert.Contains(t, row.Error, "cosmos-pruner exited with status 1")
	assert.Contains(t, h.broker.eventTypes(), events.EventOperationFailed)
}

func TestDispatchRestartSequence(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	h := newDispatchHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.URL.Path)
		mu.Unlock()

		switch r.URL.Path {
		case "/service/stop", "/service/start":
			writeJSON(w, http.StatusOK, types.AgentResponse{Success: true})
		case "/service/status":
			writeJSON(w, http.StatusOK, types.AgentResponse{Success: true, Status: "active"})
		default:
			writeJSON(w, http.StatusNotFound, types.AgentResponse{Success: false})
		}
	}))

	req := &Request{
		Node:      "hermes",
		Host:      "val-host-1",
		Kind:      types.OperationHermesRestart,
		StartedBy: "schedule",
		Service:   "hermes",
	}
	jobID, err := h.dispatcher.Dispatch(ctxb(), req)
	require.NoError(t, err)
	assert.Empty(t, jobID, "restarts run synchronously and have no agent job")

	require.Eventually(t, h.released, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"/service/stop", "/service/start", "/service/status"}, calls)
	mu.Unlock()

	assert.Equal(t, storage.StatusCompleted, h.audit.row(1).Status)
}

func TestDispatchRestartPostcondition(t *testing.T) {
	h := newDispatchHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/service/stop", "/service/start":
			writeJSON(w, http.StatusOK, types.AgentResponse{Success: true})
		case "/service/status":
			writeJSON(w, http.StatusOK, types.AgentResponse{Success: true, Status: "failed"})
		default:
			writeJSON(w, http.StatusNotFound, types.AgentResponse{Success: false})
		}
	}))

	req := &Request{
		Node:      "node-1",
		Host:      "val-host-1",
		Kind:      types.OperationRestart,
		StartedBy: "api",
		Service:   "osmosisd",
	}
	_, err := h.dispatcher.Dispatch(ctxb(), req)
	require.NoError(t, err)

	require.Eventually(t, h.released, 2*time.Second, 10*time.Millisecond)

	row := h.audit.row(1)
	assert.Equal(t, storage.StatusFailed, row.Status)
	assert.Contains(t, row.Error, "postcondition")
}

func TestDispatchResolvesTrustAnchor(t *testing.T) {
	rpc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status":
			fmt.Fprint(w, `{"result":{"sync_info":{"latest_block_height":"5000","catching_up":false},"validator_info":{"address":"AABB"}}}`)
		case "/block":
			assert.Equal(t, "3000", r.URL.Query().Get("height"))
			fmt.Fprint(w, `{"result":{"block_id":{"hash":"DEADBEEFCAFE"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer rpc.Close()

	var got types.StateSyncRequest
	h := newDispatchHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/state-sync/execute":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			writeJSON(w, http.StatusOK, types.AgentResponse{Success: true, JobID: "state_sync_node-1_3"})
		default:
			writeJSON(w, http.StatusOK, types.AgentResponse{
				Success: true, JobID: "state_sync_node-1_3", Status: "completed",
			})
		}
	}))

	req := &Request{
		Node:      "node-1",
		Host:      "val-host-1",
		Kind:      types.OperationStateSync,
		StartedBy: "api",
		StateSync: &types.StateSyncRequest{
			NodeName:    "node-1",
			ServiceName: "osmosisd",
			RPCServers:  []string{rpc.URL},
		},
	}
	_, err := h.dispatcher.Dispatch(ctxb(), req)
	require.NoError(t, err)

	require.Eventually(t, h.released, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(3000), got.TrustHeight)
	assert.Equal(t, "DEADBEEFCAFE", got.TrustHash)
}

func TestDispatchMissingPayload(t *testing.T) {
	h := newDispatchHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := pruningRequest()
	req.Pruning = nil
	_, err := h.dispatcher.Dispatch(ctxb(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfigInvalid))
	assert.True(t, h.released())
	assert.Equal(t, storage.StatusFailed, h.audit.row(1).Status)
}
