package manager

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stakeops/warden/pkg/client"
	"github.com/stakeops/warden/pkg/events"
	"github.com/stakeops/warden/pkg/metrics"
	"github.com/stakeops/warden/pkg/storage"
	"github.com/stakeops/warden/pkg/types"
)

// router builds the operator API. /healthz, /readyz and /metrics stay
// open; /api/v1 requires the bearer key when one is configured, and
// runs unauthenticated when the key reference is empty (localhost
// setups).
func (m *Manager) router(apiKey string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), m.requestLogger())

	r.GET("/healthz", m.handleHealthz)
	r.GET("/readyz", m.handleReadyz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/api/v1")
	if apiKey != "" {
		v1.Use(requireBearer(apiKey))
	}
	v1.GET("/status", m.handleFleetStatus)
	v1.GET("/nodes", m.handleNodes)
	v1.GET("/operations", m.handleOperations)
	v1.GET("/health-records", m.handleHealthRecords)
	v1.POST("/operations/:kind", m.handleDispatch)
	v1.POST("/maintenance/:node/end", m.handleMaintenanceEnd)
	v1.GET("/events", m.handleEvents)

	return r
}

// Handler exposes the assembled routes for tests.
func (m *Manager) Handler() http.Handler {
	return m.http.Handler
}

func (m *Manager) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.logger.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("api request")
	}
}

func requireBearer(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": types.ErrAuthFailed.Error(),
			})
			return
		}
		c.Next()
	}
}

// apiError maps the shared error taxonomy onto status codes, matching
// the agent surface: busy 409, not found 404, invalid 400.
func (m *Manager) apiError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var busy *types.BusyError
	switch {
	case errors.As(err, &busy):
		status = http.StatusConflict
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrConfigInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrAuthFailed):
		status = http.StatusUnauthorized
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (m *Manager) handleHealthz(c *gin.Context) {
	health := metrics.GetHealth()
	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, health)
}

func (m *Manager) handleReadyz(c *gin.Context) {
	readiness := metrics.GetReadiness()
	code := http.StatusOK
	if readiness.Status != "ready" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, readiness)
}

// fleetNode is one node's row in the fleet status document
type fleetNode struct {
	Name          string            `json:"name"`
	Network       string            `json:"network"`
	Host          string            `json:"host"`
	Enabled       bool              `json:"enabled"`
	InMaintenance bool              `json:"in_maintenance"`
	Health        *types.NodeHealth `json:"health,omitempty"`
}

// fleetService is a hermes or ETL row in the fleet status document
type fleetService struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Service  string `json:"service"`
	Enabled  bool   `json:"enabled,omitempty"`
	Schedule string `json:"restart_schedule,omitempty"`
}

type fleetStatus struct {
	Nodes       []fleetNode               `json:"nodes"`
	Hermes      []fleetService            `json:"hermes"`
	ETL         []fleetService            `json:"etl"`
	Operations  []types.ActiveOperation   `json:"operations"`
	Maintenance []types.MaintenanceWindow `json:"maintenance"`
}

func (m *Manager) handleFleetStatus(c *gin.Context) {
	health := m.monitor.Snapshot()

	doc := fleetStatus{
		Nodes:       make([]fleetNode, 0),
		Hermes:      make([]fleetService, 0),
		ETL:         make([]fleetService, 0),
		Operations:  m.ops.List(),
		Maintenance: m.windows.List(),
	}

	for _, n := range m.cfg.AllNodes() {
		row := fleetNode{
			Name:          n.Name,
			Network:       n.Network,
			Host:          n.Host,
			Enabled:       n.Enabled,
			InMaintenance: m.windows.InMaintenance(n.Name),
		}
		if h, ok := health[n.Name]; ok {
			row.Health = &h
		}
		doc.Nodes = append(doc.Nodes, row)
	}
	for _, h := range m.cfg.AllHermes() {
		doc.Hermes = append(doc.Hermes, fleetService{
			Name:     h.Name,
			Host:     h.Host,
			Service:  h.ServiceName,
			Schedule: h.RestartSchedule,
		})
	}
	for _, e := range m.cfg.AllETL() {
		doc.ETL = append(doc.ETL, fleetService{
			Name:    e.Name,
			Host:    e.Host,
			Service: e.ServiceName,
			Enabled: e.Enabled,
		})
	}

	c.JSON(http.StatusOK, doc)
}

// nodeDoc is the per-node view returned by /api/v1/nodes
type nodeDoc struct {
	Name             string `json:"name"`
	Network          string `json:"network"`
	Host             string `json:"host"`
	RPCURL           string `json:"rpc_url,omitempty"`
	Enabled          bool   `json:"enabled"`
	PruningSchedule  string `json:"pruning_schedule,omitempty"`
	SnapshotSchedule string `json:"snapshot_schedule,omitempty"`
}

func (m *Manager) handleNodes(c *gin.Context) {
	nodes := make([]nodeDoc, 0)
	for _, n := range m.cfg.AllNodes() {
		nodes = append(nodes, nodeDoc{
			Name:             n.Name,
			Network:          n.Network,
			Host:             n.Host,
			RPCURL:           n.RPCURL,
			Enabled:          n.Enabled,
			PruningSchedule:  n.PruningSchedule,
			SnapshotSchedule: n.SnapshotSchedule,
		})
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

func (m *Manager) handleOperations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	rows, err := m.store.ListOperations(storage.OperationFilter{
		TargetName: c.Query("target"),
		Status:     c.Query("status"),
		Limit:      limit,
	})
	if err != nil {
		m.apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": rows})
}

func (m *Manager) handleHealthRecords(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	records, err := m.store.ListHealthRecords(c.Query("node"), limit)
	if err != nil {
		m.apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// dispatchRequest is the manual-operation body. Everything else the
// agent needs comes from the target's configuration.
type dispatchRequest struct {
	Node         string `json:"node"`
	SnapshotPath string `json:"snapshot_path,omitempty"`
}

func (m *Manager) handleDispatch(c *gin.Context) {
	kind := types.OperationKind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("unknown operation kind %q", c.Param("kind")),
		})
		return
	}

	var body dispatchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if body.Node == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "node is required"})
		return
	}

	req, err := m.buildRequest(kind, &body)
	if err != nil {
		m.apiError(c, err)
		return
	}

	jobID, err := m.dispatcher.Dispatch(c.Request.Context(), req)
	if err != nil {
		m.apiError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"node":   req.Node,
		"kind":   string(kind),
		"job_id": jobID,
	})
}

// buildRequest assembles the dispatch payload for a manual operation
// from the target's configuration, mirroring what the scheduler sends
// on a cron tick.
func (m *Manager) buildRequest(kind types.OperationKind, body *dispatchRequest) (*client.Request, error) {
	if kind == types.OperationHermesRestart {
		hermes, ok := m.cfg.HermesInstance(body.Node)
		if !ok {
			return nil, fmt.Errorf("hermes instance %s: %w", body.Node, types.ErrNotFound)
		}
		return &client.Request{
			Node:      hermes.Name,
			Host:      hermes.Host,
			Kind:      kind,
			StartedBy: "manual",
			Service:   hermes.ServiceName,
		}, nil
	}

	// Restart targets a node's unit or an ETL service.
	if kind == types.OperationRestart {
		if node, ok := m.cfg.Node(body.Node); ok {
			return &client.Request{
				Node:      node.Name,
				Host:      node.Host,
				Kind:      kind,
				StartedBy: "manual",
				Service:   node.ServiceName,
			}, nil
		}
		if etl, ok := m.cfg.ETLInstance(body.Node); ok {
			return &client.Request{
				Node:      etl.Name,
				Host:      etl.Host,
				Kind:      kind,
				StartedBy: "manual",
				Service:   etl.ServiceName,
			}, nil
		}
		return nil, fmt.Errorf("target %s: %w", body.Node, types.ErrNotFound)
	}

	node, ok := m.cfg.Node(body.Node)
	if !ok {
		return nil, fmt.Errorf("node %s: %w", body.Node, types.ErrNotFound)
	}

	req := &client.Request{
		Node:      node.Name,
		Host:      node.Host,
		Kind:      kind,
		StartedBy: "manual",
	}
	switch kind {
	case types.OperationPruning:
		req.Pruning = &types.PruningRequest{
			NodeName:       node.Name,
			ServiceName:    node.ServiceName,
			DeployPath:     node.DeployPath,
			BlocksToKeep:   node.PruningBlocksKeep,
			VersionsToKeep: node.PruningVersionsKeep,
			LogPath:        node.LogPath,
			PrunerBin:      node.PrunerBin,
		}
	case types.OperationSnapshotCreate:
		req.SnapshotCreate = &types.SnapshotCreateRequest{
			NodeName:    node.Name,
			Network:     node.Network,
			DeployPath:  node.DeployPath,
			BackupPath:  node.BackupPath,
			ServiceName: node.ServiceName,
			LogPath:     node.LogPath,
		}
	case types.OperationSnapshotRestore:
		req.SnapshotRestore = &types.SnapshotRestoreRequest{
			NodeName:     node.Name,
			Network:      node.Network,
			DeployPath:   node.DeployPath,
			BackupPath:   node.BackupPath,
			SnapshotPath: body.SnapshotPath,
			ServiceName:  node.ServiceName,
			LogPath:      node.LogPath,
		}
	case types.OperationStateSync:
		req.StateSync = &types.StateSyncRequest{
			NodeName:       node.Name,
			ServiceName:    node.ServiceName,
			DaemonBin:      node.DaemonBin,
			HomeDir:        node.DeployPath,
			ConfigPath:     node.ConfigPath,
			RPCServers:     node.StateSyncRPCServers,
			TimeoutSeconds: node.StateSyncTimeoutSeconds,
			LogPath:        node.LogPath,
		}
		req.TrustOffset = node.StateSyncTrustOffset
	}
	return req, nil
}

func (m *Manager) handleMaintenanceEnd(c *gin.Context) {
	node := c.Param("node")
	window, ok := m.windows.Get(node)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": fmt.Sprintf("no open maintenance window for %s", node),
		})
		return
	}

	m.windows.End(node)
	m.broker.Publish(events.NewEvent(events.EventMaintenanceEnded, node,
		fmt.Sprintf("maintenance window for %s force-ended", node)).
		WithHost(window.Host).
		WithMetadata("kind", string(window.Kind)).
		WithMetadata("forced", "true"))
	m.logger.Warn().
		Str("node", node).
		Str("kind", string(window.Kind)).
		Msg("maintenance window force-ended")

	c.JSON(http.StatusOK, gin.H{"node": node, "ended": true})
}

// handleEvents streams broker events as server-sent events until the
// client disconnects.
func (m *Manager) handleEvents(c *gin.Context) {
	sub := m.broker.Subscribe()
	defer m.broker.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-sub:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
