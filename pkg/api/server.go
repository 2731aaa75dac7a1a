package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/tidemark/flotilla/pkg/artifacts"
	"github.com/tidemark/flotilla/pkg/dispatch"
	"github.com/tidemark/flotilla/pkg/events"
	"github.com/tidemark/flotilla/pkg/failover"
	"github.com/tidemark/flotilla/pkg/idle"
	"github.com/tidemark/flotilla/pkg/jobs"
	"github.com/tidemark/flotilla/pkg/log"
	"github.com/tidemark/flotilla/pkg/metrics"
	"github.com/tidemark/flotilla/pkg/quota"
	"github.com/tidemark/flotilla/pkg/registry"
	"github.com/tidemark/flotilla/pkg/types"
)

// NodeAdmitter is the write side of node admission
type NodeAdmitter interface {
	Register(node *types.Node) error
	Heartbeat(nodeID string, status types.NodeStatus) error
	Remove(nodeID string) error
}

// Deps are the components the API serves
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Tracker    *jobs.Tracker
	Artifacts  *artifacts.Store
	Quota      *quota.Manager
	Failover   *failover.Manager
	Idle       *idle.Manager
	Registry   registry.NodeRegistry
	Admitter   NodeAdmitter
	Broker     *events.Broker
}

// Server exposes the control plane over HTTP. Event streaming goes over a
// websocket at /v1/events; everything else is plain JSON.
type Server struct {
	deps   Deps
	http   *http.Server
	logger zerolog.Logger
}

// NewServer creates the API server
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:   deps,
		logger: log.WithComponent("api"),
	}
	s.http = &http.Server{Handler: s.routes()}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/jobs", s.handleSubmitJob)
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/history", s.handleJobHistory)
	mux.HandleFunc("GET /v1/jobs/stats", s.handleJobStats)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	mux.HandleFunc("POST /v1/jobs/{id}/progress", s.handleJobProgress)
	mux.HandleFunc("POST /v1/jobs/{id}/complete", s.handleCompleteJob)
	mux.HandleFunc("POST /v1/jobs/{id}/fail", s.handleFailJob)
	mux.HandleFunc("POST /v1/jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("GET /v1/jobs/{id}/artifacts", s.handleJobArtifacts)
	mux.HandleFunc("GET /v1/users/{id}/jobs", s.handleUserJobs)

	mux.HandleFunc("GET /v1/artifacts/stats", s.handleArtifactStats)
	mux.HandleFunc("GET /v1/artifacts/{id}", s.handleGetArtifact)
	mux.HandleFunc("DELETE /v1/artifacts/{id}", s.handleDeleteArtifact)

	mux.HandleFunc("PUT /v1/quotas/{entity}", s.handleSetQuota)
	mux.HandleFunc("GET /v1/quotas/{entity}", s.handleGetQuota)
	mux.HandleFunc("DELETE /v1/quotas/{entity}", s.handleRemoveQuota)
	mux.HandleFunc("POST /v1/quotas/{entity}/usage", s.handleUpdateUsage)
	mux.HandleFunc("GET /v1/quotas/{entity}/check", s.handleCheckQuota)

	mux.HandleFunc("GET /v1/regions", s.handleListRegions)
	mux.HandleFunc("GET /v1/regions/{id}", s.handleGetRegion)
	mux.HandleFunc("GET /v1/regions/{id}/events", s.handleRegionEvents)
	mux.HandleFunc("POST /v1/regions/{id}/failover", s.handleForceFailover)
	mux.HandleFunc("POST /v1/regions/{id}/failback", s.handleForceFailback)

	mux.HandleFunc("GET /v1/nodes", s.handleListNodes)
	mux.HandleFunc("GET /v1/nodes/{id}", s.handleGetNode)
	mux.HandleFunc("POST /v1/nodes", s.handleRegisterNode)
	mux.HandleFunc("DELETE /v1/nodes/{id}", s.handleRemoveNode)
	mux.HandleFunc("POST /v1/nodes/{id}/heartbeat", s.handleHeartbeat)

	mux.HandleFunc("GET /v1/idle", s.handleListIdleNodes)
	mux.HandleFunc("GET /v1/idle/savings", s.handleIdleSavings)
	mux.HandleFunc("POST /v1/idle/{id}/idle", s.handleMarkIdle)
	mux.HandleFunc("POST /v1/idle/{id}/active", s.handleMarkActive)
	mux.HandleFunc("POST /v1/idle/{id}/sleep", s.handleSleepNode)
	mux.HandleFunc("POST /v1/idle/{id}/wake", s.handleWakeNode)

	mux.HandleFunc("GET /v1/events", s.handleEventStream)

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", metrics.HealthHandler())
	mux.HandleFunc("GET /readyz", metrics.ReadyHandler())
	mux.HandleFunc("GET /livez", metrics.LivenessHandler())

	return mux
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	s.logger.Info().Str("addr", addr).Msg("api listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the route table for tests
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// --- jobs ---

type submitJobRequest struct {
	JobID    string            `json:"job_id"`
	Type     string            `json:"type"`
	UserID   string            `json:"user_id"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, denial, err := s.deps.Dispatcher.Submit(dispatch.SubmitRequest{
		JobID:    req.JobID,
		Type:     req.Type,
		UserID:   req.UserID,
		Metadata: req.Metadata,
	})
	if err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if denial != nil {
		s.writeJSON(w, http.StatusTooManyRequests, denial)
		return
	}
	s.writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Tracker.GetActiveJobs())
}

func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Tracker.GetHistory(queryInt(r, "limit", 0)))
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Tracker.GetStats())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job := s.deps.Tracker.GetJob(r.PathValue("id"))
	if job == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeID string `json:"node_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.transitionResult(w, s.deps.Dispatcher.Start(r.PathValue("id"), req.NodeID))
}

func (s *Server) handleJobProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Progress int `json:"progress"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.transitionResult(w, s.deps.Dispatcher.Progress(r.PathValue("id"), req.Progress))
}

type completeJobRequest struct {
	Output        string               `json:"output"`
	ResourceUsage *types.ResourceUsage `json:"resource_usage"`
	Artifacts     []artifactInput      `json:"artifacts"`
}

type artifactInput struct {
	Name        string            `json:"name"`
	Content     []byte            `json:"content"`
	ContentType string            `json:"content_type"`
	Labels      map[string]string `json:"labels"`
}

func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	var req completeJobRequest
	if !s.decode(w, r, &req) {
		return
	}
	inputs := make([]dispatch.ArtifactInput, 0, len(req.Artifacts))
	for _, a := range req.Artifacts {
		inputs = append(inputs, dispatch.ArtifactInput{
			Name:        a.Name,
			Content:     a.Content,
			ContentType: a.ContentType,
			Labels:      a.Labels,
		})
	}
	ok, stored := s.deps.Dispatcher.Complete(r.PathValue("id"), req.Output, req.ResourceUsage, inputs)
	if !ok {
		s.writeError(w, http.StatusConflict, "job is not running")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"artifacts": stored})
}

func (s *Server) handleFailJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Error    string `json:"error"`
		ExitCode int    `json:"exit_code"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.ExitCode == 0 {
		req.ExitCode = 1
	}
	s.transitionResult(w, s.deps.Dispatcher.Fail(r.PathValue("id"), req.Error, req.ExitCode))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	s.transitionResult(w, s.deps.Dispatcher.Cancel(r.PathValue("id")))
}

func (s *Server) handleUserJobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Tracker.GetJobsByUser(r.PathValue("id")))
}

func (s *Server) transitionResult(w http.ResponseWriter, ok bool) {
	if !ok {
		s.writeError(w, http.StatusConflict, "transition rejected")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- artifacts ---

func (s *Server) handleJobArtifacts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Artifacts.ListByJob(r.PathValue("id")))
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	meta, content := s.deps.Artifacts.Get(r.PathValue("id"))
	if meta == nil {
		s.writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("X-Checksum-Sha256", meta.Checksum)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(content); err != nil {
		s.logger.Warn().Err(err).Str("artifact_id", meta.ID).Msg("artifact write failed")
	}
}

func (s *Server) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	s.transitionResult(w, s.deps.Artifacts.Delete(r.PathValue("id")))
}

func (s *Server) handleArtifactStats(w http.ResponseWriter, r *http.Request) {
	stats := s.deps.Artifacts.GetStats()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_artifacts":  stats.TotalArtifacts,
		"total_size_bytes": stats.TotalSizeBytes,
		"total_size_human": humanize.IBytes(uint64(stats.TotalSizeBytes)),
		"total_jobs":       stats.TotalJobs,
		"max_size_bytes":   stats.MaxSizeBytes,
		"max_size_human":   humanize.IBytes(uint64(stats.MaxSizeBytes)),
		"usage_percent":    stats.UsagePercent,
	})
}

// --- quotas ---

func (s *Server) handleSetQuota(w http.ResponseWriter, r *http.Request) {
	var def types.QuotaDefinition
	if !s.decode(w, r, &def) {
		return
	}
	def.EntityID = r.PathValue("entity")
	if err := s.deps.Quota.SetQuota(def); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Quota.GetQuota(def.EntityID))
}

func (s *Server) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	entityID := r.PathValue("entity")
	def := s.deps.Quota.GetQuota(entityID)
	if def == nil {
		s.writeError(w, http.StatusNotFound, "no quota for entity")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"quota": def,
		"usage": s.deps.Quota.GetUsage(entityID),
	})
}

func (s *Server) handleRemoveQuota(w http.ResponseWriter, r *http.Request) {
	s.transitionResult(w, s.deps.Quota.RemoveQuota(r.PathValue("entity")))
}

func (s *Server) handleUpdateUsage(w http.ResponseWriter, r *http.Request) {
	var snap types.QuotaUsageSnapshot
	if !s.decode(w, r, &snap) {
		return
	}
	snap.EntityID = r.PathValue("entity")
	if err := s.deps.Quota.UpdateUsage(snap); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Quota.GetUsage(snap.EntityID))
}

func (s *Server) handleCheckQuota(w http.ResponseWriter, r *http.Request) {
	resource := types.ResourceType(r.URL.Query().Get("resource"))
	if resource == "" {
		s.writeError(w, http.StatusBadRequest, "resource query parameter is required")
		return
	}
	amount := int64(queryInt(r, "amount", 0))
	s.writeJSON(w, http.StatusOK, s.deps.Quota.CheckQuota(r.PathValue("entity"), resource, amount))
}

// --- regions ---

func (s *Server) handleListRegions(w http.ResponseWriter, r *http.Request) {
	out := make([]map[string]interface{}, 0)
	for _, id := range s.deps.Failover.Regions() {
		status := s.deps.Failover.GetState(id)
		if status == nil {
			continue
		}
		out = append(out, map[string]interface{}{
			"region_id":     id,
			"state":         status.State,
			"active_region": s.deps.Failover.GetActiveRegion(id),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRegion(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Failover.GetState(r.PathValue("id"))
	if status == nil {
		s.writeError(w, http.StatusNotFound, "region not found")
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRegionEvents(w http.ResponseWriter, r *http.Request) {
	evs := s.deps.Failover.GetEvents(r.PathValue("id"), queryInt(r, "limit", 0))
	if evs == nil {
		s.writeError(w, http.StatusNotFound, "region not found")
		return
	}
	s.writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleForceFailover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional for manual failover
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.transitionResult(w, s.deps.Failover.ForceFailover(r.PathValue("id"), req.Reason))
}

func (s *Server) handleForceFailback(w http.ResponseWriter, r *http.Request) {
	s.transitionResult(w, s.deps.Failover.ForceFailback(r.PathValue("id")))
}

// --- nodes ---

type registerNodeRequest struct {
	ID               string              `json:"id"`
	Region           string              `json:"region"`
	Address          string              `json:"address"`
	Hostname         string              `json:"hostname"`
	Labels           map[string]string   `json:"labels"`
	Capacity         *types.NodeCapacity `json:"capacity"`
	CostPerHourCents int64               `json:"cost_per_hour_cents"`
	AutoSleepEnabled *bool               `json:"auto_sleep_enabled"`
}

func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req registerNodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	node := &types.Node{
		ID:       req.ID,
		Region:   req.Region,
		Address:  req.Address,
		Hostname: req.Hostname,
		Labels:   req.Labels,
		Capacity: req.Capacity,
		Status:   types.NodeStatusReady,
	}
	if err := s.deps.Admitter.Register(node); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	autoSleep := true
	if req.AutoSleepEnabled != nil {
		autoSleep = *req.AutoSleepEnabled
	}
	if err := s.deps.Idle.RegisterNode(req.ID, req.CostPerHourCents, autoSleep); err != nil {
		s.logger.Warn().Err(err).Str("node_id", req.ID).Msg("idle tracking registration failed")
	}
	s.writeJSON(w, http.StatusCreated, node)
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	var nodes []*types.Node
	var err error
	if region := r.URL.Query().Get("region"); region != "" {
		nodes, err = s.deps.Registry.ListByRegion(region)
	} else {
		nodes, err = s.deps.Registry.ListNodes(types.NodeStatus(r.URL.Query().Get("status")))
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.deps.Registry.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("id")
	if err := s.deps.Admitter.Remove(nodeID); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.deps.Idle.UnregisterNode(nodeID)
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status types.NodeStatus `json:"status"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Admitter.Heartbeat(r.PathValue("id"), req.Status); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- idle ---

func (s *Server) handleListIdleNodes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Idle.ListNodes())
}

func (s *Server) handleIdleSavings(w http.ResponseWriter, r *http.Request) {
	cents := s.deps.Idle.GetTotalSavings()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_savings_cents": cents,
		"total_savings_human": humanize.CommafWithDigits(float64(cents)/100, 2) + " USD",
	})
}

func (s *Server) handleMarkIdle(w http.ResponseWriter, r *http.Request) {
	s.transitionResult(w, s.deps.Idle.MarkIdle(r.PathValue("id")))
}

func (s *Server) handleMarkActive(w http.ResponseWriter, r *http.Request) {
	s.transitionResult(w, s.deps.Idle.MarkActive(r.PathValue("id")))
}

func (s *Server) handleSleepNode(w http.ResponseWriter, r *http.Request) {
	s.transitionResult(w, s.deps.Idle.Sleep(r.PathValue("id")))
}

func (s *Server) handleWakeNode(w http.ResponseWriter, r *http.Request) {
	s.transitionResult(w, s.deps.Idle.Wake(r.PathValue("id")))
}
