package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shelfwise/action-engine/domain/entity"
	"github.com/shelfwise/action-engine/domain/repository"
	"github.com/shelfwise/action-engine/domain/service"
	"github.com/shelfwise/action-engine/pkg/logging"
	"github.com/shelfwise/action-engine/pkg/metrics"
	"github.com/shelfwise/action-engine/usecase"
)

// ServerConfig holds the HTTP listener and throttling settings
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       float64
	RateBurst       int
}

// DefaultServerConfig returns sane listener defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            "8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RateLimit:       50,
		RateBurst:       100,
	}
}

// ActionEngineHTTPServer implements the HTTP REST API for the action engine
type ActionEngineHTTPServer struct {
	router       *gin.Engine
	pipeline     *usecase.ActionPipeline
	orchestrator *usecase.BatchOrchestrator
	rollbacks    *usecase.RollbackManager
	actions      repository.ActionRepository
	batches      repository.BatchRepository
	approvals    repository.ApprovalRepository
	audits       repository.AuditRepository
	insights     service.InsightProvider
	logger       *logging.Logger
	metrics      *metrics.Collector
	config       ServerConfig
	httpServer   *http.Server

	limiters   map[string]*rate.Limiter
	limitersMu sync.Mutex
}

// NewActionEngineHTTPServer creates a new HTTP server
func NewActionEngineHTTPServer(
	pipeline *usecase.ActionPipeline,
	orchestrator *usecase.BatchOrchestrator,
	rollbacks *usecase.RollbackManager,
	actions repository.ActionRepository,
	batches repository.BatchRepository,
	approvals repository.ApprovalRepository,
	audits repository.AuditRepository,
	insights service.InsightProvider,
	logger *logging.Logger,
	collector *metrics.Collector,
	config ServerConfig,
) *ActionEngineHTTPServer {
	server := &ActionEngineHTTPServer{
		pipeline:     pipeline,
		orchestrator: orchestrator,
		rollbacks:    rollbacks,
		actions:      actions,
		batches:      batches,
		approvals:    approvals,
		audits:       audits,
		insights:     insights,
		logger:       logger.WithComponent("http_server"),
		metrics:      collector,
		config:       config,
		limiters:     make(map[string]*rate.Limiter),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (s *ActionEngineHTTPServer) setupRoutes() {
	s.router = gin.New()

	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(s.corsMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.rateLimitMiddleware())

	// Health and metrics
	s.router.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		actions := v1.Group("/actions")
		{
			actions.POST("/execute", s.executeAction)
			actions.POST("/rollback", s.rollbackAction)
			actions.POST("/batch", s.runBatch)
			actions.GET("/:id", s.getAction)
			actions.GET("/:id/audit", s.getAuditTrail)
		}

		batches := v1.Group("/batches")
		{
			batches.GET("/:id", s.getBatch)
		}

		approvals := v1.Group("/approvals")
		{
			approvals.GET("/:id", s.getApproval)
			approvals.POST("/:id/resolve", s.resolveApproval)
		}

		insights := v1.Group("/insights")
		{
			insights.GET("/proposals", s.listProposals)
		}
	}
}

// HTTP Handlers

// healthCheck returns the health status of the service
func (s *ActionEngineHTTPServer) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	resp := HealthResponseDTO{
		Status:    "healthy",
		Service:   "action-engine",
		Timestamp: time.Now().UTC(),
		Details:   make(map[string]string),
	}

	if err := s.actions.HealthCheck(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Details["repository"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	resp.Details["repository"] = "ok"
	c.JSON(http.StatusOK, resp)
}

// executeAction pushes one action through the full pipeline. A parked
// action answers 202; an executed one answers 200 with its terminal state.
func (s *ActionEngineHTTPServer) executeAction(c *gin.Context) {
	var req ExecuteActionRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("Invalid execute request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format", "details": err.Error()})
		return
	}

	if req.UserID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user_id is required"})
		return
	}

	request, err := req.ToEntity()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := s.pipeline.Submit(c.Request.Context(), request, nil)
	if err != nil {
		s.respondError(c, err)
		return
	}

	status := http.StatusOK
	if outcome.RequiresApproval() {
		status = http.StatusAccepted
	}
	c.JSON(status, NewExecuteActionResponse(outcome))
}

// rollbackAction compensates a completed action from its stored snapshot
func (s *ActionEngineHTTPServer) rollbackAction(c *gin.Context) {
	var req RollbackRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format", "details": err.Error()})
		return
	}

	actionID, err := uuid.Parse(req.ActionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid action_id"})
		return
	}

	initiator := req.InitiatedBy
	if initiator == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "initiated_by is required"})
		return
	}

	action, err := s.rollbacks.Rollback(c.Request.Context(), actionID, req.Reason, initiator)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "rolled_back", "action": action})
}

// runBatch executes a group of actions under one concurrency policy.
// The call returns once every member has been dispatched or skipped;
// members parked behind the approval gate settle the batch later.
func (s *ActionEngineHTTPServer) runBatch(c *gin.Context) {
	var req BatchRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format", "details": err.Error()})
		return
	}

	if req.UserID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user_id is required"})
		return
	}
	if len(req.Actions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch must contain at least one action"})
		return
	}

	cfg, reqs, err := req.ToConfig()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	batch, err := s.orchestrator.RunBatch(c.Request.Context(), cfg, reqs)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": string(batch.Status), "batch": batch})
}

// getAction returns one action record by ID
func (s *ActionEngineHTTPServer) getAction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid action ID"})
		return
	}

	action, err := s.actions.GetByID(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, action)
}

// getAuditTrail returns the append-only ledger for one action
func (s *ActionEngineHTTPServer) getAuditTrail(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid action ID"})
		return
	}

	// 404 for unknown actions rather than an empty trail
	if _, err := s.actions.GetByID(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}

	events, err := s.audits.ListByAction(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, AuditTrailResponseDTO{
		ActionID: id.String(),
		Events:   events,
		Count:    len(events),
	})
}

// getBatch returns one batch with its aggregate counters
func (s *ActionEngineHTTPServer) getBatch(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch ID"})
		return
	}

	batch, err := s.batches.GetByID(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

// getApproval returns one approval record by ID
func (s *ActionEngineHTTPServer) getApproval(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid approval ID"})
		return
	}

	approval, err := s.approvals.GetByID(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, approval)
}

// listProposals surfaces upstream insight recommendations as ready-to-
// submit action requests
func (s *ActionEngineHTTPServer) listProposals(c *gin.Context) {
	if s.insights == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "insight provider not configured"})
		return
	}

	userIDParam := c.Query("user_id")
	if userIDParam == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user_id is required"})
		return
	}
	userID, err := uuid.Parse(userIDParam)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}

	proposals, err := s.insights.ProposeActions(c.Request.Context(), userID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"proposals": proposals, "count": len(proposals)})
}

// resolveApproval applies a reviewer decision to a pending approval. An
// approved action executes before the response is written; a denied one
// lands rejected. A second resolve answers 409.
func (s *ActionEngineHTTPServer) resolveApproval(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid approval ID"})
		return
	}

	var req ResolveApprovalRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format", "details": err.Error()})
		return
	}

	decision := entity.ApprovalDecision(req.Decision)
	if decision != entity.ApprovalDecisionApprove && decision != entity.ApprovalDecisionDeny {
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision must be approve or deny"})
		return
	}

	approver, err := uuid.Parse(req.ApproverID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid approver_id"})
		return
	}

	outcome, err := s.pipeline.ResolveApproval(c.Request.Context(), id, decision, approver, req.Notes)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, NewExecuteActionResponse(outcome))
}

// respondError maps domain errors onto HTTP status codes. Validation
// failures carry their rule violations so callers can fix the request.
func (s *ActionEngineHTTPServer) respondError(c *gin.Context, err error) {
	var (
		validationErr *entity.ValidationFailedError
		notFoundErr   *entity.NotFoundError
		approvalMiss  *entity.ApprovalNotFoundError
		approvalConf  *entity.ApprovalConflictError
		stateConf     *entity.StateConflictError
		invalidState  *entity.InvalidStateError
		rolledBack    *entity.AlreadyRolledBackError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation failed",
			"details": validationErr.Violations,
		})
	case errors.As(err, &notFoundErr), errors.As(err, &approvalMiss):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &approvalConf), errors.As(err, &stateConf):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &invalidState), errors.As(err, &rolledBack):
		// caller error, not a retryable conflict: the action is not in a
		// rollbackable state or was already rolled back
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// Middleware

// corsMiddleware handles CORS headers
func (s *ActionEngineHTTPServer) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// loggingMiddleware logs every request and records HTTP metrics
func (s *ActionEngineHTTPServer) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(c.Request.Method, path, status, duration)
		}

		s.logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// rateLimitMiddleware throttles per client IP with a token bucket
func (s *ActionEngineHTTPServer) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.config.RateLimit <= 0 {
			c.Next()
			return
		}

		limiter := s.limiterFor(c.ClientIP())
		if !limiter.Allow() {
			s.logger.Warn("Request blocked by rate limit",
				zap.String("client_ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		c.Next()
	}
}

func (s *ActionEngineHTTPServer) limiterFor(clientIP string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	limiter, ok := s.limiters[clientIP]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.config.RateLimit), s.config.RateBurst)
		s.limiters[clientIP] = limiter
	}
	return limiter
}

// Start begins listening for HTTP requests
func (s *ActionEngineHTTPServer) Start() error {
	s.httpServer = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("port", s.config.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *ActionEngineHTTPServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetRouter returns the underlying gin router, mainly for tests
func (s *ActionEngineHTTPServer) GetRouter() *gin.Engine {
	return s.router
}
