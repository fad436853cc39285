package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rahul/taskpilot/internal/agent"
	"github.com/rahul/taskpilot/internal/engine"
	"github.com/rahul/taskpilot/internal/plan"
	"github.com/rahul/taskpilot/internal/tools"
)

// TaskRunner is the part of the assistant the HTTP API needs.
type TaskRunner interface {
	Run(ctx context.Context, chatID, task string) (*agent.FinalResult, error)
	Execute(ctx context.Context, p *plan.Plan) (*engine.AggregateResult, error)
}

// ToolLister lists the registered tools.
type ToolLister interface {
	List() []tools.Tool
}

// ExampleTasks are shown by GET /api/examples.
var ExampleTasks = []string{
	"What's the weather in Tokyo and the current price of bitcoin?",
	"Find the top 3 Go repositories about web frameworks and list their contributors",
	"Compare the population of France and Germany",
	"Latest news about renewable energy and a Wikipedia summary of solar power",
	"Trending cryptocurrencies and the weather forecast for Berlin",
}

// TaskRequest is the body of POST /api/task/execute.
type TaskRequest struct {
	Task   string `json:"task" binding:"required"`
	ChatID string `json:"chat_id"`
}

// ErrorResponse is returned for every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HTTPServer exposes the assistant as a REST API.
type HTTPServer struct {
	router  *gin.Engine
	runner  TaskRunner
	tools   ToolLister
	metrics http.Handler
	logger  *slog.Logger
	srv     *http.Server
}

// NewHTTPServer builds the router. metrics may be nil, in which case
// /metrics is not registered.
func NewHTTPServer(runner TaskRunner, tl ToolLister, metrics http.Handler, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	h := &HTTPServer{
		router:  gin.New(),
		runner:  runner,
		tools:   tl,
		metrics: metrics,
		logger:  logger.With("gateway", "http"),
	}
	h.router.Use(gin.Recovery(), h.requestLogger())
	h.routes()
	return h
}

func (h *HTTPServer) routes() {
	h.router.GET("/", h.handleIndex)
	h.router.GET("/health", h.handleHealth)
	if h.metrics != nil {
		h.router.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := h.router.Group("/api")
	api.POST("/task/execute", h.handleTask)
	api.POST("/plan/execute", h.handlePlan)
	api.GET("/tools", h.handleTools)
	api.GET("/examples", h.handleExamples)
}

// Handler returns the router, for tests and custom servers.
func (h *HTTPServer) Handler() http.Handler { return h.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (h *HTTPServer) ListenAndServe(ctx context.Context, addr string) error {
	h.srv = &http.Server{
		Addr:              addr,
		Handler:           h.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("listening", "addr", addr)
		errCh <- h.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return h.srv.Shutdown(shutdownCtx)
	}
}

func (h *HTTPServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (h *HTTPServer) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name": "taskpilot",
		"endpoints": []string{
			"GET /health",
			"POST /api/task/execute",
			"POST /api/plan/execute",
			"GET /api/tools",
			"GET /api/examples",
		},
	})
}

func (h *HTTPServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *HTTPServer) handleTask(c *gin.Context) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Task) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "task is required", Code: "INVALID_REQUEST"})
		return
	}
	if req.ChatID == "" {
		req.ChatID = "http-" + uuid.NewString()
	}

	res, err := h.runner.Run(c.Request.Context(), req.ChatID, req.Task)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *HTTPServer) handlePlan(c *gin.Context) {
	var p plan.Plan
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid plan: " + err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	agg, err := h.runner.Execute(c.Request.Context(), &p)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, agg)
}

// fail maps pipeline errors to status codes: a rejected plan is 422, an
// empty task 400, anything else 500.
func (h *HTTPServer) fail(c *gin.Context, err error) {
	var planErr *plan.PlanError
	switch {
	case errors.Is(err, agent.ErrEmptyTask):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
	case errors.As(err, &planErr):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "INVALID_PLAN"})
	default:
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "EXECUTION_FAILED"})
	}
}

type toolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Actions     []tools.Action `json:"actions"`
}

func (h *HTTPServer) handleTools(c *gin.Context) {
	var out []toolInfo
	if h.tools != nil {
		for _, t := range h.tools.List() {
			out = append(out, toolInfo{Name: t.Name(), Description: t.Description(), Actions: t.Actions()})
		}
	}
	c.JSON(http.StatusOK, gin.H{"tools": out, "count": len(out)})
}

func (h *HTTPServer) handleExamples(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"examples": ExampleTasks})
}
