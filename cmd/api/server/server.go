package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Tsinling0525/weir/engine"
	"github.com/Tsinling0525/weir/format/definition"
	"github.com/Tsinling0525/weir/format/n8n"
	"github.com/Tsinling0525/weir/infra"
	"github.com/Tsinling0525/weir/model"
)

// Version is reported by /health.
const Version = "1.0.0"

// APIResponse is the envelope of every response.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StartRequest starts a deployed workflow.
type StartRequest struct {
	WorkflowInstanceID string         `json:"workflowInstanceId"`
	Data               map[string]any `json:"data"`
}

// MoveRequest moves an instance out of activity instance From to activity To.
type MoveRequest struct {
	From string   `json:"from"`
	To   model.ID `json:"to"`
}

// VariablesRequest sets variables, on the instance or on one activity instance.
type VariablesRequest struct {
	ActivityInstanceID string         `json:"activityInstanceId"`
	Variables          map[string]any `json:"variables"`
}

func sendResponse(c *gin.Context, statusCode int, success bool, data any, errorMsg string) {
	c.JSON(statusCode, APIResponse{Success: success, Data: data, Error: errorMsg})
}

func sendSuccess(c *gin.Context, data any) {
	sendResponse(c, http.StatusOK, true, data, "")
}

func sendError(c *gin.Context, statusCode int, errorMsg string) {
	sendResponse(c, statusCode, false, nil, errorMsg)
}

// sendEngineError maps engine errors onto HTTP statuses.
func sendEngineError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrEngineClosed):
		status = http.StatusServiceUnavailable
	}
	sendError(c, status, err.Error())
}

type handlers struct {
	eng     *engine.Engine
	history *infra.History
}

func (h *handlers) health(c *gin.Context) {
	sendSuccess(c, gin.H{"status": "healthy", "timestamp": time.Now().Unix(), "version": Version})
}

// deploy accepts a YAML or JSON definition, or an n8n export.
func (h *handlers) deploy(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		sendError(c, http.StatusBadRequest, err.Error())
		return
	}
	def, err := definition.Parse(body)
	if err != nil {
		sendError(c, http.StatusBadRequest, "Invalid definition: "+err.Error())
		return
	}
	res, err := h.eng.Deploy(c.Request.Context(), def)
	if err != nil {
		sendEngineError(c, err)
		return
	}
	if !res.OK() {
		sendResponse(c, http.StatusUnprocessableEntity, false, res, "workflow has validation issues")
		return
	}
	sendResponse(c, http.StatusCreated, true, res, "")
}

func (h *handlers) listWorkflows(c *gin.Context) {
	defs, err := h.eng.Definitions(c.Request.Context())
	if err != nil {
		sendEngineError(c, err)
		return
	}
	sendSuccess(c, defs)
}

func (h *handlers) getWorkflow(c *gin.Context) {
	def, err := h.eng.Definition(c.Request.Context(), model.ID(c.Param("id")))
	if err != nil {
		sendEngineError(c, err)
		return
	}
	sendSuccess(c, def)
}

func (h *handlers) startWorkflow(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			sendError(c, http.StatusBadRequest, "Invalid JSON: "+err.Error())
			return
		}
	}
	inst, err := h.eng.Start(c.Request.Context(), model.TriggerInstance{
		WorkflowID:         model.ID(c.Param("id")),
		WorkflowInstanceID: req.WorkflowInstanceID,
		Data:               req.Data,
	})
	if err != nil {
		sendEngineError(c, err)
		return
	}
	sendResponse(c, http.StatusAccepted, true, inst, "")
}

// startN8n deploys an n8n workflow as a new version and starts it at once.
func (h *handlers) startN8n(c *gin.Context) {
	var req n8n.N8nRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	def, data, err := n8n.ToDefinition(req)
	if err != nil {
		sendError(c, http.StatusBadRequest, err.Error())
		return
	}
	def.SourceWorkflowID = def.ID
	def.ID = ""
	res, err := h.eng.Deploy(c.Request.Context(), def)
	if err != nil {
		sendEngineError(c, err)
		return
	}
	if !res.OK() {
		sendResponse(c, http.StatusUnprocessableEntity, false, res, "workflow has validation issues")
		return
	}
	inst, err := h.eng.Start(c.Request.Context(), model.TriggerInstance{WorkflowID: res.WorkflowID, Data: data})
	if err != nil {
		sendEngineError(c, err)
		return
	}
	sendResponse(c, http.StatusAccepted, true, gin.H{"executionId": inst.ID, "deployment": res, "instance": inst}, "")
}

func (h *handlers) send(c *gin.Context) {
	var msg model.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if msg.ActivityInstanceID == "" {
		sendError(c, http.StatusBadRequest, "activityInstanceId is required")
		return
	}
	inst, err := h.eng.Send(c.Request.Context(), msg)
	if err != nil {
		sendEngineError(c, err)
		return
	}
	sendSuccess(c, inst)
}

func (h *handlers) listInstances(c *gin.Context) {
	insts, err := h.eng.Instances(c.Request.Context())
	if err != nil {
		sendEngineError(c, err)
		return
	}
	if status := c.Query("status"); status != "" {
		filtered := insts[:0]
		for _, inst := range insts {
			if string(inst.Status) == status {
				filtered = append(filtered, inst)
			}
		}
		insts = filtered
	}
	sendSuccess(c, insts)
}

func (h *handlers) getInstance(c *gin.Context) {
	inst, err := h.eng.Instance(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendEngineError(c, err)
		return
	}
	sendSuccess(c, inst)
}

func (h *handlers) instanceLogs(c *gin.Context) {
	id := c.Param("id")
	if h.history == nil {
		sendError(c, http.StatusNotFound, "history is disabled")
		return
	}
	lines, ok := h.history.Logs(id)
	if !ok {
		if _, err := h.eng.Instance(c.Request.Context(), id); err != nil {
			sendEngineError(c, err)
			return
		}
	}
	sendSuccess(c, gin.H{"id": id, "lines": lines})
}

func (h *handlers) cancel(c *gin.Context) {
	inst, err := h.eng.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendEngineError(c, err)
		return
	}
	sendSuccess(c, inst)
}

func (h *handlers) move(c *gin.Context) {
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if req.From == "" || req.To == "" {
		sendError(c, http.StatusBadRequest, "from and to are required")
		return
	}
	inst, err := h.eng.Move(c.Request.Context(), c.Param("id"), req.From, req.To)
	if err != nil {
		sendEngineError(c, err)
		return
	}
	sendSuccess(c, inst)
}

func (h *handlers) getVariables(c *gin.Context) {
	vars, err := h.eng.Variables(c.Request.Context(), c.Param("id"), c.Query("activityInstanceId"))
	if err != nil {
		sendEngineError(c, err)
		return
	}
	sendSuccess(c, vars)
}

func (h *handlers) setVariables(c *gin.Context) {
	var req VariablesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	id := c.Param("id")
	for name, value := range req.Variables {
		if err := h.eng.SetVariable(c.Request.Context(), id, req.ActivityInstanceID, name, value); err != nil {
			sendEngineError(c, err)
			return
		}
	}
	vars, err := h.eng.Variables(c.Request.Context(), id, req.ActivityInstanceID)
	if err != nil {
		sendEngineError(c, err)
		return
	}
	sendSuccess(c, vars)
}

func (h *handlers) nodeTypes(c *gin.Context) {
	sendSuccess(c, h.eng.NodeDescriptors())
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// NewRouter builds the Gin router with routes and middleware. history may be
// nil, in which case the logs route reports it as disabled.
func NewRouter(eng *engine.Engine, history *infra.History, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))
	// CORS
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	h := &handlers{eng: eng, history: history}
	r.GET("/health", h.health)
	r.GET("/nodes", h.nodeTypes)

	r.POST("/workflows", h.deploy)
	r.GET("/workflows", h.listWorkflows)
	r.GET("/workflows/:id", h.getWorkflow)
	r.POST("/workflows/:id/start", h.startWorkflow)
	r.POST("/workflow/start", h.startN8n)

	r.POST("/messages", h.send)

	r.GET("/instances", h.listInstances)
	r.GET("/instances/:id", h.getInstance)
	r.GET("/instances/:id/logs", h.instanceLogs)
	r.POST("/instances/:id/cancel", h.cancel)
	r.POST("/instances/:id/move", h.move)
	r.GET("/instances/:id/variables", h.getVariables)
	r.PUT("/instances/:id/variables", h.setVariables)

	return r
}
