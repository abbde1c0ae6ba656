package control

import (
	"net/http"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/domain"
	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"
	"github.com/core-tools/hsu-mcp-master/pkg/metrics"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every failed dashboard request
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// ActionRequest is the body of POST /mcp/services/:id/actions
type ActionRequest struct {
	Action      string `json:"action" binding:"required"`
	Environment string `json:"environment,omitempty"`
}

// TestConnectionRequest is the body of POST /mcp/test-connection
type TestConnectionRequest struct {
	Host       string `json:"host"`
	Port       int    `json:"port" binding:"required"`
	HealthPath string `json:"health_path,omitempty"`
}

type dashboard struct {
	handler domain.Contract
	metrics *metrics.Metrics
	logger  logging.Logger
}

// NewRouter builds the dashboard API. m may be nil, in which case /metrics
// is not served.
func NewRouter(handler domain.Contract, m *metrics.Metrics, logger logging.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if logger == nil {
		logger = logging.Nop()
	}

	d := &dashboard{handler: handler, metrics: m, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery(), d.observe)

	r.GET("/health", d.health)
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	api := r.Group("/mcp")
	api.GET("/status", d.status)
	api.GET("/health", d.healthReport)
	api.GET("/services", d.listServices)
	api.GET("/services/:id", d.getService)
	api.POST("/services", d.registerService)
	api.DELETE("/services/:id", d.unregisterService)
	api.POST("/services/:id/actions", d.serviceAction)
	api.GET("/config", d.config)
	api.GET("/discover", d.discover)
	api.POST("/operations/:name", d.operation)
	api.POST("/test-connection", d.testConnection)

	return r
}

// observe logs and counts every request by route
func (d *dashboard) observe(c *gin.Context) {
	start := time.Now()
	c.Next()
	duration := time.Since(start)

	route := c.FullPath()
	if route == "" {
		route = "unknown"
	}
	if d.metrics != nil {
		d.metrics.ObserveRequest(route, c.Writer.Status(), duration)
	}
	d.logger.Debugf("Dashboard request, method: %s, route: %s, status: %d, duration: %v",
		c.Request.Method, route, c.Writer.Status(), duration)
}

// httpStatus maps a domain error to a response code
func httpStatus(err error) int {
	domainErr, ok := errors.AsDomainError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch domainErr.Type {
	case errors.ErrorTypeValidation, errors.ErrorTypeParse:
		return http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeConflict:
		return http.StatusConflict
	case errors.ErrorTypeLocked:
		return http.StatusLocked
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrorTypeCancelled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func (d *dashboard) fail(c *gin.Context, err error) {
	code := "internal"
	if domainErr, ok := errors.AsDomainError(err); ok {
		code = string(domainErr.Type)
	}
	c.JSON(httpStatus(err), &ErrorResponse{Code: code, Error: err.Error()})
}

// respond writes an operation result. A failed operation is a 422 with the
// result as body, or a 423 when it could not take the operation lock.
func (d *dashboard) respond(c *gin.Context, result domain.OperationResult) {
	switch {
	case result.Success:
		c.JSON(http.StatusOK, result)
	case result.ErrorType == errors.ErrorTypeLocked:
		c.JSON(http.StatusLocked, result)
	default:
		c.JSON(http.StatusUnprocessableEntity, result)
	}
}

func (d *dashboard) health(c *gin.Context) {
	services := d.handler.Services(registry.Filter{})
	running := 0
	for _, s := range services {
		if s.Status == registry.StatusRunning {
			running++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"services":  len(services),
		"running":   running,
		"timestamp": time.Now().UTC(),
	})
}

func (d *dashboard) status(c *gin.Context) {
	report, err := d.handler.Status(c.Request.Context())
	if err != nil {
		d.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (d *dashboard) healthReport(c *gin.Context) {
	report, err := d.handler.Health(c.Request.Context())
	if err != nil {
		d.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (d *dashboard) listServices(c *gin.Context) {
	filter := registry.Filter{
		Type:   registry.ServiceType(c.Query("type")),
		Status: registry.Status(c.Query("status")),
	}
	c.JSON(http.StatusOK, d.handler.Services(filter))
}

func (d *dashboard) getService(c *gin.Context) {
	status, err := d.handler.Service(c.Param("id"))
	if err != nil {
		d.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (d *dashboard) registerService(c *gin.Context) {
	var descriptor registry.ServiceDescriptor
	if err := c.ShouldBindJSON(&descriptor); err != nil {
		d.fail(c, errors.NewValidationError("invalid service descriptor", err))
		return
	}
	result := d.handler.RegisterService(c.Request.Context(), descriptor)
	if result.Success {
		c.JSON(http.StatusCreated, result)
		return
	}
	d.respond(c, result)
}

func (d *dashboard) unregisterService(c *gin.Context) {
	d.respond(c, d.handler.UnregisterService(c.Request.Context(), c.Param("id")))
}

func (d *dashboard) serviceAction(c *gin.Context) {
	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		d.fail(c, errors.NewValidationError("invalid action request", err))
		return
	}

	id := c.Param("id")
	ctx := c.Request.Context()
	switch req.Action {
	case domain.OperationStart:
		d.respond(c, d.handler.Start(ctx, req.Environment, id))
	case domain.OperationStop:
		d.respond(c, d.handler.Stop(ctx, req.Environment, id))
	case domain.OperationRestart:
		d.respond(c, d.handler.Restart(ctx, req.Environment, id))
	default:
		d.fail(c, errors.NewValidationError("action must be one of start, stop, restart", nil).
			WithContext("action", req.Action))
	}
}

func (d *dashboard) config(c *gin.Context) {
	c.JSON(http.StatusOK, d.handler.Config())
}

func (d *dashboard) discover(c *gin.Context) {
	found, err := d.handler.Discover(c.Request.Context())
	if err != nil {
		d.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (d *dashboard) operation(c *gin.Context) {
	var req OperationRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			d.fail(c, errors.NewValidationError("invalid operation request", err))
			return
		}
	}

	outcome, err := Dispatch(c.Request.Context(), d.handler, c.Param("name"), req)
	if err != nil {
		d.fail(c, err)
		return
	}
	if result, ok := outcome.(domain.OperationResult); ok {
		d.respond(c, result)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (d *dashboard) testConnection(c *gin.Context) {
	var req TestConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		d.fail(c, errors.NewValidationError("invalid test connection request", err))
		return
	}
	c.JSON(http.StatusOK, d.handler.TestConnection(c.Request.Context(), req.Host, req.Port, req.HealthPath))
}
