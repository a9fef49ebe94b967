package v1

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smartshieldai-idps/ddosguard/internal/detection/ml"
	"github.com/smartshieldai-idps/ddosguard/internal/middleware"
	"github.com/smartshieldai-idps/ddosguard/internal/models"
	"github.com/smartshieldai-idps/ddosguard/internal/monitoring"
	"github.com/smartshieldai-idps/ddosguard/internal/store"
)

// Predictor scores one flow
type Predictor interface {
	Predict(ctx context.Context, req models.PredictRequest) (*models.PredictResponse, error)
}

// ModelAdmin reloads and describes the active model set
type ModelAdmin interface {
	Reload() (*ml.ModelInfo, error)
	GetStats() *ml.ModelInfo
}

// Explainer attributes a binary decision to the input features
type Explainer interface {
	Explain(features ml.FeatureVector) (*ml.Explanation, error)
}

// LogQuerier serves the stored detection history
type LogQuerier interface {
	QueryLogs(ctx context.Context, f models.LogFilter) ([]models.DetectionLog, error)
	TrafficStats(ctx context.Context) ([]models.TimeBucket, error)
	RiskStats(ctx context.Context) ([]models.TimeBucket, error)
	AttackTypeStats(ctx context.Context) ([]models.AttackCount, error)
	MapData(ctx context.Context) ([]models.MapPoint, error)
}

// EventSource streams live detections
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan []byte, error)
	GetRecent(ctx context.Context, since time.Duration) ([]*models.DetectionLog, error)
}

// Handler handles API requests
type Handler struct {
	predictor Predictor
	models    ModelAdmin
	explainer Explainer
	logs      LogQuerier
	events    EventSource
	health    *monitoring.HealthChecker
	metrics   http.Handler
	logger    *zap.Logger

	adminToken     string
	maxRequestSize int64
}

// Options carries the optional collaborators. Nil fields disable the routes
// that need them.
type Options struct {
	Explainer      Explainer
	Logs           LogQuerier
	Events         EventSource
	Health         *monitoring.HealthChecker
	Metrics        http.Handler
	AdminToken     string
	MaxRequestSize int64
}

// NewHandler creates a new API handler
func NewHandler(predictor Predictor, admin ModelAdmin, logger *zap.Logger, opts Options) *Handler {
	return &Handler{
		predictor:      predictor,
		models:         admin,
		explainer:      opts.Explainer,
		logs:           opts.Logs,
		events:         opts.Events,
		health:         opts.Health,
		metrics:        opts.Metrics,
		logger:         logger,
		adminToken:     opts.AdminToken,
		maxRequestSize: opts.MaxRequestSize,
	}
}

// RegisterRoutes registers API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.handleHealth)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/predict/ddos", middleware.MaxBodySize(h.maxRequestSize), middleware.ValidateJSON(), h.handlePredict)
		v1.POST("/explain/ddos", middleware.MaxBodySize(h.maxRequestSize), middleware.ValidateJSON(), h.handleExplain)
		v1.GET("/model", h.handleModelInfo)

		v1.GET("/logs", h.handleLogs)
		v1.GET("/stats/traffic", h.handleTrafficStats)
		v1.GET("/stats/risk", h.handleRiskStats)
		v1.GET("/stats/by-attack", h.handleAttackStats)
		v1.GET("/mapdata", h.handleMapData)

		v1.GET("/ws", h.handleStream)

		admin := v1.Group("/admin", middleware.AdminAuth(h.adminToken))
		admin.POST("/reload-model", h.handleReloadModel)
	}
}

// handlePredict scores one flow
func (h *Handler) handlePredict(c *gin.Context) {
	var req models.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.predictor.Predict(c.Request.Context(), req)
	if err != nil {
		h.predictionFailed(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// handleExplain reports which features drove the attack decision
func (h *Handler) handleExplain(c *gin.Context) {
	if h.explainer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Explanations are not available"})
		return
	}

	var req models.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	exp, err := h.explainer.Explain(req.Features)
	if err != nil {
		h.predictionFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

// handleModelInfo describes the active model set
func (h *Handler) handleModelInfo(c *gin.Context) {
	info := h.models.GetStats()
	if info == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model unavailable"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleReloadModel swaps in the artifacts currently on disk
func (h *Handler) handleReloadModel(c *gin.Context) {
	info, err := h.models.Reload()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  err.Error(),
			"active": h.models.GetStats(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded", "model": info})
}

// handleHealth reports model and collaborator state
func (h *Handler) handleHealth(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": monitoring.StatusHealthy})
		return
	}
	status := h.health.Check(c.Request.Context())
	code := http.StatusOK
	if status.Status == monitoring.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// handleLogs returns stored detections, newest first
func (h *Handler) handleLogs(c *gin.Context) {
	if !h.requireLogs(c) {
		return
	}

	filter, err := parseLogFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logs, err := h.logs.QueryLogs(c.Request.Context(), filter)
	if err != nil {
		if errors.Is(err, store.ErrInvalidFilter) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.queryFailed(c, "logs", err)
		return
	}
	if logs == nil {
		logs = []models.DetectionLog{}
	}
	c.JSON(http.StatusOK, logs)
}

// handleTrafficStats returns per-minute counts for the last hour
func (h *Handler) handleTrafficStats(c *gin.Context) {
	if !h.requireLogs(c) {
		return
	}
	buckets, err := h.logs.TrafficStats(c.Request.Context())
	if err != nil {
		h.queryFailed(c, "traffic stats", err)
		return
	}
	out := make([]gin.H, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, gin.H{"time": b.Minute, "count": int64(b.Value)})
	}
	c.JSON(http.StatusOK, out)
}

// handleRiskStats returns the per-minute average risk for the last hour
func (h *Handler) handleRiskStats(c *gin.Context) {
	if !h.requireLogs(c) {
		return
	}
	buckets, err := h.logs.RiskStats(c.Request.Context())
	if err != nil {
		h.queryFailed(c, "risk stats", err)
		return
	}
	out := make([]gin.H, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, gin.H{"time": b.Minute, "avg_risk": b.Value})
	}
	c.JSON(http.StatusOK, out)
}

// handleAttackStats counts detections per attack type
func (h *Handler) handleAttackStats(c *gin.Context) {
	if !h.requireLogs(c) {
		return
	}
	counts, err := h.logs.AttackTypeStats(c.Request.Context())
	if err != nil {
		h.queryFailed(c, "attack stats", err)
		return
	}
	if counts == nil {
		counts = []models.AttackCount{}
	}
	c.JSON(http.StatusOK, counts)
}

// handleMapData returns recent high-risk detections with coordinates
func (h *Handler) handleMapData(c *gin.Context) {
	if !h.requireLogs(c) {
		return
	}
	points, err := h.logs.MapData(c.Request.Context())
	if err != nil {
		h.queryFailed(c, "map data", err)
		return
	}
	if points == nil {
		points = []models.MapPoint{}
	}
	c.JSON(http.StatusOK, points)
}

func (h *Handler) predictionFailed(c *gin.Context, err error) {
	var mismatch *ml.FeatureCountMismatchError
	switch {
	case errors.As(err, &mismatch):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "feature count mismatch",
			"expected": mismatch.Expected,
			"got":      mismatch.Got,
		})
	case ml.IsClientError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ml.ErrExplanationUnsupported):
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
	case errors.Is(err, ml.ErrModelUnavailable):
		h.logger.Error("prediction failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model unavailable"})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
	default:
		h.logger.Error("prediction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prediction failed"})
	}
}

func (h *Handler) requireLogs(c *gin.Context) bool {
	if h.logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Log storage is not available"})
		return false
	}
	return true
}

func (h *Handler) queryFailed(c *gin.Context, what string, err error) {
	h.logger.Error("query failed", zap.String("query", what), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve " + what})
}

func parseLogFilter(c *gin.Context) (models.LogFilter, error) {
	f := models.LogFilter{AttackType: c.Query("attack_type")}

	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("limit must be an integer")
		}
		f.Limit = limit
	}
	for _, p := range []struct {
		key string
		dst **float64
	}{
		{"min_risk", &f.MinRisk},
		{"max_risk", &f.MaxRisk},
	} {
		if v := c.Query(p.key); v != "" {
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return f, errors.New(p.key + " must be a number")
			}
			*p.dst = &x
		}
	}
	for _, p := range []struct {
		key string
		dst **time.Time
	}{
		{"start", &f.Start},
		{"end", &f.End},
	} {
		if v := c.Query(p.key); v != "" {
			t, err := parseTime(v)
			if err != nil {
				return f, errors.New(p.key + " must be an RFC 3339 timestamp")
			}
			*p.dst = &t
		}
	}
	return f, nil
}

func parseTime(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognized time")
}
