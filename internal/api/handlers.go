package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/analytics"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/db"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/metersync"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/payment"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/repository"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/validator"
	"github.com/resocorp/ArmogridPaaS-sub000/tools/timeparser"
	"go.uber.org/zap"
)

// AnalyticsService computes dashboard analytics
type AnalyticsService interface {
	Compute(ctx context.Context, q analytics.Query) (*analytics.Computation, error)
	PowerHistory(ctx context.Context, from, to time.Time) ([]db.PowerReading, error)
}

// MeterService manages linked meters
type MeterService interface {
	SyncAll(ctx context.Context) (metersync.Summary, error)
	Credentials(ctx context.Context) (map[string]metersync.CredentialInfo, error)
	LinkCredentials(ctx context.Context, req metersync.LinkRequest) (*metersync.Result, error)
	Control(ctx context.Context, meterID, action string) (*metersync.Result, error)
}

// WebhookService applies payment gateway webhooks
type WebhookService interface {
	HandleWebhook(ctx context.Context, gateway string, body []byte, signature string) (payment.Outcome, error)
}

// Handlers serves the admin and webhook routes
type Handlers struct {
	analytics AnalyticsService
	meters    MeterService
	webhooks  WebhookService
	validator *validator.Validator
	now       func() time.Time
	logger    *zap.Logger
}

// NewHandlers creates the route handlers
func NewHandlers(a AnalyticsService, m MeterService, w WebhookService, v *validator.Validator, logger *zap.Logger) *Handlers {
	return &Handlers{
		analytics: a,
		meters:    m,
		webhooks:  w,
		validator: v,
		now:       time.Now,
		logger:    logger,
	}
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// Health reports liveness
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Analytics handles GET /api/admin/analytics
func (h *Handlers) Analytics(c *gin.Context) {
	q, result := h.validator.ValidateAnalytics(validator.AnalyticsParams{
		StartDate:  c.Query("startDate"),
		EndDate:    c.Query("endDate"),
		ProjectIDs: c.Query("projectIds"),
	}, h.now())
	if !result.IsValid {
		fail(c, http.StatusBadRequest, result.Reason)
		return
	}

	comp, err := h.analytics.Compute(c.Request.Context(), analytics.Query{
		StartDate:  q.StartDate,
		EndDate:    q.EndDate,
		ProjectIDs: q.ProjectIDs,
	})
	if err != nil {
		requestLogger(c, h.logger).Error("analytics failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, analytics.ErrProjectList) {
			status = http.StatusBadGateway
		}
		fail(c, status, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       comp.Report,
		"period":     gin.H{"startDate": q.StartDate, "endDate": q.EndDate},
		"loadTimeMs": comp.Elapsed.Milliseconds(),
	})
}

type powerReadingView struct {
	ID               string              `json:"id"`
	RecordedAt       time.Time           `json:"recordedAt"`
	TotalPower       float64             `json:"totalPower"`
	ActiveMeterCount int                 `json:"activeMeterCount"`
	ByProject        []db.PowerBreakdown `json:"byProject"`
	ByMeter          []db.PowerBreakdown `json:"byMeter"`
}

// PowerHistory handles GET /api/admin/analytics/power
func (h *Handlers) PowerHistory(c *gin.Context) {
	q, result := h.validator.ValidateAnalytics(validator.AnalyticsParams{
		StartDate: c.Query("startDate"),
		EndDate:   c.Query("endDate"),
	}, h.now())
	if !result.IsValid {
		fail(c, http.StatusBadRequest, result.Reason)
		return
	}

	from, _ := timeparser.ParseDate(q.StartDate)
	to, _ := timeparser.ParseDate(q.EndDate)
	readings, err := h.analytics.PowerHistory(c.Request.Context(), from, to.AddDate(0, 0, 1))
	if err != nil {
		requestLogger(c, h.logger).Error("power history failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to load power history")
		return
	}

	views := make([]powerReadingView, 0, len(readings))
	for _, r := range readings {
		views = append(views, powerReadingView{
			ID:               r.ID.String(),
			RecordedAt:       r.RecordedAt,
			TotalPower:       r.TotalPower,
			ActiveMeterCount: r.ActiveMeterCount,
			ByProject:        r.ByProject,
			ByMeter:          r.ByMeter,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    views,
		"period":  gin.H{"startDate": q.StartDate, "endDate": q.EndDate},
	})
}

// SyncAll handles POST /api/admin/meters/sync
func (h *Handlers) SyncAll(c *gin.Context) {
	summary, err := h.meters.SyncAll(c.Request.Context())
	if err != nil {
		requestLogger(c, h.logger).Error("sync-all failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to sync meters")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "synced": summary.Synced, "failed": summary.Failed})
}

// Credentials handles GET /api/admin/meters/sync
func (h *Handlers) Credentials(c *gin.Context) {
	infos, err := h.meters.Credentials(c.Request.Context())
	if err != nil {
		requestLogger(c, h.logger).Error("credential listing failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to list credentials")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": infos})
}

// LinkCredentials handles POST /api/admin/meters/:meterId/credentials
func (h *Handlers) LinkCredentials(c *gin.Context) {
	meterID := c.Param("meterId")

	var body validator.LinkParams
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if result := h.validator.ValidateLink(meterID, body); !result.IsValid {
		fail(c, http.StatusBadRequest, result.Reason)
		return
	}

	res, err := h.meters.LinkCredentials(c.Request.Context(), metersync.LinkRequest{
		MeterID:      meterID,
		RoomNo:       strings.TrimSpace(body.RoomNo),
		ProjectID:    body.ProjectID,
		ProjectName:  body.ProjectName,
		Username:     strings.TrimSpace(body.Username),
		Password:     body.Password,
		PasswordHash: body.PasswordHash,
	})
	switch {
	case errors.Is(err, metersync.ErrLink):
		requestLogger(c, h.logger).Error("credential link failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to link credentials")
	case err != nil:
		// linked, first sync failed
		requestLogger(c, h.logger).Warn("first sync after link failed", zap.String("meter_id", meterID), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"success": true, "data": nil, "syncError": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "data": res})
	}
}

type controlBody struct {
	Action string `json:"action"`
}

// Control handles POST /api/admin/meters/:meterId/control
func (h *Handlers) Control(c *gin.Context) {
	meterID := c.Param("meterId")

	var body controlBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if result := h.validator.ValidateControl(body.Action); !result.IsValid {
		fail(c, http.StatusBadRequest, result.Reason)
		return
	}

	res, err := h.meters.Control(c.Request.Context(), meterID, body.Action)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		fail(c, http.StatusNotFound, "meter is not linked")
	case err != nil:
		requestLogger(c, h.logger).Warn("meter control failed", zap.String("meter_id", meterID), zap.Error(err))
		fail(c, http.StatusBadGateway, err.Error())
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "data": res})
	}
}

// Webhook returns the handler for one payment gateway
func (h *Handlers) Webhook(gateway, signatureHeader string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid payload")
			return
		}

		outcome, err := h.webhooks.HandleWebhook(c.Request.Context(), gateway, body, c.GetHeader(signatureHeader))
		if err != nil {
			fail(c, webhookStatus(err), err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "outcome": outcome})
	}
}

func webhookStatus(err error) int {
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, payment.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, payment.ErrInvalidPayload), errors.Is(err, payment.ErrUnknownGateway):
		return http.StatusBadRequest
	case errors.Is(err, payment.ErrUnknownReference):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
