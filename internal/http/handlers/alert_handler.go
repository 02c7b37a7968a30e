// Alert HTTP handlers.
//
// This file exposes the operator endpoints of the alert aggregator:
//   - GET  /alerts                   (list, paginated)
//   - GET  /alerts/stats             (counts by type and status)
//   - GET  /alerts/{id}              (detail)
//   - POST /alerts/{id}/acknowledge  (active → acknowledged)
//   - POST /alerts/{id}/resolve      (→ resolved, with optional note)
//   - POST /alerts/{id}/suppress     (→ suppressed until a future time)
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
	"github.com/tbourn/go-billing-reconciler/internal/http/middleware"
	"github.com/tbourn/go-billing-reconciler/internal/services"
)

// ResolveAlertRequest is the optional JSON payload of an alert resolution.
type ResolveAlertRequest struct {
	Note string `json:"note" binding:"max=2000" example:"gateway outage over"`
}

// SuppressAlertRequest is the JSON payload of a suppression. Either Until
// or For must be set; For is a Go duration relative to now.
type SuppressAlertRequest struct {
	Until *time.Time `json:"until,omitempty" example:"2026-03-10T18:00:00Z"`
	For   string     `json:"for,omitempty"   example:"4h"`
}

// ListAlertsResponse wraps a page of alerts and pagination information.
type ListAlertsResponse struct {
	Alerts     []domain.Alert `json:"alerts"`
	Pagination Pagination     `json:"pagination"`
}

// ListAlerts godoc
// @ID          listAlerts
// @Summary     List alerts (paginated)
// @Description Most recently seen first.
// @Tags        Alerts
// @Produce     json
//
// @Param       X-Operator-ID  header  string  true   "Operator ID"
// @Param       status         query   string  false  "Filter by status"    Enums(active, acknowledged, resolved, suppressed)
// @Param       type           query   string  false  "Filter by alert type"
// @Param       severity       query   string  false  "Filter by severity"  Enums(low, medium, high, critical)
// @Param       page           query   int     false  "Page number"         minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"      minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListAlertsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad filter"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing operator"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /alerts [get]
func (h *Handlers) ListAlerts(c *gin.Context) {
	page, pageSize := pageQuery(c)
	items, total, err := h.alerts.List(c.Request.Context(), services.AlertFilter{
		Status:   domain.AlertStatus(strings.TrimSpace(c.Query("status"))),
		Type:     domain.AlertType(strings.TrimSpace(c.Query("type"))),
		Severity: domain.Severity(strings.TrimSpace(c.Query("severity"))),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Alert{}
	}
	ok(c, http.StatusOK, ListAlertsResponse{
		Alerts:     items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// AlertStats godoc
// @ID          alertStats
// @Summary     Alert counts
// @Description Alerts grouped by type and status.
// @Tags        Alerts
// @Produce     json
//
// @Param       X-Operator-ID  header  string  true  "Operator ID"
//
// @Success     200  {object}  handlers.StatsResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing operator"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /alerts/stats [get]
func (h *Handlers) AlertStats(c *gin.Context) {
	rows, err := h.alerts.Counts(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, newStats(rows))
}

// GetAlert godoc
// @ID          getAlert
// @Summary     Get an alert
// @Tags        Alerts
// @Produce     json
//
// @Param       X-Operator-ID  header  string  true  "Operator ID"
// @Param       id             path    string  true  "Alert ID"  format(uuid)
//
// @Success     200  {object}  domain.Alert
// @Failure     401  {object}  handlers.ErrorResponse  "Missing operator"
// @Failure     404  {object}  handlers.ErrorResponse  "Alert not found"
// @Router      /alerts/{id} [get]
func (h *Handlers) GetAlert(c *gin.Context) {
	a, err := h.alerts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// AcknowledgeAlert godoc
// @ID          acknowledgeAlert
// @Summary     Acknowledge an alert
// @Description The alert keeps absorbing detections while acknowledged.
// @Tags        Alerts
// @Produce     json
//
// @Param       X-Operator-ID  header  string  true  "Operator ID"
// @Param       id             path    string  true  "Alert ID"  format(uuid)
//
// @Success     200  {object}  domain.Alert
// @Failure     401  {object}  handlers.ErrorResponse  "Missing operator"
// @Failure     404  {object}  handlers.ErrorResponse  "Alert not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Invalid transition"
// @Router      /alerts/{id}/acknowledge [post]
func (h *Handlers) AcknowledgeAlert(c *gin.Context) {
	a, err := h.alerts.Acknowledge(c.Request.Context(), middleware.Operator(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// ResolveAlert godoc
// @ID          resolveAlert
// @Summary     Resolve an alert
// @Description The next detection of the same signal opens a new alert.
// @Tags        Alerts
// @Accept      json
// @Produce     json
//
// @Param       X-Operator-ID  header  string  true   "Operator ID"
// @Param       id             path    string  true   "Alert ID"  format(uuid)
// @Param       body           body    handlers.ResolveAlertRequest  false  "Resolution note"
//
// @Success     200  {object}  domain.Alert
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing operator"
// @Failure     404  {object}  handlers.ErrorResponse  "Alert not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Invalid transition"
// @Router      /alerts/{id}/resolve [post]
func (h *Handlers) ResolveAlert(c *gin.Context) {
	var req ResolveAlertRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	a, err := h.alerts.Resolve(c.Request.Context(), middleware.Operator(c), c.Param("id"), strings.TrimSpace(req.Note))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// SuppressAlert godoc
// @ID          suppressAlert
// @Summary     Suppress an alert
// @Description Silences the alert until the given time; detections afterwards open a new alert.
// @Tags        Alerts
// @Accept      json
// @Produce     json
//
// @Param       X-Operator-ID  header  string  true  "Operator ID"
// @Param       id             path    string  true  "Alert ID"  format(uuid)
// @Param       body           body    handlers.SuppressAlertRequest  true  "Suppression end"
//
// @Success     200  {object}  domain.Alert
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing operator"
// @Failure     404  {object}  handlers.ErrorResponse  "Alert not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Invalid transition"
// @Failure     422  {object}  handlers.ErrorResponse  "Suppression end not in the future"
// @Router      /alerts/{id}/suppress [post]
func (h *Handlers) SuppressAlert(c *gin.Context) {
	var req SuppressAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	var until time.Time
	switch {
	case req.Until != nil && req.For != "":
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "set either until or for, not both")
		return
	case req.Until != nil:
		until = req.Until.UTC()
	case req.For != "":
		d, err := time.ParseDuration(req.For)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "for must be a duration such as 30m or 4h")
			return
		}
		until = time.Now().UTC().Add(d)
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "until or for required")
		return
	}

	a, err := h.alerts.Suppress(c.Request.Context(), middleware.Operator(c), c.Param("id"), until)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}
